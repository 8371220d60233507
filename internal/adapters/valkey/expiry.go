package valkey

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ExpiryHandler is invoked when a key under its registered prefix expires.
// For warning keys the handler receives the main key, which is still
// readable for ttl-offset more time.
type ExpiryHandler func(ctx context.Context, key string) error

// ExpiryListener is the single background task that turns key-expiration
// notifications into prefix-dispatched handler calls. Short-lived state that
// must be persisted before it vanishes registers a handler here and writes
// its keys via SetTTLWithWarning.
type ExpiryListener struct {
	rdb    *redis.Client
	db     int
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]ExpiryHandler

	pubsub *redis.PubSub
}

func NewExpiryListener(rdb *redis.Client, db int, logger *slog.Logger) *ExpiryListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryListener{
		rdb:      rdb,
		db:       db,
		logger:   logger,
		handlers: make(map[string]ExpiryHandler),
	}
}

// Register attaches a handler for keys beginning with prefix. Must be called
// before Start.
func (l *ExpiryListener) Register(prefix string, handler ExpiryHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[prefix] = handler
}

// Start subscribes to expiration events and runs the dispatch loop until ctx
// is cancelled or Close is called. Keyspace notifications are enabled
// best-effort; managed servers that reject CONFIG SET need them enabled
// out of band.
func (l *ExpiryListener) Start(ctx context.Context) error {
	if err := l.rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		l.logger.Warn("could not enable keyspace notifications", "error", err)
	}

	l.pubsub = l.rdb.PSubscribe(ctx, fmt.Sprintf("__keyevent@%d__:expired", l.db))
	go l.run(ctx)
	return nil
}

func (l *ExpiryListener) run(ctx context.Context) {
	ch := l.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			l.dispatch(ctx, msg.Payload)
		}
	}
}

func (l *ExpiryListener) dispatch(ctx context.Context, expired string) {
	// A warning key expiring means its main key is about to; handlers work
	// on the main key while it is still readable.
	key := strings.TrimSuffix(expired, ":warning")

	l.mu.RLock()
	defer l.mu.RUnlock()
	for prefix, handler := range l.handlers {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error("expiry handler panicked", "key", key, "panic", r)
				}
			}()
			if err := handler(ctx, key); err != nil {
				l.logger.Error("expiry handler failed", "key", key, "error", err)
			}
		}()
	}
}

func (l *ExpiryListener) Close() error {
	if l.pubsub == nil {
		return nil
	}
	return l.pubsub.Close()
}
