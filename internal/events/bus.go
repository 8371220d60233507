package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Handler processes one published event. Errors are logged and isolated;
// they never propagate to the publisher or to sibling handlers.
type Handler func(ctx context.Context, ev Event) error

type subscription struct {
	id int
	fn Handler
}

// Bus is a synchronous in-process event bus keyed by event name. Publish
// runs every handler to completion, in subscription order, before returning.
// A handler that publishes recurses immediately on the same goroutine.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscription
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for the named event and returns a function
// that removes it.
func (b *Bus) Subscribe(event string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[event]
		for i, s := range list {
			if s.id == id {
				b.subs[event] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

// Publish dispatches ev to every subscriber of its name. Handler failures
// are logged with a category tag and swallowed: a broken trinket must never
// abort prompt composition for its siblings.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := make([]subscription, len(b.subs[ev.Name()]))
	copy(handlers, b.subs[ev.Name()])
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(ctx, ev, h)
	}
}

func (b *Bus) dispatch(ctx context.Context, ev Event, h subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", ev.Name(),
				"category", "logic",
				"panic", fmt.Sprintf("%v", r))
		}
	}()

	if err := h.fn(ctx, ev); err != nil {
		b.logger.Error("event handler failed",
			"event", ev.Name(),
			"category", categorize(err),
			"error", err)
	}
}

// categorize splits handler failures into infrastructure problems (storage,
// cache, network) and logic bugs, based on the error text.
func categorize(err error) string {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"database", "valkey", "connection"} {
		if strings.Contains(msg, marker) {
			return "infrastructure"
		}
	}
	return "logic"
}

// SubscribeTo registers a handler for one concrete event type, discarding
// publishes whose payload is not T.
func SubscribeTo[T Event](b *Bus, fn func(ctx context.Context, ev T) error) (unsubscribe func()) {
	var zero T
	return b.Subscribe(zero.Name(), func(ctx context.Context, ev Event) error {
		typed, ok := ev.(T)
		if !ok {
			return nil
		}
		return fn(ctx, typed)
	})
}
