package valkey

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mira-ai/mira/internal/adapters/id"
	"github.com/mira-ai/mira/internal/domain"
)

const (
	chatLockPrefix = "chat_lock:"
	// chatLockTTL bounds how long a crashed turn can wedge a user. Normal
	// turns release explicitly well before this.
	chatLockTTL = 60 * time.Second
)

// releaseScript deletes the lock only when the caller still holds it, so a
// slow turn cannot release a successor's lock after its own TTL lapsed.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// ChatLockManager serializes turns per user with a TTL'd distributed lock.
type ChatLockManager struct {
	rdb    *redis.Client
	ids    *id.Generator
	logger *slog.Logger
}

func NewChatLockManager(rdb *redis.Client, ids *id.Generator, logger *slog.Logger) *ChatLockManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatLockManager{rdb: rdb, ids: ids, logger: logger}
}

// AcquireChatLock claims the user's turn slot and returns the release token.
// A second acquisition while a turn is running fails with ErrTurnInProgress.
func (m *ChatLockManager) AcquireChatLock(ctx context.Context, userID string) (string, error) {
	token := m.ids.GenerateLockToken()
	ok, err := m.rdb.SetNX(ctx, chatLockPrefix+userID, token, chatLockTTL).Result()
	if err != nil {
		return "", kvErr("setnx", chatLockPrefix+userID, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: user %s", domain.ErrTurnInProgress, userID)
	}
	return token, nil
}

func (m *ChatLockManager) ReleaseChatLock(ctx context.Context, userID, token string) error {
	deleted, err := releaseScript.Run(ctx, m.rdb, []string{chatLockPrefix + userID}, token).Int()
	if err != nil {
		return kvErr("release", chatLockPrefix+userID, err)
	}
	if deleted == 0 {
		m.logger.Warn("chat lock already gone or held by another turn", "user_id", userID)
		return fmt.Errorf("%w: user %s", domain.ErrLockNotHeld, userID)
	}
	return nil
}
