package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/mira-ai/mira/internal/domain"
)

// NewPool builds the process-wide connection pool. Every connection gets the
// pgvector codecs registered, and every checkout pins the request's user id
// into app.current_user_id so row-level security policies see the caller.
// Connections are reused across users, so the setting is overwritten on each
// acquire, cleared when the context carries no user.
func NewPool(ctx context.Context, dsn string, logger *slog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	cfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		userID := domain.UserIDFrom(ctx)
		if _, err := conn.Exec(ctx, "SELECT set_config('app.current_user_id', $1, false)", userID); err != nil {
			logger.Error("failed to set row security identity", "error", err)
			return false
		}
		return true
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return pool, nil
}
