package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mira-ai/mira/internal/adapters/id"
	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
)

// ContinuumRepository persists the one-per-user conversation stream. Loading
// a continuum also loads its active window: every message that has not been
// archived by a segment collapse, in sequence order.
type ContinuumRepository struct {
	BaseRepository
	ids *id.Generator
}

func NewContinuumRepository(pool *pgxpool.Pool, ids *id.Generator) *ContinuumRepository {
	return &ContinuumRepository{
		BaseRepository: NewBaseRepository(pool),
		ids:            ids,
	}
}

func (r *ContinuumRepository) Create(ctx context.Context, continuum *models.Continuum) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO mira_continuums (
			id, user_id, user_name, last_input_tokens, container_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)`

	_, err := r.conn(ctx).Exec(ctx, query,
		continuum.ID,
		continuum.UserID,
		nullString(continuum.UserName),
		continuum.LastInputTokens,
		nullString(continuum.ContainerID),
		continuum.CreatedAt,
		continuum.UpdatedAt,
	)

	return err
}

func (r *ContinuumRepository) GetByID(ctx context.Context, id string) (*models.Continuum, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, user_name, last_input_tokens, container_id, created_at, updated_at
		FROM mira_continuums
		WHERE id = $1`

	continuum, err := r.scanContinuum(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if checkNoRows(err) {
			return nil, fmt.Errorf("continuum %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}

	if continuum.Messages, err = r.loadWindow(ctx, continuum.ID); err != nil {
		return nil, err
	}

	return continuum, nil
}

// GetOrCreateByUserID returns the user's continuum with its active window
// loaded, creating an empty continuum on first contact.
func (r *ContinuumRepository) GetOrCreateByUserID(ctx context.Context, userID string) (*models.Continuum, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, user_name, last_input_tokens, container_id, created_at, updated_at
		FROM mira_continuums
		WHERE user_id = $1`

	continuum, err := r.scanContinuum(r.conn(ctx).QueryRow(ctx, query, userID))
	if err != nil {
		if !checkNoRows(err) {
			return nil, err
		}
		continuum = models.NewContinuum(r.ids.GenerateContinuumID(), userID)
		if err := r.Create(ctx, continuum); err != nil {
			return nil, fmt.Errorf("failed to create continuum for user %s: %w", userID, err)
		}
		return continuum, nil
	}

	if continuum.Messages, err = r.loadWindow(ctx, continuum.ID); err != nil {
		return nil, err
	}

	return continuum, nil
}

func (r *ContinuumRepository) Update(ctx context.Context, continuum *models.Continuum) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE mira_continuums
		SET user_name = $2, last_input_tokens = $3, container_id = $4, updated_at = $5
		WHERE id = $1`

	tag, err := r.conn(ctx).Exec(ctx, query,
		continuum.ID,
		nullString(continuum.UserName),
		continuum.LastInputTokens,
		nullString(continuum.ContainerID),
		continuum.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("continuum %s: %w", continuum.ID, domain.ErrNotFound)
	}

	return nil
}

func (r *ContinuumRepository) loadWindow(ctx context.Context, continuumID string) ([]*models.Message, error) {
	query := `
		SELECT id, continuum_id, user_id, sequence_number, role, content, metadata, created_at
		FROM mira_messages
		WHERE continuum_id = $1 AND archived_at IS NULL
		ORDER BY sequence_number`

	rows, err := r.conn(ctx).Query(ctx, query, continuumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}

func (r *ContinuumRepository) scanContinuum(row pgx.Row) (*models.Continuum, error) {
	var (
		continuum   models.Continuum
		userName    sql.NullString
		containerID sql.NullString
	)

	err := row.Scan(
		&continuum.ID,
		&continuum.UserID,
		&userName,
		&continuum.LastInputTokens,
		&containerID,
		&continuum.CreatedAt,
		&continuum.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	continuum.UserName = getString(userName)
	continuum.ContainerID = getString(containerID)

	return &continuum, nil
}
