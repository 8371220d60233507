package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
)

const messageColumns = `id, continuum_id, user_id, sequence_number, role, content, metadata, created_at`

type MessageRepository struct {
	BaseRepository
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *MessageRepository) Create(ctx context.Context, message *models.Message) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	content, metadata, err := encodeMessage(message)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO mira_messages (
			id, continuum_id, user_id, sequence_number, role, content, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)`

	_, err = r.conn(ctx).Exec(ctx, query,
		message.ID,
		message.ContinuumID,
		message.UserID,
		message.Sequence,
		string(message.Role),
		content,
		metadata,
		message.CreatedAt,
	)

	return err
}

// Upsert writes a message that may or may not exist yet. The unit of work
// uses it so new and mutated messages commit through one path.
func (r *MessageRepository) Upsert(ctx context.Context, message *models.Message) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	content, metadata, err := encodeMessage(message)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO mira_messages (
			id, continuum_id, user_id, sequence_number, role, content, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content, metadata = EXCLUDED.metadata`

	_, err = r.conn(ctx).Exec(ctx, query,
		message.ID,
		message.ContinuumID,
		message.UserID,
		message.Sequence,
		string(message.Role),
		content,
		metadata,
		message.CreatedAt,
	)

	return err
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + messageColumns + `
		FROM mira_messages
		WHERE id = $1`

	message, err := scanMessage(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if checkNoRows(err) {
			return nil, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}

	return message, nil
}

func (r *MessageRepository) Update(ctx context.Context, message *models.Message) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	content, metadata, err := encodeMessage(message)
	if err != nil {
		return err
	}

	query := `
		UPDATE mira_messages
		SET content = $2, metadata = $3
		WHERE id = $1`

	tag, err := r.conn(ctx).Exec(ctx, query, message.ID, content, metadata)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", message.ID, domain.ErrNotFound)
	}

	return nil
}

// GetByContinuum returns the full message history in sequence order,
// archived messages included.
func (r *MessageRepository) GetByContinuum(ctx context.Context, continuumID string) ([]*models.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + messageColumns + `
		FROM mira_messages
		WHERE continuum_id = $1
		ORDER BY sequence_number`

	return r.queryMessages(ctx, query, continuumID)
}

// GetLatestByContinuum returns the newest limit messages in sequence order,
// archived messages included.
func (r *MessageRepository) GetLatestByContinuum(ctx context.Context, continuumID string, limit int) ([]*models.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + messageColumns + `
		FROM mira_messages
		WHERE continuum_id = $1
		ORDER BY sequence_number DESC
		LIMIT $2`

	messages, err := r.queryMessages(ctx, query, continuumID, limit)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *MessageRepository) GetNextSequenceNumber(ctx context.Context, continuumID string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT COALESCE(MAX(sequence_number), 0) + 1
		FROM mira_messages
		WHERE continuum_id = $1`

	var next int
	if err := r.conn(ctx).QueryRow(ctx, query, continuumID).Scan(&next); err != nil {
		return 0, err
	}

	return next, nil
}

// ArchiveThroughSequence drops messages up to and including the sequence
// from the active window. Already-archived rows keep their original archive
// time.
func (r *MessageRepository) ArchiveThroughSequence(ctx context.Context, continuumID string, throughSequence int) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE mira_messages
		SET archived_at = now()
		WHERE continuum_id = $1 AND sequence_number <= $2 AND archived_at IS NULL`

	_, err := r.conn(ctx).Exec(ctx, query, continuumID, throughSequence)
	return err
}

func (r *MessageRepository) queryMessages(ctx context.Context, query string, args ...any) ([]*models.Message, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
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

// encodeMessage prepares the jsonb columns: content always holds the block
// list, metadata stays NULL for plain messages.
func encodeMessage(message *models.Message) (content, metadata []byte, err error) {
	content, err = json.Marshal(message.Blocks)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal message content: %w", err)
	}

	if !message.Meta.IsZero() {
		metadata, err = json.Marshal(message.Meta)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal message metadata: %w", err)
		}
	}

	return content, metadata, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var (
		message  models.Message
		role     string
		content  []byte
		metadata []byte
	)

	err := row.Scan(
		&message.ID,
		&message.ContinuumID,
		&message.UserID,
		&message.Sequence,
		&role,
		&content,
		&metadata,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	message.Role = models.MessageRole(role)
	if err := unmarshalJSONField(content, &message.Blocks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message content: %w", err)
	}
	if err := unmarshalJSONField(metadata, &message.Meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
	}

	return &message, nil
}
