package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
)

const segmentColumns = `id, user_id, continuum_id, status, title, summary, tools_used,
		   message_count, started_at, ended_at`

type SegmentRepository struct {
	BaseRepository
}

func NewSegmentRepository(pool *pgxpool.Pool) *SegmentRepository {
	return &SegmentRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *SegmentRepository) Create(ctx context.Context, segment *models.Segment) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	toolsUsed, err := marshalJSONSlice(segment.ToolsUsed)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO mira_segments (
			id, user_id, continuum_id, status, title, summary, tools_used,
			message_count, started_at, ended_at, embedding
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	_, err = r.conn(ctx).Exec(ctx, query,
		segment.ID,
		segment.UserID,
		segment.ContinuumID,
		string(segment.Status),
		nullString(segment.Title),
		nullString(segment.Summary),
		toolsUsed,
		segment.MessageCount,
		segment.StartedAt,
		nullTime(segment.EndedAt),
		embeddingArg(segment.Embedding),
	)

	return err
}

// Upsert writes a segment that may already have a row, for the unit of work
// commit path.
func (r *SegmentRepository) Upsert(ctx context.Context, segment *models.Segment) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	toolsUsed, err := marshalJSONSlice(segment.ToolsUsed)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO mira_segments (
			id, user_id, continuum_id, status, title, summary, tools_used,
			message_count, started_at, ended_at, embedding
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, title = EXCLUDED.title, summary = EXCLUDED.summary,
		    tools_used = EXCLUDED.tools_used, message_count = EXCLUDED.message_count,
		    ended_at = EXCLUDED.ended_at,
		    embedding = COALESCE(EXCLUDED.embedding, mira_segments.embedding)`

	_, err = r.conn(ctx).Exec(ctx, query,
		segment.ID,
		segment.UserID,
		segment.ContinuumID,
		string(segment.Status),
		nullString(segment.Title),
		nullString(segment.Summary),
		toolsUsed,
		segment.MessageCount,
		segment.StartedAt,
		nullTime(segment.EndedAt),
		embeddingArg(segment.Embedding),
	)

	return err
}

func (r *SegmentRepository) GetByID(ctx context.Context, id string) (*models.Segment, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + segmentColumns + `
		FROM mira_segments
		WHERE id = $1`

	segment, err := scanSegment(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if checkNoRows(err) {
			return nil, fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}

	return segment, nil
}

// Update rewrites the mutable fields. A nil embedding keeps the stored
// vector.
func (r *SegmentRepository) Update(ctx context.Context, segment *models.Segment) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	toolsUsed, err := marshalJSONSlice(segment.ToolsUsed)
	if err != nil {
		return err
	}

	query := `
		UPDATE mira_segments
		SET status = $2, title = $3, summary = $4, tools_used = $5,
		    message_count = $6, ended_at = $7,
		    embedding = COALESCE($8, embedding)
		WHERE id = $1`

	tag, err := r.conn(ctx).Exec(ctx, query,
		segment.ID,
		string(segment.Status),
		nullString(segment.Title),
		nullString(segment.Summary),
		toolsUsed,
		segment.MessageCount,
		nullTime(segment.EndedAt),
		embeddingArg(segment.Embedding),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("segment %s: %w", segment.ID, domain.ErrNotFound)
	}

	return nil
}

func (r *SegmentRepository) GetActiveByContinuum(ctx context.Context, continuumID string) (*models.Segment, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + segmentColumns + `
		FROM mira_segments
		WHERE continuum_id = $1 AND status = $2
		ORDER BY started_at DESC
		LIMIT 1`

	segment, err := scanSegment(r.conn(ctx).QueryRow(ctx, query, continuumID, string(models.SegmentStatusActive)))
	if err != nil {
		if checkNoRows(err) {
			return nil, fmt.Errorf("active segment for continuum %s: %w", continuumID, domain.ErrNotFound)
		}
		return nil, err
	}

	return segment, nil
}

// ListRecentByContinuum returns segments started after the cutoff, newest
// first, for manifest rendering.
func (r *SegmentRepository) ListRecentByContinuum(ctx context.Context, continuumID string, since time.Time) ([]*models.Segment, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + segmentColumns + `
		FROM mira_segments
		WHERE continuum_id = $1 AND started_at >= $2
		ORDER BY started_at DESC`

	rows, err := r.conn(ctx).Query(ctx, query, continuumID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []*models.Segment
	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, segment)
	}

	return segments, rows.Err()
}

func scanSegment(row pgx.Row) (*models.Segment, error) {
	var (
		segment   models.Segment
		status    string
		title     sql.NullString
		summary   sql.NullString
		toolsUsed []byte
		endedAt   sql.NullTime
	)

	err := row.Scan(
		&segment.ID,
		&segment.UserID,
		&segment.ContinuumID,
		&status,
		&title,
		&summary,
		&toolsUsed,
		&segment.MessageCount,
		&segment.StartedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}

	segment.Status = models.SegmentStatus(status)
	segment.Title = getString(title)
	segment.Summary = getString(summary)
	segment.EndedAt = getTimePtr(endedAt)
	if segment.ToolsUsed, err = unmarshalJSONSlice[string](toolsUsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal segment tools: %w", err)
	}

	return &segment, nil
}
