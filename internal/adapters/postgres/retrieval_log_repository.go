package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mira-ai/mira/internal/domain/models"
)

// RetrievalLogRepository records which memories surfaced for which query so
// retrieval quality can be evaluated offline. Rows are append-only.
type RetrievalLogRepository struct {
	BaseRepository
}

func NewRetrievalLogRepository(pool *pgxpool.Pool) *RetrievalLogRepository {
	return &RetrievalLogRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *RetrievalLogRepository) Log(ctx context.Context, entry *models.RetrievalLog) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	memoryIDs, err := marshalJSONSlice(entry.MemoryIDs)
	if err != nil {
		return err
	}

	var scores []byte
	if len(entry.Scores) > 0 {
		if scores, err = json.Marshal(entry.Scores); err != nil {
			return fmt.Errorf("failed to marshal retrieval scores: %w", err)
		}
	}

	query := `
		INSERT INTO mira_retrieval_log (
			id, user_id, continuum_id, user_text, fingerprint, memory_ids, scores, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)`

	_, err = r.conn(ctx).Exec(ctx, query,
		entry.ID,
		entry.UserID,
		entry.ContinuumID,
		entry.UserText,
		entry.Fingerprint,
		memoryIDs,
		scores,
		entry.CreatedAt,
	)

	return err
}
