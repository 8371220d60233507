package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/ports"
)

const (
	defaultVectorWeight = 0.6
	defaultTextWeight   = 0.4

	memoryColumns = `id, user_id, content, importance_score, entities, linked_memories,
		   created_at, happens_at, expires_at, access_count, last_accessed_at,
		   retain_votes, forget_votes`
)

// MemoryRepository persists long-term memories. Embeddings are write-only:
// they feed similarity ranking inside the database and are never read back
// into Go.
type MemoryRepository struct {
	BaseRepository
}

func NewMemoryRepository(pool *pgxpool.Pool) *MemoryRepository {
	return &MemoryRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, memory *models.Memory) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	entities, err := marshalJSONSlice(memory.Entities)
	if err != nil {
		return err
	}
	linked, err := marshalJSONSlice(memory.LinkedMemories)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO mira_memories (
			id, user_id, content, importance_score, entities, linked_memories, embedding,
			created_at, happens_at, expires_at, access_count, last_accessed_at,
			retain_votes, forget_votes
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)`

	_, err = r.conn(ctx).Exec(ctx, query,
		memory.ID,
		memory.UserID,
		memory.Content,
		memory.ImportanceScore,
		entities,
		linked,
		embeddingArg(memory.Embedding),
		memory.CreatedAt,
		nullTime(memory.HappensAt),
		nullTime(memory.ExpiresAt),
		memory.AccessCount,
		nullTime(memory.LastAccessedAt),
		memory.RetainVotes,
		memory.ForgetVotes,
	)

	return err
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*models.Memory, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + memoryColumns + `
		FROM mira_memories
		WHERE id = $1 AND deleted_at IS NULL`

	memory, err := scanMemory(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if checkNoRows(err) {
			return nil, fmt.Errorf("memory %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}

	return memory, nil
}

// Update rewrites the mutable fields. A nil embedding keeps the stored
// vector.
func (r *MemoryRepository) Update(ctx context.Context, memory *models.Memory) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	entities, err := marshalJSONSlice(memory.Entities)
	if err != nil {
		return err
	}
	linked, err := marshalJSONSlice(memory.LinkedMemories)
	if err != nil {
		return err
	}

	query := `
		UPDATE mira_memories
		SET content = $2, importance_score = $3, entities = $4, linked_memories = $5,
		    embedding = COALESCE($6, embedding), happens_at = $7, expires_at = $8
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.conn(ctx).Exec(ctx, query,
		memory.ID,
		memory.Content,
		memory.ImportanceScore,
		entities,
		linked,
		embeddingArg(memory.Embedding),
		nullTime(memory.HappensAt),
		nullTime(memory.ExpiresAt),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("memory %s: %w", memory.ID, domain.ErrNotFound)
	}

	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE mira_memories
		SET deleted_at = now()
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.conn(ctx).Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("memory %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

// SearchHybrid ranks a user's live memories by cosine similarity against the
// query embedding blended with full-text relevance against the query string.
// Expired memories never surface.
func (r *MemoryRepository) SearchHybrid(ctx context.Context, opts ports.MemorySearchOptions) ([]*models.SurfacedMemory, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if opts.UserID == "" {
		return nil, fmt.Errorf("search requires a user id: %w", domain.ErrInvalidInput)
	}
	if len(opts.Embedding) == 0 {
		return nil, errors.New("embedding cannot be empty")
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	vectorWeight := opts.VectorWeight
	textWeight := opts.TextWeight
	if vectorWeight == 0 && textWeight == 0 {
		vectorWeight = defaultVectorWeight
		textWeight = defaultTextWeight
	}

	query := `
		SELECT ` + memoryColumns + `,
		       (1 - (embedding <=> $2))::float8 AS vector_score,
		       ts_rank_cd(content_tsv, plainto_tsquery('english', $3))::float8 AS text_score
		FROM mira_memories
		WHERE user_id = $1 AND deleted_at IS NULL
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY (1 - (embedding <=> $2)) * $4 + ts_rank_cd(content_tsv, plainto_tsquery('english', $3)) * $5 DESC
		LIMIT $6`

	rows, err := r.conn(ctx).Query(ctx, query,
		opts.UserID,
		pgvector.NewVector(opts.Embedding),
		opts.Query,
		vectorWeight,
		textWeight,
		opts.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var surfaced []*models.SurfacedMemory
	for rows.Next() {
		memory, vectorScore, textScore, err := scanScoredMemory(rows)
		if err != nil {
			return nil, err
		}
		score := vectorScore*vectorWeight + textScore*textWeight
		surfaced = append(surfaced, &models.SurfacedMemory{
			Memory:      memory,
			Score:       score,
			VectorScore: vectorScore,
			TextScore:   textScore,
			Confidence:  models.ConfidenceForScore(score),
			ShortID:     models.ShortID(memory.ID),
		})
	}

	return surfaced, rows.Err()
}

// ResolveShortIDs maps 8-char short ids back to full memories, preserving
// input order. Unknown short ids are dropped.
func (r *MemoryRepository) ResolveShortIDs(ctx context.Context, userID string, shortIDs []string) ([]*models.Memory, error) {
	if len(shortIDs) == 0 {
		return nil, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + memoryColumns + `
		FROM mira_memories
		WHERE user_id = $1 AND deleted_at IS NULL
		  AND left(replace(id, '-', ''), 8) = ANY($2)`

	rows, err := r.conn(ctx).Query(ctx, query, userID, shortIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byShort := make(map[string]*models.Memory, len(shortIDs))
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		byShort[models.ShortID(memory.ID)] = memory
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	resolved := make([]*models.Memory, 0, len(shortIDs))
	for _, short := range shortIDs {
		if memory, ok := byShort[short]; ok {
			resolved = append(resolved, memory)
		}
	}

	return resolved, nil
}

// ApplyVotes bumps the retention counters named by short id.
func (r *MemoryRepository) ApplyVotes(ctx context.Context, userID string, retain, forget []string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if len(retain) > 0 {
		query := `
			UPDATE mira_memories
			SET retain_votes = retain_votes + 1
			WHERE user_id = $1 AND deleted_at IS NULL
			  AND left(replace(id, '-', ''), 8) = ANY($2)`
		if _, err := r.conn(ctx).Exec(ctx, query, userID, retain); err != nil {
			return err
		}
	}

	if len(forget) > 0 {
		query := `
			UPDATE mira_memories
			SET forget_votes = forget_votes + 1
			WHERE user_id = $1 AND deleted_at IS NULL
			  AND left(replace(id, '-', ''), 8) = ANY($2)`
		if _, err := r.conn(ctx).Exec(ctx, query, userID, forget); err != nil {
			return err
		}
	}

	return nil
}

func (r *MemoryRepository) TouchAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE mira_memories
		SET access_count = access_count + 1, last_accessed_at = now()
		WHERE id = ANY($1)`

	_, err := r.conn(ctx).Exec(ctx, query, ids)
	return err
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Memory, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + memoryColumns + `
		FROM mira_memories
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.conn(ctx).Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []*models.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, memory)
	}

	return memories, rows.Err()
}

// embeddingArg converts a slice to the vector column argument, NULL when
// empty.
func embeddingArg(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

func scanMemory(row pgx.Row) (*models.Memory, error) {
	memory, _, _, err := scanMemoryFields(row, false)
	return memory, err
}

func scanScoredMemory(row pgx.Row) (*models.Memory, float64, float64, error) {
	return scanMemoryFields(row, true)
}

func scanMemoryFields(row pgx.Row, withScores bool) (*models.Memory, float64, float64, error) {
	var (
		memory         models.Memory
		entities       []byte
		linked         []byte
		happensAt      sql.NullTime
		expiresAt      sql.NullTime
		lastAccessedAt sql.NullTime
		vectorScore    float64
		textScore      float64
	)

	dest := []any{
		&memory.ID,
		&memory.UserID,
		&memory.Content,
		&memory.ImportanceScore,
		&entities,
		&linked,
		&memory.CreatedAt,
		&happensAt,
		&expiresAt,
		&memory.AccessCount,
		&lastAccessedAt,
		&memory.RetainVotes,
		&memory.ForgetVotes,
	}
	if withScores {
		dest = append(dest, &vectorScore, &textScore)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, 0, 0, err
	}

	var err error
	if memory.Entities, err = unmarshalJSONSlice[models.Entity](entities); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to unmarshal memory entities: %w", err)
	}
	if memory.LinkedMemories, err = unmarshalJSONSlice[string](linked); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to unmarshal linked memories: %w", err)
	}
	memory.HappensAt = getTimePtr(happensAt)
	memory.ExpiresAt = getTimePtr(expiresAt)
	memory.LastAccessedAt = getTimePtr(lastAccessedAt)

	return &memory, vectorScore, textScore, nil
}
