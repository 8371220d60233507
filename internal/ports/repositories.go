package ports

import (
	"context"
	"time"

	"github.com/mira-ai/mira/internal/domain/models"
)

// ContinuumRepository defines operations for continuum persistence
type ContinuumRepository interface {
	Create(ctx context.Context, continuum *models.Continuum) error
	GetByID(ctx context.Context, id string) (*models.Continuum, error)
	// GetOrCreateByUserID loads the user's continuum with its messages,
	// creating an empty one on first contact.
	GetOrCreateByUserID(ctx context.Context, userID string) (*models.Continuum, error)
	Update(ctx context.Context, continuum *models.Continuum) error
}

// MessageRepository defines operations for message persistence
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	Update(ctx context.Context, message *models.Message) error
	GetByContinuum(ctx context.Context, continuumID string) ([]*models.Message, error)
	GetLatestByContinuum(ctx context.Context, continuumID string, limit int) ([]*models.Message, error)
	GetNextSequenceNumber(ctx context.Context, continuumID string) (int, error)
	// ArchiveThroughSequence removes messages up to and including the given
	// sequence from the active window. Archived messages stay readable
	// through history queries; segment collapse is the only caller.
	ArchiveThroughSequence(ctx context.Context, continuumID string, throughSequence int) error
}

// MemorySearchOptions configures a hybrid memory search.
type MemorySearchOptions struct {
	UserID    string
	Embedding []float32
	Query     string
	Limit     int
	// VectorWeight and TextWeight default to 0.6/0.4 when zero.
	VectorWeight float64
	TextWeight   float64
}

// MemoryRepository defines operations for long-term memory persistence
type MemoryRepository interface {
	Create(ctx context.Context, memory *models.Memory) error
	GetByID(ctx context.Context, id string) (*models.Memory, error)
	Update(ctx context.Context, memory *models.Memory) error
	Delete(ctx context.Context, id string) error

	// SearchHybrid ranks memories by combined vector similarity and full-text
	// relevance.
	SearchHybrid(ctx context.Context, opts MemorySearchOptions) ([]*models.SurfacedMemory, error)

	// ResolveShortIDs maps 8-char short IDs back to full memories. Unknown
	// short IDs are silently dropped.
	ResolveShortIDs(ctx context.Context, userID string, shortIDs []string) ([]*models.Memory, error)

	// ApplyVotes increments the retain or forget counters named by short ID.
	ApplyVotes(ctx context.Context, userID string, retain, forget []string) error

	// TouchAccess bumps access counters for surfaced memories.
	TouchAccess(ctx context.Context, ids []string) error

	// ListByUser pages through a user's memories, newest first.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Memory, error)
}

// SegmentRepository defines operations for conversation segment persistence
type SegmentRepository interface {
	Create(ctx context.Context, segment *models.Segment) error
	GetByID(ctx context.Context, id string) (*models.Segment, error)
	Update(ctx context.Context, segment *models.Segment) error
	GetActiveByContinuum(ctx context.Context, continuumID string) (*models.Segment, error)
	// ListRecentByContinuum returns segments started after the cutoff, newest
	// first, for manifest rendering.
	ListRecentByContinuum(ctx context.Context, continuumID string, since time.Time) ([]*models.Segment, error)
}

// RetrievalLogRepository records surfacing decisions for offline evaluation
type RetrievalLogRepository interface {
	Log(ctx context.Context, entry *models.RetrievalLog) error
}

// TransactionManager runs a function inside a single database transaction
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// UnitOfWork accumulates turn-end writes and commits them atomically. The
// turn-completed event fires after the in-memory append and strictly before
// Commit, so subscribers observe consistent state.
type UnitOfWork interface {
	RegisterMessage(message *models.Message)
	RegisterContinuum(continuum *models.Continuum)
	RegisterSegment(segment *models.Segment)
	// RegisterVotes queues retention votes so they land with the turn.
	RegisterVotes(userID string, retain, forget []string)
	Commit(ctx context.Context) error
}

// UnitOfWorkFactory mints a fresh unit of work per turn
type UnitOfWorkFactory interface {
	NewUnitOfWork() UnitOfWork
}
