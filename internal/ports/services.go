package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/llm"
)

// IDGenerator mints prefixed ids for new entities.
type IDGenerator interface {
	GenerateContinuumID() string
	GenerateMessageID() string
	GenerateMemoryID() string
	GenerateSegmentID() string
	GenerateToolUseID() string
	GenerateTurnID() string
	GenerateRequestID() string
	GenerateLockToken() string
	GenerateRetrievalLogID() string
	GenerateReminderID() string
}

// EmbeddingService produces dense vectors for retrieval. Realtime encodings
// serve interactive queries; deep encodings serve stored documents.
type EmbeddingService interface {
	EncodeRealtime(ctx context.Context, text string) ([]float32, error)
	EncodeRealtimeBatch(ctx context.Context, texts []string) ([][]float32, error)
	EncodeDeep(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// KVStore is the string surface of the per-user key-value store. Reads of
// absent keys return domain.ErrNotFound.
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Scan returns all keys matching the glob pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)
	// JSONGet reads a whole JSON document (path "$") or one field
	// (path "$.field"). JSONSet writes the same shapes, preserving any TTL
	// already on the key.
	JSONGet(ctx context.Context, key, path string) (string, error)
	JSONSet(ctx context.Context, key, path string, value any) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	// SetTTLWithWarning expires key after ttl and additionally stores
	// {key}:warning expiring warningOffset earlier, so expiry listeners get a
	// chance to persist state before the value disappears.
	SetTTLWithWarning(ctx context.Context, key string, ttl, warningOffset time.Duration) error
}

// BinaryKVStore stores msgpack-encoded values, used for embedding caches.
type BinaryKVStore interface {
	// GetBinary decodes the value into out; the bool reports a cache hit.
	GetBinary(ctx context.Context, key string, out any) (bool, error)
	SetBinary(ctx context.Context, key string, value any, ttl time.Duration) error
}

// LockManager issues per-user distributed chat locks. A second acquisition
// while a turn is running fails with domain.ErrTurnInProgress.
type LockManager interface {
	AcquireChatLock(ctx context.Context, userID string) (string, error)
	ReleaseChatLock(ctx context.Context, userID, token string) error
}

// LLMEngine is the provider-agnostic model surface.
type LLMEngine interface {
	GenerateResponse(ctx context.Context, req *llm.Request) (*llm.Response, error)
	Complete(ctx context.Context, model, system, prompt string, maxTokens int) (string, error)
}

// ToolRegistry holds the currently enabled tools.
type ToolRegistry interface {
	Definitions() []models.ToolDefinition
	GetDefinition(name string) (models.ToolDefinition, bool)
	Execute(ctx context.Context, name string, args json.RawMessage) (string, error)
	SchemaHint(name string) string
	// LoadTool enables a deferred tool matching the query and returns its
	// name.
	LoadTool(query string) (string, error)
}

// Fingerprint is the retrieval query distilled from a turn, plus the model's
// votes over previously surfaced memories and any entities it noticed for
// query priming.
type Fingerprint struct {
	Query          string
	PinnedShortIDs []string
	RetainShortIDs []string
	ForgetShortIDs []string
	Entities       []models.Entity
}

// FingerprintGenerator distills (continuum, user text, previous memories)
// into a Fingerprint. Failure aborts the turn rather than degrading
// retrieval silently.
type FingerprintGenerator interface {
	Generate(ctx context.Context, continuum *models.Continuum, userText string, previous []*models.SurfacedMemory) (*Fingerprint, error)
}

// SurfacingResult is one turn's memory selection.
type SurfacingResult struct {
	Memories    []*models.SurfacedMemory
	Fingerprint *Fingerprint
}

// MemorySurfacer selects the memories a turn should see. previous is the
// list surfaced on earlier turns; its members can be pinned by the
// fingerprint votes and are merged ahead of fresh results.
type MemorySurfacer interface {
	Surface(ctx context.Context, continuum *models.Continuum, userText string, previous []*models.SurfacedMemory, limit int) (*SurfacingResult, error)
}

// SegmentService manages conversation segment lifecycle.
type SegmentService interface {
	// EnsureActiveSentinel guarantees the continuum ends its segment chain
	// with an active sentinel, creating one if needed.
	EnsureActiveSentinel(ctx context.Context, continuum *models.Continuum) (*models.Segment, error)
	// MaybeCollapse collapses the active segment when its idle window has
	// passed; reports whether a collapse happened.
	MaybeCollapse(ctx context.Context, continuum *models.Continuum, now time.Time) (bool, error)
	// CollapseNow collapses the active segment on request, ignoring the idle
	// window.
	CollapseNow(ctx context.Context, continuumID string) error
	// Postpone pushes the collapse deadline out, stacking onto a pending
	// postponement when one is already in the future.
	Postpone(ctx context.Context, continuumID string, d time.Duration) (time.Time, error)
	// Manifest renders the recent-segment digest shown to the model.
	Manifest(ctx context.Context, continuumID string, now time.Time) (string, error)
}

// MemoryEvacuator trims the surfaced-memory list shown in the prompt when it
// grows past its token share, relieving window pressure. Evacuated memories
// stay in long-term storage and remain searchable.
type MemoryEvacuator interface {
	// EvacuateIfPressured returns the list to keep, unchanged when pressure
	// is below threshold.
	EvacuateIfPressured(ctx context.Context, continuum *models.Continuum, previous []*models.SurfacedMemory) ([]*models.SurfacedMemory, error)
	// EvacuateAggressive cuts the list down hard for overflow remediation.
	EvacuateAggressive(ctx context.Context, continuum *models.Continuum, previous []*models.SurfacedMemory) ([]*models.SurfacedMemory, error)
}

// ComposedPrompt is the three-bucket system prompt produced per turn.
type ComposedPrompt struct {
	Cached             string
	NonCached          string
	NotificationCenter string
}

// WorkingMemory composes the per-turn system prompt from trinket sections.
type WorkingMemory interface {
	// ComposeNow refreshes every trinket with the given context and returns
	// the composed buckets synchronously.
	ComposeNow(ctx context.Context, userID, basePrompt string, trinketCtx map[string]any) (*ComposedPrompt, error)
}

// Firehose mirrors every observable event to a debugging sink.
type Firehose interface {
	Write(event string, payload any)
	Close() error
}
