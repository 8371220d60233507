package events

import "github.com/mira-ai/mira/internal/domain/models"

// Event is anything the bus can dispatch. Name doubles as the subscription
// key, so it must be stable per type.
type Event interface {
	Name() string
}

// UpdateTrinketEvent asks one trinket (or all, when Target is empty) to
// regenerate its section from the supplied context.
type UpdateTrinketEvent struct {
	UserID  string
	Target  string
	Context map[string]any
}

func (UpdateTrinketEvent) Name() string { return "UpdateTrinketEvent" }

// TrinketContentEvent carries a freshly generated section to the composer.
type TrinketContentEvent struct {
	UserID       string
	VariableName string
	TrinketName  string
	Content      string
	Cached       bool
	Placement    string
}

func (TrinketContentEvent) Name() string { return "TrinketContentEvent" }

// ComposeSystemPromptEvent triggers a full working-memory compose cycle.
// Context is handed through to every trinket during the fan-out.
type ComposeSystemPromptEvent struct {
	UserID     string
	BasePrompt string
	Context    map[string]any
}

func (ComposeSystemPromptEvent) Name() string { return "ComposeSystemPromptEvent" }

// SystemPromptComposedEvent is the result of a compose cycle.
type SystemPromptComposedEvent struct {
	UserID             string
	CachedContent      string
	NonCachedContent   string
	NotificationCenter string
}

func (SystemPromptComposedEvent) Name() string { return "SystemPromptComposedEvent" }

// TurnCompletedEvent is published after the assistant message joined the
// in-memory continuum and before the unit of work commits.
type TurnCompletedEvent struct {
	UserID            string
	ContinuumID       string
	TurnNumber        int
	SegmentTurnNumber int
	Continuum         *models.Continuum
}

func (TurnCompletedEvent) Name() string { return "TurnCompletedEvent" }

// SegmentCollapsedEvent is published once a segment summary is durable and
// the fresh active sentinel exists.
type SegmentCollapsedEvent struct {
	UserID    string
	SegmentID string
	Title     string
}

func (SegmentCollapsedEvent) Name() string { return "SegmentCollapsedEvent" }
