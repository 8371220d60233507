package workingmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mira-ai/mira/internal/events"
	"github.com/mira-ai/mira/internal/ports"
)

// trinketMirrorTTL bounds how long stale section state stays readable in the
// KV store. Authoritative state is recomputed on every compose.
const trinketMirrorTTL = 5 * time.Minute

const trinketKeyPrefix = "trinkets:"

// TrinketMirrorKey is the KV hash holding a user's last generated sections,
// one field per section name.
func TrinketMirrorKey(userID string) string {
	return trinketKeyPrefix + userID
}

// Trinket contributes one named section to the working memory. Content flows
// back through TrinketContentEvent on the bus, never by direct reference.
type Trinket interface {
	Name() string
	VariableName() string
	HandleUpdate(ctx context.Context, ev events.Event) error
}

// ContentFunc produces a trinket's section text for one user and turn
// context. Returning an empty string suppresses the section.
type ContentFunc func(ctx context.Context, userID string, tc Context) (string, error)

// mirrorEntry is the JSON shape persisted per section for out-of-band
// inspection through the data API.
type mirrorEntry struct {
	Content     string    `json:"content"`
	CachePolicy bool      `json:"cache_policy"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BaseTrinket implements the update protocol shared by every trinket:
// regenerate on a matching UpdateTrinketEvent, publish the content, and
// mirror it into the per-user KV hash.
type BaseTrinket struct {
	name     string
	variable string
	cached   bool
	bus      *events.Bus
	kv       ports.KVStore
	logger   *slog.Logger
	now      func() time.Time
	generate ContentFunc
}

func newBaseTrinket(name, variable string, cached bool, bus *events.Bus, kv ports.KVStore, logger *slog.Logger, generate ContentFunc) *BaseTrinket {
	if logger == nil {
		logger = slog.Default()
	}
	return &BaseTrinket{
		name:     name,
		variable: variable,
		cached:   cached,
		bus:      bus,
		kv:       kv,
		logger:   logger,
		now:      time.Now,
		generate: generate,
	}
}

func (t *BaseTrinket) Name() string         { return t.name }
func (t *BaseTrinket) VariableName() string { return t.variable }

// HandleUpdate regenerates the section when the event targets this trinket
// (or targets everyone), publishes non-empty content as a
// TrinketContentEvent, and mirrors it to the KV store.
func (t *BaseTrinket) HandleUpdate(ctx context.Context, ev events.Event) error {
	update, ok := ev.(events.UpdateTrinketEvent)
	if !ok {
		return nil
	}
	if update.Target != "" && update.Target != t.name {
		return nil
	}

	content, err := t.generate(ctx, update.UserID, Context(update.Context))
	if err != nil {
		return fmt.Errorf("%s: generate content: %w", t.name, err)
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	t.bus.Publish(ctx, events.TrinketContentEvent{
		UserID:       update.UserID,
		VariableName: t.variable,
		TrinketName:  t.name,
		Content:      content,
		Cached:       t.cached,
		Placement:    PlacementFor(t.variable),
	})
	t.mirror(ctx, update.UserID, content)
	return nil
}

// mirror writes the generated section into trinkets:<user_id> for API
// inspection. The content already reached the composer, so mirror failures
// are logged and swallowed.
func (t *BaseTrinket) mirror(ctx context.Context, userID, content string) {
	if t.kv == nil || userID == "" {
		return
	}
	entry, err := json.Marshal(mirrorEntry{
		Content:     content,
		CachePolicy: t.cached,
		UpdatedAt:   t.now().UTC(),
	})
	if err != nil {
		t.logger.Warn("failed to encode trinket mirror entry", "trinket", t.name, "error", err)
		return
	}

	key := TrinketMirrorKey(userID)
	if err := t.kv.HSet(ctx, key, t.variable, string(entry)); err != nil {
		t.logger.Warn("failed to mirror trinket state", "trinket", t.name, "error", err)
		return
	}
	if err := t.kv.Expire(ctx, key, trinketMirrorTTL); err != nil {
		t.logger.Warn("failed to expire trinket mirror", "trinket", t.name, "error", err)
	}
}
