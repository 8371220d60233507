package workingmemory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/events"
	"github.com/mira-ai/mira/internal/ports"
)

// ReminderSource lists a user's currently active reminders as display lines.
type ReminderSource interface {
	ActiveReminders(ctx context.Context, userID string) ([]string, error)
}

// DomainDocSource supplies the user's standing domain-knowledge text.
type DomainDocSource interface {
	DomainDoc(ctx context.Context, userID string) (string, error)
}

// DatetimeTrinket renders the current date and time into the notification
// center so the model never reasons from a stale clock.
type DatetimeTrinket struct {
	*BaseTrinket
	clock func() time.Time
}

func NewDatetimeTrinket(bus *events.Bus, kv ports.KVStore, logger *slog.Logger) *DatetimeTrinket {
	t := &DatetimeTrinket{clock: time.Now}
	t.BaseTrinket = newBaseTrinket("DatetimeTrinket", SectionDatetime, false, bus, kv, logger, t.generateContent)
	return t
}

func (t *DatetimeTrinket) generateContent(_ context.Context, _ string, tc Context) (string, error) {
	now := tc.Now()
	if now.IsZero() {
		now = t.clock()
	}
	return "Current date and time: " + now.Format("Monday, January 2, 2006 at 15:04 (MST)"), nil
}

// ManifestTrinket renders the recent-segment digest.
type ManifestTrinket struct {
	*BaseTrinket
	segments ports.SegmentService
	clock    func() time.Time
}

func NewManifestTrinket(bus *events.Bus, kv ports.KVStore, segments ports.SegmentService, logger *slog.Logger) *ManifestTrinket {
	t := &ManifestTrinket{segments: segments, clock: time.Now}
	t.BaseTrinket = newBaseTrinket("ConversationManifestTrinket", SectionManifest, false, bus, kv, logger, t.generateContent)
	return t
}

func (t *ManifestTrinket) generateContent(ctx context.Context, _ string, tc Context) (string, error) {
	continuum := tc.Continuum()
	if continuum == nil {
		return "", nil
	}
	now := tc.Now()
	if now.IsZero() {
		now = t.clock()
	}
	manifest, err := t.segments.Manifest(ctx, continuum.ID, now)
	if err != nil {
		return "", fmt.Errorf("render conversation manifest: %w", err)
	}
	if manifest == "" {
		return "", nil
	}
	return "Recent conversation segments:\n" + manifest, nil
}

// RemindersTrinket surfaces the user's active reminders.
type RemindersTrinket struct {
	*BaseTrinket
	source ReminderSource
}

func NewRemindersTrinket(bus *events.Bus, kv ports.KVStore, source ReminderSource, logger *slog.Logger) *RemindersTrinket {
	t := &RemindersTrinket{source: source}
	t.BaseTrinket = newBaseTrinket("ActiveRemindersTrinket", SectionReminders, false, bus, kv, logger, t.generateContent)
	return t
}

func (t *RemindersTrinket) generateContent(ctx context.Context, userID string, _ Context) (string, error) {
	if t.source == nil || userID == "" {
		return "", nil
	}
	reminders, err := t.source.ActiveReminders(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load active reminders: %w", err)
	}
	if len(reminders) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("Active reminders:")
	for _, r := range reminders {
		b.WriteString("\n- ")
		b.WriteString(r)
	}
	return b.String(), nil
}

// ContextSearchTrinket shows the results of the most recent in-conversation
// search. Results arrive through targeted update events and stay cached
// per user until replaced.
type ContextSearchTrinket struct {
	*BaseTrinket

	mu      sync.Mutex
	results map[string][]string
}

func NewContextSearchTrinket(bus *events.Bus, kv ports.KVStore, logger *slog.Logger) *ContextSearchTrinket {
	t := &ContextSearchTrinket{results: make(map[string][]string)}
	t.BaseTrinket = newBaseTrinket("ContextSearchTrinket", SectionContextSearch, false, bus, kv, logger, t.generateContent)
	return t
}

// SetResults replaces the cached result lines for a user.
func (t *ContextSearchTrinket) SetResults(userID string, lines []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results[userID] = lines
}

func (t *ContextSearchTrinket) generateContent(_ context.Context, userID string, tc Context) (string, error) {
	if lines, ok := tc.SearchResults(); ok {
		t.SetResults(userID, lines)
	}
	t.mu.Lock()
	lines := t.results[userID]
	t.mu.Unlock()
	if len(lines) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("Results from your last context search:")
	for i, line := range lines {
		fmt.Fprintf(&b, "\n%d. %s", i+1, line)
	}
	return b.String(), nil
}

// ProactiveMemoryTrinket renders the memories surfaced for the current turn.
// The orchestrator pushes a fresh list before each compose via a targeted
// update event; the cached list is also what retention voting and pressure
// evacuation operate on.
type ProactiveMemoryTrinket struct {
	*BaseTrinket

	mu       sync.Mutex
	memories map[string][]*models.SurfacedMemory
}

// ProactiveMemoryTrinketName is the update-event target the orchestrator
// uses to push surfaced memories.
const ProactiveMemoryTrinketName = "ProactiveMemoryTrinket"

func NewProactiveMemoryTrinket(bus *events.Bus, kv ports.KVStore, logger *slog.Logger) *ProactiveMemoryTrinket {
	t := &ProactiveMemoryTrinket{memories: make(map[string][]*models.SurfacedMemory)}
	t.BaseTrinket = newBaseTrinket(ProactiveMemoryTrinketName, SectionRelevantMemories, false, bus, kv, logger, t.generateContent)
	return t
}

// Memories returns the list cached for a user, newest surfacing first.
func (t *ProactiveMemoryTrinket) Memories(userID string) []*models.SurfacedMemory {
	t.mu.Lock()
	defer t.mu.Unlock()
	cached := t.memories[userID]
	out := make([]*models.SurfacedMemory, len(cached))
	copy(out, cached)
	return out
}

// Replace swaps the cached list for a user. Used by the pressure evacuator
// to shrink the next composed prompt.
func (t *ProactiveMemoryTrinket) Replace(userID string, memories []*models.SurfacedMemory) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.memories[userID] = memories
}

func (t *ProactiveMemoryTrinket) generateContent(_ context.Context, userID string, tc Context) (string, error) {
	if memories, ok := tc.Memories(); ok {
		t.Replace(userID, memories)
	}
	t.mu.Lock()
	memories := t.memories[userID]
	t.mu.Unlock()
	if len(memories) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Memories relevant to this conversation. Cite one by its id, e.g. [" + exampleShortID(memories) + "]:")
	for _, m := range memories {
		b.WriteString("\n- [")
		b.WriteString(m.ShortID)
		b.WriteString("] (")
		b.WriteString(string(m.Confidence))
		if m.Pinned {
			b.WriteString(", pinned")
		}
		b.WriteString(") ")
		b.WriteString(strings.TrimSpace(m.Memory.Content))
	}
	return b.String(), nil
}

func exampleShortID(memories []*models.SurfacedMemory) string {
	if len(memories) > 0 && memories[0].ShortID != "" {
		return memories[0].ShortID
	}
	return "a1b2c3d4"
}

// DomainDocTrinket carries the user's standing domain knowledge into the
// cached system prompt.
type DomainDocTrinket struct {
	*BaseTrinket
	source DomainDocSource
}

func NewDomainDocTrinket(bus *events.Bus, kv ports.KVStore, source DomainDocSource, logger *slog.Logger) *DomainDocTrinket {
	t := &DomainDocTrinket{source: source}
	t.BaseTrinket = newBaseTrinket("DomainDocTrinket", SectionDomainDoc, true, bus, kv, logger, t.generateContent)
	return t
}

func (t *DomainDocTrinket) generateContent(ctx context.Context, userID string, _ Context) (string, error) {
	if t.source == nil || userID == "" {
		return "", nil
	}
	doc, err := t.source.DomainDoc(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load domain doc: %w", err)
	}
	return doc, nil
}

// ToolGuidanceTrinket describes the currently enabled tools. Cached because
// the tool set only changes when a deferred tool loads, which invalidates
// the prompt cache anyway.
type ToolGuidanceTrinket struct {
	*BaseTrinket
	registry ports.ToolRegistry
}

func NewToolGuidanceTrinket(bus *events.Bus, kv ports.KVStore, registry ports.ToolRegistry, logger *slog.Logger) *ToolGuidanceTrinket {
	t := &ToolGuidanceTrinket{registry: registry}
	t.BaseTrinket = newBaseTrinket("ToolGuidanceTrinket", SectionToolGuidance, true, bus, kv, logger, t.generateContent)
	return t
}

func (t *ToolGuidanceTrinket) generateContent(context.Context, string, Context) (string, error) {
	defs := t.registry.Definitions()
	if len(defs) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("You can call the following tools:")
	for _, def := range defs {
		b.WriteString("\n- ")
		b.WriteString(def.Name)
		if def.Description != "" {
			b.WriteString(": ")
			b.WriteString(firstSentence(def.Description))
		}
	}
	return b.String(), nil
}

// ToolHintsTrinket renders per-tool usage hints. Not cached: hints change
// whenever a deferred tool loads mid-conversation.
type ToolHintsTrinket struct {
	*BaseTrinket
	registry ports.ToolRegistry
}

func NewToolHintsTrinket(bus *events.Bus, kv ports.KVStore, registry ports.ToolRegistry, logger *slog.Logger) *ToolHintsTrinket {
	t := &ToolHintsTrinket{registry: registry}
	t.BaseTrinket = newBaseTrinket("ToolHintsTrinket", SectionToolHints, false, bus, kv, logger, t.generateContent)
	return t
}

func (t *ToolHintsTrinket) generateContent(context.Context, string, Context) (string, error) {
	var b strings.Builder
	for _, def := range t.registry.Definitions() {
		hint := t.registry.SchemaHint(def.Name)
		if hint == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Tool hints:")
		}
		b.WriteString("\n- ")
		b.WriteString(def.Name)
		b.WriteString(": ")
		b.WriteString(hint)
	}
	return b.String(), nil
}

func firstSentence(s string) string {
	if i := strings.IndexAny(s, ".\n"); i > 0 {
		return strings.TrimSpace(s[:i+1])
	}
	return s
}
