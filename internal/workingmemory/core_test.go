package workingmemory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/events"
)

// fakeTrinket publishes fixed content for every matching update.
type fakeTrinket struct {
	bus      *events.Bus
	name     string
	variable string
	content  string
	cached   bool
	err      error
	updates  int
}

func (f *fakeTrinket) Name() string         { return f.name }
func (f *fakeTrinket) VariableName() string { return f.variable }

func (f *fakeTrinket) HandleUpdate(ctx context.Context, ev events.Event) error {
	update, ok := ev.(events.UpdateTrinketEvent)
	if !ok {
		return nil
	}
	if update.Target != "" && update.Target != f.name {
		return nil
	}
	f.updates++
	if f.err != nil {
		return f.err
	}
	if f.content == "" {
		return nil
	}
	f.bus.Publish(ctx, events.TrinketContentEvent{
		UserID:       update.UserID,
		VariableName: f.variable,
		TrinketName:  f.name,
		Content:      f.content,
		Cached:       f.cached,
		Placement:    PlacementFor(f.variable),
	})
	return nil
}

func TestCoreComposeNowFansOutAndComposes(t *testing.T) {
	bus := events.NewBus(slog.Default())
	core := NewCore(bus, slog.Default())

	doc := &fakeTrinket{bus: bus, name: "DomainDocTrinket", variable: SectionDomainDoc, content: "Domain knowledge.", cached: true}
	clock := &fakeTrinket{bus: bus, name: "DatetimeTrinket", variable: SectionDatetime, content: "It is Monday."}
	core.Register(doc)
	core.Register(clock)

	prompt, err := core.ComposeNow(context.Background(), "user_1", "You are Mira.", nil)
	if err != nil {
		t.Fatalf("ComposeNow failed: %v", err)
	}
	if doc.updates != 1 || clock.updates != 1 {
		t.Errorf("expected one update per trinket, got doc=%d clock=%d", doc.updates, clock.updates)
	}
	if !strings.Contains(prompt.Cached, "You are Mira.") || !strings.Contains(prompt.Cached, "Domain knowledge.") {
		t.Errorf("cached bucket incomplete: %q", prompt.Cached)
	}
	if !strings.Contains(prompt.NotificationCenter, "It is Monday.") {
		t.Errorf("notification center incomplete: %q", prompt.NotificationCenter)
	}
}

func TestCoreComposeNowSubstitutesFirstName(t *testing.T) {
	bus := events.NewBus(slog.Default())
	core := NewCore(bus, slog.Default())

	trinketCtx := map[string]any{ContextKeyUserName: "Ada Lovelace"}
	prompt, err := core.ComposeNow(context.Background(), "user_1", "The User prefers concise answers.", trinketCtx)
	if err != nil {
		t.Fatalf("ComposeNow failed: %v", err)
	}
	if !strings.Contains(prompt.Cached, "Ada prefers concise answers.") {
		t.Errorf("first name not substituted: %q", prompt.Cached)
	}
	if strings.Contains(prompt.Cached, "The User") {
		t.Errorf("placeholder survived substitution: %q", prompt.Cached)
	}
}

func TestCoreComposeNowResolvesNameFromContinuum(t *testing.T) {
	bus := events.NewBus(slog.Default())
	core := NewCore(bus, slog.Default())

	continuum := models.NewContinuum("mc_1", "user_1")
	continuum.UserName = "Grace Hopper"
	trinketCtx := map[string]any{ContextKeyContinuum: continuum}

	prompt, err := core.ComposeNow(context.Background(), "user_1", "The User is waiting.", trinketCtx)
	if err != nil {
		t.Fatalf("ComposeNow failed: %v", err)
	}
	if !strings.Contains(prompt.Cached, "Grace is waiting.") {
		t.Errorf("continuum name not used: %q", prompt.Cached)
	}
}

func TestCoreComposeNowLeavesPlaceholderWithoutName(t *testing.T) {
	bus := events.NewBus(slog.Default())
	core := NewCore(bus, slog.Default())

	prompt, err := core.ComposeNow(context.Background(), "user_1", "The User is anonymous.", nil)
	if err != nil {
		t.Fatalf("ComposeNow failed: %v", err)
	}
	if !strings.Contains(prompt.Cached, "The User is anonymous.") {
		t.Errorf("placeholder should survive when no name is known: %q", prompt.Cached)
	}
}

func TestCoreComposeNowClearsStaleSections(t *testing.T) {
	bus := events.NewBus(slog.Default())
	core := NewCore(bus, slog.Default())

	clock := &fakeTrinket{bus: bus, name: "DatetimeTrinket", variable: SectionDatetime, content: "First compose."}
	core.Register(clock)

	if _, err := core.ComposeNow(context.Background(), "user_1", "Base.", nil); err != nil {
		t.Fatalf("first compose failed: %v", err)
	}

	// The trinket goes silent; its old section must not linger.
	clock.content = ""
	prompt, err := core.ComposeNow(context.Background(), "user_1", "Base.", nil)
	if err != nil {
		t.Fatalf("second compose failed: %v", err)
	}
	if strings.Contains(prompt.NotificationCenter, "First compose.") {
		t.Errorf("stale section survived recompose: %q", prompt.NotificationCenter)
	}
}

func TestCoreComposeNowPublishesComposedEvent(t *testing.T) {
	bus := events.NewBus(slog.Default())
	core := NewCore(bus, slog.Default())
	core.Register(&fakeTrinket{bus: bus, name: "DatetimeTrinket", variable: SectionDatetime, content: "Tick."})

	var got events.SystemPromptComposedEvent
	bus.Subscribe(events.SystemPromptComposedEvent{}.Name(), func(ctx context.Context, ev events.Event) error {
		got = ev.(events.SystemPromptComposedEvent)
		return nil
	})

	prompt, err := core.ComposeNow(context.Background(), "user_1", "Base.", nil)
	if err != nil {
		t.Fatalf("ComposeNow failed: %v", err)
	}
	if got.UserID != "user_1" {
		t.Fatalf("composed event not published, got user %q", got.UserID)
	}
	if got.CachedContent != prompt.Cached || got.NotificationCenter != prompt.NotificationCenter {
		t.Error("composed event diverges from returned prompt")
	}
}

func TestCoreComposeNowIsolatesFailingTrinket(t *testing.T) {
	bus := events.NewBus(slog.Default())
	core := NewCore(bus, slog.Default())

	core.Register(&fakeTrinket{bus: bus, name: "BrokenTrinket", variable: SectionContextSearch, err: errors.New("Database timeout")})
	core.Register(&fakeTrinket{bus: bus, name: "DatetimeTrinket", variable: SectionDatetime, content: "Still ticking."})

	prompt, err := core.ComposeNow(context.Background(), "user_1", "Base.", nil)
	if err != nil {
		t.Fatalf("ComposeNow failed despite failure isolation: %v", err)
	}
	if !strings.Contains(prompt.NotificationCenter, "Still ticking.") {
		t.Errorf("sibling trinket content missing: %q", prompt.NotificationCenter)
	}
}

func TestCoreComposeNowIsolatesUsers(t *testing.T) {
	bus := events.NewBus(slog.Default())
	core := NewCore(bus, slog.Default())

	// Content arrives only for user_1; user_2 composes with the same core
	// and must not see it.
	memories := &fakeTrinket{bus: bus, name: ProactiveMemoryTrinketName, variable: SectionRelevantMemories}
	core.Register(memories)
	bus.Subscribe(events.UpdateTrinketEvent{}.Name(), func(ctx context.Context, ev events.Event) error {
		update := ev.(events.UpdateTrinketEvent)
		if update.UserID == "user_1" {
			bus.Publish(ctx, events.TrinketContentEvent{
				UserID:       "user_1",
				VariableName: SectionRelevantMemories,
				TrinketName:  ProactiveMemoryTrinketName,
				Content:      "user one memories",
				Placement:    PlacementNotification,
			})
		}
		return nil
	})

	first, err := core.ComposeNow(context.Background(), "user_1", "Base.", nil)
	if err != nil {
		t.Fatalf("compose for user_1 failed: %v", err)
	}
	second, err := core.ComposeNow(context.Background(), "user_2", "Base.", nil)
	if err != nil {
		t.Fatalf("compose for user_2 failed: %v", err)
	}
	if !strings.Contains(first.NotificationCenter, "user one memories") {
		t.Errorf("user_1 compose missing its content: %q", first.NotificationCenter)
	}
	if strings.Contains(second.NotificationCenter, "user one memories") {
		t.Errorf("user_2 compose leaked user_1 content: %q", second.NotificationCenter)
	}
}
