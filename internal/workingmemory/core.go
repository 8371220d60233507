package workingmemory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mira-ai/mira/internal/events"
	"github.com/mira-ai/mira/internal/ports"
)

// Core owns the trinket registry and one composer per user. It listens for
// compose requests, fans an update out to every registered trinket, gathers
// the content events they publish, and emits the composed prompt.
//
// Trinkets never hold a reference to the core and the core never calls a
// trinket directly; both directions run over the event bus.
type Core struct {
	bus    *events.Bus
	logger *slog.Logger

	mu        sync.Mutex
	trinkets  []Trinket
	composers map[string]*Composer
	results   map[string]*ports.ComposedPrompt
}

func NewCore(bus *events.Bus, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Core{
		bus:       bus,
		logger:    logger,
		composers: make(map[string]*Composer),
		results:   make(map[string]*ports.ComposedPrompt),
	}
	bus.Subscribe(events.ComposeSystemPromptEvent{}.Name(), c.onCompose)
	bus.Subscribe(events.TrinketContentEvent{}.Name(), c.onContent)
	return c
}

// Register adds a trinket to the registry and subscribes it to update
// events.
func (c *Core) Register(t Trinket) {
	c.mu.Lock()
	c.trinkets = append(c.trinkets, t)
	c.mu.Unlock()
	c.bus.Subscribe(events.UpdateTrinketEvent{}.Name(), t.HandleUpdate)
}

// Trinkets returns the registered trinkets in registration order.
func (c *Core) Trinkets() []Trinket {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Trinket, len(c.trinkets))
	copy(out, c.trinkets)
	return out
}

// ComposeNow publishes a compose request and reads the result back once the
// synchronous dispatch returns. The per-user chat lock guarantees a single
// in-flight compose per user.
func (c *Core) ComposeNow(ctx context.Context, userID, basePrompt string, trinketCtx map[string]any) (*ports.ComposedPrompt, error) {
	c.mu.Lock()
	delete(c.results, userID)
	c.mu.Unlock()

	c.bus.Publish(ctx, events.ComposeSystemPromptEvent{
		UserID:     userID,
		BasePrompt: basePrompt,
		Context:    trinketCtx,
	})

	c.mu.Lock()
	result := c.results[userID]
	c.mu.Unlock()
	if result == nil {
		return nil, fmt.Errorf("compose cycle for user %s produced no prompt", userID)
	}
	return result, nil
}

func (c *Core) onCompose(ctx context.Context, ev events.Event) error {
	compose, ok := ev.(events.ComposeSystemPromptEvent)
	if !ok {
		return nil
	}
	tc := Context(compose.Context)

	composer := c.composerFor(compose.UserID)
	composer.SetBasePrompt(substituteUserName(compose.BasePrompt, resolveFirstName(tc)))
	composer.ClearDynamic()

	// Broadcast update; every registered trinket regenerates now and its
	// content events land in the composer before Publish returns.
	c.bus.Publish(ctx, events.UpdateTrinketEvent{
		UserID:  compose.UserID,
		Context: compose.Context,
	})

	result := composer.Compose()
	c.mu.Lock()
	c.results[compose.UserID] = result
	c.mu.Unlock()

	c.bus.Publish(ctx, events.SystemPromptComposedEvent{
		UserID:             compose.UserID,
		CachedContent:      result.Cached,
		NonCachedContent:   result.NonCached,
		NotificationCenter: result.NotificationCenter,
	})
	return nil
}

func (c *Core) onContent(ctx context.Context, ev events.Event) error {
	content, ok := ev.(events.TrinketContentEvent)
	if !ok {
		return nil
	}
	c.composerFor(content.UserID).AddSection(content.VariableName, content.Content, content.Cached, content.Placement)
	return nil
}

func (c *Core) composerFor(userID string) *Composer {
	c.mu.Lock()
	defer c.mu.Unlock()
	composer, ok := c.composers[userID]
	if !ok {
		composer = NewComposer()
		c.composers[userID] = composer
	}
	return composer
}

// substituteUserName replaces the literal "The User" placeholder with the
// user's first name when one is known.
func substituteUserName(basePrompt, firstName string) string {
	if firstName == "" {
		return basePrompt
	}
	return strings.ReplaceAll(basePrompt, "The User", firstName)
}

func resolveFirstName(tc Context) string {
	name := tc.UserName()
	if name == "" {
		if cont := tc.Continuum(); cont != nil {
			name = cont.UserName
		}
	}
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
