package workingmemory

import (
	"regexp"
	"strings"
	"sync"

	"github.com/mira-ai/mira/internal/ports"
)

const sectionSeparator = "\n\n---\n\n"

// sectionDelimiter closes the base prompt and the notification center,
// keeping machine-assembled scaffolding visually apart from authored text.
const sectionDelimiter = "==========================================================="

// scaffoldingNote follows the base prompt so the model reads the remaining
// sections as assembled conversation state, not authored instructions.
const scaffoldingNote = "The sections below this line are assembled by the system every " +
	"turn. They describe the current state of the conversation and were not written by the user."

// notificationHeader opens the notification center bucket.
const notificationHeader = "### Notification Center\n\nLive conversation state, refreshed this turn:"

// HUDDelimiter is the first line of the synthetic assistant message that
// carries the notification center into the conversation.
const HUDDelimiter = "======== HUD ========"

var newlineRuns = regexp.MustCompile(`\n{3,}`)

// Composer holds at most one section per well-known name and renders them
// into the three prompt buckets.
type Composer struct {
	mu       sync.Mutex
	sections map[string]Section
	order    []string
}

func NewComposer() *Composer {
	return &Composer{
		sections: make(map[string]Section),
		order:    DisplayOrder,
	}
}

// SetBasePrompt wraps text with the scaffolding delimiter and stores it as
// the cached base_prompt system section.
func (c *Composer) SetBasePrompt(text string) {
	wrapped := strings.TrimRight(text, "\n") + "\n\n" + sectionDelimiter + "\n" + scaffoldingNote
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sections[SectionBasePrompt] = Section{
		Name:      SectionBasePrompt,
		Content:   wrapped,
		Cached:    true,
		Placement: PlacementSystem,
	}
}

// AddSection stores a section under its name. Empty content is ignored so a
// silent trinket leaves no residue in the prompt.
func (c *Composer) AddSection(name, content string, cached bool, placement string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sections[name] = Section{Name: name, Content: content, Cached: cached, Placement: placement}
}

// ClearDynamic drops every section except the base prompt.
func (c *Composer) ClearDynamic() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.sections {
		if name != SectionBasePrompt {
			delete(c.sections, name)
		}
	}
}

// Compose walks the display order and renders the three buckets. Sections
// placed in the system zone split by cache policy; notification sections are
// wrapped in the notification center frame.
func (c *Composer) Compose() *ports.ComposedPrompt {
	c.mu.Lock()
	defer c.mu.Unlock()

	var cached, nonCached, notification []string
	for _, name := range c.order {
		s, ok := c.sections[name]
		if !ok || strings.TrimSpace(s.Content) == "" {
			continue
		}
		switch {
		case s.Placement == PlacementNotification:
			notification = append(notification, s.Content)
		case s.Cached:
			cached = append(cached, s.Content)
		default:
			nonCached = append(nonCached, s.Content)
		}
	}

	out := &ports.ComposedPrompt{
		Cached:    squeezeNewlines(strings.Join(cached, sectionSeparator)),
		NonCached: squeezeNewlines(strings.Join(nonCached, sectionSeparator)),
	}
	if len(notification) > 0 {
		joined := squeezeNewlines(strings.Join(notification, sectionSeparator))
		out.NotificationCenter = notificationHeader + "\n\n" + joined + "\n" + sectionDelimiter
	}
	return out
}

func squeezeNewlines(s string) string {
	return newlineRuns.ReplaceAllString(s, "\n\n")
}
