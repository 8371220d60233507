package models

import (
	"time"
)

// Continuum is the single per-user conversation stream. There is no
// conversation list: every message a user exchanges with the assistant
// belongs to their continuum, and segment sentinels partition it into
// collapsible episodes.
type Continuum struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// Messages holds the uncollapsed window in sequence order, sentinel
	// included. Collapsed history is reachable only through segments.
	Messages []*Message `json:"messages"`

	// LastInputTokens is the input token count the provider reported for the
	// previous turn, used as the context size estimate for the next one.
	LastInputTokens int `json:"last_input_tokens,omitempty"`

	ContainerID string    `json:"container_id,omitempty"`
	UserName    string    `json:"user_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func NewContinuum(id, userID string) *Continuum {
	now := time.Now().UTC()
	return &Continuum{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NextSequence returns the sequence number for the next appended message.
func (c *Continuum) NextSequence() int {
	if len(c.Messages) == 0 {
		return 1
	}
	return c.Messages[len(c.Messages)-1].Sequence + 1
}

// Append adds a message to the in-memory window and bumps UpdatedAt.
func (c *Continuum) Append(m *Message) {
	c.Messages = append(c.Messages, m)
	c.UpdatedAt = time.Now().UTC()
}

// ActiveSentinel returns the newest active segment boundary, or nil.
func (c *Continuum) ActiveSentinel() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.IsSentinel() && m.Meta.SegmentStatus == string(SegmentStatusActive) {
			return m
		}
	}
	return nil
}

// History returns the conversational messages (sentinels excluded) in order.
func (c *Continuum) History() []*Message {
	out := make([]*Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.IsSentinel() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ActiveWindow returns the conversational messages after the active sentinel.
// With no sentinel the whole history is the active window.
func (c *Continuum) ActiveWindow() []*Message {
	start := 0
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.IsSentinel() && m.Meta.SegmentStatus == string(SegmentStatusActive) {
			start = i + 1
			break
		}
	}
	out := make([]*Message, 0, len(c.Messages)-start)
	for _, m := range c.Messages[start:] {
		if m.IsSentinel() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// LastAssistantMessage returns the newest assistant message, or nil.
func (c *Continuum) LastAssistantMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == MessageRoleAssistant {
			return c.Messages[i]
		}
	}
	return nil
}
