package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mira-ai/mira/internal/ports"
)

const reminderKeyPrefix = "reminders:"

// Reminder is one standing note the assistant keeps in front of the model
// until the user clears it.
type Reminder struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	RemindAt  *time.Time `json:"remind_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// RemindersService stores reminders in a per-user KV hash and feeds the
// active-reminders notification section.
type RemindersService struct {
	kv     ports.KVStore
	ids    ports.IDGenerator
	logger *slog.Logger
	now    func() time.Time
}

func NewRemindersService(kv ports.KVStore, ids ports.IDGenerator, logger *slog.Logger) *RemindersService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemindersService{
		kv:     kv,
		ids:    ids,
		logger: logger,
		now:    time.Now,
	}
}

func reminderKey(userID string) string {
	return reminderKeyPrefix + userID
}

// Add stores a new reminder and returns it.
func (s *RemindersService) Add(ctx context.Context, userID, text string, remindAt *time.Time) (*Reminder, error) {
	if err := ValidateID(userID, "user"); err != nil {
		return nil, err
	}
	if err := ValidateRequired(text, "reminder text"); err != nil {
		return nil, err
	}

	r := &Reminder{
		ID:        s.ids.GenerateReminderID(),
		Text:      strings.TrimSpace(text),
		RemindAt:  remindAt,
		CreatedAt: s.now().UTC(),
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode reminder: %w", err)
	}
	if err := s.kv.HSet(ctx, reminderKey(userID), r.ID, string(payload)); err != nil {
		return nil, err
	}
	return r, nil
}

// List returns the user's reminders, due ones first, then by creation time.
func (s *RemindersService) List(ctx context.Context, userID string) ([]*Reminder, error) {
	if err := ValidateID(userID, "user"); err != nil {
		return nil, err
	}
	fields, err := s.kv.HGetAll(ctx, reminderKey(userID))
	if err != nil {
		return nil, err
	}

	reminders := make([]*Reminder, 0, len(fields))
	for field, raw := range fields {
		var r Reminder
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			s.logger.Warn("skipping unreadable reminder", "user_id", userID, "reminder_id", field, "error", err)
			continue
		}
		reminders = append(reminders, &r)
	}

	sort.Slice(reminders, func(i, j int) bool {
		a, b := reminders[i], reminders[j]
		switch {
		case a.RemindAt != nil && b.RemindAt != nil:
			if !a.RemindAt.Equal(*b.RemindAt) {
				return a.RemindAt.Before(*b.RemindAt)
			}
		case a.RemindAt != nil:
			return true
		case b.RemindAt != nil:
			return false
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return reminders, nil
}

// Remove deletes one reminder. Unknown IDs report not found so the action
// surface can answer 404.
func (s *RemindersService) Remove(ctx context.Context, userID, reminderID string) error {
	if err := ValidateID(userID, "user"); err != nil {
		return err
	}
	if err := ValidateID(reminderID, "reminder"); err != nil {
		return err
	}
	if _, err := s.kv.HGet(ctx, reminderKey(userID), reminderID); err != nil {
		return err
	}
	return s.kv.HDel(ctx, reminderKey(userID), reminderID)
}

// ActiveReminders implements the reminders notification source. Each line is
// the reminder text, annotated with its due time when one is set.
func (s *RemindersService) ActiveReminders(ctx context.Context, userID string) ([]string, error) {
	reminders, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(reminders))
	now := s.now()
	for _, r := range reminders {
		if r.RemindAt == nil {
			lines = append(lines, r.Text)
			continue
		}
		when := "due " + r.RemindAt.Format("Mon Jan 2 15:04")
		if r.RemindAt.Before(now) {
			when = "overdue since " + r.RemindAt.Format("Mon Jan 2 15:04")
		}
		lines = append(lines, fmt.Sprintf("%s (%s)", r.Text, when))
	}
	return lines, nil
}
