package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mira-ai/mira/internal/adapters/http/middleware"
	"github.com/mira-ai/mira/internal/application/services"
	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
)

// MemoryManager is the memory administration surface of the actions endpoint.
type MemoryManager interface {
	Create(ctx context.Context, userID, content string) (*models.Memory, error)
	Delete(ctx context.Context, userID, memoryID string) error
	List(ctx context.Context, userID string, limit, offset int) ([]*models.Memory, error)
}

// SegmentController exposes manual segment lifecycle controls.
type SegmentController interface {
	CollapseNow(ctx context.Context, continuumID string) error
	Postpone(ctx context.Context, continuumID string, d time.Duration) (time.Time, error)
	Manifest(ctx context.Context, continuumID string, now time.Time) (string, error)
}

// ContinuumReader loads a user's continuum.
type ContinuumReader interface {
	GetOrCreateByUserID(ctx context.Context, userID string) (*models.Continuum, error)
}

// ReminderStore manages per-user reminders.
type ReminderStore interface {
	Add(ctx context.Context, userID, text string, remindAt *time.Time) (*services.Reminder, error)
	List(ctx context.Context, userID string) ([]*services.Reminder, error)
	Remove(ctx context.Context, userID, reminderID string) error
}

// DocStore manages per-user domain-knowledge documents.
type DocStore interface {
	Put(ctx context.Context, userID, label, content string) (*services.DomainDoc, error)
	List(ctx context.Context, userID string) ([]*services.DomainDoc, error)
	Remove(ctx context.Context, userID, label string) error
}

type ActionsHandler struct {
	memories   MemoryManager
	segments   SegmentController
	continuums ContinuumReader
	reminders  ReminderStore
	docs       DocStore
	logger     *slog.Logger

	domains map[string]actionFunc
}

type actionFunc func(ctx context.Context, userID, action string, payload json.RawMessage) (any, error)

func NewActionsHandler(
	memories MemoryManager,
	segments SegmentController,
	continuums ContinuumReader,
	reminders ReminderStore,
	docs DocStore,
	logger *slog.Logger,
) *ActionsHandler {
	h := &ActionsHandler{
		memories:   memories,
		segments:   segments,
		continuums: continuums,
		reminders:  reminders,
		docs:       docs,
		logger:     logger,
	}
	h.domains = map[string]actionFunc{
		"memories":   h.handleMemories,
		"continuum":  h.handleContinuum,
		"reminders":  h.handleReminders,
		"domaindocs": h.handleDomainDocs,
	}
	return h
}

type actionRequest struct {
	Domain  string          `json:"domain"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// errNotImplemented marks an unknown domain or action for the 501 envelope.
type errNotImplemented struct {
	what string
}

func (e errNotImplemented) Error() string {
	return e.what + " is not implemented"
}

// Handle serves POST /api/v1/actions: a {domain, action, payload} envelope
// dispatched to the matching domain handler.
func (h *ActionsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		respondError(w, CodeValidationError, "user identity missing", http.StatusBadRequest)
		return
	}

	req, ok := decodeJSON[actionRequest](r, w)
	if !ok {
		return
	}
	if req.Domain == "" || req.Action == "" {
		respondError(w, CodeValidationError, "domain and action are required", http.StatusBadRequest)
		return
	}

	fn, ok := h.domains[req.Domain]
	if !ok {
		respondError(w, CodeNotImplemented, fmt.Sprintf("domain %q is not implemented", req.Domain), http.StatusNotImplemented)
		return
	}

	data, err := fn(r.Context(), userID, req.Action, req.Payload)
	if err != nil {
		if ni, ok := err.(errNotImplemented); ok {
			respondError(w, CodeNotImplemented, ni.Error(), http.StatusNotImplemented)
			return
		}
		h.logger.Error("action failed", "domain", req.Domain, "action", req.Action, "user_id", userID, "error", err)
		respondDomainError(w, err)
		return
	}

	respondSuccessMeta(w, data, EnvelopeMeta{Domain: req.Domain, Action: req.Action}, http.StatusOK)
}

func (h *ActionsHandler) handleMemories(ctx context.Context, userID, action string, payload json.RawMessage) (any, error) {
	switch action {
	case "create":
		var p struct {
			Content string `json:"content"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.Content == "" {
			return nil, domain.NewDomainError(domain.ErrEmptyContent, "memory content is required")
		}
		return h.memories.Create(ctx, userID, p.Content)
	case "delete":
		var p struct {
			ID string `json:"id"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, domain.NewDomainError(domain.ErrInvalidInput, "memory id is required")
		}
		if err := h.memories.Delete(ctx, userID, p.ID); err != nil {
			return nil, err
		}
		return map[string]string{"deleted": p.ID}, nil
	case "list":
		var p struct {
			Limit  int `json:"limit"`
			Offset int `json:"offset"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.Limit <= 0 || p.Limit > 200 {
			p.Limit = 50
		}
		memories, err := h.memories.List(ctx, userID, p.Limit, p.Offset)
		if err != nil {
			return nil, err
		}
		return map[string]any{"memories": memories}, nil
	default:
		return nil, errNotImplemented{what: fmt.Sprintf("memories action %q", action)}
	}
}

func (h *ActionsHandler) handleContinuum(ctx context.Context, userID, action string, payload json.RawMessage) (any, error) {
	continuum, err := h.continuums.GetOrCreateByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch action {
	case "collapse":
		if err := h.segments.CollapseNow(ctx, continuum.ID); err != nil {
			return nil, err
		}
		return map[string]string{"continuum_id": continuum.ID, "status": "collapsed"}, nil
	case "postpone":
		var p struct {
			Minutes int `json:"minutes"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.Minutes <= 0 {
			return nil, domain.NewDomainError(domain.ErrInvalidInput, "minutes must be positive")
		}
		until, err := h.segments.Postpone(ctx, continuum.ID, time.Duration(p.Minutes)*time.Minute)
		if err != nil {
			return nil, err
		}
		return map[string]any{"continuum_id": continuum.ID, "postponed_until": until}, nil
	case "status":
		manifest, err := h.segments.Manifest(ctx, continuum.ID, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"continuum_id":      continuum.ID,
			"message_count":     len(continuum.Messages),
			"active_window":     len(continuum.ActiveWindow()),
			"last_input_tokens": continuum.LastInputTokens,
			"manifest":          manifest,
		}, nil
	default:
		return nil, errNotImplemented{what: fmt.Sprintf("continuum action %q", action)}
	}
}

func (h *ActionsHandler) handleReminders(ctx context.Context, userID, action string, payload json.RawMessage) (any, error) {
	switch action {
	case "add":
		var p struct {
			Text     string     `json:"text"`
			RemindAt *time.Time `json:"remind_at"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.Text == "" {
			return nil, domain.NewDomainError(domain.ErrEmptyContent, "reminder text is required")
		}
		return h.reminders.Add(ctx, userID, p.Text, p.RemindAt)
	case "list":
		reminders, err := h.reminders.List(ctx, userID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"reminders": reminders}, nil
	case "remove":
		var p struct {
			ID string `json:"id"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, domain.NewDomainError(domain.ErrInvalidInput, "reminder id is required")
		}
		if err := h.reminders.Remove(ctx, userID, p.ID); err != nil {
			return nil, err
		}
		return map[string]string{"removed": p.ID}, nil
	default:
		return nil, errNotImplemented{what: fmt.Sprintf("reminders action %q", action)}
	}
}

func (h *ActionsHandler) handleDomainDocs(ctx context.Context, userID, action string, payload json.RawMessage) (any, error) {
	switch action {
	case "put":
		var p struct {
			Label   string `json:"label"`
			Content string `json:"content"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.Label == "" || p.Content == "" {
			return nil, domain.NewDomainError(domain.ErrInvalidInput, "label and content are required")
		}
		return h.docs.Put(ctx, userID, p.Label, p.Content)
	case "list":
		docs, err := h.docs.List(ctx, userID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"documents": docs}, nil
	case "remove":
		var p struct {
			Label string `json:"label"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.Label == "" {
			return nil, domain.NewDomainError(domain.ErrInvalidInput, "label is required")
		}
		if err := h.docs.Remove(ctx, userID, p.Label); err != nil {
			return nil, err
		}
		return map[string]string{"removed": p.Label}, nil
	default:
		return nil, errNotImplemented{what: fmt.Sprintf("domaindocs action %q", action)}
	}
}

func decodePayload(payload json.RawMessage, into any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, into); err != nil {
		return domain.NewDomainError(domain.ErrInvalidInput, "invalid action payload")
	}
	return nil
}
