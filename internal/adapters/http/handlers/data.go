package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mira-ai/mira/internal/adapters/http/middleware"
	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/ports"
)

// MessageReader loads the full message history of a continuum.
type MessageReader interface {
	GetByContinuum(ctx context.Context, continuumID string) ([]*models.Message, error)
}

type DataHandler struct {
	continuums ContinuumReader
	messages   MessageReader
	memories   MemoryManager
	segments   SegmentController
	docs       DocStore
	kv         ports.KVStore
	logger     *slog.Logger
}

func NewDataHandler(
	continuums ContinuumReader,
	messages MessageReader,
	memories MemoryManager,
	segments SegmentController,
	docs DocStore,
	kv ports.KVStore,
	logger *slog.Logger,
) *DataHandler {
	return &DataHandler{
		continuums: continuums,
		messages:   messages,
		memories:   memories,
		segments:   segments,
		docs:       docs,
		kv:         kv,
		logger:     logger,
	}
}

// dataQuery carries the common filter parameters of the unified read
// endpoint.
type dataQuery struct {
	limit       int
	offset      int
	search      string
	messageType string
	label       string
	section     string
	startDate   time.Time
	endDate     time.Time
}

func parseDataQuery(r *http.Request) (dataQuery, error) {
	q := dataQuery{
		limit:       parseIntQuery(r, "limit", 50),
		offset:      parseIntQuery(r, "offset", 0),
		search:      strings.TrimSpace(r.URL.Query().Get("search")),
		messageType: r.URL.Query().Get("message_type"),
		label:       strings.TrimSpace(r.URL.Query().Get("label")),
		section:     strings.TrimSpace(r.URL.Query().Get("section")),
	}
	if q.limit <= 0 || q.limit > 200 {
		q.limit = 50
	}
	if q.offset < 0 {
		q.offset = 0
	}

	var err error
	if q.startDate, err = parseDateQuery(r, "start_date"); err != nil {
		return q, err
	}
	if q.endDate, err = parseDateQuery(r, "end_date"); err != nil {
		return q, err
	}
	return q, nil
}

// parseDateQuery accepts RFC 3339 timestamps or bare dates.
func parseDateQuery(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w: want RFC 3339 or YYYY-MM-DD", name, domain.ErrInvalidInput)
	}
	return t, nil
}

// Handle serves GET /api/v1/data?type=..., the unified read endpoint. The
// type enum selects the dataset; limit and offset page through it.
func (h *DataHandler) Handle(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		respondError(w, CodeValidationError, "user identity missing", http.StatusBadRequest)
		return
	}

	query, err := parseDataQuery(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var (
		data    any
		hasMore bool
	)

	dataType := r.URL.Query().Get("type")
	switch dataType {
	case "history":
		data, hasMore, err = h.history(r.Context(), userID, query)
	case "memories":
		data, hasMore, err = h.memoryPage(r.Context(), userID, query)
	case "dashboard":
		data, err = h.dashboard(r.Context(), userID)
	case "user":
		data, err = h.user(r.Context(), userID)
	case "domaindocs":
		data, err = h.domainDocs(r.Context(), userID, query.label)
	case "working_memory":
		data, err = h.workingMemory(r.Context(), userID, query.section)
	case "":
		respondError(w, CodeValidationError, "type query parameter is required", http.StatusBadRequest)
		return
	default:
		respondError(w, CodeValidationError, fmt.Sprintf("unknown data type %q", dataType), http.StatusBadRequest)
		return
	}

	if err != nil {
		h.logger.Error("data query failed", "type", dataType, "user_id", userID, "error", err)
		respondDomainError(w, err)
		return
	}

	meta := EnvelopeMeta{HasMore: hasMore}
	if hasMore {
		meta.NextOffset = query.offset + query.limit
	}
	respondSuccessMeta(w, data, meta, http.StatusOK)
}

func (h *DataHandler) history(ctx context.Context, userID string, q dataQuery) (any, bool, error) {
	continuum, err := h.continuums.GetOrCreateByUserID(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	all, err := h.messages.GetByContinuum(ctx, continuum.ID)
	if err != nil {
		return nil, false, err
	}

	filtered := all[:0:0]
	for _, m := range all {
		switch q.messageType {
		case "summaries":
			if !m.IsSentinel() || m.Meta.Summary == "" {
				continue
			}
		case "all":
		default: // regular
			if m.IsSentinel() {
				continue
			}
		}
		if !q.startDate.IsZero() && m.CreatedAt.Before(q.startDate) {
			continue
		}
		if !q.endDate.IsZero() && m.CreatedAt.After(q.endDate) {
			continue
		}
		if q.search != "" && !containsFold(m.Text(), q.search) {
			continue
		}
		filtered = append(filtered, m)
	}

	// Newest first.
	for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
		filtered[i], filtered[j] = filtered[j], filtered[i]
	}

	page, hasMore := paginate(filtered, q.limit, q.offset)
	return map[string]any{"continuum_id": continuum.ID, "messages": page}, hasMore, nil
}

func (h *DataHandler) memoryPage(ctx context.Context, userID string, q dataQuery) (any, bool, error) {
	if q.search != "" {
		// Search scans a large window; pagination applies to the matches.
		all, err := h.memories.List(ctx, userID, 1000, 0)
		if err != nil {
			return nil, false, err
		}
		matched := all[:0:0]
		for _, m := range all {
			if containsFold(m.Content, q.search) {
				matched = append(matched, m)
			}
		}
		page, hasMore := paginate(matched, q.limit, q.offset)
		return map[string]any{"memories": page}, hasMore, nil
	}

	// Fetch one extra row to learn whether another page exists.
	memories, err := h.memories.List(ctx, userID, q.limit+1, q.offset)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(memories) > q.limit
	if hasMore {
		memories = memories[:q.limit]
	}
	return map[string]any{"memories": memories}, hasMore, nil
}

// dashboard summarizes the continuum: the segment manifest plus the counters
// a status view needs.
func (h *DataHandler) dashboard(ctx context.Context, userID string) (any, error) {
	continuum, err := h.continuums.GetOrCreateByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	manifest, err := h.segments.Manifest(ctx, continuum.ID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	regular := 0
	for _, m := range continuum.Messages {
		if !m.IsSentinel() {
			regular++
		}
	}

	return map[string]any{
		"continuum_id":      continuum.ID,
		"manifest":          manifest,
		"active_window":     len(continuum.Messages),
		"message_count":     regular,
		"last_input_tokens": continuum.LastInputTokens,
	}, nil
}

func (h *DataHandler) user(ctx context.Context, userID string) (any, error) {
	continuum, err := h.continuums.GetOrCreateByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"user_id":      userID,
		"user_name":    continuum.UserName,
		"continuum_id": continuum.ID,
		"created_at":   continuum.CreatedAt,
	}, nil
}

func (h *DataHandler) domainDocs(ctx context.Context, userID, label string) (any, error) {
	docs, err := h.docs.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if label != "" {
		for _, d := range docs {
			if d.Label == label {
				return map[string]any{"documents": []any{d}}, nil
			}
		}
		return nil, fmt.Errorf("domain doc %q: %w", label, domain.ErrNotFound)
	}
	return map[string]any{"documents": docs}, nil
}

// workingMemory reads the composed trinket sections straight from the KV
// hash, the same state the composer consumes.
func (h *DataHandler) workingMemory(ctx context.Context, userID, section string) (any, error) {
	fields, err := h.kv.HGetAll(ctx, "trinkets:"+userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			fields = map[string]string{}
		} else {
			return nil, err
		}
	}

	sections := make(map[string]json.RawMessage, len(fields))
	for name, raw := range fields {
		if section != "" && name != section {
			continue
		}
		if json.Valid([]byte(raw)) {
			sections[name] = json.RawMessage(raw)
		} else {
			encoded, _ := json.Marshal(raw)
			sections[name] = encoded
		}
	}
	if section != "" && len(sections) == 0 {
		return nil, fmt.Errorf("working memory section %q: %w", section, domain.ErrNotFound)
	}
	return map[string]any{"sections": sections}, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func paginate[T any](items []T, limit, offset int) ([]T, bool) {
	if offset >= len(items) {
		return []T{}, false
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end], end < len(items)
}
