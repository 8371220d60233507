package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mira-ai/mira/internal/domain"
)

// Error codes returned in the canonical envelope.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeTurnInProgress  = "TURN_IN_PROGRESS"
	CodeNotImplemented  = "NOT_IMPLEMENTED"
	CodeInternalError   = "INTERNAL_ERROR"
)

// SuccessEnvelope is the canonical success response shape.
type SuccessEnvelope struct {
	Success bool         `json:"success"`
	Data    any          `json:"data"`
	Meta    EnvelopeMeta `json:"meta"`
}

type EnvelopeMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Domain    string    `json:"domain,omitempty"`
	Action    string    `json:"action,omitempty"`
	HasMore   bool      `json:"has_more,omitempty"`
	NextOffset int     `json:"next_offset,omitempty"`
}

// ErrorEnvelope is the canonical error response shape.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondJSON writes a JSON response with the given status code
func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondSuccess(w http.ResponseWriter, data any, status int) {
	respondJSON(w, SuccessEnvelope{
		Success: true,
		Data:    data,
		Meta:    EnvelopeMeta{Timestamp: time.Now().UTC()},
	}, status)
}

func respondSuccessMeta(w http.ResponseWriter, data any, meta EnvelopeMeta, status int) {
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	respondJSON(w, SuccessEnvelope{Success: true, Data: data, Meta: meta}, status)
}

func respondError(w http.ResponseWriter, code, message string, status int) {
	respondJSON(w, ErrorEnvelope{Error: ErrorBody{Code: code, Message: message}}, status)
}

// respondDomainError maps domain sentinel errors onto the canonical envelope.
// Anything unrecognized is an opaque 500; details belong in the logs.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrEmptyContent),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidRole):
		respondError(w, CodeValidationError, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrMemoryNotFound),
		errors.Is(err, domain.ErrContinuumNotFound),
		errors.Is(err, domain.ErrMessageNotFound),
		errors.Is(err, domain.ErrSegmentNotFound):
		respondError(w, CodeNotFound, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrTurnInProgress):
		respondError(w, CodeTurnInProgress, err.Error(), http.StatusConflict)
	default:
		respondError(w, CodeInternalError, "internal error", http.StatusInternalServerError)
	}
}

// parseIntQuery parses an integer query parameter with a default value
func parseIntQuery(r *http.Request, name string, defaultValue int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// decodeJSON decodes JSON request body with error handling
func decodeJSON[T any](r *http.Request, w http.ResponseWriter) (*T, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 10*1024*1024)

	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, CodeValidationError, "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}
