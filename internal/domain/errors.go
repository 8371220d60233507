package domain

import "errors"

// Common domain errors
var (
	// Continuum errors
	ErrContinuumNotFound = errors.New("continuum not found")
	ErrContinuumLocked   = errors.New("continuum is locked by another turn")
	ErrTurnInProgress    = errors.New("a turn is already in progress for this user")

	// Message errors
	ErrMessageNotFound = errors.New("message not found")
	ErrInvalidRole     = errors.New("invalid message role")

	// Memory errors
	ErrMemoryNotFound     = errors.New("memory not found")
	ErrEmbeddingsFailed   = errors.New("failed to generate embeddings")
	ErrMemorySearchFailed = errors.New("memory search failed")

	// Segment errors
	ErrSegmentNotFound  = errors.New("segment not found")
	ErrNoActiveSegment  = errors.New("no active segment sentinel")
	ErrSegmentCollapsed = errors.New("segment is already collapsed")

	// Tool errors
	ErrToolNotFound        = errors.New("tool not found")
	ErrToolExecutionFailed = errors.New("tool execution failed")
	ErrToolTimeout         = errors.New("tool execution timed out")
	ErrInvalidToolArgs     = errors.New("invalid tool arguments")

	// LLM errors
	ErrLLMUnavailable       = errors.New("LLM service unavailable")
	ErrLLMRequestFailed     = errors.New("LLM request failed")
	ErrContextOverflow      = errors.New("context exceeds model window")
	ErrRateLimited          = errors.New("rate limited by provider")
	ErrPermissionDenied     = errors.New("provider rejected credentials")
	ErrModelEmptyResponse   = errors.New("model returned an empty response")
	ErrMissingModelOverride = errors.New("endpoint override requires a model override")

	// Fingerprint errors
	ErrFingerprintFailed = errors.New("fingerprint generation failed")

	// KV errors
	ErrKVUnavailable = errors.New("key-value store unavailable")
	ErrLockNotHeld   = errors.New("lock is not held by this owner")

	// Validation errors
	ErrInvalidID    = errors.New("invalid ID format")
	ErrEmptyContent = errors.New("content cannot be empty")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("resource not found")
)

// DomainError wraps a domain error with additional context
type DomainError struct {
	Err     error
	Message string
	Code    string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func NewDomainError(err error, message string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
	}
}

func NewDomainErrorWithCode(err error, message, code string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}
