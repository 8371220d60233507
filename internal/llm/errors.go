package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/mira-ai/mira/internal/domain"
)

// ContextOverflowError reports that the provider rejected the request because
// the prompt exceeded the model window. The orchestrator handles remediation.
type ContextOverflowError struct {
	EstimatedTokens int
	ContextWindow   int
	Provider        string
	Cause           error
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("context overflow on %s: estimated %d tokens against a %d window: %v",
		e.Provider, e.EstimatedTokens, e.ContextWindow, e.Cause)
}

func (e *ContextOverflowError) Unwrap() error { return domain.ErrContextOverflow }

// overflowMessage matches the provider phrasings that mean "prompt too large".
func overflowMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"prompt is too long", "context", "too many tokens"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// classifyNativeError maps an Anthropic API error onto domain errors.
// 401/403 means bad credentials and is raised directly, never failed over.
// 429 is a rate limit. A 400 that talks about prompt size is an overflow.
// Everything else API-level (5xx, overloaded) is a failover trigger.
func classifyNativeError(err error, estimated, window int) error {
	if err == nil {
		return nil
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	switch {
	case apiErr.StatusCode == 400 && overflowMessage(apiErr.Error()):
		return &ContextOverflowError{
			EstimatedTokens: estimated,
			ContextWindow:   window,
			Provider:        "anthropic",
			Cause:           err,
		}
	case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	case apiErr.StatusCode == 429:
		return fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrLLMRequestFailed, err)
	}
}

// tripsFailover reports whether an error should reroute traffic to the
// emergency endpoint. Credential, rate-limit and overflow errors do not.
func tripsFailover(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrPermissionDenied) ||
		errors.Is(err, domain.ErrRateLimited) ||
		errors.Is(err, domain.ErrContextOverflow) {
		return false
	}
	return true
}
