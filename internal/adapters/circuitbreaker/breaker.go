package circuitbreaker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

type record struct {
	tool       string
	resultHash string
	err        error
}

// Breaker guards one turn's tool loop against runaway behavior. A fresh
// instance is created per turn; Record is called after every tool execution
// and ShouldContinue is consulted before requesting the next model step.
//
// A single tool error is allowed through so the model can correct itself.
// The breaker trips on the second error of the same tool, or when two
// consecutive executions produce byte-identical results.
type Breaker struct {
	mu      sync.Mutex
	records []record
}

func New() *Breaker {
	return &Breaker{}
}

// Record stores the outcome of one tool execution. The result hash is only
// computed for successful, non-empty results.
func (b *Breaker) Record(tool, result string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := record{tool: tool, err: err}
	if err == nil && result != "" {
		r.resultHash = hashResult(result)
	}
	b.records = append(b.records, r)
}

// ShouldContinue reports whether the tool loop may proceed, with a reason.
func (b *Breaker) ShouldContinue() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) == 0 {
		return true, "First tool"
	}

	last := b.records[len(b.records)-1]

	if last.err != nil {
		for _, prior := range b.records[:len(b.records)-1] {
			if prior.tool == last.tool && prior.err != nil {
				return false, fmt.Sprintf("Tool '%s' failed after correction attempt: %v", last.tool, last.err)
			}
		}
	}

	if len(b.records) >= 2 {
		prev := b.records[len(b.records)-2]
		if last.resultHash != "" && last.resultHash == prev.resultHash {
			return false, "Repeated identical results"
		}
	}

	return true, "Continue"
}

func hashResult(result string) string {
	sum := sha256.Sum256([]byte(result))
	return hex.EncodeToString(sum[:])
}
