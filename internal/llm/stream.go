package llm

import "encoding/json"

// StreamEventKind discriminates the stream event union.
type StreamEventKind string

const (
	KindText           StreamEventKind = "text"
	KindThinking       StreamEventKind = "thinking"
	KindToolDetected   StreamEventKind = "tool_detected"
	KindToolExecuting  StreamEventKind = "tool_executing"
	KindToolCompleted  StreamEventKind = "tool_completed"
	KindToolError      StreamEventKind = "tool_error"
	KindCircuitBreaker StreamEventKind = "circuit_breaker"
	KindRetry          StreamEventKind = "retry"
	KindComplete       StreamEventKind = "complete"
	KindError          StreamEventKind = "error"
)

// StreamEvent is one observation from a model turn. A stream carries any
// number of non-terminal events and exactly one terminal event: Complete on
// success or Error on failure.
type StreamEvent interface {
	Kind() StreamEventKind
}

type TextEvent struct {
	Content string `json:"content"`
}

func (TextEvent) Kind() StreamEventKind { return KindText }

type ThinkingEvent struct {
	Content string `json:"content"`
}

func (ThinkingEvent) Kind() StreamEventKind { return KindThinking }

// ToolDetectedEvent fires once per tool id, when the provider first announces
// the call, before its arguments are complete.
type ToolDetectedEvent struct {
	ToolName string `json:"tool_name"`
	ToolID   string `json:"tool_id"`
}

func (ToolDetectedEvent) Kind() StreamEventKind { return KindToolDetected }

type ToolExecutingEvent struct {
	ToolName  string          `json:"tool_name"`
	ToolID    string          `json:"tool_id"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func (ToolExecutingEvent) Kind() StreamEventKind { return KindToolExecuting }

type ToolCompletedEvent struct {
	ToolName string `json:"tool_name"`
	ToolID   string `json:"tool_id"`
	Result   string `json:"result"`
}

func (ToolCompletedEvent) Kind() StreamEventKind { return KindToolCompleted }

type ToolErrorEvent struct {
	ToolName string `json:"tool_name"`
	ToolID   string `json:"tool_id"`
	Error    string `json:"error"`
}

func (ToolErrorEvent) Kind() StreamEventKind { return KindToolError }

type CircuitBreakerEvent struct {
	Reason string `json:"reason"`
}

func (CircuitBreakerEvent) Kind() StreamEventKind { return KindCircuitBreaker }

type RetryEvent struct {
	Attempt int    `json:"attempt"`
	Reason  string `json:"reason"`
}

func (RetryEvent) Kind() StreamEventKind { return KindRetry }

type CompleteEvent struct {
	Response *Response `json:"response"`
}

func (CompleteEvent) Kind() StreamEventKind { return KindComplete }

type ErrorEvent struct {
	Error            string `json:"error"`
	TechnicalDetails string `json:"technical_details,omitempty"`
}

func (ErrorEvent) Kind() StreamEventKind { return KindError }

// IsTerminal reports whether ev ends its stream.
func IsTerminal(ev StreamEvent) bool {
	k := ev.Kind()
	return k == KindComplete || k == KindError
}
