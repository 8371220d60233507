package llm

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/mira-ai/mira/internal/adapters/circuitbreaker"
	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
)

const (
	defaultToolWorkers  = 4
	defaultMaxTokens    = 4096
	defaultMaxToolTurns = 12
)

// streamer is one provider capable of a single streaming model call.
type streamer interface {
	Name() string
	StreamOnce(ctx context.Context, req *onceRequest, emit func(StreamEvent)) (*Response, error)
}

// Engine routes requests between the native provider, caller-supplied
// endpoints and the emergency failover path, and drives the tool loop until
// the model produces a final textual response.
type Engine struct {
	native        streamer
	failover      *Failover
	tools         ToolExecutor
	newBreaker    func() toolBreaker
	workers       int
	contextWindow int
	logger        *slog.Logger

	mu       sync.Mutex
	generics map[string]*GenericProvider
}

func NewEngine(native *NativeProvider, failover *Failover, tools ToolExecutor, workers, contextWindow int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = defaultToolWorkers
	}
	return &Engine{
		native:        native,
		failover:      failover,
		tools:         tools,
		newBreaker:    func() toolBreaker { return circuitbreaker.New() },
		workers:       workers,
		contextWindow: contextWindow,
		logger:        logger,
		generics:      make(map[string]*GenericProvider),
	}
}

// GenerateResponse runs one model turn to completion: it invokes the routed
// provider, executes any requested tools, feeds results back, and returns
// the final response. Stream events flow through req.OnEvent as they occur;
// a successful turn ends with exactly one CompleteEvent.
func (e *Engine) GenerateResponse(ctx context.Context, req *Request) (*Response, error) {
	if req.UserID != "" {
		ctx = domain.WithUserID(ctx, req.UserID)
	}

	messages := slices.Clone(req.Messages)
	tools := req.Tools
	if req.DisableTools || e.tools == nil {
		tools = nil
	}
	breaker := e.newBreaker()

	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxToolTurns
	}

	for turn := 1; ; turn++ {
		provider, once, err := e.prepare(req, messages, tools)
		if err != nil {
			return nil, err
		}

		resp, err := e.callOnce(ctx, provider, once, req.emit)
		if err != nil {
			return nil, err
		}

		// A round without tools is the finalization round no matter what the
		// model replies with.
		calls := clientToolUses(resp.Blocks)
		if len(calls) == 0 || resp.StopReason != StopToolUse || tools == nil {
			req.emit(CompleteEvent{Response: resp})
			return resp, nil
		}

		runs := executeTools(ctx, e.tools, calls, e.workers, req.emit)

		assistant := AssistantMessage(resp.Blocks...)
		assistant.ReasoningDetails = resp.ReasoningDetails

		results := make([]models.ContentBlock, 0, len(runs)+1)
		for _, r := range runs {
			breaker.Record(r.call.Name, r.result, r.err)
			results = append(results, r.resultBlock())
		}

		if ok, reason := breaker.ShouldContinue(); !ok {
			req.emit(CircuitBreakerEvent{Reason: reason})
			e.logger.Warn("tool loop stopped by circuit breaker", "reason", reason)
			results = append(results, models.TextBlock(breakerStopNotice(reason)))
			// The next round runs without tools so the model must finalize
			// in text.
			tools = nil
		}

		// The turn ceiling bounds the loop even when every round produces a
		// fresh result the breaker cannot object to.
		if tools != nil && turn+1 >= maxTurns {
			reason := fmt.Sprintf("maximum of %d tool turns reached", maxTurns)
			req.emit(CircuitBreakerEvent{Reason: reason})
			e.logger.Warn("tool loop stopped at turn ceiling", "max_turns", maxTurns)
			results = append(results, models.TextBlock(breakerStopNotice(reason)))
			tools = nil
		}

		messages = append(messages, assistant, UserMessage(results...))
	}
}

// Complete runs a single prompt with no tools and no event stream, returning
// the response text. Summaries, judgments and other utility calls use it.
func (e *Engine) Complete(ctx context.Context, model, system, prompt string, maxTokens int) (string, error) {
	req := &Request{
		Model:        model,
		MaxTokens:    maxTokens,
		Messages:     []ChatMessage{UserMessage(models.TextBlock(prompt))},
		DisableTools: true,
	}
	if system != "" {
		req.SystemBlocks = []models.ContentBlock{models.TextBlock(system)}
	}

	resp, err := e.GenerateResponse(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", domain.ErrModelEmptyResponse
	}
	return text, nil
}

// prepare builds the provider invocation for the current loop round and
// picks its route. Caller endpoints and the emergency path both disable
// thinking, which only the native provider supports.
func (e *Engine) prepare(req *Request, messages []ChatMessage, tools []models.ToolDefinition) (streamer, *onceRequest, error) {
	system, msgs := splitSystem(req, messages)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	once := &onceRequest{
		System:          system,
		Messages:        msgs,
		Tools:           tools,
		MaxTokens:       maxTokens,
		Temperature:     req.Temperature,
		ThinkingEnabled: req.ThinkingEnabled,
		ThinkingBudget:  req.ThinkingBudget,
		ContainerID:     req.ContainerID,
		EstimatedTokens: EstimateTokens(req.LastInputTokens, system, msgs, len(tools)),
	}

	switch {
	case req.EndpointURL != "":
		if req.ModelOverride == "" {
			return nil, nil, fmt.Errorf("%w: endpoint %s", domain.ErrMissingModelOverride, req.EndpointURL)
		}
		once.Model = req.ModelOverride
		once.ThinkingEnabled = false
		once.ThinkingBudget = 0
		return e.generic(req.EndpointURL, req.APIKeyOverride), once, nil

	case e.failover.Active() && e.failover.Available():
		once.Model = e.failover.Model
		once.ThinkingEnabled = false
		once.ThinkingBudget = 0
		return e.generic(e.failover.Endpoint, e.failover.APIKey), once, nil

	default:
		once.Model = req.Model
		return e.native, once, nil
	}
}

// callOnce performs one provider call. A native API failure that qualifies
// trips the failover flag and retries this call on the emergency endpoint
// immediately.
func (e *Engine) callOnce(ctx context.Context, provider streamer, once *onceRequest, emit func(StreamEvent)) (*Response, error) {
	resp, err := provider.StreamOnce(ctx, once, emit)
	if err == nil {
		return resp, nil
	}

	if provider == e.native && tripsFailover(err) && e.failover.Available() {
		e.failover.Trip(err)
		emit(RetryEvent{Attempt: 1, Reason: "rerouting to emergency endpoint"})

		fallback := *once
		fallback.Model = e.failover.Model
		fallback.ThinkingEnabled = false
		fallback.ThinkingBudget = 0
		return e.generic(e.failover.Endpoint, e.failover.APIKey).StreamOnce(ctx, &fallback, emit)
	}

	return nil, err
}

func (e *Engine) generic(endpoint, apiKey string) *GenericProvider {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := endpoint + "\x00" + apiKey
	if p, ok := e.generics[key]; ok {
		return p
	}
	p := NewGenericProvider(endpoint, apiKey, e.contextWindow, e.logger)
	e.generics[key] = p
	return p
}

// splitSystem extracts the system blocks for the provider system parameter.
// Explicit SystemBlocks win; otherwise a leading system message is pulled
// out of the conversation.
func splitSystem(req *Request, messages []ChatMessage) ([]models.ContentBlock, []ChatMessage) {
	if len(req.SystemBlocks) > 0 {
		if len(messages) > 0 && messages[0].Role == "system" {
			messages = messages[1:]
		}
		return req.SystemBlocks, messages
	}
	if len(messages) > 0 && messages[0].Role == "system" {
		return messages[0].Blocks, messages[1:]
	}
	return nil, messages
}

func breakerStopNotice(reason string) string {
	return fmt.Sprintf("[Automated system message: tool calling was halted (%s). Answer the user directly with the information already gathered.]", reason)
}
