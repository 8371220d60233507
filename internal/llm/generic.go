package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mira-ai/mira/internal/adapters/retry"
	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
)

// LoaderToolName is the meta-tool the orchestrator resolves tool-loading
// requests through. When a hosted model calls a tool that was not advertised,
// the adapter rewrites the call into this tool so the next turn can load it.
const LoaderToolName = "invokeother_tool"

// GenericProvider speaks the OpenAI-compatible chat-completions protocol
// against arbitrary endpoints. It presents the same streaming surface as the
// native provider.
type GenericProvider struct {
	endpoint      string
	apiKey        string
	contextWindow int
	httpClient    *http.Client
	retryConfig   retry.BackoffConfig
	logger        *slog.Logger
}

func NewGenericProvider(endpoint, apiKey string, contextWindow int, logger *slog.Logger) *GenericProvider {
	if logger == nil {
		logger = slog.Default()
	}
	endpoint = strings.TrimSuffix(endpoint, "/")
	endpoint = strings.TrimSuffix(endpoint, "/v1")

	return &GenericProvider{
		endpoint:      endpoint,
		apiKey:        apiKey,
		contextWindow: contextWindow,
		httpClient:    &http.Client{Timeout: 120 * time.Second},
		retryConfig:   retry.HTTPConfig(),
		logger:        logger,
	}
}

func (p *GenericProvider) Name() string { return "generic" }

// Chat-completions wire types.

type oaiMessage struct {
	Role             string            `json:"role"`
	Content          string            `json:"content,omitempty"`
	ToolCalls        []oaiToolCall     `json:"tool_calls,omitempty"`
	ToolCallID       string            `json:"tool_call_id,omitempty"`
	ReasoningDetails []json.RawMessage `json:"reasoning_details,omitempty"`
}

type oaiToolCall struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
	Stream      bool         `json:"stream"`
	Tools       []oaiTool    `json:"tools,omitempty"`
	ToolChoice  string       `json:"tool_choice,omitempty"`
}

// StreamOnce performs one streaming chat-completions call.
func (p *GenericProvider) StreamOnce(ctx context.Context, req *onceRequest, emit func(StreamEvent)) (*Response, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := p.connect(ctx, body, req.EstimatedTokens)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	assembled, err := p.consumeSSE(ctx, resp.Body, emit)
	if err != nil {
		return nil, err
	}

	p.rewriteUnknownTools(assembled, req.Tools)
	assembled.Model = req.Model
	if assembled.ContainerID == "" {
		assembled.ContainerID = req.ContainerID
	}
	return assembled, nil
}

func (p *GenericProvider) buildRequest(req *onceRequest) oaiRequest {
	out := oaiRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}

	if system := joinTextBlocks(req.System); system != "" {
		out.Messages = append(out.Messages, oaiMessage{Role: "system", Content: system})
	}

	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, p.convertMessage(msg)...)
	}

	for _, tool := range req.Tools {
		// Server-side tools have no meaning on OpenAI-compatible endpoints.
		if tool.Name == serverToolName {
			continue
		}
		var t oaiTool
		t.Type = "function"
		t.Function.Name = tool.Name
		t.Function.Description = tool.Description
		t.Function.Parameters = stripSchemaCacheControl(tool.InputSchema)
		out.Tools = append(out.Tools, t)
	}
	if len(out.Tools) > 0 {
		out.ToolChoice = "auto"
	}

	return out
}

// convertMessage maps one block-shaped message onto chat-completions
// messages. A single native message can expand into several: tool results
// each become their own role:"tool" message.
func (p *GenericProvider) convertMessage(msg ChatMessage) []oaiMessage {
	if msg.Role == "system" {
		return []oaiMessage{{Role: "system", Content: joinTextBlocks(msg.Blocks)}}
	}

	var result []oaiMessage
	var text strings.Builder
	var toolCalls []oaiToolCall
	var toolResults []oaiMessage

	for _, b := range msg.Blocks {
		switch b.Type {
		case models.BlockTypeText:
			if b.Text != "" {
				if text.Len() > 0 {
					text.WriteString("\n")
				}
				text.WriteString(b.Text)
			}
		case models.BlockTypeToolUse:
			toolCalls = append(toolCalls, oaiToolCall{
				ID:   b.ID,
				Type: "function",
				Function: oaiFunction{
					Name:      b.Name,
					Arguments: string(b.Input),
				},
			})
		case models.BlockTypeToolResult:
			toolResults = append(toolResults, oaiMessage{
				Role:       "tool",
				ToolCallID: b.ToolUseID,
				Content:    b.Content,
			})
		case models.BlockTypeContainerUpload:
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString("[file upload not supported on this endpoint]")
		case models.BlockTypeThinking:
			// Native thinking blocks never replay over this protocol;
			// reasoning state rides in reasoning_details instead.
		}
	}

	if text.Len() > 0 || len(toolCalls) > 0 {
		m := oaiMessage{
			Role:      msg.Role,
			Content:   text.String(),
			ToolCalls: toolCalls,
		}
		if msg.Role == "assistant" && len(msg.ReasoningDetails) > 0 {
			m.ReasoningDetails = msg.ReasoningDetails
		}
		result = append(result, m)
	}
	result = append(result, toolResults...)
	return result
}

func (p *GenericProvider) connect(ctx context.Context, body []byte, estimatedTokens int) (*http.Response, error) {
	var resp *http.Response

	err := retry.WithBackoffHTTP(ctx, p.retryConfig, func() (int, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		resp, err = p.httpClient.Do(httpReq)
		if err != nil {
			return 0, fmt.Errorf("send request: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			errBody, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				return resp.StatusCode, fmt.Errorf("API error %s (unreadable body: %w)", resp.Status, readErr)
			}
			return resp.StatusCode, p.statusError(resp.StatusCode, string(errBody), estimatedTokens)
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *GenericProvider) statusError(status int, body string, estimatedTokens int) error {
	switch {
	case status == 400 && overflowMessage(body):
		return &ContextOverflowError{
			EstimatedTokens: estimatedTokens,
			ContextWindow:   p.contextWindow,
			Provider:        "generic",
			Cause:           fmt.Errorf("API error %d: %s", status, body),
		}
	case status == 401 || status == 403:
		return fmt.Errorf("%w: API error %d: %s", domain.ErrPermissionDenied, status, body)
	case status == 429:
		return fmt.Errorf("%w: API error %d: %s", domain.ErrRateLimited, status, body)
	default:
		return fmt.Errorf("%w: API error %d: %s", domain.ErrLLMRequestFailed, status, body)
	}
}

type toolCallAccum struct {
	id   string
	name string
	args strings.Builder
}

type oaiDelta struct {
	Choices []struct {
		Delta struct {
			Content          string            `json:"content"`
			Reasoning        string            `json:"reasoning"`
			ReasoningContent string            `json:"reasoning_content"`
			ReasoningDetails []json.RawMessage `json:"reasoning_details"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *GenericProvider) consumeSSE(ctx context.Context, body io.Reader, emit func(StreamEvent)) (*Response, error) {
	reader := bufio.NewReader(body)

	var text strings.Builder
	calls := make(map[int]*toolCallAccum)
	var reasoningDetails []json.RawMessage
	resp := &Response{StopReason: StopEndTurn}
	finish := ""

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				goto done
			}
			return nil, fmt.Errorf("read stream: %w", err)
		}

		lineStr := strings.TrimSpace(string(line))
		if lineStr == "" || !strings.HasPrefix(lineStr, "data: ") {
			continue
		}
		data := strings.TrimPrefix(lineStr, "data: ")
		if data == "[DONE]" {
			goto done
		}

		var chunk oaiDelta
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			resp.Usage.InputTokens = chunk.Usage.PromptTokens
			resp.Usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			emit(TextEvent{Content: choice.Delta.Content})
		}
		if r := choice.Delta.Reasoning + choice.Delta.ReasoningContent; r != "" {
			emit(ThinkingEvent{Content: r})
		}
		reasoningDetails = append(reasoningDetails, choice.Delta.ReasoningDetails...)

		for _, tc := range choice.Delta.ToolCalls {
			acc := calls[tc.Index]
			if acc == nil {
				acc = &toolCallAccum{}
				calls[tc.Index] = acc
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" && acc.name == "" {
				acc.name = tc.Function.Name
				emit(ToolDetectedEvent{ToolName: acc.name, ToolID: acc.id})
			}
			acc.args.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
	}

done:
	if text.Len() > 0 {
		resp.Blocks = append(resp.Blocks, models.TextBlock(text.String()))
	}

	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		acc := calls[idx]
		args := strings.TrimSpace(acc.args.String())
		if args == "" || !json.Valid([]byte(args)) {
			args = "{}"
		}
		resp.Blocks = append(resp.Blocks, models.ToolUseBlock(acc.id, acc.name, json.RawMessage(args)))
	}

	resp.ReasoningDetails = reasoningDetails

	switch finish {
	case "stop":
		resp.StopReason = StopEndTurn
	case "tool_calls":
		resp.StopReason = StopToolUse
	case "length":
		resp.StopReason = StopMaxTokens
	default:
		if len(calls) > 0 {
			resp.StopReason = StopToolUse
		}
	}

	return resp, nil
}

// rewriteUnknownTools replaces calls to tools that were not advertised in
// this request with a single loader-tool call, so the orchestrator can load
// the missing tool and continue.
func (p *GenericProvider) rewriteUnknownTools(resp *Response, tools []models.ToolDefinition) {
	known := make(map[string]bool, len(tools))
	for _, t := range tools {
		known[t.Name] = true
	}

	for i, b := range resp.Blocks {
		if b.Type != models.BlockTypeToolUse || known[b.Name] || b.Name == LoaderToolName {
			continue
		}
		p.logger.Info("model requested unloaded tool, rewriting to loader call", "tool", b.Name)
		input, _ := json.Marshal(map[string]string{"mode": "load", "query": b.Name})
		rewritten := models.ToolUseBlock(b.ID, LoaderToolName, input)
		resp.Blocks = append(resp.Blocks[:i], rewritten)
		resp.StopReason = StopToolUse
		return
	}
}

func joinTextBlocks(blocks []models.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == models.BlockTypeText && b.Text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// stripSchemaCacheControl removes a cache_control member if a caller baked
// one into the schema JSON; generic endpoints reject unknown members.
func stripSchemaCacheControl(schema json.RawMessage) json.RawMessage {
	if !bytes.Contains(schema, []byte("cache_control")) {
		return schema
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(schema, &m); err != nil {
		return schema
	}
	delete(m, "cache_control")
	out, err := json.Marshal(m)
	if err != nil {
		return schema
	}
	return out
}
