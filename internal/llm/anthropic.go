package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mira-ai/mira/internal/domain/models"
)

// haikuMaxTokens is the output ceiling of the small-context model family.
const haikuMaxTokens = 8192

// serverToolName marks tool definitions executed provider-side. They are
// forwarded verbatim and never run locally.
const serverToolName = "code_execution"

const serverToolType = "code_execution_20250522"

// onceRequest is a single prepared model invocation. The engine builds one
// per tool-loop step from the caller's Request.
type onceRequest struct {
	Model           string
	System          []models.ContentBlock
	Messages        []ChatMessage
	Tools           []models.ToolDefinition
	MaxTokens       int
	Temperature     float64
	ThinkingEnabled bool
	ThinkingBudget  int
	ContainerID     string
	EstimatedTokens int
}

// NativeProvider speaks the Anthropic Messages API over the official SDK.
type NativeProvider struct {
	client        anthropic.Client
	cacheEnabled  bool
	contextWindow int
	logger        *slog.Logger
}

func NewNativeProvider(apiKey, baseURL string, contextWindow int, logger *slog.Logger) *NativeProvider {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &NativeProvider{
		client:        anthropic.NewClient(opts...),
		cacheEnabled:  true,
		contextWindow: contextWindow,
		logger:        logger,
	}
}

func (p *NativeProvider) Name() string { return "anthropic" }

// StreamOnce performs one streaming Messages call, emitting live events and
// returning the assembled response.
func (p *NativeProvider) StreamOnce(ctx context.Context, req *onceRequest, emit func(StreamEvent)) (*Response, error) {
	params, opts, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, *params, opts...)
	defer stream.Close()

	resp, err := p.consumeStream(stream, req, emit)
	if err != nil {
		return nil, classifyNativeError(err, req.EstimatedTokens, p.contextWindow)
	}

	resp.Model = req.Model
	if resp.ContainerID == "" {
		resp.ContainerID = req.ContainerID
	}
	return resp, nil
}

func (p *NativeProvider) buildParams(req *onceRequest) (*anthropic.MessageNewParams, []option.RequestOption, error) {
	maxTokens := req.MaxTokens
	if req.ThinkingEnabled {
		maxTokens += req.ThinkingBudget
	}
	if strings.Contains(strings.ToLower(req.Model), "haiku") && maxTokens > haikuMaxTokens {
		maxTokens = haikuMaxTokens
	}

	messages, err := p.convertMessages(req.Messages, req.ThinkingEnabled)
	if err != nil {
		return nil, nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if len(req.System) > 0 {
		system := make([]anthropic.TextBlockParam, 0, len(req.System))
		for _, b := range req.System {
			if b.Type != models.BlockTypeText || b.Text == "" {
				continue
			}
			tb := anthropic.TextBlockParam{Text: b.Text}
			// The composer places the breakpoint at the end of the stable
			// bucket; per-turn content after it stays unmarked so the cached
			// prefix survives across turns.
			if p.cacheEnabled && b.CacheControl != nil {
				tb.CacheControl = anthropic.NewCacheControlEphemeralParam()
			}
			system = append(system, tb)
		}
		params.System = system
	}

	var opts []option.RequestOption
	if len(req.Tools) > 0 {
		if hasServerTool(req.Tools) {
			// The typed tool union has no server-tool variant on this API
			// surface, so the whole list rides in as raw JSON.
			opts = append(opts, option.WithJSONSet("tools", p.rawTools(req.Tools)))
		} else {
			tools, err := p.convertTools(req.Tools)
			if err != nil {
				return nil, nil, err
			}
			params.Tools = tools
		}
	}

	if req.ThinkingEnabled && req.ThinkingBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(req.ThinkingBudget))
	}

	if req.ContainerID != "" {
		opts = append(opts, option.WithJSONSet("container", req.ContainerID))
	}

	return &params, opts, nil
}

func (p *NativeProvider) convertMessages(messages []ChatMessage, thinkingEnabled bool) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		for _, b := range msg.Blocks {
			switch b.Type {
			case models.BlockTypeText:
				if b.Text == "" {
					continue
				}
				content = append(content, anthropic.NewTextBlock(b.Text))

			case models.BlockTypeThinking:
				// Unsigned thinking blocks come from the generic adapter and
				// would be rejected here; signed ones replay only while
				// thinking stays enabled.
				if !thinkingEnabled || b.Signature == "" {
					continue
				}
				content = append(content, anthropic.ContentBlockParamUnion{
					OfThinking: &anthropic.ThinkingBlockParam{
						Thinking:  b.Thinking,
						Signature: b.Signature,
					},
				})

			case models.BlockTypeToolUse:
				var input map[string]any
				if len(b.Input) > 0 {
					if err := json.Unmarshal(b.Input, &input); err != nil {
						return nil, fmt.Errorf("invalid tool_use input for %s: %w", b.Name, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(b.ID, input, b.Name))

			case models.BlockTypeToolResult:
				content = append(content, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))

			case models.BlockTypeImage:
				if b.Source == nil {
					continue
				}
				content = append(content, anthropic.NewImageBlockBase64(b.Source.MediaType, b.Source.Data))

			case models.BlockTypeContainerUpload:
				// File uploads only exist inside code-execution containers;
				// the marker keeps the model aware of the attachment.
				content = append(content, anthropic.NewTextBlock(fmt.Sprintf("[uploaded file: %s]", b.FileID)))
			}
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func (p *NativeProvider) convertTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}

	// Marking the last tool caches the entire tool list prefix.
	if p.cacheEnabled && len(result) > 0 {
		last := result[len(result)-1]
		if last.OfTool != nil {
			last.OfTool.CacheControl = anthropic.NewCacheControlEphemeralParam()
			result[len(result)-1] = last
		}
	}

	return result, nil
}

func (p *NativeProvider) rawTools(tools []models.ToolDefinition) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		if tool.Name == serverToolName {
			out = append(out, map[string]any{
				"type": serverToolType,
				"name": serverToolName,
			})
			continue
		}
		var schema any
		if len(tool.InputSchema) > 0 {
			_ = json.Unmarshal(tool.InputSchema, &schema)
		}
		out = append(out, map[string]any{
			"name":         tool.Name,
			"description":  tool.Description,
			"input_schema": schema,
		})
	}
	if p.cacheEnabled && len(out) > 0 {
		out[len(out)-1]["cache_control"] = map[string]string{"type": "ephemeral"}
	}
	return out
}

func hasServerTool(tools []models.ToolDefinition) bool {
	for _, t := range tools {
		if t.Name == serverToolName {
			return true
		}
	}
	return false
}

type blockBuilder struct {
	kind      string
	text      strings.Builder
	thinking  strings.Builder
	signature string
	toolID    string
	toolName  string
	toolJSON  strings.Builder
}

func (p *NativeProvider) consumeStream(stream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}, req *onceRequest, emit func(StreamEvent)) (*Response, error) {
	builders := make(map[int]*blockBuilder)
	resp := &Response{StopReason: StopEndTurn}

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			resp.Usage.InputTokens = int(start.Message.Usage.InputTokens)
			resp.Usage.CacheCreationInputTokens = int(start.Message.Usage.CacheCreationInputTokens)
			resp.Usage.CacheReadInputTokens = int(start.Message.Usage.CacheReadInputTokens)
			if id := containerFromRaw(start.Message.RawJSON()); id != "" {
				resp.ContainerID = id
			}

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			idx := int(blockStart.Index)
			block := blockStart.ContentBlock

			switch block.Type {
			case "text":
				builders[idx] = &blockBuilder{kind: models.BlockTypeText}
			case "thinking":
				builders[idx] = &blockBuilder{kind: models.BlockTypeThinking}
			case "tool_use", "server_tool_use":
				toolUse := block.AsToolUse()
				builders[idx] = &blockBuilder{
					kind:     models.BlockTypeToolUse,
					toolID:   toolUse.ID,
					toolName: toolUse.Name,
				}
				emit(ToolDetectedEvent{ToolName: toolUse.Name, ToolID: toolUse.ID})
			}

		case "content_block_delta":
			blockDelta := event.AsContentBlockDelta()
			idx := int(blockDelta.Index)
			b := builders[idx]
			if b == nil {
				continue
			}
			delta := blockDelta.Delta

			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					b.text.WriteString(delta.Text)
					emit(TextEvent{Content: delta.Text})
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					b.thinking.WriteString(delta.Thinking)
					emit(ThinkingEvent{Content: delta.Thinking})
				}
			case "input_json_delta":
				b.toolJSON.WriteString(delta.PartialJSON)
			case "signature_delta":
				b.signature = delta.Signature
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Delta.StopReason != "" {
				resp.StopReason = string(messageDelta.Delta.StopReason)
			}
			if messageDelta.Usage.OutputTokens > 0 {
				resp.Usage.OutputTokens = int(messageDelta.Usage.OutputTokens)
			}

		case "message_stop":
			resp.Blocks = assembleBlocks(builders)
			p.logger.Debug("anthropic stream complete",
				"model", req.Model,
				"stop_reason", resp.StopReason,
				"input_tokens", resp.Usage.InputTokens,
				"output_tokens", resp.Usage.OutputTokens,
				"cache_creation_tokens", resp.Usage.CacheCreationInputTokens,
				"cache_read_tokens", resp.Usage.CacheReadInputTokens)
			return resp, nil
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}

	// Stream ended without message_stop; keep whatever was assembled.
	resp.Blocks = assembleBlocks(builders)
	return resp, nil
}

func assembleBlocks(builders map[int]*blockBuilder) []models.ContentBlock {
	indexes := make([]int, 0, len(builders))
	for idx := range builders {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var blocks []models.ContentBlock
	for _, idx := range indexes {
		b := builders[idx]
		switch b.kind {
		case models.BlockTypeText:
			if b.text.Len() > 0 {
				blocks = append(blocks, models.TextBlock(b.text.String()))
			}
		case models.BlockTypeThinking:
			if b.thinking.Len() > 0 {
				blocks = append(blocks, models.ThinkingBlock(b.thinking.String(), b.signature))
			}
		case models.BlockTypeToolUse:
			input := b.toolJSON.String()
			if input == "" {
				input = "{}"
			}
			blocks = append(blocks, models.ToolUseBlock(b.toolID, b.toolName, json.RawMessage(input)))
		}
	}
	return blocks
}

func containerFromRaw(raw string) string {
	if raw == "" || !strings.Contains(raw, "container") {
		return ""
	}
	var payload struct {
		Container struct {
			ID string `json:"id"`
		} `json:"container"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return ""
	}
	return payload.Container.ID
}
