package llm

import (
	"encoding/json"

	"github.com/mira-ai/mira/internal/domain/models"
)

// Stop reasons normalized across providers.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ChatMessage is one wire-level message. Unlike models.Message this allows a
// "system" role: the first message of a request may carry the system prompt
// and is extracted into the provider's system parameter.
type ChatMessage struct {
	Role   string                `json:"role"`
	Blocks []models.ContentBlock `json:"content"`

	// ReasoningDetails is opaque state some OpenAI-compatible reasoning models
	// return; it must be replayed unchanged on the following request.
	ReasoningDetails []json.RawMessage `json:"reasoning_details,omitempty"`
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Blocks: []models.ContentBlock{models.TextBlock(text)}}
}

func UserMessage(blocks ...models.ContentBlock) ChatMessage {
	return ChatMessage{Role: "user", Blocks: blocks}
}

func AssistantMessage(blocks ...models.ContentBlock) ChatMessage {
	return ChatMessage{Role: "assistant", Blocks: blocks}
}

// Request describes one generate_response invocation.
type Request struct {
	Model    string
	Messages []ChatMessage
	Tools    []models.ToolDefinition

	// SystemBlocks overrides system extraction: when set, these become the
	// provider system parameter and any leading system message is ignored.
	SystemBlocks []models.ContentBlock

	MaxTokens       int
	Temperature     float64
	ThinkingEnabled bool
	ThinkingBudget  int

	// MaxTurns caps the model rounds of the tool loop. At the cap the tool
	// list is dropped and the model must answer in text. Zero means the
	// default of 12.
	MaxTurns int

	// LastInputTokens is the measured prompt size of the previous turn, used
	// as the token-estimate baseline. Zero means no measurement exists yet.
	LastInputTokens int

	// EndpointURL routes the request to the OpenAI-compatible adapter.
	// ModelOverride is then required.
	EndpointURL    string
	ModelOverride  string
	APIKeyOverride string

	ContainerID string
	UserID      string

	// OnEvent receives every stream event as it occurs. May be nil.
	OnEvent func(StreamEvent)

	// DisableTools suppresses the tool loop even when Tools is non-empty,
	// used for the forced textual finalization after a breaker stop.
	DisableTools bool
}

func (r *Request) emit(ev StreamEvent) {
	if r.OnEvent != nil {
		r.OnEvent(ev)
	}
}

// Usage is the provider-reported token accounting for one response.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// Response is the final assembled assistant message of a turn.
type Response struct {
	Blocks     []models.ContentBlock `json:"content"`
	StopReason string                `json:"stop_reason"`
	Model      string                `json:"model,omitempty"`
	Usage      Usage                 `json:"usage"`

	// ContainerID is preserved from the request or captured from the
	// provider when a code-execution container was used.
	ContainerID string `json:"container_id,omitempty"`

	ReasoningDetails []json.RawMessage `json:"reasoning_details,omitempty"`
}

// Text returns the concatenated text blocks of the response.
func (r *Response) Text() string {
	out := ""
	for _, b := range r.Blocks {
		if b.Type == models.BlockTypeText {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the tool_use blocks of the response.
func (r *Response) ToolUses() []models.ContentBlock {
	var uses []models.ContentBlock
	for _, b := range r.Blocks {
		if b.Type == models.BlockTypeToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}
