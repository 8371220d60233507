package models

import (
	"encoding/json"
	"strings"
	"time"
)

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Content block types follow the Anthropic messages shape. Every message body
// is a list of blocks even when it is a single text block.
const (
	BlockTypeText            = "text"
	BlockTypeThinking        = "thinking"
	BlockTypeToolUse         = "tool_use"
	BlockTypeToolResult      = "tool_result"
	BlockTypeImage           = "image"
	BlockTypeDocument        = "document"
	BlockTypeContainerUpload = "container_upload"
)

// ImageSource carries base64 image data for image blocks.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// CacheControl marks a block as a prompt cache breakpoint.
type CacheControl struct {
	Type string `json:"type"`
}

func EphemeralCache() *CacheControl {
	return &CacheControl{Type: "ephemeral"}
}

// ContentBlock is one element of a message body. Exactly one of the
// type-specific field groups is populated, selected by Type.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// image / document
	Source *ImageSource `json:"source,omitempty"`

	// container_upload
	FileID string `json:"file_id,omitempty"`

	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// UnmarshalJSON normalizes container_upload blocks: the canonical shape keeps
// file_id at the top level, but blocks produced by older clients nest it under
// a payload object. Both decode to FileID.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	type alias ContentBlock
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*b = ContentBlock(a)
	if b.Type == BlockTypeContainerUpload && b.FileID == "" {
		var nested struct {
			Payload struct {
				FileID string `json:"file_id"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(data, &nested); err == nil {
			b.FileID = nested.Payload.FileID
		}
	}
	return nil
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

func ThinkingBlock(thinking, signature string) ContentBlock {
	return ContentBlock{Type: BlockTypeThinking, Thinking: thinking, Signature: signature}
}

func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockTypeToolUse, ID: id, Name: name, Input: input}
}

func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockTypeToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

func ImageBlock(mediaType, base64Data string) ContentBlock {
	return ContentBlock{Type: BlockTypeImage, Source: &ImageSource{Type: "base64", MediaType: mediaType, Data: base64Data}}
}

func ContainerUploadBlock(fileID string) ContentBlock {
	return ContentBlock{Type: BlockTypeContainerUpload, FileID: fileID}
}

// MessageMeta is the free-form metadata stored alongside a message. Segment
// sentinels, emotion annotations and error markers all live here.
type MessageMeta struct {
	IsSegmentBoundary      bool       `json:"is_segment_boundary,omitempty"`
	SegmentID              string     `json:"segment_id,omitempty"`
	SegmentStatus          string     `json:"segment_status,omitempty"`
	VirtualLastMessageTime *time.Time `json:"virtual_last_message_time,omitempty"`
	SegmentEndTime         *time.Time `json:"segment_end_time,omitempty"`
	DisplayTitle           string     `json:"display_title,omitempty"`
	Summary                string     `json:"summary,omitempty"`

	MyEmotion          string   `json:"my_emotion,omitempty"`
	ReferencedMemories []string `json:"referenced_memories,omitempty"`
	SurfacedMemories   []string `json:"surfaced_memories,omitempty"`
	PinnedMemoryIDs    []string `json:"pinned_memory_ids,omitempty"`
	ModelError         string   `json:"model_error,omitempty"`
	TriedLoadingTools  bool     `json:"_tried_loading_all_tools,omitempty"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

func (m MessageMeta) IsZero() bool {
	return !m.IsSegmentBoundary && m.SegmentID == "" && m.SegmentStatus == "" &&
		m.VirtualLastMessageTime == nil && m.SegmentEndTime == nil &&
		m.DisplayTitle == "" && m.Summary == "" && m.MyEmotion == "" &&
		len(m.ReferencedMemories) == 0 && len(m.SurfacedMemories) == 0 &&
		len(m.PinnedMemoryIDs) == 0 && m.ModelError == "" &&
		!m.TriedLoadingTools && m.InputTokens == 0 && m.OutputTokens == 0
}

type Message struct {
	ID          string         `json:"id"`
	ContinuumID string         `json:"continuum_id"`
	UserID      string         `json:"user_id"`
	Sequence    int            `json:"sequence"`
	Role        MessageRole    `json:"role"`
	Blocks      []ContentBlock `json:"blocks"`
	Meta        MessageMeta    `json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func NewUserMessage(id, continuumID, userID string, sequence int, blocks []ContentBlock) *Message {
	return &Message{
		ID:          id,
		ContinuumID: continuumID,
		UserID:      userID,
		Sequence:    sequence,
		Role:        MessageRoleUser,
		Blocks:      blocks,
		CreatedAt:   time.Now().UTC(),
	}
}

func NewAssistantMessage(id, continuumID, userID string, sequence int, blocks []ContentBlock) *Message {
	return &Message{
		ID:          id,
		ContinuumID: continuumID,
		UserID:      userID,
		Sequence:    sequence,
		Role:        MessageRoleAssistant,
		Blocks:      blocks,
		CreatedAt:   time.Now().UTC(),
	}
}

// Text returns the concatenated text blocks of the message.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Type == BlockTypeText {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the tool_use blocks of the message.
func (m *Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Blocks {
		if b.Type == BlockTypeToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

func (m *Message) HasToolUse() bool {
	for _, b := range m.Blocks {
		if b.Type == BlockTypeToolUse {
			return true
		}
	}
	return false
}

func (m *Message) HasToolError() bool {
	for _, b := range m.Blocks {
		if b.Type == BlockTypeToolResult && b.IsError {
			return true
		}
	}
	return false
}

// IsSentinel reports whether the message is a segment boundary marker rather
// than conversational content.
func (m *Message) IsSentinel() bool {
	return m.Meta.IsSegmentBoundary
}

// EffectiveTime is the sentinel's ordering time: postponing a segment boundary
// advances virtual_last_message_time without touching CreatedAt.
func (m *Message) EffectiveTime() time.Time {
	if m.Meta.VirtualLastMessageTime != nil {
		return *m.Meta.VirtualLastMessageTime
	}
	return m.CreatedAt
}
