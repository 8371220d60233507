package llm

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/mira-ai/mira/internal/domain/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testNativeProvider() *NativeProvider {
	return NewNativeProvider("test-key", "", 200000, testLogger())
}

// fakeNativeStream replays canned stream events.
type fakeNativeStream struct {
	events []anthropic.MessageStreamEventUnion
	pos    int
	err    error
}

func (s *fakeNativeStream) Next() bool {
	if s.pos >= len(s.events) {
		return false
	}
	s.pos++
	return true
}

func (s *fakeNativeStream) Current() anthropic.MessageStreamEventUnion {
	return s.events[s.pos-1]
}

func (s *fakeNativeStream) Err() error { return s.err }

func streamEvents(t *testing.T, raws ...string) []anthropic.MessageStreamEventUnion {
	t.Helper()
	events := make([]anthropic.MessageStreamEventUnion, 0, len(raws))
	for _, raw := range raws {
		var ev anthropic.MessageStreamEventUnion
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			t.Fatalf("unmarshal stream event %q: %v", raw, err)
		}
		events = append(events, ev)
	}
	return events
}

func collectEvents() (*[]StreamEvent, func(StreamEvent)) {
	var events []StreamEvent
	return &events, func(ev StreamEvent) { events = append(events, ev) }
}

func TestConsumeStreamAssemblesResponse(t *testing.T) {
	p := testNativeProvider()
	stream := &fakeNativeStream{events: streamEvents(t,
		`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"usage":{"input_tokens":100,"output_tokens":1,"cache_creation_input_tokens":50,"cache_read_input_tokens":25},"container":{"id":"cont_abc"}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello "}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"world"}}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_time","input":{}}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"tz\":"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"UTC\"}"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":9}}`,
		`{"type":"message_stop"}`,
	)}

	events, emit := collectEvents()
	resp, err := p.consumeStream(stream, &onceRequest{Model: "claude-sonnet-4-5"}, emit)
	if err != nil {
		t.Fatalf("consumeStream failed: %v", err)
	}

	if got := resp.Text(); got != "Hello world" {
		t.Errorf("text = %q, want %q", got, "Hello world")
	}
	if resp.StopReason != StopToolUse {
		t.Errorf("stop reason = %q, want %q", resp.StopReason, StopToolUse)
	}
	if resp.ContainerID != "cont_abc" {
		t.Errorf("container id = %q, want cont_abc", resp.ContainerID)
	}
	if resp.Usage.InputTokens != 100 || resp.Usage.OutputTokens != 9 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if resp.Usage.CacheCreationInputTokens != 50 || resp.Usage.CacheReadInputTokens != 25 {
		t.Errorf("cache usage = %+v", resp.Usage)
	}

	uses := resp.ToolUses()
	if len(uses) != 1 {
		t.Fatalf("tool uses = %d, want 1", len(uses))
	}
	if uses[0].ID != "toolu_1" || uses[0].Name != "get_time" {
		t.Errorf("tool use = %+v", uses[0])
	}
	var args map[string]string
	if err := json.Unmarshal(uses[0].Input, &args); err != nil {
		t.Fatalf("tool input not valid JSON: %v", err)
	}
	if args["tz"] != "UTC" {
		t.Errorf("tool args = %v", args)
	}

	var texts, detected int
	for _, ev := range *events {
		switch ev.Kind() {
		case KindText:
			texts++
		case KindToolDetected:
			detected++
		}
	}
	if texts != 2 {
		t.Errorf("text events = %d, want 2", texts)
	}
	if detected != 1 {
		t.Errorf("tool detected events = %d, want 1", detected)
	}
}

func TestConsumeStreamThinkingSignature(t *testing.T) {
	p := testNativeProvider()
	stream := &fakeNativeStream{events: streamEvents(t,
		`{"type":"message_start","message":{"id":"msg_2","type":"message","role":"assistant","model":"m","content":[],"usage":{"input_tokens":10,"output_tokens":1}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":"","signature":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"pondering"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sig_abc"}}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"answer"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":4}}`,
		`{"type":"message_stop"}`,
	)}

	events, emit := collectEvents()
	resp, err := p.consumeStream(stream, &onceRequest{Model: "m"}, emit)
	if err != nil {
		t.Fatalf("consumeStream failed: %v", err)
	}

	if len(resp.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(resp.Blocks))
	}
	if resp.Blocks[0].Type != models.BlockTypeThinking {
		t.Fatalf("first block = %s, want thinking", resp.Blocks[0].Type)
	}
	if resp.Blocks[0].Thinking != "pondering" || resp.Blocks[0].Signature != "sig_abc" {
		t.Errorf("thinking block = %+v", resp.Blocks[0])
	}

	sawThinking := false
	for _, ev := range *events {
		if ev.Kind() == KindThinking {
			sawThinking = true
		}
	}
	if !sawThinking {
		t.Error("no thinking event emitted")
	}
}

func TestConsumeStreamPropagatesError(t *testing.T) {
	p := testNativeProvider()
	wantErr := errors.New("connection reset")
	stream := &fakeNativeStream{err: wantErr}

	_, emit := collectEvents()
	_, err := p.consumeStream(stream, &onceRequest{Model: "m"}, emit)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestBuildParamsThinkingRaisesMaxTokens(t *testing.T) {
	p := testNativeProvider()
	params, _, err := p.buildParams(&onceRequest{
		Model:           "claude-sonnet-4-5",
		Messages:        []ChatMessage{UserMessage(models.TextBlock("hi"))},
		MaxTokens:       4096,
		ThinkingEnabled: true,
		ThinkingBudget:  2048,
	})
	if err != nil {
		t.Fatalf("buildParams failed: %v", err)
	}

	if params.MaxTokens != 6144 {
		t.Errorf("max tokens = %d, want 6144", params.MaxTokens)
	}
	if params.Thinking.OfEnabled == nil {
		t.Fatal("thinking config not set")
	}
	if params.Thinking.OfEnabled.BudgetTokens != 2048 {
		t.Errorf("thinking budget = %d, want 2048", params.Thinking.OfEnabled.BudgetTokens)
	}
}

func TestBuildParamsHaikuClamp(t *testing.T) {
	p := testNativeProvider()
	params, _, err := p.buildParams(&onceRequest{
		Model:           "claude-haiku-4-5",
		Messages:        []ChatMessage{UserMessage(models.TextBlock("hi"))},
		MaxTokens:       20000,
		ThinkingEnabled: true,
		ThinkingBudget:  4096,
	})
	if err != nil {
		t.Fatalf("buildParams failed: %v", err)
	}
	if params.MaxTokens != haikuMaxTokens {
		t.Errorf("max tokens = %d, want %d", params.MaxTokens, haikuMaxTokens)
	}
}

func TestBuildParamsSystemExtraction(t *testing.T) {
	p := testNativeProvider()
	params, _, err := p.buildParams(&onceRequest{
		Model: "claude-sonnet-4-5",
		System: []models.ContentBlock{
			models.TextBlock("cached prompt"),
			models.TextBlock("fresh prompt"),
		},
		Messages:  []ChatMessage{UserMessage(models.TextBlock("hi"))},
		MaxTokens: 100,
	})
	if err != nil {
		t.Fatalf("buildParams failed: %v", err)
	}

	if len(params.System) != 2 {
		t.Fatalf("system blocks = %d, want 2", len(params.System))
	}
	if params.System[0].Text != "cached prompt" || params.System[1].Text != "fresh prompt" {
		t.Errorf("system = %+v", params.System)
	}
	if len(params.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(params.Messages))
	}
}

func TestConvertMessagesThinkingDiscipline(t *testing.T) {
	p := testNativeProvider()

	messages := []ChatMessage{
		AssistantMessage(
			models.ThinkingBlock("signed thought", "sig_1"),
			models.ThinkingBlock("unsigned thought", ""),
			models.TextBlock("reply"),
		),
	}

	countThinking := func(converted []anthropic.MessageParam) int {
		n := 0
		for _, m := range converted {
			for _, c := range m.Content {
				if c.OfThinking != nil {
					n++
				}
			}
		}
		return n
	}

	enabled, err := p.convertMessages(messages, true)
	if err != nil {
		t.Fatalf("convertMessages failed: %v", err)
	}
	if got := countThinking(enabled); got != 1 {
		t.Errorf("thinking enabled: %d thinking blocks survive, want 1 (signed only)", got)
	}

	disabled, err := p.convertMessages(messages, false)
	if err != nil {
		t.Fatalf("convertMessages failed: %v", err)
	}
	if got := countThinking(disabled); got != 0 {
		t.Errorf("thinking disabled: %d thinking blocks survive, want 0", got)
	}
}

func TestConvertMessagesContainerUploadMarker(t *testing.T) {
	p := testNativeProvider()
	messages := []ChatMessage{
		UserMessage(models.ContainerUploadBlock("file_123"), models.TextBlock("analyze this")),
	}

	converted, err := p.convertMessages(messages, false)
	if err != nil {
		t.Fatalf("convertMessages failed: %v", err)
	}
	if len(converted) != 1 || len(converted[0].Content) != 2 {
		t.Fatalf("converted shape unexpected: %+v", converted)
	}
	first := converted[0].Content[0]
	if first.OfText == nil || !strings.Contains(first.OfText.Text, "file_123") {
		t.Errorf("container upload marker missing: %+v", first)
	}
}

func TestRawToolsServerToolShape(t *testing.T) {
	p := testNativeProvider()
	tools := []models.ToolDefinition{
		{Name: "get_time", Description: "current time", InputSchema: json.RawMessage(`{"type":"object"}`)},
		{Name: serverToolName},
	}

	raw := p.rawTools(tools)
	if len(raw) != 2 {
		t.Fatalf("raw tools = %d, want 2", len(raw))
	}
	if raw[0]["name"] != "get_time" || raw[0]["description"] != "current time" {
		t.Errorf("client tool = %v", raw[0])
	}
	if raw[1]["type"] != serverToolType || raw[1]["name"] != serverToolName {
		t.Errorf("server tool = %v", raw[1])
	}
	if _, ok := raw[1]["input_schema"]; ok {
		t.Error("server tool must not carry input_schema")
	}
	if _, ok := raw[len(raw)-1]["cache_control"]; !ok {
		t.Error("last tool should carry the cache marker")
	}
}

func TestContainerFromRaw(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`{"id":"msg_1","container":{"id":"cont_9"}}`, "cont_9"},
		{`{"id":"msg_1"}`, ""},
		{"", ""},
		{"not json container", ""},
	}
	for _, tc := range cases {
		if got := containerFromRaw(tc.raw); got != tc.want {
			t.Errorf("containerFromRaw(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestBuildParamsCacheBreakpointSerializes(t *testing.T) {
	p := testNativeProvider()
	cached := models.TextBlock("stable prompt")
	cached.CacheControl = models.EphemeralCache()

	params, _, err := p.buildParams(&onceRequest{
		Model: "claude-sonnet-4-5",
		System: []models.ContentBlock{
			cached,
			models.TextBlock("per-turn prompt"),
		},
		Messages: []ChatMessage{UserMessage(models.TextBlock("hi"))},
		Tools: []models.ToolDefinition{
			{Name: "get_time", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
		MaxTokens: 100,
	})
	if err != nil {
		t.Fatalf("buildParams failed: %v", err)
	}

	raw, err := json.Marshal(params.System)
	if err != nil {
		t.Fatalf("marshal system: %v", err)
	}
	var system []map[string]any
	if err := json.Unmarshal(raw, &system); err != nil {
		t.Fatalf("unmarshal system: %v", err)
	}
	if len(system) != 2 {
		t.Fatalf("system blocks = %d, want 2", len(system))
	}

	cc, ok := system[0]["cache_control"].(map[string]any)
	if !ok {
		t.Fatalf("marked block did not serialize cache_control: %s", raw)
	}
	if cc["type"] != "ephemeral" {
		t.Errorf("cache_control type = %v, want ephemeral", cc["type"])
	}
	if _, ok := system[1]["cache_control"]; ok {
		t.Errorf("per-turn block must stay unmarked: %s", raw)
	}

	toolsRaw, err := json.Marshal(params.Tools)
	if err != nil {
		t.Fatalf("marshal tools: %v", err)
	}
	if !strings.Contains(string(toolsRaw), `"cache_control"`) || !strings.Contains(string(toolsRaw), `"ephemeral"`) {
		t.Errorf("tool list marker did not serialize: %s", toolsRaw)
	}
}
