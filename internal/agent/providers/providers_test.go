package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/duyemura/boxassist-sub000/internal/agent"
	"github.com/duyemura/boxassist-sub000/internal/usage"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

type fakeTool struct {
	name   string
	schema string
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) Description() string { return "fake " + t.name }
func (t *fakeTool) Group() string       { return "data" }
func (t *fakeTool) ReadOnly() bool      { return true }

func (t *fakeTool) Schema() json.RawMessage {
	if t.schema == "" {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(t.schema)
}

func (t *fakeTool) Execute(context.Context, json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "ok"}, nil
}

func TestNewAnthropicRequiresKey(t *testing.T) {
	if _, err := NewAnthropic(AnthropicConfig{}); err == nil {
		t.Error("empty API key should fail")
	}
	if _, err := NewAnthropic(AnthropicConfig{APIKey: "sk-ant-test"}); err != nil {
		t.Errorf("NewAnthropic: %v", err)
	}
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAI(OpenAIConfig{}); err == nil {
		t.Error("empty API key should fail")
	}
	if _, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test"}); err != nil {
		t.Errorf("NewOpenAI: %v", err)
	}
}

func TestConvertAnthropicMessages(t *testing.T) {
	msgs := []agent.CompletionMessage{
		{Role: "user", Content: "how is member m-1 doing?"},
		{Role: "assistant", Content: "checking", ToolCalls: []models.ToolCall{
			{ID: "tc-1", Name: "member_profile", Input: json.RawMessage(`{"member_id":"m-1"}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			{ToolCallID: "tc-1", Name: "member_profile", Content: `{"name":"Sam"}`},
		}},
	}

	converted, err := convertAnthropicMessages(msgs)
	if err != nil {
		t.Fatalf("convertAnthropicMessages: %v", err)
	}
	if len(converted) != 3 {
		t.Fatalf("len = %d, want 3", len(converted))
	}

	// Tool call input that is not valid JSON must be rejected.
	bad := []agent.CompletionMessage{
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "tc-2", Name: "member_profile", Input: json.RawMessage(`{"member_id":`)},
		}},
	}
	if _, err := convertAnthropicMessages(bad); err == nil {
		t.Error("invalid tool call input should fail conversion")
	}
}

func TestConvertAnthropicTools(t *testing.T) {
	tools, err := convertAnthropicTools([]agent.Tool{
		&fakeTool{name: "member_profile", schema: `{"type":"object","properties":{"member_id":{"type":"string"}}}`},
	})
	if err != nil {
		t.Fatalf("convertAnthropicTools: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("len = %d, want 1", len(tools))
	}
	if tools[0].OfTool == nil || tools[0].OfTool.Name != "member_profile" {
		t.Errorf("tool name not carried over: %+v", tools[0])
	}
}

func TestConvertOpenAIMessages(t *testing.T) {
	msgs := []agent.CompletionMessage{
		{Role: "user", Content: "goal"},
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "tc-1", Name: "attendance_summary", Input: json.RawMessage(`{"member_id":"m-1"}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			{ToolCallID: "tc-1", Name: "attendance_summary", Content: "3 visits"},
			{ToolCallID: "tc-2", Name: "member_profile", Content: "Sam"},
		}},
	}

	converted := convertOpenAIMessages(msgs, "you are the front desk")
	if len(converted) != 5 {
		t.Fatalf("len = %d, want 5 (system + user + assistant + 2 tool)", len(converted))
	}
	if converted[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("first message role = %s, want system", converted[0].Role)
	}
	if len(converted[2].ToolCalls) != 1 || converted[2].ToolCalls[0].Function.Name != "attendance_summary" {
		t.Errorf("assistant tool calls not converted: %+v", converted[2])
	}
	if converted[3].Role != openai.ChatMessageRoleTool || converted[3].ToolCallID != "tc-1" {
		t.Errorf("tool result message malformed: %+v", converted[3])
	}
}

func TestConvertOpenAITools(t *testing.T) {
	tools := convertOpenAITools([]agent.Tool{&fakeTool{name: "send_message"}})
	if len(tools) != 1 {
		t.Fatalf("len = %d, want 1", len(tools))
	}
	if tools[0].Type != openai.ToolTypeFunction || tools[0].Function.Name != "send_message" {
		t.Errorf("tool definition malformed: %+v", tools[0])
	}
}

// TestUsageTokenWidths mirrors the stream accounting assignments: SDK token
// counts must land in usage.Usage without narrowing.
func TestUsageTokenWidths(t *testing.T) {
	use := &usage.Usage{}

	var start anthropic.Usage
	start.InputTokens = 1 << 40
	use.InputTokens = start.InputTokens

	var delta anthropic.MessageDeltaUsage
	delta.OutputTokens = 1 << 40
	use.OutputTokens = delta.OutputTokens

	if use.InputTokens != 1<<40 || use.OutputTokens != 1<<40 {
		t.Errorf("anthropic counts truncated: %+v", use)
	}

	oa := openai.Usage{PromptTokens: 123, CompletionTokens: 456}
	use.InputTokens = int64(oa.PromptTokens)
	use.OutputTokens = int64(oa.CompletionTokens)
	if use.InputTokens != 123 || use.OutputTokens != 456 {
		t.Errorf("openai counts mismapped: %+v", use)
	}
}

func TestRetryableStatus(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{429, true},
		{529, true},
		{503, true},
		{500, true},
		{408, true},
		{401, false},
		{400, false},
		{404, false},
	}
	for _, tt := range tests {
		if got := retryableStatus(tt.status); got != tt.want {
			t.Errorf("retryableStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestWrapOpenAIError(t *testing.T) {
	apiErr := &openai.APIError{HTTPStatusCode: 429, Message: "rate limited"}
	wrapped := wrapOpenAIError(apiErr)

	var pe *agent.ProviderError
	if !errors.As(wrapped, &pe) {
		t.Fatalf("wrapped error is %T, want *agent.ProviderError", wrapped)
	}
	if !pe.Retryable {
		t.Error("429 should be retryable")
	}
	if pe.Provider != "openai" {
		t.Errorf("provider = %s", pe.Provider)
	}

	auth := wrapOpenAIError(&openai.APIError{HTTPStatusCode: 401, Message: "bad key"})
	if agent.IsRetryableProviderError(auth) {
		t.Error("401 should not be retryable")
	}
}
