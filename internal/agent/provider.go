// Package agent implements the session runtime: the tool registry, the
// approval gate, the budget guard, and the turn loop that drives a model
// against a goal.
package agent

import (
	"context"
	"encoding/json"

	"github.com/duyemura/boxassist-sub000/internal/usage"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// Tool is a capability the model can invoke. Implementations must be safe
// for concurrent use; the runtime may execute tools from many sessions at
// once.
type Tool interface {
	// Name is the stable identifier the model calls the tool by.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Group assigns the tool to a capability group ("data",
	// "conversation", "action", "learning").
	Group() string

	// ReadOnly reports whether the tool has no side effects. Read-only
	// tools bypass the approval gate in every autonomy mode.
	ReadOnly() bool

	// Schema is the JSON Schema for the tool's input object.
	Schema() json.RawMessage

	// Execute runs the tool. A domain failure ("member not found") is
	// returned as a ToolResult with IsError set, or as an error; either
	// way the runtime feeds it back to the model rather than aborting.
	Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error)
}

// ToolResult is a tool's raw outcome before the runtime attaches call
// correlation.
type ToolResult struct {
	Content string
	IsError bool
}

// ConfidenceScorer is optionally implemented by side-effecting tools that
// can judge how routine a given input is. The gate uses the score in
// assisted mode; tools without a score are treated as zero confidence.
type ConfidenceScorer interface {
	Confidence(input json.RawMessage) float64
}

// CompletionMessage is one entry of the turn history sent to a provider.
type CompletionMessage struct {
	// Role is "user", "assistant", or "tool".
	Role string

	Content string

	// ToolCalls carries the calls an assistant message requested.
	ToolCalls []models.ToolCall

	// ToolResults carries results on a tool message.
	ToolResults []models.ToolResult
}

// CompletionRequest is a single model call.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []CompletionMessage
	Tools     []Tool
	MaxTokens int
}

// CompletionChunk is one item of a provider's response stream. Text and
// ToolCall chunks arrive in model output order; the final chunk has Done
// set with the stop reason and accumulated usage.
type CompletionChunk struct {
	Text       string
	ToolCall   *models.ToolCall
	Usage      *usage.Usage
	StopReason string
	Done       bool
	Err        error
}

// ModelProvider streams completions from one model vendor.
type ModelProvider interface {
	// Name identifies the provider ("anthropic", "openai").
	Name() string

	// Complete starts a streaming completion. The returned channel is
	// closed after the Done chunk (or an Err chunk) is delivered.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}
