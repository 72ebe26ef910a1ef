package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/duyemura/boxassist-sub000/internal/agent"
)

const draftSchema = `{
	"type": "object",
	"properties": {
		"content": {
			"type": "string",
			"minLength": 1,
			"description": "The reply to propose for staff review"
		},
		"note": {
			"type": "string",
			"description": "Optional context for the reviewer"
		}
	},
	"required": ["content"],
	"additionalProperties": false
}`

type draftInput struct {
	Content string `json:"content"`
	Note    string `json:"note"`
}

// DraftTool proposes a reply without sending anything. It exists so a
// session in manual mode can still make progress: the draft lands in the
// turn log where staff review it.
type DraftTool struct{}

// NewDraftTool builds the draft tool.
func NewDraftTool() *DraftTool { return &DraftTool{} }

func (t *DraftTool) Name() string { return "draft_reply" }
func (t *DraftTool) Description() string {
	return "Draft a reply for staff to review without sending it. Use this when you want a human to approve the wording."
}
func (t *DraftTool) Group() string           { return "conversation" }
func (t *DraftTool) ReadOnly() bool          { return true }
func (t *DraftTool) Schema() json.RawMessage { return json.RawMessage(draftSchema) }

func (t *DraftTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input draftInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	content := fmt.Sprintf("Draft recorded for staff review:\n%s", input.Content)
	if input.Note != "" {
		content += fmt.Sprintf("\n\nReviewer note: %s", input.Note)
	}
	return &agent.ToolResult{Content: content}, nil
}
