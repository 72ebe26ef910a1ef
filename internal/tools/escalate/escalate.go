// Package escalate provides the tool a front desk session uses to hand the
// conversation to the manager role.
package escalate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/duyemura/boxassist-sub000/internal/agent"
	"github.com/duyemura/boxassist-sub000/internal/handoff"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

const escalateSchema = `{
	"type": "object",
	"properties": {
		"target_role": {
			"type": "string",
			"enum": ["manager"],
			"description": "The role to hand this conversation to"
		},
		"reason": {
			"type": "string",
			"minLength": 1,
			"description": "Why this needs escalation, in one or two sentences"
		}
	},
	"required": ["target_role", "reason"],
	"additionalProperties": false
}`

type escalateInput struct {
	TargetRole string `json:"target_role"`
	Reason     string `json:"reason"`
}

// Tool escalates the bound conversation. The handoff session it opens runs
// in the background; this tool drains its events so the session is
// supervised even though nobody is watching the channel.
type Tool struct {
	escalator      *handoff.Escalator
	conversationID string
	creator        models.SessionCreator
	logger         *slog.Logger
}

// New binds escalate_conversation to one conversation.
func New(escalator *handoff.Escalator, conversationID string, creator models.SessionCreator, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{
		escalator:      escalator,
		conversationID: conversationID,
		creator:        creator,
		logger:         logger,
	}
}

func (t *Tool) Name() string { return "escalate_conversation" }
func (t *Tool) Description() string {
	return "Escalate this conversation to the manager agent when it needs decisions you cannot make: cancellations, billing disputes, or anything involving member account changes."
}
func (t *Tool) Group() string           { return "conversation" }
func (t *Tool) ReadOnly() bool          { return false }
func (t *Tool) Schema() json.RawMessage { return json.RawMessage(escalateSchema) }

// Confidence is high: escalating is the safe choice, the gate should not
// hold it back in assisted mode.
func (t *Tool) Confidence(json.RawMessage) float64 { return 0.9 }

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input escalateInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	// The handoff session outlives this tool call; detach it from the
	// calling session's cancellation.
	session, events, err := t.escalator.Escalate(context.WithoutCancel(ctx),
		t.conversationID, models.AgentRole(input.TargetRole), input.Reason, t.creator)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("escalation failed: %v", err), IsError: true}, nil
	}

	go t.drain(session.ID, events)

	return &agent.ToolResult{
		Content: fmt.Sprintf("Escalated to %s. Session %s has taken over this conversation; do not send further messages.",
			input.TargetRole, session.ID),
	}, nil
}

func (t *Tool) drain(sessionID string, events <-chan models.SessionEvent) {
	for event := range events {
		if event.Type == models.EventError {
			t.logger.Error("escalation session failed",
				"session_id", sessionID, "error", event.Error)
		}
	}
}
