// Package conversation provides the "conversation" group tools: sending a
// reply on the thread's channel and drafting one for staff review.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duyemura/boxassist-sub000/internal/agent"
	"github.com/duyemura/boxassist-sub000/internal/channels"
	"github.com/duyemura/boxassist-sub000/internal/conversations"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

const sendSchema = `{
	"type": "object",
	"properties": {
		"content": {
			"type": "string",
			"minLength": 1,
			"maxLength": 4000,
			"description": "The message to send to the member"
		},
		"subject": {
			"type": "string",
			"description": "Subject line, used on the email channel only"
		}
	},
	"required": ["content"],
	"additionalProperties": false
}`

type sendInput struct {
	Content string `json:"content"`
	Subject string `json:"subject"`
}

// riskyPhrases lower the confidence score: these are the messages a human
// should see before they go out in assisted mode.
var riskyPhrases = []string{
	"cancel", "refund", "free month", "discount", "legal", "complaint",
	"injury", "sorry to see you go",
}

// SendTool delivers a message on the conversation's channel and records it
// in the transcript. Bound to one conversation at construction.
type SendTool struct {
	convs          conversations.Store
	registry       *channels.Registry
	conversationID string
	logger         *slog.Logger
}

// NewSendTool binds send_message to one conversation.
func NewSendTool(convs conversations.Store, registry *channels.Registry, conversationID string, logger *slog.Logger) *SendTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendTool{convs: convs, registry: registry, conversationID: conversationID, logger: logger}
}

func (t *SendTool) Name() string { return "send_message" }
func (t *SendTool) Description() string {
	return "Send a message to the member on this conversation's channel. The message is delivered immediately."
}
func (t *SendTool) Group() string           { return "conversation" }
func (t *SendTool) ReadOnly() bool          { return false }
func (t *SendTool) Schema() json.RawMessage { return json.RawMessage(sendSchema) }

// Confidence scores how routine the outgoing message looks. Short, neutral
// check-ins score high; anything touching billing, cancellation, or legal
// territory scores low so the approval gate holds it in assisted mode.
func (t *SendTool) Confidence(params json.RawMessage) float64 {
	var input sendInput
	if err := json.Unmarshal(params, &input); err != nil {
		return 0
	}
	content := strings.ToLower(input.Content)
	if content == "" {
		return 0
	}

	score := 0.95
	for _, phrase := range riskyPhrases {
		if strings.Contains(content, phrase) {
			score -= 0.35
			break
		}
	}
	if len(input.Content) > 600 {
		score -= 0.15
	}
	if score < 0 {
		score = 0
	}
	return score
}

func (t *SendTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input sendInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	conv, err := t.convs.Get(ctx, t.conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	to := conv.Contact.Address(conv.Channel)
	if to == "" {
		return &agent.ToolResult{
			Content: fmt.Sprintf("member has no %s address on file", conv.Channel),
			IsError: true,
		}, nil
	}

	adapter, err := t.registry.Get(conv.Channel)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	externalID, err := adapter.Send(ctx, &channels.OutboundMessage{
		To:      to,
		Subject: input.Subject,
		Body:    input.Content,
	})
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("delivery failed: %v", err), IsError: true}, nil
	}

	msg := models.NewMessage(conv.ID, conv.Channel, models.DirectionOutbound, "agent", input.Content)
	msg.ExternalID = externalID
	if err := t.convs.AddMessage(ctx, msg); err != nil {
		// Delivered but not recorded; surface loudly, the transcript is
		// now missing a message.
		t.logger.Error("outbound message not recorded",
			"conversation_id", conv.ID, "external_id", externalID, "error", err)
		return &agent.ToolResult{
			Content: "message delivered but could not be recorded in the transcript",
			IsError: true,
		}, nil
	}

	// The ball is in the member's court until they reply. Status is
	// bookkeeping; a failed update must not fail a delivered send.
	conv.Status = models.ConversationWaitingMember
	if err := t.convs.Update(ctx, conv); err != nil {
		t.logger.Warn("conversation status not updated",
			"conversation_id", conv.ID, "error", err)
	}

	return &agent.ToolResult{
		Content: fmt.Sprintf("Message sent to %s via %s.", to, conv.Channel),
	}, nil
}
