package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ChannelType identifies a delivery channel.
type ChannelType string

const (
	ChannelEmail ChannelType = "email"
	ChannelSMS   ChannelType = "sms"
	ChannelChat  ChannelType = "chat"
)

// Direction of a conversation message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is one conversation message, inbound from a member or outbound
// from the agent or staff.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Channel        ChannelType `json:"channel"`
	Direction      Direction   `json:"direction"`
	Sender         string      `json:"sender"`
	Content        string      `json:"content"`
	ExternalID     string      `json:"external_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// NewMessage builds a message with a fresh id and timestamp.
func NewMessage(conversationID string, channel ChannelType, direction Direction, sender, content string) *Message {
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Channel:        channel,
		Direction:      direction,
		Sender:         sender,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
}

// ToolCall is a model request to invoke a named tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Clone copies the call, including the raw input buffer.
func (c *ToolCall) Clone() *ToolCall {
	if c == nil {
		return nil
	}
	out := *c
	if c.Input != nil {
		out.Input = append(json.RawMessage(nil), c.Input...)
	}
	return &out
}

// ToolResult is the outcome of one tool call, fed back to the model on the
// next turn. IsError covers both failed executions and calls refused before
// execution (unknown tool, disallowed group, schema-invalid input, policy
// rejection).
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
