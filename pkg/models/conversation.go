package models

import (
	"time"

	"github.com/google/uuid"
)

// Contact is the member identity a conversation belongs to.
type Contact struct {
	MemberID string `json:"member_id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// Address returns the contact's address on the given channel, or "".
func (c Contact) Address(channel ChannelType) string {
	switch channel {
	case ChannelEmail:
		return c.Email
	case ChannelSMS:
		return c.Phone
	}
	return c.MemberID
}

// ConversationStatus is the conversation lifecycle state.
type ConversationStatus string

const (
	ConversationOpen          ConversationStatus = "open"
	ConversationWaitingMember ConversationStatus = "waiting_member"
	ConversationWaitingAgent  ConversationStatus = "waiting_agent"
	ConversationEscalated     ConversationStatus = "escalated"
	ConversationResolved      ConversationStatus = "resolved"
)

// Active reports whether the conversation can still receive messages.
// Everything short of resolved counts, including the waiting states.
func (s ConversationStatus) Active() bool {
	return s != ConversationResolved
}

// Conversation is a threaded exchange with one contact on one channel.
// ActiveSessionID points at the agent session currently driving replies;
// it is updated with a compare-and-swap so concurrent handoffs cannot both
// claim the thread.
type Conversation struct {
	ID              string             `json:"id"`
	AccountID       string             `json:"account_id"`
	Contact         Contact            `json:"contact"`
	Channel         ChannelType        `json:"channel"`
	Status          ConversationStatus `json:"status"`
	AssignedRole    AgentRole          `json:"assigned_role"`
	ActiveSessionID string             `json:"active_session_id,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// NewConversation opens a conversation assigned to the given role.
func NewConversation(accountID string, contact Contact, channel ChannelType, role AgentRole) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Contact:      contact,
		Channel:      channel,
		Status:       ConversationOpen,
		AssignedRole: role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a copy safe to hand across goroutines.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}
