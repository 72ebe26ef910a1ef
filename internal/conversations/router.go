package conversations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// Inbound is a message arriving from a member on some channel, before it
// has been placed on a conversation.
type Inbound struct {
	AccountID  string
	Contact    models.Contact
	Channel    models.ChannelType
	Content    string
	ExternalID string
}

// Router places inbound messages onto conversation threads. An existing
// open thread for the same contact and channel wins; otherwise a new
// conversation is opened and assigned to the default role.
type Router struct {
	store       Store
	defaultRole models.AgentRole
	logger      *slog.Logger
}

// NewRouter builds a router. New conversations are assigned defaultRole.
func NewRouter(store Store, defaultRole models.AgentRole, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{store: store, defaultRole: defaultRole, logger: logger}
}

// Route threads the inbound message and records it in the transcript. It
// returns the conversation and whether it was newly opened.
func (r *Router) Route(ctx context.Context, in Inbound) (*models.Conversation, bool, error) {
	if in.AccountID == "" {
		return nil, false, errors.New("route: account id required")
	}
	if in.Contact.Address(in.Channel) == "" {
		return nil, false, fmt.Errorf("route: contact has no %s address", in.Channel)
	}

	conv, err := r.store.FindOpen(ctx, in.AccountID, in.Contact, in.Channel)
	isNew := false
	switch {
	case err == nil:
		changed := false
		// Enrich the thread when the inbound identifies a member the
		// original conversation did not.
		if conv.Contact.MemberID == "" && in.Contact.MemberID != "" {
			conv.Contact = in.Contact
			changed = true
		}
		// The member spoke last; the thread is back in the agent's
		// court. Escalated threads keep their status until handoff.
		if conv.Status == models.ConversationOpen || conv.Status == models.ConversationWaitingMember {
			conv.Status = models.ConversationWaitingAgent
			changed = true
		}
		if changed {
			if err := r.store.Update(ctx, conv); err != nil {
				r.logger.Warn("failed to update conversation",
					"conversation_id", conv.ID, "error", err)
			}
		}
	case errors.Is(err, ErrNotFound):
		conv = models.NewConversation(in.AccountID, in.Contact, in.Channel, r.defaultRole)
		conv.Status = models.ConversationWaitingAgent
		if err := r.store.Create(ctx, conv); err != nil {
			return nil, false, fmt.Errorf("route: create conversation: %w", err)
		}
		isNew = true
	default:
		return nil, false, fmt.Errorf("route: find conversation: %w", err)
	}

	msg := models.NewMessage(conv.ID, in.Channel, models.DirectionInbound,
		in.Contact.Address(in.Channel), in.Content)
	msg.ExternalID = in.ExternalID
	if err := r.store.AddMessage(ctx, msg); err != nil {
		return nil, false, fmt.Errorf("route: record message: %w", err)
	}

	r.logger.Info("routed inbound message",
		"conversation_id", conv.ID,
		"channel", string(in.Channel),
		"new_conversation", isNew,
		"assigned_role", string(conv.AssignedRole))
	return conv, isNew, nil
}
