// Package handoff moves a conversation from one agent role to another. An
// escalation reassigns the thread, synthesizes a goal for the target role
// from the reason and the recent transcript, and starts a fresh runtime
// session to carry the conversation forward.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duyemura/boxassist-sub000/internal/conversations"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// DefaultTranscriptMessages bounds how much transcript the handoff goal
// carries verbatim.
const DefaultTranscriptMessages = 30

// ErrConversationClosed indicates the conversation is resolved and cannot
// be escalated.
var ErrConversationClosed = errors.New("conversation is resolved")

// SessionStarter starts a runtime session. Satisfied by *agent.Runtime.
type SessionStarter interface {
	Start(ctx context.Context, session *models.Session) (<-chan models.SessionEvent, error)
}

// Escalator performs role handoffs.
type Escalator struct {
	convs              conversations.Store
	runtime            SessionStarter
	sessionDefaults    models.SessionConfig
	transcriptMessages int
	logger             *slog.Logger
}

// NewEscalator builds an escalator. sessionDefaults supplies autonomy and
// budget settings for the sessions it opens; transcriptMessages bounds the
// goal transcript (non-positive means DefaultTranscriptMessages).
func NewEscalator(convs conversations.Store, runtime SessionStarter, sessionDefaults models.SessionConfig, transcriptMessages int, logger *slog.Logger) *Escalator {
	if transcriptMessages <= 0 {
		transcriptMessages = DefaultTranscriptMessages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Escalator{
		convs:              convs,
		runtime:            runtime,
		sessionDefaults:    sessionDefaults,
		transcriptMessages: transcriptMessages,
		logger:             logger,
	}
}

// Escalate reassigns the conversation to targetRole and starts a session
// for it. The returned event channel belongs to the new session.
func (e *Escalator) Escalate(ctx context.Context, conversationID string, targetRole models.AgentRole, reason string, creator models.SessionCreator) (*models.Session, <-chan models.SessionEvent, error) {
	if !targetRole.Valid() {
		return nil, nil, fmt.Errorf("escalate: unknown role %q", targetRole)
	}
	if reason == "" {
		return nil, nil, errors.New("escalate: reason required")
	}

	conv, err := e.convs.Get(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("escalate: %w", err)
	}
	if conv.Status == models.ConversationResolved {
		return nil, nil, fmt.Errorf("escalate %s: %w", conversationID, ErrConversationClosed)
	}

	previousSessionID := conv.ActiveSessionID

	conv.AssignedRole = targetRole
	conv.Status = models.ConversationEscalated
	if err := e.convs.Update(ctx, conv); err != nil {
		return nil, nil, fmt.Errorf("escalate: reassign conversation: %w", err)
	}

	goal, err := e.synthesizeGoal(ctx, conv, reason)
	if err != nil {
		return nil, nil, fmt.Errorf("escalate: %w", err)
	}

	cfg := e.sessionDefaults
	cfg.Goal = goal
	session := models.NewSession(conv.AccountID, targetRole, creator, cfg)
	session.ConversationID = conv.ID

	events, err := e.runtime.Start(ctx, session)
	if err != nil {
		return nil, nil, fmt.Errorf("escalate: start session: %w", err)
	}

	linked, err := e.convs.LinkSession(ctx, conv.ID, previousSessionID, session.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("escalate: link session: %w", err)
	}
	if !linked {
		// Another handoff claimed the thread first. The session still
		// runs; it just is not the active one.
		e.logger.Warn("handoff lost session link race",
			"conversation_id", conv.ID,
			"session_id", session.ID,
			"expected_previous", previousSessionID)
	}

	e.logger.Info("conversation escalated",
		"conversation_id", conv.ID,
		"target_role", string(targetRole),
		"session_id", session.ID)
	return session, events, nil
}

// synthesizeGoal builds the new session's goal from the escalation reason,
// the contact identity, and the bounded transcript. Messages beyond the
// bound are rolled up behind an explicit marker, never dropped silently.
func (e *Escalator) synthesizeGoal(ctx context.Context, conv *models.Conversation, reason string) (string, error) {
	all, err := e.convs.Messages(ctx, conv.ID, 0)
	if err != nil {
		return "", fmt.Errorf("load transcript: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Escalated conversation. Reason: %s\n\n", reason)
	fmt.Fprintf(&b, "Member: %s", contactLabel(conv.Contact))
	fmt.Fprintf(&b, " (channel: %s)\n\n", conv.Channel)

	if len(all) == 0 {
		b.WriteString("No transcript yet.\n")
		return b.String(), nil
	}

	recent := all
	if len(all) > e.transcriptMessages {
		omitted := len(all) - e.transcriptMessages
		recent = all[omitted:]
		fmt.Fprintf(&b, "[... %d earlier messages summarized ...]\n", omitted)
	}

	b.WriteString("Transcript:\n")
	for _, msg := range recent {
		speaker := "member"
		if msg.Direction == models.DirectionOutbound {
			speaker = "agent"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, msg.Content)
	}
	b.WriteString("\nPick up this conversation and resolve the member's concern.")
	return b.String(), nil
}

func contactLabel(c models.Contact) string {
	switch {
	case c.Name != "" && c.MemberID != "":
		return fmt.Sprintf("%s (member %s)", c.Name, c.MemberID)
	case c.Name != "":
		return c.Name
	case c.MemberID != "":
		return "member " + c.MemberID
	case c.Email != "":
		return c.Email
	case c.Phone != "":
		return c.Phone
	}
	return "unknown member"
}
