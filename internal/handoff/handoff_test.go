package handoff

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/duyemura/boxassist-sub000/internal/conversations"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// fakeStarter records the sessions it was asked to start.
type fakeStarter struct {
	started []*models.Session
}

func (s *fakeStarter) Start(_ context.Context, session *models.Session) (<-chan models.SessionEvent, error) {
	s.started = append(s.started, session.Clone())
	ch := make(chan models.SessionEvent)
	close(ch)
	return ch, nil
}

func setupConversation(t *testing.T, store conversations.Store, messageCount int) *models.Conversation {
	t.Helper()
	ctx := context.Background()
	conv := models.NewConversation("acct-1", models.Contact{
		MemberID: "m-1", Name: "Sam Ortiz", Email: "sam@example.com",
	}, models.ChannelEmail, models.RoleFrontDesk)
	if err := store.Create(ctx, conv); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.LinkSession(ctx, conv.ID, "", "sess-front"); err != nil {
		t.Fatalf("LinkSession: %v", err)
	}
	base := time.Now().Add(-time.Hour)
	for i := 0; i < messageCount; i++ {
		direction := models.DirectionInbound
		if i%2 == 1 {
			direction = models.DirectionOutbound
		}
		msg := models.NewMessage(conv.ID, models.ChannelEmail, direction, "sam@example.com", fmt.Sprintf("message %d", i))
		msg.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.AddMessage(ctx, msg); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}
	conv.ActiveSessionID = "sess-front"
	return conv
}

func TestEscalateReassignsAndStartsSession(t *testing.T) {
	store := conversations.NewMemoryStore()
	starter := &fakeStarter{}
	esc := NewEscalator(store, starter, models.SessionConfig{
		Autonomy: models.AutonomyAssisted, MaxTurns: 8,
	}, 30, nil)
	conv := setupConversation(t, store, 3)

	session, events, err := esc.Escalate(context.Background(), conv.ID, models.RoleManager, "member wants to cancel", models.CreatorHuman)
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if events == nil {
		t.Fatal("no event channel returned")
	}
	if session.Role != models.RoleManager || session.ConversationID != conv.ID {
		t.Errorf("session = %+v", session)
	}
	if session.Config.MaxTurns != 8 || session.Config.Autonomy != models.AutonomyAssisted {
		t.Errorf("session config defaults not applied: %+v", session.Config)
	}
	if len(starter.started) != 1 {
		t.Fatalf("started %d sessions, want 1", len(starter.started))
	}

	got, _ := store.Get(context.Background(), conv.ID)
	if got.AssignedRole != models.RoleManager {
		t.Errorf("assigned role = %s, want manager", got.AssignedRole)
	}
	if got.Status != models.ConversationEscalated {
		t.Errorf("status = %s, want escalated", got.Status)
	}
	if got.ActiveSessionID != session.ID {
		t.Errorf("active session = %s, want %s", got.ActiveSessionID, session.ID)
	}
}

func TestEscalateGoalCarriesReasonContactTranscript(t *testing.T) {
	store := conversations.NewMemoryStore()
	starter := &fakeStarter{}
	esc := NewEscalator(store, starter, models.SessionConfig{}, 30, nil)
	conv := setupConversation(t, store, 3)

	session, _, err := esc.Escalate(context.Background(), conv.ID, models.RoleManager, "billing dispute", models.CreatorHuman)
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}

	goal := session.Config.Goal
	for _, want := range []string{"billing dispute", "Sam Ortiz", "member m-1", "message 0", "message 2"} {
		if !strings.Contains(goal, want) {
			t.Errorf("goal missing %q:\n%s", want, goal)
		}
	}
	if strings.Contains(goal, "summarized") {
		t.Errorf("short transcript should not be truncated:\n%s", goal)
	}
}

func TestEscalateTruncatesLongTranscript(t *testing.T) {
	store := conversations.NewMemoryStore()
	starter := &fakeStarter{}
	esc := NewEscalator(store, starter, models.SessionConfig{}, 5, nil)
	conv := setupConversation(t, store, 12)

	session, _, err := esc.Escalate(context.Background(), conv.ID, models.RoleManager, "gone quiet", models.CreatorAutomation)
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}

	goal := session.Config.Goal
	if !strings.Contains(goal, "[... 7 earlier messages summarized ...]") {
		t.Errorf("goal missing truncation marker:\n%s", goal)
	}
	// Oldest retained message is index 7; everything before is rolled up.
	if strings.Contains(goal, "message 6\n") {
		t.Errorf("truncated message leaked into goal:\n%s", goal)
	}
	if !strings.Contains(goal, "message 7\n") {
		t.Errorf("oldest retained message missing:\n%s", goal)
	}
	if !strings.Contains(goal, "message 11") {
		t.Errorf("most recent message missing:\n%s", goal)
	}
}

func TestEscalateEmptyTranscript(t *testing.T) {
	store := conversations.NewMemoryStore()
	starter := &fakeStarter{}
	esc := NewEscalator(store, starter, models.SessionConfig{}, 30, nil)
	conv := setupConversation(t, store, 0)

	session, _, err := esc.Escalate(context.Background(), conv.ID, models.RoleManager, "proactive outreach", models.CreatorAutomation)
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if !strings.Contains(session.Config.Goal, "No transcript yet") {
		t.Errorf("goal = %q", session.Config.Goal)
	}
}

func TestEscalateRejectsResolvedConversation(t *testing.T) {
	store := conversations.NewMemoryStore()
	esc := NewEscalator(store, &fakeStarter{}, models.SessionConfig{}, 30, nil)
	conv := setupConversation(t, store, 1)
	conv.Status = models.ConversationResolved
	if err := store.Update(context.Background(), conv); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, _, err := esc.Escalate(context.Background(), conv.ID, models.RoleManager, "reason", models.CreatorHuman); err == nil {
		t.Error("resolved conversation should refuse escalation")
	}
}

func TestEscalateValidation(t *testing.T) {
	store := conversations.NewMemoryStore()
	esc := NewEscalator(store, &fakeStarter{}, models.SessionConfig{}, 30, nil)
	conv := setupConversation(t, store, 1)

	if _, _, err := esc.Escalate(context.Background(), conv.ID, models.AgentRole("wizard"), "reason", models.CreatorHuman); err == nil {
		t.Error("unknown role should fail")
	}
	if _, _, err := esc.Escalate(context.Background(), conv.ID, models.RoleManager, "", models.CreatorHuman); err == nil {
		t.Error("empty reason should fail")
	}
	if _, _, err := esc.Escalate(context.Background(), "ghost", models.RoleManager, "reason", models.CreatorHuman); err == nil {
		t.Error("unknown conversation should fail")
	}
}

// racingStore simulates a rival handoff moving the session link between
// this escalation's read and its compare-and-swap.
type racingStore struct {
	conversations.Store
	rivalOnce bool
}

func (s *racingStore) LinkSession(ctx context.Context, id, from, to string) (bool, error) {
	if !s.rivalOnce {
		s.rivalOnce = true
		if _, err := s.Store.LinkSession(ctx, id, from, "sess-rival"); err != nil {
			return false, err
		}
	}
	return s.Store.LinkSession(ctx, id, from, to)
}

func TestEscalateLostLinkRaceIsNonFatal(t *testing.T) {
	inner := conversations.NewMemoryStore()
	store := &racingStore{Store: inner}
	starter := &fakeStarter{}
	esc := NewEscalator(store, starter, models.SessionConfig{}, 30, nil)
	conv := setupConversation(t, inner, 1)

	session, _, err := esc.Escalate(context.Background(), conv.ID, models.RoleManager, "reason", models.CreatorHuman)
	if err != nil {
		t.Fatalf("lost race should not fail escalation: %v", err)
	}
	if len(starter.started) != 1 {
		t.Error("session should still start")
	}

	got, _ := store.Get(context.Background(), conv.ID)
	if got.ActiveSessionID != "sess-rival" {
		t.Errorf("active session = %s, rival link should survive", got.ActiveSessionID)
	}
	if got.ActiveSessionID == session.ID {
		t.Error("loser must not overwrite the winner's link")
	}
}
