package watch

import (
	"context"
	"testing"
	"time"

	"github.com/duyemura/boxassist-sub000/internal/conversations"
	"github.com/duyemura/boxassist-sub000/internal/memberctx"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

type fakeStarter struct {
	started []*models.Session
}

func (s *fakeStarter) Start(_ context.Context, session *models.Session) (<-chan models.SessionEvent, error) {
	s.started = append(s.started, session.Clone())
	ch := make(chan models.SessionEvent)
	close(ch)
	return ch, nil
}

func quietMember(id string) *memberctx.Profile {
	return &memberctx.Profile{
		MemberID:  id,
		AccountID: "acct-1",
		Name:      "Sam Ortiz",
		Email:     id + "@example.com",
		Status:    memberctx.MembershipActive,
		LastVisit: time.Now().AddDate(0, 0, -30),
	}
}

func newTestWatcher(t *testing.T, dir memberctx.Directory, starter SessionStarter) (*Watcher, *conversations.MemoryStore) {
	t.Helper()
	convs := conversations.NewMemoryStore()
	router := conversations.NewRouter(convs, models.RoleFrontDesk, nil)
	w, err := New(dir, router, convs, starter, Config{
		Schedule:        "0 9 * * *",
		InactiveDays:    14,
		Accounts:        []string{"acct-1"},
		SessionDefaults: models.SessionConfig{Autonomy: models.AutonomyAssisted, MaxTurns: 6},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w, convs
}

func TestScanOpensSessionsForQuietMembers(t *testing.T) {
	dir := memberctx.NewMemoryDirectory()
	dir.Put(quietMember("m-quiet"), nil)

	fresh := quietMember("m-fresh")
	fresh.LastVisit = time.Now().AddDate(0, 0, -1)
	dir.Put(fresh, nil)

	starter := &fakeStarter{}
	w, convs := newTestWatcher(t, dir, starter)

	opened, err := w.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if opened != 1 {
		t.Fatalf("opened = %d, want 1", opened)
	}
	if len(starter.started) != 1 {
		t.Fatalf("started = %d sessions", len(starter.started))
	}

	session := starter.started[0]
	if session.Creator != models.CreatorAutomation {
		t.Errorf("creator = %s, want automation", session.Creator)
	}
	if session.Config.MaxTurns != 6 {
		t.Errorf("session defaults not applied: %+v", session.Config)
	}

	conv, err := convs.Get(context.Background(), session.ConversationID)
	if err != nil {
		t.Fatalf("Get conversation: %v", err)
	}
	if conv.ActiveSessionID != session.ID {
		t.Errorf("conversation not linked to session: %+v", conv)
	}
	msgs, _ := convs.Messages(context.Background(), conv.ID, 0)
	if len(msgs) != 1 {
		t.Errorf("synthetic event not recorded: %+v", msgs)
	}
}

func TestScanSkipsThreadsWithActiveSessions(t *testing.T) {
	dir := memberctx.NewMemoryDirectory()
	dir.Put(quietMember("m-quiet"), nil)

	starter := &fakeStarter{}
	w, _ := newTestWatcher(t, dir, starter)

	if _, err := w.Scan(context.Background()); err != nil {
		t.Fatalf("first Scan: %v", err)
	}
	// The first scan's session still owns the thread.
	opened, err := w.Scan(context.Background())
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if opened != 0 {
		t.Errorf("second scan opened %d sessions, want 0", opened)
	}
	if len(starter.started) != 1 {
		t.Errorf("started = %d sessions total, want 1", len(starter.started))
	}
}

func TestScanSkipsUnreachableMembers(t *testing.T) {
	dir := memberctx.NewMemoryDirectory()
	ghost := quietMember("m-ghost")
	ghost.Email = ""
	ghost.Phone = ""
	dir.Put(ghost, nil)

	starter := &fakeStarter{}
	w, _ := newTestWatcher(t, dir, starter)

	opened, err := w.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if opened != 0 || len(starter.started) != 0 {
		t.Error("unreachable member should be skipped, not fail the scan")
	}
}

func TestScanPrefersEmailThenSMS(t *testing.T) {
	dir := memberctx.NewMemoryDirectory()
	texter := quietMember("m-texter")
	texter.Email = ""
	texter.Phone = "+15550100"
	dir.Put(texter, nil)

	starter := &fakeStarter{}
	w, convs := newTestWatcher(t, dir, starter)

	if _, err := w.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	conv, _ := convs.Get(context.Background(), starter.started[0].ConversationID)
	if conv.Channel != models.ChannelSMS {
		t.Errorf("channel = %s, want sms for phone-only member", conv.Channel)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	dir := memberctx.NewMemoryDirectory()
	convs := conversations.NewMemoryStore()
	router := conversations.NewRouter(convs, models.RoleFrontDesk, nil)

	if _, err := New(dir, router, convs, &fakeStarter{}, Config{Schedule: "not a cron"}, nil); err == nil {
		t.Error("invalid schedule should fail")
	}
	if _, err := New(dir, router, convs, &fakeStarter{}, Config{}, nil); err == nil {
		t.Error("empty schedule should fail")
	}
}
