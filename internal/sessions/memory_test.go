package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/duyemura/boxassist-sub000/pkg/models"
)

func newTestSession(accountID string) *models.Session {
	return models.NewSession(accountID, models.RoleFrontDesk, models.CreatorHuman, models.SessionConfig{
		Goal:     "check in on a quiet member",
		Autonomy: models.AutonomyFull,
		MaxTurns: 5,
	})
}

func TestMemoryStoreCreateGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := newTestSession("acct-1")
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, session); err == nil {
		t.Error("duplicate create should fail")
	}

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Config.Goal != session.Config.Goal {
		t.Errorf("goal = %q, want %q", got.Config.Goal, session.Config.Goal)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing session err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreUpdatePersistsTurns(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := newTestSession("acct-1")
	if err := store.Create(ctx, session); err != nil {
		t.Fatal(err)
	}

	session.Status = models.SessionRunning
	session.Turns = append(session.Turns, models.Turn{
		Index:         0,
		AssistantText: "looking up the member now",
		ToolCalls:     []models.ToolCall{{ID: "tc-1", Name: "member_profile", Input: []byte(`{"member_id":"m-1"}`)}},
		ToolResults:   []models.ToolResult{{ToolCallID: "tc-1", Name: "member_profile", Content: "ok"}},
	})
	session.TurnsUsed = 1
	if err := store.Update(ctx, session); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Turns) != 1 || len(got.Turns[0].ToolResults) != 1 {
		t.Fatalf("turn log not persisted: %+v", got.Turns)
	}

	// Mutating the returned clone must not touch the stored record.
	got.Turns[0].AssistantText = "mutated"
	again, _ := store.Get(ctx, session.ID)
	if again.Turns[0].AssistantText == "mutated" {
		t.Error("store shares memory with callers")
	}
}

func TestMemoryStoreUpdateMissing(t *testing.T) {
	store := NewMemoryStore()
	session := newTestSession("acct-1")
	if err := store.Update(context.Background(), session); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := newTestSession("acct-1")
	first.CreatedAt = time.Now().Add(-time.Hour)
	second := newTestSession("acct-1")
	other := newTestSession("acct-2")
	for _, s := range []*models.Session{first, second, other} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.List(ctx, "acct-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != second.ID {
		t.Error("list should be newest first")
	}

	limited, _ := store.List(ctx, "acct-1", 1)
	if len(limited) != 1 {
		t.Errorf("limited len = %d, want 1", len(limited))
	}
}
