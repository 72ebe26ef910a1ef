package conversations

import (
	"context"
	"sync"
	"testing"

	"github.com/duyemura/boxassist-sub000/pkg/models"
)

func testContact() models.Contact {
	return models.Contact{
		MemberID: "m-1",
		Name:     "Sam Ortiz",
		Email:    "sam@example.com",
		Phone:    "+15550100",
	}
}

func TestRouterOpensNewConversation(t *testing.T) {
	store := NewMemoryStore()
	router := NewRouter(store, models.RoleFrontDesk, nil)

	conv, isNew, err := router.Route(context.Background(), Inbound{
		AccountID: "acct-1",
		Contact:   testContact(),
		Channel:   models.ChannelEmail,
		Content:   "thinking about cancelling",
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !isNew {
		t.Error("first message should open a conversation")
	}
	if conv.AssignedRole != models.RoleFrontDesk {
		t.Errorf("assigned role = %s, want front_desk", conv.AssignedRole)
	}
	if conv.Status != models.ConversationWaitingAgent {
		t.Errorf("status = %s, want waiting_agent (member spoke last)", conv.Status)
	}

	msgs, err := store.Messages(context.Background(), conv.ID, 0)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Direction != models.DirectionInbound {
		t.Errorf("transcript = %+v, want one inbound message", msgs)
	}
}

func TestRouterReusesOpenConversation(t *testing.T) {
	store := NewMemoryStore()
	router := NewRouter(store, models.RoleFrontDesk, nil)
	ctx := context.Background()

	first, _, err := router.Route(ctx, Inbound{
		AccountID: "acct-1", Contact: testContact(),
		Channel: models.ChannelEmail, Content: "hi",
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	second, isNew, err := router.Route(ctx, Inbound{
		AccountID: "acct-1", Contact: testContact(),
		Channel: models.ChannelEmail, Content: "still here?",
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if isNew {
		t.Error("second message on same channel should reuse the thread")
	}
	if second.ID != first.ID {
		t.Errorf("conversation id = %s, want %s", second.ID, first.ID)
	}

	msgs, _ := store.Messages(ctx, first.ID, 0)
	if len(msgs) != 2 {
		t.Errorf("transcript length = %d, want 2", len(msgs))
	}
}

func TestRouterWaitingCycle(t *testing.T) {
	store := NewMemoryStore()
	router := NewRouter(store, models.RoleFrontDesk, nil)
	ctx := context.Background()

	conv, _, err := router.Route(ctx, Inbound{
		AccountID: "acct-1", Contact: testContact(),
		Channel: models.ChannelEmail, Content: "hi",
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	// Agent replies; the thread waits on the member.
	conv.Status = models.ConversationWaitingMember
	if err := store.Update(ctx, conv); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// The member's reply lands on the same thread and flips it back.
	again, isNew, err := router.Route(ctx, Inbound{
		AccountID: "acct-1", Contact: testContact(),
		Channel: models.ChannelEmail, Content: "sounds good",
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if isNew || again.ID != conv.ID {
		t.Fatal("waiting_member thread should still receive inbound messages")
	}
	stored, _ := store.Get(ctx, conv.ID)
	if stored.Status != models.ConversationWaitingAgent {
		t.Errorf("status = %s, want waiting_agent after inbound", stored.Status)
	}
}

func TestRouterEscalatedThreadKeepsStatus(t *testing.T) {
	store := NewMemoryStore()
	router := NewRouter(store, models.RoleFrontDesk, nil)
	ctx := context.Background()

	conv, _, err := router.Route(ctx, Inbound{
		AccountID: "acct-1", Contact: testContact(),
		Channel: models.ChannelEmail, Content: "I want a refund",
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	conv.Status = models.ConversationEscalated
	if err := store.Update(ctx, conv); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, _, err := router.Route(ctx, Inbound{
		AccountID: "acct-1", Contact: testContact(),
		Channel: models.ChannelEmail, Content: "any news?",
	}); err != nil {
		t.Fatalf("Route: %v", err)
	}
	stored, _ := store.Get(ctx, conv.ID)
	if stored.Status != models.ConversationEscalated {
		t.Errorf("status = %s, escalation must survive an inbound message", stored.Status)
	}
}

func TestRouterChannelsAreSeparateThreads(t *testing.T) {
	store := NewMemoryStore()
	router := NewRouter(store, models.RoleFrontDesk, nil)
	ctx := context.Background()

	email, _, err := router.Route(ctx, Inbound{
		AccountID: "acct-1", Contact: testContact(),
		Channel: models.ChannelEmail, Content: "hi",
	})
	if err != nil {
		t.Fatalf("Route email: %v", err)
	}
	sms, isNew, err := router.Route(ctx, Inbound{
		AccountID: "acct-1", Contact: testContact(),
		Channel: models.ChannelSMS, Content: "hi again",
	})
	if err != nil {
		t.Fatalf("Route sms: %v", err)
	}
	if !isNew || sms.ID == email.ID {
		t.Error("a different channel should open a separate conversation")
	}
}

func TestRouterMatchesByAddressForUnknownMember(t *testing.T) {
	store := NewMemoryStore()
	router := NewRouter(store, models.RoleFrontDesk, nil)
	ctx := context.Background()

	known, _, err := router.Route(ctx, Inbound{
		AccountID: "acct-1", Contact: testContact(),
		Channel: models.ChannelEmail, Content: "hi",
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	// Same email, no member id attached.
	anon, isNew, err := router.Route(ctx, Inbound{
		AccountID: "acct-1",
		Contact:   models.Contact{Email: "sam@example.com"},
		Channel:   models.ChannelEmail,
		Content:   "me again",
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if isNew || anon.ID != known.ID {
		t.Error("same address should land on the existing thread")
	}
}

func TestRouterRejectsUnaddressableContact(t *testing.T) {
	router := NewRouter(NewMemoryStore(), models.RoleFrontDesk, nil)
	_, _, err := router.Route(context.Background(), Inbound{
		AccountID: "acct-1",
		Contact:   models.Contact{MemberID: "m-9"},
		Channel:   models.ChannelEmail,
		Content:   "hi",
	})
	if err == nil {
		t.Error("contact without an email address should be rejected on the email channel")
	}
}

func TestLinkSessionCompareAndSwap(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	conv := models.NewConversation("acct-1", testContact(), models.ChannelEmail, models.RoleFrontDesk)
	if err := store.Create(ctx, conv); err != nil {
		t.Fatalf("Create: %v", err)
	}

	linked, err := store.LinkSession(ctx, conv.ID, "", "sess-a")
	if err != nil || !linked {
		t.Fatalf("first link = (%v, %v), want (true, nil)", linked, err)
	}
	// Stale swap loses.
	linked, err = store.LinkSession(ctx, conv.ID, "", "sess-b")
	if err != nil {
		t.Fatalf("LinkSession: %v", err)
	}
	if linked {
		t.Error("stale compare-and-swap should report false")
	}

	got, _ := store.Get(ctx, conv.ID)
	if got.ActiveSessionID != "sess-a" {
		t.Errorf("active session = %s, want sess-a", got.ActiveSessionID)
	}
}

func TestLinkSessionConcurrentHandoff(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	conv := models.NewConversation("acct-1", testContact(), models.ChannelEmail, models.RoleFrontDesk)
	conv.ActiveSessionID = "sess-old"
	if err := store.Create(ctx, conv); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	wins := make(chan string, 2)
	for _, id := range []string{"sess-a", "sess-b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if linked, err := store.LinkSession(ctx, conv.ID, "sess-old", id); err == nil && linked {
				wins <- id
			}
		}(id)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for id := range wins {
		winners = append(winners, id)
	}
	if len(winners) != 1 {
		t.Fatalf("winners = %v, want exactly one", winners)
	}
	got, _ := store.Get(ctx, conv.ID)
	if got.ActiveSessionID != winners[0] {
		t.Errorf("active session = %s, want %s", got.ActiveSessionID, winners[0])
	}
}

func TestUpdateDoesNotTouchActiveSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	conv := models.NewConversation("acct-1", testContact(), models.ChannelEmail, models.RoleFrontDesk)
	if err := store.Create(ctx, conv); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.LinkSession(ctx, conv.ID, "", "sess-a"); err != nil {
		t.Fatalf("LinkSession: %v", err)
	}

	conv.Status = models.ConversationEscalated
	conv.ActiveSessionID = "sess-rogue"
	if err := store.Update(ctx, conv); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := store.Get(ctx, conv.ID)
	if got.Status != models.ConversationEscalated {
		t.Errorf("status = %s, want escalated", got.Status)
	}
	if got.ActiveSessionID != "sess-a" {
		t.Errorf("Update moved the session link to %s", got.ActiveSessionID)
	}
}

func TestMessagesLimitKeepsMostRecent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	conv := models.NewConversation("acct-1", testContact(), models.ChannelEmail, models.RoleFrontDesk)
	if err := store.Create(ctx, conv); err != nil {
		t.Fatalf("Create: %v", err)
	}

	contents := []string{"one", "two", "three", "four"}
	for _, c := range contents {
		msg := models.NewMessage(conv.ID, models.ChannelEmail, models.DirectionInbound, "sam@example.com", c)
		if err := store.AddMessage(ctx, msg); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}

	msgs, err := store.Messages(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "three" || msgs[1].Content != "four" {
		t.Errorf("limited transcript = %+v, want [three four]", msgs)
	}
}
