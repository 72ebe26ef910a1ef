package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/duyemura/boxassist-sub000/internal/channels"
	"github.com/duyemura/boxassist-sub000/internal/conversations"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// recordingAdapter captures sends and can be told to fail.
type recordingAdapter struct {
	channel models.ChannelType
	sent    []*channels.OutboundMessage
	fail    error
}

func (a *recordingAdapter) Type() models.ChannelType { return a.channel }

func (a *recordingAdapter) Send(_ context.Context, msg *channels.OutboundMessage) (string, error) {
	if a.fail != nil {
		return "", a.fail
	}
	a.sent = append(a.sent, msg)
	return "ext-1", nil
}

func setup(t *testing.T) (*conversations.MemoryStore, *recordingAdapter, *models.Conversation) {
	t.Helper()
	store := conversations.NewMemoryStore()
	conv := models.NewConversation("acct-1", models.Contact{
		MemberID: "m-1", Name: "Sam Ortiz", Email: "sam@example.com",
	}, models.ChannelEmail, models.RoleFrontDesk)
	if err := store.Create(context.Background(), conv); err != nil {
		t.Fatal(err)
	}
	adapter := &recordingAdapter{channel: models.ChannelEmail}
	return store, adapter, conv
}

func TestSendToolDeliversAndRecords(t *testing.T) {
	store, adapter, conv := setup(t)
	registry := channels.NewRegistry()
	if err := registry.Register(adapter); err != nil {
		t.Fatal(err)
	}
	tool := NewSendTool(store, registry, conv.ID, nil)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"content":"See you at the 6am class?","subject":"Checking in"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}

	if len(adapter.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(adapter.sent))
	}
	if adapter.sent[0].To != "sam@example.com" || adapter.sent[0].Subject != "Checking in" {
		t.Errorf("outbound = %+v", adapter.sent[0])
	}

	msgs, _ := store.Messages(context.Background(), conv.ID, 0)
	if len(msgs) != 1 {
		t.Fatalf("transcript length = %d, want 1", len(msgs))
	}
	if msgs[0].Direction != models.DirectionOutbound || msgs[0].ExternalID != "ext-1" {
		t.Errorf("recorded message = %+v", msgs[0])
	}

	updated, _ := store.Get(context.Background(), conv.ID)
	if updated.Status != models.ConversationWaitingMember {
		t.Errorf("status = %s, want waiting_member after delivery", updated.Status)
	}
}

func TestSendToolDeliveryFailure(t *testing.T) {
	store, adapter, conv := setup(t)
	adapter.fail = errors.New("gateway down")
	registry := channels.NewRegistry()
	if err := registry.Register(adapter); err != nil {
		t.Fatal(err)
	}
	tool := NewSendTool(store, registry, conv.ID, nil)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"content":"hi"}`))
	if err != nil {
		t.Fatalf("delivery failure should be an error result: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "delivery failed") {
		t.Errorf("result = %+v", result)
	}

	msgs, _ := store.Messages(context.Background(), conv.ID, 0)
	if len(msgs) != 0 {
		t.Error("failed send must not be recorded in the transcript")
	}
	unchanged, _ := store.Get(context.Background(), conv.ID)
	if unchanged.Status != models.ConversationOpen {
		t.Errorf("status = %s, failed delivery must not move the thread", unchanged.Status)
	}
}

func TestSendToolNoAdapterForChannel(t *testing.T) {
	store, _, conv := setup(t)
	tool := NewSendTool(store, channels.NewRegistry(), conv.ID, nil)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"content":"hi"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("missing adapter should produce an error result")
	}
}

func TestSendToolNoAddress(t *testing.T) {
	store := conversations.NewMemoryStore()
	conv := models.NewConversation("acct-1", models.Contact{MemberID: "m-1"}, models.ChannelSMS, models.RoleFrontDesk)
	if err := store.Create(context.Background(), conv); err != nil {
		t.Fatal(err)
	}
	registry := channels.NewRegistry()
	if err := registry.Register(&recordingAdapter{channel: models.ChannelSMS}); err != nil {
		t.Fatal(err)
	}
	tool := NewSendTool(store, registry, conv.ID, nil)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"content":"hi"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "no sms address") {
		t.Errorf("result = %+v", result)
	}
}

func TestSendToolConfidence(t *testing.T) {
	tool := NewSendTool(nil, nil, "conv-1", nil)

	tests := []struct {
		name    string
		input   string
		atLeast float64
		below   float64
	}{
		{"routine check-in", `{"content":"We missed you this week! Coming to open gym Saturday?"}`, 0.9, 1.01},
		{"cancellation talk", `{"content":"I understand you want to cancel your membership."}`, 0, 0.8},
		{"refund offer", `{"content":"We can process a refund for last month."}`, 0, 0.8},
		{"malformed", `{"content":`, 0, 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := tool.Confidence(json.RawMessage(tt.input))
			if score < tt.atLeast || score >= tt.below {
				t.Errorf("score = %v, want [%v, %v)", score, tt.atLeast, tt.below)
			}
		})
	}

	long := strings.Repeat("we value your membership and ", 30)
	longScore := tool.Confidence(json.RawMessage(`{"content":"` + long + `"}`))
	short := tool.Confidence(json.RawMessage(`{"content":"quick hello"}`))
	if longScore >= short {
		t.Errorf("long message score %v should be below short message score %v", longScore, short)
	}
}

func TestDraftTool(t *testing.T) {
	tool := NewDraftTool()
	if !tool.ReadOnly() || tool.Group() != "conversation" {
		t.Error("draft_reply must be read-only in the conversation group")
	}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"content":"Hi Sam, want to book a comeback session?","note":"member was quiet for 3 weeks"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Content, "comeback session") || !strings.Contains(result.Content, "quiet for 3 weeks") {
		t.Errorf("content = %s", result.Content)
	}
}
