package channels

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/duyemura/boxassist-sub000/internal/config"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

type nullAdapter struct {
	channel models.ChannelType
}

func (a *nullAdapter) Type() models.ChannelType { return a.channel }
func (a *nullAdapter) Send(context.Context, *OutboundMessage) (string, error) {
	return "", nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&nullAdapter{channel: models.ChannelSMS}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&nullAdapter{channel: models.ChannelEmail}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&nullAdapter{channel: models.ChannelSMS}); err == nil {
		t.Error("duplicate channel should fail registration")
	}

	if _, err := r.Get(models.ChannelEmail); err != nil {
		t.Errorf("Get email: %v", err)
	}
	if _, err := r.Get(models.ChannelChat); err == nil {
		t.Error("unregistered channel should fail lookup")
	}

	channels := r.Channels()
	if len(channels) != 2 || channels[0] != models.ChannelEmail || channels[1] != models.ChannelSMS {
		t.Errorf("channels = %v", channels)
	}
}

func TestEmailAdapterSend(t *testing.T) {
	adapter, err := NewEmailAdapter(config.EmailConfig{
		SMTPHost: "smtp.example.com",
		SMTPPort: 587,
		Username: "boxassist",
		Password: "secret",
		From:     "coach@box.example.com",
	}, nil)
	if err != nil {
		t.Fatalf("NewEmailAdapter: %v", err)
	}

	var gotAddr, gotFrom string
	var gotTo []string
	var gotBody []byte
	adapter.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, msg
		return nil
	}

	id, err := adapter.Send(context.Background(), &OutboundMessage{
		To:      "sam@example.com",
		Subject: "We miss you",
		Body:    "Come back for the 6am class!",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id == "" || !strings.Contains(id, "@boxassist") {
		t.Errorf("message id = %q", id)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Errorf("addr = %s", gotAddr)
	}
	if gotFrom != "coach@box.example.com" || len(gotTo) != 1 || gotTo[0] != "sam@example.com" {
		t.Errorf("envelope = %s -> %v", gotFrom, gotTo)
	}
	body := string(gotBody)
	if !strings.Contains(body, "Come back for the 6am class!") {
		t.Errorf("body missing content:\n%s", body)
	}
	if !strings.Contains(body, "To: sam@example.com") {
		t.Errorf("body missing To header:\n%s", body)
	}
}

func TestEmailAdapterSendFailure(t *testing.T) {
	adapter, err := NewEmailAdapter(config.EmailConfig{
		SMTPHost: "smtp.example.com", SMTPPort: 587, From: "coach@box.example.com",
	}, nil)
	if err != nil {
		t.Fatalf("NewEmailAdapter: %v", err)
	}
	adapter.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	if _, err := adapter.Send(context.Background(), &OutboundMessage{To: "sam@example.com"}); err == nil {
		t.Error("SMTP failure should surface")
	}
}

func TestEmailAdapterCancelled(t *testing.T) {
	adapter, err := NewEmailAdapter(config.EmailConfig{
		SMTPHost: "smtp.example.com", SMTPPort: 587, From: "coach@box.example.com",
	}, nil)
	if err != nil {
		t.Fatalf("NewEmailAdapter: %v", err)
	}
	adapter.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		time.Sleep(time.Second)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := adapter.Send(ctx, &OutboundMessage{To: "sam@example.com"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestEmailAdapterConfigValidation(t *testing.T) {
	if _, err := NewEmailAdapter(config.EmailConfig{From: "x@y"}, nil); err == nil {
		t.Error("missing host should fail")
	}
	if _, err := NewEmailAdapter(config.EmailConfig{SMTPHost: "h"}, nil); err == nil {
		t.Error("missing from should fail")
	}
}

func TestSMSAdapterSend(t *testing.T) {
	var gotAuth string
	var gotReq smsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(smsResponse{ID: "prov-42"})
	}))
	defer server.Close()

	adapter, err := NewSMSAdapter(config.SMSConfig{
		URL: server.URL, Token: "tok-1", From: "+15550000",
	}, nil)
	if err != nil {
		t.Fatalf("NewSMSAdapter: %v", err)
	}

	id, err := adapter.Send(context.Background(), &OutboundMessage{
		To: "+15550100", Body: "see you at open gym?",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "prov-42" {
		t.Errorf("external id = %s", id)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("auth header = %s", gotAuth)
	}
	if gotReq.From != "+15550000" || gotReq.To != "+15550100" {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestSMSAdapterGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid number", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	adapter, err := NewSMSAdapter(config.SMSConfig{URL: server.URL, From: "+15550000"}, nil)
	if err != nil {
		t.Fatalf("NewSMSAdapter: %v", err)
	}

	_, err = adapter.Send(context.Background(), &OutboundMessage{To: "+15550100", Body: "hi"})
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Errorf("err = %v, want gateway status error", err)
	}
}
