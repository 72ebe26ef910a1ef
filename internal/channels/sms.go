package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/duyemura/boxassist-sub000/internal/config"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// SMSAdapter posts messages to an HTTP SMS gateway. The gateway contract
// is a JSON POST returning {"id": "..."} on 2xx.
type SMSAdapter struct {
	cfg        config.SMSConfig
	logger     *slog.Logger
	httpClient *http.Client
}

// NewSMSAdapter builds the SMS adapter.
func NewSMSAdapter(cfg config.SMSConfig, logger *slog.Logger) (*SMSAdapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("sms: gateway url required")
	}
	if cfg.From == "" {
		return nil, errors.New("sms: from number required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMSAdapter{
		cfg:        cfg,
		logger:     logger.With("adapter", "sms"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (a *SMSAdapter) Type() models.ChannelType { return models.ChannelSMS }

type smsRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

type smsResponse struct {
	ID string `json:"id"`
}

func (a *SMSAdapter) Send(ctx context.Context, msg *OutboundMessage) (string, error) {
	if msg.To == "" {
		return "", errors.New("sms: recipient required")
	}

	payload, err := json.Marshal(smsRequest{From: a.cfg.From, To: msg.To, Body: msg.Body})
	if err != nil {
		return "", fmt.Errorf("sms: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("sms: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sms: send to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("sms: gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var parsed smsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		// Delivery succeeded even if the id is unreadable.
		a.logger.Warn("sms gateway response not parseable", "error", err)
		return "", nil
	}

	a.logger.Debug("sms sent", "to", msg.To, "external_id", parsed.ID)
	return parsed.ID, nil
}
