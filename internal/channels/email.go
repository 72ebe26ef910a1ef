package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/duyemura/boxassist-sub000/internal/config"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// EmailAdapter sends mail over SMTP with STARTTLS auth.
type EmailAdapter struct {
	cfg    config.EmailConfig
	logger *slog.Logger

	// sendMail is swapped in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailAdapter builds the SMTP adapter.
func NewEmailAdapter(cfg config.EmailConfig, logger *slog.Logger) (*EmailAdapter, error) {
	if cfg.SMTPHost == "" {
		return nil, errors.New("email: smtp_host required")
	}
	if cfg.From == "" {
		return nil, errors.New("email: from address required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailAdapter{
		cfg:      cfg,
		logger:   logger.With("adapter", "email"),
		sendMail: smtp.SendMail,
	}, nil
}

func (a *EmailAdapter) Type() models.ChannelType { return models.ChannelEmail }

func (a *EmailAdapter) Send(ctx context.Context, msg *OutboundMessage) (string, error) {
	if msg.To == "" {
		return "", errors.New("email: recipient required")
	}

	messageID := fmt.Sprintf("<%s@boxassist>", uuid.NewString())
	body := buildMIMEMessage(a.cfg.From, msg.To, msg.Subject, msg.Body, messageID)

	var auth smtp.Auth
	if a.cfg.Username != "" {
		auth = smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", a.cfg.SMTPHost, a.cfg.SMTPPort)

	// net/smtp has no context support; run the send in a goroutine and
	// abandon it on deadline.
	done := make(chan error, 1)
	go func() {
		done <- a.sendMail(addr, auth, a.cfg.From, []string{msg.To}, body)
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("email: send cancelled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("email: send to %s: %w", msg.To, err)
		}
	}

	a.logger.Debug("email sent", "to", msg.To, "message_id", messageID)
	return messageID, nil
}

func buildMIMEMessage(from, to, subject, body, messageID string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
