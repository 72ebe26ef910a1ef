// Package watch runs the retention watcher: a scheduled scan that notices
// members who stopped showing up and opens automated agent sessions to win
// them back.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/duyemura/boxassist-sub000/internal/conversations"
	"github.com/duyemura/boxassist-sub000/internal/memberctx"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// SessionStarter starts a runtime session. Satisfied by *agent.Runtime.
type SessionStarter interface {
	Start(ctx context.Context, session *models.Session) (<-chan models.SessionEvent, error)
}

// Config drives the watcher.
type Config struct {
	// Schedule is a standard five-field cron expression.
	Schedule string

	// InactiveDays is how long without a visit counts as gone quiet.
	InactiveDays int

	// Accounts are the tenant ids to scan.
	Accounts []string

	// SessionDefaults supplies autonomy and budgets for opened sessions.
	SessionDefaults models.SessionConfig
}

// Watcher scans for quiet members on a cron schedule.
type Watcher struct {
	dir     memberctx.Directory
	router  *conversations.Router
	convs   conversations.Store
	runtime SessionStarter
	cfg     Config
	cron    *cron.Cron
	logger  *slog.Logger
}

// New builds a watcher. Start must be called to begin scanning.
func New(dir memberctx.Directory, router *conversations.Router, convs conversations.Store, runtime SessionStarter, cfg Config, logger *slog.Logger) (*Watcher, error) {
	if cfg.Schedule == "" {
		return nil, fmt.Errorf("watch: schedule required")
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("watch: invalid schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.InactiveDays <= 0 {
		cfg.InactiveDays = 14
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:     dir,
		router:  router,
		convs:   convs,
		runtime: runtime,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Start schedules the scan. The passed context bounds each scan run.
func (w *Watcher) Start(ctx context.Context) error {
	w.cron = cron.New()
	_, err := w.cron.AddFunc(w.cfg.Schedule, func() {
		scanCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		if _, err := w.Scan(scanCtx); err != nil {
			w.logger.Error("retention scan failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("watch: schedule scan: %w", err)
	}
	w.cron.Start()
	w.logger.Info("retention watcher started",
		"schedule", w.cfg.Schedule,
		"inactive_days", w.cfg.InactiveDays,
		"accounts", len(w.cfg.Accounts))
	return nil
}

// Stop halts scheduling and waits for a running scan to finish.
func (w *Watcher) Stop() {
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
}

// Scan walks every account once and opens sessions for quiet members. It
// returns how many sessions it opened. A failure on one member is logged
// and does not stop the scan.
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -w.cfg.InactiveDays)
	opened := 0

	for _, accountID := range w.cfg.Accounts {
		members, err := w.dir.Inactive(ctx, accountID, cutoff)
		if err != nil {
			return opened, fmt.Errorf("scan %s: %w", accountID, err)
		}
		for _, member := range members {
			if err := ctx.Err(); err != nil {
				return opened, err
			}
			ok, err := w.reachOut(ctx, accountID, member)
			if err != nil {
				w.logger.Warn("outreach failed",
					"account_id", accountID,
					"member_id", member.MemberID,
					"error", err)
				continue
			}
			if ok {
				opened++
			}
		}
	}
	return opened, nil
}

func (w *Watcher) reachOut(ctx context.Context, accountID string, member *memberctx.Profile) (bool, error) {
	channel, ok := preferredChannel(member)
	if !ok {
		w.logger.Debug("member has no reachable channel", "member_id", member.MemberID)
		return false, nil
	}

	contact := models.Contact{
		MemberID: member.MemberID,
		Name:     member.Name,
		Email:    member.Email,
		Phone:    member.Phone,
	}
	conv, _, err := w.router.Route(ctx, conversations.Inbound{
		AccountID: accountID,
		Contact:   contact,
		Channel:   channel,
		Content:   quietNote(member),
	})
	if err != nil {
		return false, err
	}
	if conv.ActiveSessionID != "" {
		// A session already owns this thread; do not pile on.
		return false, nil
	}

	cfg := w.cfg.SessionDefaults
	cfg.Goal = outreachGoal(member)
	session := models.NewSession(accountID, conv.AssignedRole, models.CreatorAutomation, cfg)
	session.ConversationID = conv.ID

	events, err := w.runtime.Start(ctx, session)
	if err != nil {
		return false, err
	}
	go w.drain(session.ID, events)

	linked, err := w.convs.LinkSession(ctx, conv.ID, "", session.ID)
	if err != nil {
		return false, err
	}
	if !linked {
		w.logger.Warn("watcher lost session link race",
			"conversation_id", conv.ID, "session_id", session.ID)
	}

	w.logger.Info("opened retention session",
		"account_id", accountID,
		"member_id", member.MemberID,
		"session_id", session.ID,
		"channel", string(channel))
	return true, nil
}

func (w *Watcher) drain(sessionID string, events <-chan models.SessionEvent) {
	for event := range events {
		if event.Type == models.EventError {
			w.logger.Error("retention session failed",
				"session_id", sessionID, "error", event.Error)
		}
	}
}

func preferredChannel(member *memberctx.Profile) (models.ChannelType, bool) {
	switch {
	case member.Email != "":
		return models.ChannelEmail, true
	case member.Phone != "":
		return models.ChannelSMS, true
	}
	return "", false
}

func quietNote(member *memberctx.Profile) string {
	if member.LastVisit.IsZero() {
		return fmt.Sprintf("[automated] %s has never visited", member.Name)
	}
	return fmt.Sprintf("[automated] %s last visited on %s",
		member.Name, member.LastVisit.Format("2006-01-02"))
}

func outreachGoal(member *memberctx.Profile) string {
	goal := fmt.Sprintf("Member %s (%s) has gone quiet", member.Name, member.MemberID)
	if !member.LastVisit.IsZero() {
		goal += fmt.Sprintf("; last visit %s", member.LastVisit.Format("2006-01-02"))
	}
	goal += ". Check their profile and attendance, then reach out with a friendly, personal message to get them back in the gym. Do not offer discounts or credits."
	return goal
}
