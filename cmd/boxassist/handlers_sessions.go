package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duyemura/boxassist-sub000/pkg/models"
)

type sessionRunOptions struct {
	configPath     string
	accountID      string
	role           string
	goal           string
	autonomy       string
	conversationID string
	maxTurns       int
}

// runSessionRun drives one session from the terminal and streams its
// events until the final one.
func runSessionRun(cmd *cobra.Command, opts sessionRunOptions) error {
	if opts.accountID == "" {
		return fmt.Errorf("--account is required")
	}
	if opts.goal == "" {
		return fmt.Errorf("--goal is required")
	}
	role := models.AgentRole(opts.role)
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", opts.role)
	}

	svc, err := loadService(opts.configPath, false)
	if err != nil {
		return err
	}

	cfg := svc.SessionDefaults()
	cfg.Goal = opts.goal
	if opts.autonomy != "" {
		cfg.Autonomy = models.AutonomyMode(opts.autonomy)
	}
	if opts.maxTurns > 0 {
		cfg.MaxTurns = opts.maxTurns
	}

	session := models.NewSession(opts.accountID, role, models.CreatorHuman, cfg)
	session.ConversationID = opts.conversationID

	events, err := svc.Start(cmd.Context(), session)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	final := streamEvents(cmd.OutOrStdout(), events)
	if final.Type == models.EventError {
		return fmt.Errorf("session %s failed: %s", session.ID, final.Error)
	}
	return nil
}
