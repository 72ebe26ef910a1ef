// commands.go contains the cobra command definitions and their flags. Each
// builder wires a command to its handler in the handlers_*.go files.
package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the service.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the boxassist service",
		Long: `Start the boxassist service with the configured provider and channels.

The service will:
1. Load configuration from the specified file (or boxassist.yaml)
2. Connect to Postgres, or fall back to in-memory stores
3. Register the enabled channel adapters (email, SMS)
4. Start the retention watcher on its cron schedule
5. Serve Prometheus metrics and health checks over HTTP

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  boxassist serve

  # Start with a custom config and debug logging
  boxassist serve --config /etc/boxassist/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging")
	return cmd
}

// buildMigrateCmd creates the "migrate" command for schema setup.
func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Long:  "Create every table the configured Postgres stores need. Safe to run repeatedly.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Path to YAML configuration file")
	return cmd
}

// buildSessionCmd creates the "session" command group.
func buildSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run agent sessions from the terminal",
	}
	cmd.AddCommand(buildSessionRunCmd())
	return cmd
}

func buildSessionRunCmd() *cobra.Command {
	var (
		configPath     string
		accountID      string
		role           string
		goal           string
		autonomy       string
		conversationID string
		maxTurns       int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one session against a goal and stream its events",
		Example: `  # Ask the front desk agent to check on a member
  boxassist session run --account acct-1 --goal "Check in on member m-17"

  # Run a manager session in full autonomy on an existing thread
  boxassist session run --account acct-1 --role manager \
    --conversation conv-42 --autonomy full --goal "Decide on a pause request"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionRun(cmd, sessionRunOptions{
				configPath:     configPath,
				accountID:      accountID,
				role:           role,
				goal:           goal,
				autonomy:       autonomy,
				conversationID: conversationID,
				maxTurns:       maxTurns,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Path to YAML configuration file")
	cmd.Flags().StringVar(&accountID, "account", "", "Account (tenant) id (required)")
	cmd.Flags().StringVar(&role, "role", "front_desk", "Agent role: front_desk or manager")
	cmd.Flags().StringVar(&goal, "goal", "", "What the session should accomplish (required)")
	cmd.Flags().StringVar(&autonomy, "autonomy", "", "Override autonomy mode: full, assisted, or manual")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Bind the session to an existing conversation")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "Override the turn budget")
	return cmd
}

// buildApprovalsCmd creates the "approvals" command group.
func buildApprovalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "List and decide pending tool approvals",
	}
	cmd.AddCommand(
		buildApprovalsListCmd(),
		buildApprovalsDecideCmd("approve", "Approve a pending call and run the continuation"),
		buildApprovalsDecideCmd("deny", "Deny a pending call and run the continuation"),
	)
	return cmd
}

func buildApprovalsListCmd() *cobra.Command {
	var (
		configPath string
		accountID  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List calls waiting for sign-off",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalsList(cmd, configPath, accountID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Path to YAML configuration file")
	cmd.Flags().StringVar(&accountID, "account", "", "Limit to one account")
	return cmd
}

func buildApprovalsDecideCmd(verb, short string) *cobra.Command {
	var (
		configPath string
		decidedBy  string
	)

	cmd := &cobra.Command{
		Use:   verb + " <approval-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalsDecide(cmd, configPath, args[0], verb == "approve", decidedBy)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Path to YAML configuration file")
	cmd.Flags().StringVar(&decidedBy, "by", "", "Who is deciding (required)")
	return cmd
}
