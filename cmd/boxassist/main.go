// Package main provides the CLI entry point for the boxassist retention
// agent service.
//
// Start the server:
//
//	boxassist serve --config boxassist.yaml
//
// Drive a one-off session from the terminal:
//
//	boxassist session run --account acct-1 --goal "Check in on m-17"
//
// Decide a pending approval:
//
//	boxassist approvals list --account acct-1
//	boxassist approvals approve <id> --by owner@gym.test
//
// Configuration can reference environment variables; ANTHROPIC_API_KEY and
// OPENAI_API_KEY are the usual ones. BOXASSIST_CONFIG overrides the default
// config path.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "boxassist",
		Short:        "boxassist - retention agents for fitness businesses",
		Long:         "boxassist runs bounded agent sessions that notice quiet gym members,\nreach out over email or SMS, and hand risky decisions to a human.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildSessionCmd(),
		buildApprovalsCmd(),
	)
	return rootCmd
}

// defaultConfigPath resolves the config file path from the environment.
func defaultConfigPath() string {
	if path := os.Getenv("BOXASSIST_CONFIG"); path != "" {
		return path
	}
	return "boxassist.yaml"
}
