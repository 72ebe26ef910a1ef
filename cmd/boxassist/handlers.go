// handlers.go holds the helpers shared across command handlers: config and
// service loading, log setup, and event stream rendering.
package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/duyemura/boxassist-sub000/internal/config"
	"github.com/duyemura/boxassist-sub000/internal/observability"
	"github.com/duyemura/boxassist-sub000/internal/service"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// loadConfig reads the config file and applies the debug override.
func loadConfig(configPath string, debug bool) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// buildLogger installs the configured logger as the process default and
// returns its slog handle for wiring.
func buildLogger(cfg *config.Config) *slog.Logger {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}).Slog()
	slog.SetDefault(logger)
	return logger
}

// loadService builds a fully wired Service from a config path.
func loadService(configPath string, debug bool) (*service.Service, error) {
	cfg, err := loadConfig(configPath, debug)
	if err != nil {
		return nil, err
	}
	return service.New(cfg, buildLogger(cfg))
}

// streamEvents renders a session's event stream and returns the final
// event. The stream closes after exactly one final event.
func streamEvents(out io.Writer, events <-chan models.SessionEvent) models.SessionEvent {
	var last models.SessionEvent
	for event := range events {
		last = event
		switch event.Type {
		case models.EventSessionCreated:
			fmt.Fprintf(out, "session %s started\n", event.SessionID)
		case models.EventMessage:
			fmt.Fprintf(out, "[turn %d] %s\n", event.Turn, event.Content)
		case models.EventToolCall:
			fmt.Fprintf(out, "[turn %d] -> %s %s\n", event.Turn, event.ToolCall.Name, event.ToolCall.Input)
		case models.EventToolResult:
			fmt.Fprintf(out, "[turn %d] <- %s: %s\n", event.Turn, event.ToolResult.Name, truncate(event.ToolResult.Content, 300))
		case models.EventAwaitingApproval:
			fmt.Fprintf(out, "awaiting approval: %s wants to call %s (%s)\n",
				event.SessionID, event.ToolCall.Name, event.Content)
			fmt.Fprintf(out, "decide with: boxassist approvals list\n")
		case models.EventBudgetExceeded:
			fmt.Fprintf(out, "budget exceeded: %s\n", event.Content)
		case models.EventError:
			fmt.Fprintf(out, "session failed: %s\n", event.Error)
		case models.EventDone:
			fmt.Fprintf(out, "session %s completed\n", event.SessionID)
		}
	}
	return last
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
