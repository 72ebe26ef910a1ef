package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/duyemura/boxassist-sub000/internal/service"
)

// runServe implements the serve command: wire the service, run it, and
// shut down gracefully on SIGINT/SIGTERM.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath, debug)
	if err != nil {
		return err
	}
	logger := buildLogger(cfg)

	logger.Info("starting boxassist",
		"version", version,
		"commit", commit,
		"config", configPath,
		"provider", cfg.Providers.Default)

	svc, err := service.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize service: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	slog.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := svc.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("boxassist stopped")
	return nil
}
