package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/duyemura/boxassist-sub000/internal/service"
)

// runMigrate creates the schema. It opens the database directly so running
// migrations never requires provider credentials.
func runMigrate(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath, false)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("migrate: database.url not configured")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := service.MigrateDB(ctx, db); err != nil {
		return err
	}
	fmt.Println("schema up to date")
	return nil
}
