package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgekit/agentcore/internal/config"
	"github.com/forgekit/agentcore/internal/contextstore"
	"github.com/forgekit/agentcore/internal/jobs"
)

// runMigrateUp loads cfg.Database and runs EnsureSchema against the
// configured SQL backing.
func runMigrateUp(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	switch cfg.Database.Driver {
	case "memory", "":
		slog.Info("database.driver is memory: nothing to migrate")
		return nil

	case "postgres":
		backing, err := contextstore.NewPostgresBacking(cfg.Database.URL, contextstore.DefaultPostgresConfig())
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		if err := backing.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		jobStore, err := jobs.NewCockroachStoreFromDSN(cfg.Database.URL, nil)
		if err != nil {
			return fmt.Errorf("connect postgres for job store: %w", err)
		}
		defer jobStore.Close()
		if err := jobStore.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("apply job schema: %w", err)
		}
		slog.Info("postgres schema ensured")
		return nil

	case "sqlite":
		backing, err := contextstore.NewSQLiteBacking(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		if err := backing.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		slog.Info("sqlite schema ensured")
		return nil

	default:
		return fmt.Errorf("unsupported database.driver %q", cfg.Database.Driver)
	}
}

// runMigrateStatus reports whether the configured backing is reachable and
// its schema is in place, without mutating anything beyond the idempotent
// EnsureSchema call.
func runMigrateStatus(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Printf("database.driver: %s\n", cfg.Database.Driver)
	if cfg.Database.Driver == "memory" || cfg.Database.Driver == "" {
		fmt.Println("status: no durable schema (memory driver)")
		return nil
	}

	if err := runMigrateUp(cmd, configPath); err != nil {
		fmt.Printf("status: unreachable (%v)\n", err)
		return err
	}
	fmt.Println("status: reachable, schema present")
	return nil
}
