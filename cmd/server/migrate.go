package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ticketform/backend/internal/config"
	"github.com/ticketform/backend/internal/db"
)

func newMigrateCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the drafts and tickets tables",
		Long: `Applies the embedded schema for the backend selected by DATABASE_URL
(postgres:// or sqlite:). Safe to run multiple times.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), cmd.OutOrStdout(), *envFile)
		},
	}
}

func runMigrate(ctx context.Context, out io.Writer, envFile string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadFile(envFile)
	if err != nil {
		return fmt.Errorf("migrate: load config: %w", err)
	}
	logger := newLogger(cfg)

	store, err := db.Open(ctx, cfg.DatabaseURL, storeOptions(cfg, logger))
	if err != nil {
		return fmt.Errorf("migrate: open store: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "schema up to date")
	return nil
}

func storeOptions(cfg config.Config, logger zerolog.Logger) db.Options {
	return db.Options{
		LockTimeout:   cfg.DBLockTimeout,
		RetryAttempts: cfg.DBRetryAttempts,
		RetryBackoff:  cfg.DBRetryBackoff,
		Logger:        logger,
	}
}
