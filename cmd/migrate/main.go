package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ussu1112/back-officener/internal/directory"
	"github.com/Ussu1112/back-officener/internal/migrate"
	"github.com/Ussu1112/back-officener/internal/obs"
	"github.com/Ussu1112/back-officener/migrations"
)

var (
	dsn     string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Manage the back-officener database schema",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
		applied, err := m.Up(ctx)
		for _, name := range applied {
			fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
		}
		if err == nil && len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		}
		return err
	}),
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
		name, err := m.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "rolled back", name)
		return nil
	}),
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load seed data that has not been applied",
	RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
		applied, err := m.Seed(ctx)
		for _, name := range applied {
			fmt.Fprintln(cmd.OutOrStdout(), "seeded", name)
		}
		return err
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied and pending migrations",
	RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
		applied, err := m.Status(ctx)
		if err != nil {
			return err
		}
		pending, err := m.Pending(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, name := range applied {
			fmt.Fprintln(out, "applied ", name)
		}
		for _, name := range pending {
			fmt.Fprintln(out, "pending ", name)
		}
		return nil
	}),
}

func init() {
	_ = godotenv.Load()
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN (defaults to DATABASE_URL)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline for the command")
	rootCmd.AddCommand(upCmd, downCmd, seedCmd, statusCmd)
}

func withManager(run func(context.Context, *cobra.Command, *migrate.Manager) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if dsn == "" {
			return fmt.Errorf("missing DSN: provide via --dsn or DATABASE_URL")
		}
		logger, err := obs.NewLogger(os.Getenv("APP_ENV"))
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		db, err := directory.Open(dsn)
		if err != nil {
			return err
		}
		defer func(db *sql.DB) { _ = db.Close() }(db)

		m := migrate.NewManager(db, migrations.FS, migrations.SQLDir, migrations.SeedsDir,
			migrate.WithLogger(logger.Named("migrate")))
		if err := run(ctx, cmd, m); err != nil {
			logger.Error("migrate failed", zap.String("command", cmd.Name()), zap.Error(err))
			return err
		}
		return nil
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
