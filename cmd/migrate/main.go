// Command migrate applies pending schema migrations and exits. Safe to run
// while API instances start: every runner serialises on the same lock.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"moderation-queue/internal/config"
	"moderation-queue/internal/logging"
	"moderation-queue/internal/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the moderation queue database schema",
		Long: `migrate applies the embedded SQL migrations to DATABASE_URL.
Runners on several hosts can start together: they take turns on a Postgres
advisory lock and each migration is recorded once in the _migrations ledger.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(upCmd())
	rootCmd.AddCommand(statusCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

func upCmd() *cobra.Command {
	var lockTimeout, pollInterval time.Duration

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := logging.New(cfg.LogLevel)
			if cmd.Flags().Changed("lock-timeout") {
				cfg.MigrationLockTimeout = lockTimeout
			}
			if cmd.Flags().Changed("poll-interval") {
				cfg.MigrationLockPollInterval = pollInterval
			}

			st, err := store.New(cmd.Context(), cfg.DatabaseURL, store.PoolOptions{MaxConns: 2})
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer st.Close()

			report, err := st.RunMigrations(cmd.Context(), migratorOptions(cfg, logger))
			logger.WithFields(logrus.Fields{
				"instance_id": report.InstanceID,
				"state":       report.State.String(),
				"lock_wait":   report.LockWait.String(),
			}).Debug("migration run finished")
			if err != nil {
				return fmt.Errorf("migrations %s: %w", report.State, err)
			}

			for _, name := range report.Applied {
				fmt.Printf("%s %s\n", color.GreenString("applied"), name)
			}
			for _, name := range report.Skipped {
				fmt.Printf("%s %s\n", color.New(color.Faint).Sprint("skipped"), name)
			}
			fmt.Printf("%d applied, %d already present (waited %s for lock)\n",
				len(report.Applied), len(report.Skipped), report.LockWait.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().DurationVar(&lockTimeout, "lock-timeout", 0, "give up waiting for the migration lock after this long (default MIGRATION_LOCK_TIMEOUT)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "retry the migration lock this often (default MIGRATION_LOCK_POLL_INTERVAL)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether the ledger records them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := logging.New(cfg.LogLevel)

			st, err := store.New(cmd.Context(), cfg.DatabaseURL, store.PoolOptions{MaxConns: 1})
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer st.Close()

			entries, err := st.MigrationStatus(cmd.Context(), migratorOptions(cfg, logger))
			if err != nil {
				return err
			}
			pending := 0
			for _, e := range entries {
				if !e.Applied {
					pending++
					fmt.Printf("%s %s\n", color.YellowString("pending"), e.Name)
					continue
				}
				fmt.Printf("%s %s  %s  %s\n", color.GreenString("applied"), e.Name,
					e.AppliedAt.Format(time.RFC3339), e.AppliedBy)
			}
			fmt.Printf("%d migrations, %d pending\n", len(entries), pending)
			return nil
		},
	}
}

func migratorOptions(cfg config.Config, logger logrus.FieldLogger) store.MigratorOptions {
	return store.MigratorOptions{
		LockKey:      cfg.MigrationLockKey,
		LockTimeout:  cfg.MigrationLockTimeout,
		PollInterval: cfg.MigrationLockPollInterval,
		Logger:       logger,
	}
}
