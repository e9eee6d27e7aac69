// Command migrate applies the embedded schema and can seed a sample event.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-tickets/internal/config"
	"ms-tickets/internal/database/migrations"
	"ms-tickets/internal/logger"
	"ms-tickets/internal/models"
	ticket_db "ms-tickets/internal/tickets/db"
)

// opener connects to the database a subcommand works on.
type opener func(ctx context.Context) (*bun.DB, error)

func main() {
	log := logger.NewLogger()
	defer log.Close()

	_ = godotenv.Load()
	cfg := config.Load()

	rootCmd := newRootCmd(log, postgresOpener(cfg))
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal("MIGRATION", err.Error())
	}
}

func newRootCmd(log *logger.Logger, open opener) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the ticket service schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(upCmd(log, open))
	rootCmd.AddCommand(downCmd(log, open))
	rootCmd.AddCommand(toCmd(log, open))
	rootCmd.AddCommand(versionCmd(log, open))
	rootCmd.AddCommand(seedCmd(log, open))
	return rootCmd
}

func upCmd(log *logger.Logger, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, log, open, func(_ context.Context, _ *bun.DB, runner *migrations.Runner) error {
				return runner.RunMigrations()
			})
		},
	}
}

func downCmd(log *logger.Logger, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, log, open, func(_ context.Context, _ *bun.DB, runner *migrations.Runner) error {
				return runner.MigrateDown()
			})
		},
	}
}

func toCmd(log *logger.Logger, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "to [version]",
		Short: "Migrate up or down to a specific version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return withRunner(cmd, log, open, func(_ context.Context, _ *bun.DB, runner *migrations.Runner) error {
				return runner.MigrateTo(uint(target))
			})
		},
	}
}

func versionCmd(log *logger.Logger, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, log, open, func(_ context.Context, _ *bun.DB, runner *migrations.Runner) error {
				v, dirty, err := runner.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", v, dirty)
				return nil
			})
		},
	}
}

func seedCmd(log *logger.Logger, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Apply migrations and add a sample event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, log, open, func(ctx context.Context, db *bun.DB, runner *migrations.Runner) error {
				if err := runner.RunMigrations(); err != nil {
					return err
				}
				return seedData(ctx, db)
			})
		},
	}
}

func withRunner(cmd *cobra.Command, log *logger.Logger, open opener, fn func(context.Context, *bun.DB, *migrations.Runner) error) error {
	ctx := cmd.Context()
	db, err := open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	runner := migrations.NewRunner(db, log)
	defer runner.Close()

	if err := fn(ctx, db, runner); err != nil {
		return err
	}
	log.Info("MIGRATION", fmt.Sprintf("%s done", cmd.Name()))
	return nil
}

func postgresOpener(cfg *config.Config) opener {
	return func(ctx context.Context) (*bun.DB, error) {
		if cfg.Database.DSN == "" {
			return nil, &config.MissingKeyError{Key: "POSTGRES_DSN"}
		}
		sqldb, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open PostgreSQL: %w", err)
		}
		if err := sqldb.PingContext(ctx); err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	}
}

// seedData adds a sample event so a local checkout has something to ticket.
func seedData(ctx context.Context, db *bun.DB) error {
	event := models.Event{
		ID:             "event001",
		Name:           "Summer Fest",
		StartsAt:       time.Now().AddDate(0, 1, 0).Truncate(time.Hour),
		VenueName:      "Riverside Amphitheater",
		VenueAddress:   "1 Harbor Way",
		VenueCity:      "Portland, OR",
		DoorTime:       "6:00 PM",
		ShowTime:       "7:30 PM",
		AgeRestriction: "All Ages",
		Genre:          "Indie Rock",
	}
	return (&ticket_db.DB{Bun: db}).UpsertEvent(ctx, event)
}
