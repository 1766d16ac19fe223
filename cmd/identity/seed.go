// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/plateful/identity/internal/auth"
	"github.com/plateful/identity/internal/auth/postgres"
	"github.com/plateful/identity/internal/seed"
)

// Default timeout for seed command.
const defaultSeedTimeout = 30 * time.Second

// seedConfig holds configuration for the seed command.
type seedConfig struct {
	file    string
	timeout time.Duration
}

// SeedDeps contains injectable dependencies for the seed command.
// All nil fields fall back to their default implementations.
type SeedDeps struct {
	// DatabaseFactory opens the connection pool.
	DatabaseFactory func(ctx context.Context, url string) (Database, error)

	// MigratorFactory creates a migrator so seeding runs against the
	// current schema.
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// StoreFactory builds the credential store over the pool.
	StoreFactory func(db Database) (auth.CredentialStore, error)

	// DatabaseURLGetter returns the database URL.
	DatabaseURLGetter func() (string, error)
}

// NewSeedCmd creates the seed subcommand.
func NewSeedCmd() *cobra.Command {
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create accounts from a seed-users.yaml file",
		Long: `Creates user accounts defined in a seed-users.yaml file.
This command is idempotent - accounts whose email already exists are
skipped rather than duplicated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeedWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().StringVar(&cfg.file, "file", "seed-users.yaml", "path to the seed users file")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSeedTimeout, "timeout for database operations (e.g., 30s, 1m)")

	return cmd
}

func runSeedWithDeps(ctx context.Context, cfg *seedConfig, cmd *cobra.Command, deps *SeedDeps) error {
	if deps == nil {
		deps = &SeedDeps{}
	}
	if deps.DatabaseFactory == nil {
		deps.DatabaseFactory = defaultDatabaseFactory
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = defaultMigratorFactory
	}
	if deps.StoreFactory == nil {
		deps.StoreFactory = func(db Database) (auth.CredentialStore, error) {
			return postgres.NewUserRepository(db, auth.NewArgon2idHasher())
		}
	}
	if deps.DatabaseURLGetter == nil {
		deps.DatabaseURLGetter = getDatabaseURL
	}

	data, err := os.ReadFile(cfg.file)
	if err != nil {
		return oops.Code("SEED_FAILED").With("path", cfg.file).Wrap(err)
	}
	seedFile, err := seed.ParseFile(data)
	if err != nil {
		return oops.Code("SEED_FAILED").With("path", cfg.file).Wrap(err)
	}

	databaseURL, err := deps.DatabaseURLGetter()
	if err != nil {
		return err
	}

	// Add timeout to prevent indefinite hangs
	// Use cmd.Context() to respect SIGINT/SIGTERM signals
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	cmd.Println("Running migrations...")
	if err := runAutoMigration(databaseURL, deps.MigratorFactory); err != nil {
		return err
	}

	cmd.Println("Connecting to database...")
	db, err := deps.DatabaseFactory(ctx, databaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()

	users, err := deps.StoreFactory(db)
	if err != nil {
		return oops.Code("SEED_FAILED").With("operation", "create credential store").Wrap(err)
	}

	var created, skipped int
	for _, entry := range seedFile.Users {
		user, err := users.Create(ctx, entry.Params())
		if err != nil {
			if errors.Is(err, auth.ErrEmailTaken) {
				cmd.Printf("Skipping %s: account already exists\n", entry.Email)
				skipped++
				continue
			}
			return oops.Code("SEED_FAILED").
				With("email", entry.Email).
				Wrap(err)
		}

		if entry.EmailVerified {
			if err := users.SetEmailVerified(ctx, user.ID); err != nil {
				return oops.Code("SEED_FAILED").
					With("email", entry.Email).
					With("operation", "mark email verified").
					Wrap(err)
			}
		}

		if entry.Active != nil && !*entry.Active {
			if err := users.SetActive(ctx, user.ID, false); err != nil {
				return oops.Code("SEED_FAILED").
					With("email", entry.Email).
					With("operation", "deactivate account").
					Wrap(err)
			}
		}

		cmd.Printf("Created %s (%s)\n", entry.Email, user.Role)
		created++
	}

	slog.Info("seeding complete", "created", created, "skipped", skipped)
	cmd.Printf("Seeding complete: %d created, %d skipped\n", created, skipped)
	return nil
}
