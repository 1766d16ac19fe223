// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package main

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// autoMigrateEnvVar controls whether migrations run on startup.
const autoMigrateEnvVar = "IDENTITY_DB_AUTO_MIGRATE"

// parseAutoMigrate reads the auto-migration setting from the environment.
// Unset or unrecognized values default to true.
func parseAutoMigrate() bool {
	val := os.Getenv(autoMigrateEnvVar)
	if val == "" {
		return true
	}

	enabled, err := strconv.ParseBool(strings.ToLower(val))
	if err != nil {
		slog.Warn("unrecognized value for auto-migrate setting, defaulting to enabled",
			"var", autoMigrateEnvVar,
			"value", val,
		)
		return true
	}
	return enabled
}

// runAutoMigration applies all pending migrations on startup.
func runAutoMigration(databaseURL string, factory func(string) (AutoMigrator, error)) error {
	slog.Info("running startup migrations")

	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").
			With("operation", "create migrator").
			Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Warn("error closing migrator, connection may leak", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").
			With("operation", "apply migrations").
			Wrap(err)
	}

	slog.Info("startup migrations complete")
	return nil
}
