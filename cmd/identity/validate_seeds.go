// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/plateful/identity/internal/seed"
)

// NewValidateSeedsCmd creates the validate-seeds subcommand.
func NewValidateSeedsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-seeds <file>...",
		Short: "Validate seed user files without touching the database",
		Long: `Validates seed-users.yaml files against the seed schema and the
account field rules. Does NOT connect to the database.
Exits with code 0 on success, non-zero on failure.

Useful in CI pipelines to catch seed file errors early:
  identity validate-seeds deploy/seed-users.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runValidateSeeds(args)
		},
	}
}

func runValidateSeeds(paths []string) error {
	var failures []string
	for _, path := range paths {
		if err := validateSeedFile(path); err != nil {
			failures = append(failures, fmt.Sprintf("  %s: %v", path, err))
		}
	}

	if len(failures) > 0 {
		for _, f := range failures {
			slog.Error("seed validation failed", "detail", f)
		}
		return fmt.Errorf("validation failed: %d of %d seed files invalid", len(failures), len(paths))
	}

	slog.Info("all seed files valid", "count", len(paths))
	return nil
}

// validateSeedFile checks one file against the schema first for precise
// field-level errors, then against the account rules.
func validateSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := seed.ValidateSchema(data); err != nil {
		return fmt.Errorf("%s", seed.FormatSchemaError(err))
	}

	if _, err := seed.ParseFile(data); err != nil {
		return err
	}
	return nil
}
