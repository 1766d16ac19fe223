package main

import (
	"context"
	"log/slog"

	"github.com/plateful/identity/internal/auth"
	"github.com/plateful/identity/internal/auth/postgres"
	"github.com/plateful/identity/internal/observability"
	"github.com/plateful/identity/internal/store"
)

// Database is the pool surface the serve command needs: the repository
// query interface plus Close. Satisfied by *pgxpool.Pool.
type Database interface {
	postgres.DB
	Close()
}

// AutoMigrator wraps the migration methods used during startup.
// Implemented by store.Migrator.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// APIServer wraps the methods used from httpapi.Server.
type APIServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ServeDeps contains injectable dependencies for the serve command.
// All nil fields fall back to their default implementations.
type ServeDeps struct {
	// DatabaseFactory opens the connection pool.
	// Default: store.Connect with default options.
	DatabaseFactory func(ctx context.Context, url string) (Database, error)

	// MigratorFactory creates a migrator for startup auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// AutoMigrateGetter reports whether migrations run on startup.
	// Default: parseAutoMigrate (IDENTITY_DB_AUTO_MIGRATE env var)
	AutoMigrateGetter func() bool

	// DatabaseURLGetter returns the database URL.
	// Default: reads from DATABASE_URL environment variable
	DatabaseURLGetter func() string

	// SecretsGetter returns the access and refresh token signing secrets.
	// Default: reads IDENTITY_ACCESS_SECRET and IDENTITY_REFRESH_SECRET
	SecretsGetter func() (access, refresh []byte, err error)

	// MailerFactory creates the outbound mailer.
	// Default: SMTP when mail-mode=smtp, log mailer otherwise
	MailerFactory func(cfg *serveConfig, logger *slog.Logger) (auth.Mailer, error)

	// APIServerFactory creates the HTTP API server.
	// Default: httpapi.NewServer
	APIServerFactory func(cfg *serveConfig, deps apiDeps) (APIServer, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer
}

// defaultDatabaseFactory opens a pgx pool with the standard options.
func defaultDatabaseFactory(ctx context.Context, url string) (Database, error) {
	return store.Connect(ctx, url, store.DefaultConnectOptions())
}

// defaultMigratorFactory creates a store.Migrator.
func defaultMigratorFactory(databaseURL string) (AutoMigrator, error) {
	return store.NewMigrator(databaseURL)
}
