// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/plateful/identity/internal/auth"
	"github.com/plateful/identity/internal/auth/postgres"
	"github.com/plateful/identity/internal/httpapi"
	"github.com/plateful/identity/internal/logging"
	"github.com/plateful/identity/internal/mail"
	"github.com/plateful/identity/internal/observability"
	"github.com/plateful/identity/internal/tlscert"
	"github.com/plateful/identity/internal/xdg"
)

// Default values for serve command flags.
const (
	defaultHTTPAddr     = ":8080"
	defaultMetricsAddr  = "127.0.0.1:9100"
	defaultLogFormat    = "json"
	defaultMailMode     = "log"
	defaultSMTPPort     = 587
	defaultMailRetries  = 2
	defaultMailBackoff  = 2 * time.Second
	shutdownGracePeriod = 5 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the identity HTTP service",
		Long: `Start the identity service: the HTTP API for registration, login,
token refresh, password reset and email verification, plus the
metrics/health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().String("http-addr", defaultHTTPAddr, "HTTP API listen address")
	cmd.Flags().String("metrics-addr", defaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", defaultLogFormat, "log format (json or text)")
	cmd.Flags().String("tls-cert", "", "TLS certificate file for the HTTP API")
	cmd.Flags().String("tls-key", "", "TLS key file for the HTTP API")
	cmd.Flags().Bool("dev-tls", false, "generate self-signed development certificates")
	cmd.Flags().Bool("dev-mode", false, "echo reset tokens in responses (development only)")
	cmd.Flags().Duration("access-ttl", auth.DefaultAccessTTL, "access token lifetime")
	cmd.Flags().Duration("refresh-ttl", auth.DefaultRefreshTTL, "refresh token lifetime")
	cmd.Flags().String("mail-mode", defaultMailMode, "mail delivery mode (smtp or log)")
	cmd.Flags().String("smtp-host", "", "SMTP server host")
	cmd.Flags().Int("smtp-port", defaultSMTPPort, "SMTP server port")
	cmd.Flags().String("smtp-user", "", "SMTP username")
	cmd.Flags().String("smtp-from", "", "sender address for outgoing mail")

	return cmd
}

// apiDeps bundles the collaborators handed to the API server factory.
type apiDeps struct {
	sessions      httpapi.SessionAPI
	resets        httpapi.ResetAPI
	verifications httpapi.VerifyAPI
	verifier      httpapi.TokenVerifier
	metrics       *observability.Metrics
	logger        *slog.Logger
	tlsCertFile   string
	tlsKeyFile    string
}

// runServeWithDeps starts the identity service with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *serveConfig, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}

	// Set up default factories
	if deps.DatabaseFactory == nil {
		deps.DatabaseFactory = defaultDatabaseFactory
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = defaultMigratorFactory
	}
	if deps.AutoMigrateGetter == nil {
		deps.AutoMigrateGetter = parseAutoMigrate
	}
	if deps.DatabaseURLGetter == nil {
		deps.DatabaseURLGetter = func() string {
			return os.Getenv("DATABASE_URL")
		}
	}
	if deps.SecretsGetter == nil {
		deps.SecretsGetter = getTokenSecrets
	}
	if deps.MailerFactory == nil {
		deps.MailerFactory = defaultMailerFactory
	}
	if deps.APIServerFactory == nil {
		deps.APIServerFactory = defaultAPIServerFactory
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.Setup("identity", version, cfg.logFormat, os.Stderr)

	logger.Info("starting identity service",
		"http_addr", cfg.httpAddr,
		"log_format", cfg.logFormat,
	)

	databaseURL := deps.DatabaseURLGetter()
	if databaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL environment variable is required")
	}

	if deps.AutoMigrateGetter() {
		if err := runAutoMigration(databaseURL, deps.MigratorFactory); err != nil {
			return err
		}
	} else {
		logger.Info("auto-migration disabled")
	}

	db, err := deps.DatabaseFactory(ctx, databaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()

	logger.Info("connected to database")

	accessSecret, refreshSecret, err := deps.SecretsGetter()
	if err != nil {
		return err
	}

	codec, err := auth.NewTokenCodec(auth.CodecConfig{
		AccessSecret:  accessSecret,
		RefreshSecret: refreshSecret,
		AccessTTL:     cfg.accessTTL,
		RefreshTTL:    cfg.refreshTTL,
	})
	if err != nil {
		return err
	}

	hasher := auth.NewArgon2idHasher()

	users, err := postgres.NewUserRepository(db, hasher)
	if err != nil {
		return err
	}
	tokenRepo, err := postgres.NewTokenRepository(db)
	if err != nil {
		return err
	}
	tokenStore, err := auth.NewTokenStoreWithLogger(tokenRepo, logger)
	if err != nil {
		return err
	}

	mailer, err := deps.MailerFactory(cfg, logger)
	if err != nil {
		return err
	}

	sessions, err := auth.NewSessionServiceWithLogger(users, codec, hasher, logger)
	if err != nil {
		return err
	}
	resets, err := auth.NewPasswordResetServiceWithLogger(users, tokenStore, mailer, cfg.devMode, logger)
	if err != nil {
		return err
	}
	verifications, err := auth.NewEmailVerificationServiceWithLogger(users, tokenStore, mailer, logger)
	if err != nil {
		return err
	}

	certFile, keyFile := cfg.tlsCert, cfg.tlsKey
	if cfg.devTLS {
		certFile, keyFile, err = ensureDevCerts()
		if err != nil {
			return oops.Code("TLS_SETUP_FAILED").Wrap(err)
		}
		logger.Info("development TLS certificates ready", "cert", certFile)
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.metricsAddr != "" {
		// Ready once startup completes: the database is connected and all
		// services are wired.
		obsServer = deps.ObservabilityServerFactory(cfg.metricsAddr, func() bool { return true })
		metrics = obsServer.Metrics()
	}

	api, err := deps.APIServerFactory(cfg, apiDeps{
		sessions:      sessions,
		resets:        resets,
		verifications: verifications,
		verifier:      codec,
		metrics:       metrics,
		logger:        logger,
		tlsCertFile:   certFile,
		tlsKeyFile:    keyFile,
	})
	if err != nil {
		return oops.Code("HTTP_SETUP_FAILED").Wrap(err)
	}

	apiErrChan, err := api.Start()
	if err != nil {
		return oops.Code("HTTP_SETUP_FAILED").With("operation", "start http server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "http-api")

	if obsServer != nil {
		obsErrChan, obsErr := obsServer.Start()
		if obsErr != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
			defer shutdownCancel()
			if stopErr := api.Stop(shutdownCtx); stopErr != nil {
				logger.Warn("failed to stop http server during cleanup", "error", stopErr)
			}
			return oops.Code("OBSERVABILITY_SETUP_FAILED").Wrap(obsErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Identity service started")
	logger.Info("identity service ready",
		"http_addr", api.Addr(),
		"metrics_addr", cfg.metricsAddr,
		"mail_mode", cfg.mailMode,
	)

	// Wait for shutdown signal or server failure
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer shutdownCancel()

	if err := api.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// getTokenSecrets reads the JWT signing secrets from the environment.
func getTokenSecrets() (access, refresh []byte, err error) {
	a := os.Getenv("IDENTITY_ACCESS_SECRET")
	r := os.Getenv("IDENTITY_REFRESH_SECRET")
	if a == "" || r == "" {
		return nil, nil, oops.Code("CONFIG_INVALID").
			Errorf("IDENTITY_ACCESS_SECRET and IDENTITY_REFRESH_SECRET environment variables are required")
	}
	return []byte(a), []byte(r), nil
}

// defaultMailerFactory builds the mailer from the serve configuration.
// The SMTP password comes from the SMTP_PASSWORD environment variable.
func defaultMailerFactory(cfg *serveConfig, logger *slog.Logger) (auth.Mailer, error) {
	if cfg.mailMode == "smtp" {
		return mail.NewSMTPMailer(mail.Config{
			Host:         cfg.smtpHost,
			Port:         cfg.smtpPort,
			Username:     cfg.smtpUser,
			Password:     os.Getenv("SMTP_PASSWORD"),
			From:         cfg.smtpFrom,
			SendRetries:  defaultMailRetries,
			RetryBackoff: defaultMailBackoff,
		}, logger)
	}
	return mail.NewLogMailer(logger), nil
}

// defaultAPIServerFactory builds the real HTTP API server.
func defaultAPIServerFactory(cfg *serveConfig, d apiDeps) (APIServer, error) {
	return httpapi.NewServer(
		httpapi.Config{
			Addr:        cfg.httpAddr,
			TLSCertFile: d.tlsCertFile,
			TLSKeyFile:  d.tlsKeyFile,
		},
		httpapi.Deps{
			Sessions:      d.sessions,
			Resets:        d.resets,
			Verifications: d.verifications,
			Verifier:      d.verifier,
			Metrics:       d.metrics,
			Logger:        d.logger,
		},
	)
}

// ensureDevCerts generates or loads self-signed development certificates
// under the XDG certs directory and returns the server cert and key paths.
func ensureDevCerts() (certFile, keyFile string, err error) {
	certsDir := xdg.CertsDir()

	certFile = filepath.Join(certsDir, "api.crt")
	keyFile = filepath.Join(certsDir, "api.key")
	caFile := filepath.Join(certsDir, "root-ca.crt")

	// If any certificate files exist, use them as-is. A partial or corrupt
	// set surfaces as a startup error rather than being silently replaced.
	if fileExists(certFile) || fileExists(keyFile) || fileExists(caFile) {
		return certFile, keyFile, nil
	}

	if err := xdg.EnsureDir(certsDir); err != nil {
		return "", "", err
	}

	instanceID := ulid.Make().String()
	ca, err := tlscert.GenerateCA(instanceID)
	if err != nil {
		return "", "", err
	}
	serverCert, err := tlscert.GenerateServerCert(ca, instanceID, "api")
	if err != nil {
		return "", "", err
	}
	if err := tlscert.SaveCertificates(certsDir, ca, serverCert); err != nil {
		return "", "", err
	}

	return certFile, keyFile, nil
}

// fileExists returns true if the file exists, false otherwise.
// Permission errors are treated as "file exists" to avoid silently
// overwriting files we can't read.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !os.IsNotExist(err)
}

// monitorServerErrors monitors a server's error channel and cancels the
// context on error, so server failures trigger graceful shutdown of the
// whole process. It exits when an error arrives, the channel closes, or
// the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
