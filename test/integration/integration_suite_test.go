// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

//go:build integration

// Package integration provides end-to-end tests for the identity service,
// exercising the full HTTP API against a real PostgreSQL instance.
package integration

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/plateful/identity/internal/auth"
	authpg "github.com/plateful/identity/internal/auth/postgres"
	"github.com/plateful/identity/internal/httpapi"
	"github.com/plateful/identity/internal/store"
)

func TestIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Identity Integration Suite")
}

// captureMailer records the last token sent to each address, standing in
// for SMTP so the tests can complete reset and verification flows.
type captureMailer struct {
	mu           sync.Mutex
	resetTokens  map[string]string
	verifyTokens map[string]string
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{
		resetTokens:  make(map[string]string),
		verifyTokens: make(map[string]string),
	}
}

func (m *captureMailer) SendPasswordReset(_ context.Context, email, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetTokens[email] = token
	return nil
}

func (m *captureMailer) SendEmailVerification(_ context.Context, email, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyTokens[email] = token
	return nil
}

func (m *captureMailer) lastResetToken(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetTokens[email]
}

func (m *captureMailer) lastVerifyToken(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifyTokens[email]
}

// testEnv holds all resources needed for integration tests.
type testEnv struct {
	ctx       context.Context
	container testcontainers.Container
	pool      *pgxpool.Pool
	server    *httpapi.Server
	mailer    *captureMailer
	baseURL   string
}

var env *testEnv

var _ = BeforeSuite(func() {
	var err error
	env, err = setupTestEnv()
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if env != nil {
		env.cleanup()
	}
})

func setupTestEnv() (*testEnv, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("identity_test"),
		postgres.WithUsername("identity"),
		postgres.WithPassword("identity"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}
	if err := migrator.Close(); err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	pool, err := store.Connect(ctx, connStr, store.DefaultConnectOptions())
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	server, mailer, err := buildServer(pool)
	if err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}

	if _, err := server.Start(); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &testEnv{
		ctx:       ctx,
		container: container,
		pool:      pool,
		server:    server,
		mailer:    mailer,
		baseURL:   "http://" + server.Addr(),
	}, nil
}

// buildServer wires the full service stack over the pool, with the
// capture mailer in place of SMTP.
func buildServer(pool *pgxpool.Pool) (*httpapi.Server, *captureMailer, error) {
	logger := slog.Default()

	codec, err := auth.NewTokenCodec(auth.CodecConfig{
		AccessSecret:  []byte("integration-access-secret"),
		RefreshSecret: []byte("integration-refresh-secret"),
		AccessTTL:     auth.DefaultAccessTTL,
		RefreshTTL:    auth.DefaultRefreshTTL,
	})
	if err != nil {
		return nil, nil, err
	}

	hasher := auth.NewArgon2idHasher()
	users, err := authpg.NewUserRepository(pool, hasher)
	if err != nil {
		return nil, nil, err
	}
	tokenRepo, err := authpg.NewTokenRepository(pool)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := auth.NewTokenStoreWithLogger(tokenRepo, logger)
	if err != nil {
		return nil, nil, err
	}

	mailer := newCaptureMailer()

	sessions, err := auth.NewSessionServiceWithLogger(users, codec, hasher, logger)
	if err != nil {
		return nil, nil, err
	}
	resets, err := auth.NewPasswordResetServiceWithLogger(users, tokens, mailer, false, logger)
	if err != nil {
		return nil, nil, err
	}
	verifications, err := auth.NewEmailVerificationServiceWithLogger(users, tokens, mailer, logger)
	if err != nil {
		return nil, nil, err
	}

	server, err := httpapi.NewServer(
		httpapi.Config{Addr: "127.0.0.1:0"},
		httpapi.Deps{
			Sessions:      sessions,
			Resets:        resets,
			Verifications: verifications,
			Verifier:      codec,
			Logger:        logger,
		},
	)
	if err != nil {
		return nil, nil, err
	}
	return server, mailer, nil
}

func (e *testEnv) cleanup() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if e.server != nil {
		_ = e.server.Stop(stopCtx)
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(e.ctx)
	}
}
