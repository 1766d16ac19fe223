// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

//go:build integration

package store_test

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/plateful/identity/internal/auth"
	"github.com/plateful/identity/internal/auth/postgres"
	"github.com/plateful/identity/internal/store"
)

// setupPostgres starts a PostgreSQL container, connects a pool and applies
// all migrations.
func setupPostgres() (*pgxpool.Pool, func(), error) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("identity_test"),
		tcpostgres.WithUsername("identity"),
		tcpostgres.WithPassword("identity"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		return nil, nil, err
	}
	if err := migrator.Up(); err != nil {
		return nil, nil, err
	}
	if err := migrator.Close(); err != nil {
		return nil, nil, err
	}

	pool, err := store.Connect(ctx, connStr, store.DefaultConnectOptions())
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
	return pool, cleanup, nil
}

// plainHasher avoids argon2 cost in storage tests. Repository behavior is
// what's under test here, not password hashing.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }
func (plainHasher) Verify(password, hash string) (bool, error) {
	return hash == "plain:"+password, nil
}
func (plainHasher) NeedsUpgrade(string) bool { return false }

var _ = Describe("Postgres repositories", func() {
	var (
		pool      *pgxpool.Pool
		cleanup   func()
		users     *postgres.UserRepository
		tokens    *postgres.TokenRepository
		ctx       context.Context
		userCount int
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		pool, cleanup, err = setupPostgres()
		Expect(err).NotTo(HaveOccurred())

		users, err = postgres.NewUserRepository(pool, plainHasher{})
		Expect(err).NotTo(HaveOccurred())
		tokens, err = postgres.NewTokenRepository(pool)
		Expect(err).NotTo(HaveOccurred())
		userCount = 0
	})

	AfterEach(func() {
		cleanup()
	})

	newUser := func() *auth.User {
		userCount++
		user, err := users.Create(ctx, auth.NewUserParams{
			Email:    fmt.Sprintf("user%d@example.com", userCount),
			Name:     "Test User",
			Password: "Secret123!",
		})
		Expect(err).NotTo(HaveOccurred())
		return user
	}

	Describe("UserRepository", func() {
		It("creates and retrieves users", func() {
			created := newUser()

			byID, err := users.GetByID(ctx, created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(byID.Email).To(Equal(created.Email))
			Expect(byID.Role).To(Equal(auth.RoleUser))
			Expect(byID.IsActive).To(BeTrue())
			Expect(byID.IsEmailVerified).To(BeFalse())

			byEmail, err := users.GetByEmail(ctx, created.Email)
			Expect(err).NotTo(HaveOccurred())
			Expect(byEmail.ID).To(Equal(created.ID))
		})

		It("rejects duplicate emails", func() {
			created := newUser()

			_, err := users.Create(ctx, auth.NewUserParams{
				Email:    created.Email,
				Name:     "Impostor",
				Password: "Secret123!",
			})
			Expect(err).To(MatchError(auth.ErrEmailTaken))
		})

		It("stores the hash, not the password", func() {
			created := newUser()

			stored, err := users.GetByEmailWithPassword(ctx, created.Email)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.PasswordHash).To(HavePrefix("plain:"))
		})

		It("updates role, active flag and verification", func() {
			created := newUser()

			Expect(users.SetRole(ctx, created.ID, auth.RoleAdmin)).To(Succeed())
			Expect(users.SetActive(ctx, created.ID, false)).To(Succeed())
			Expect(users.SetEmailVerified(ctx, created.ID)).To(Succeed())

			updated, err := users.GetByID(ctx, created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Role).To(Equal(auth.RoleAdmin))
			Expect(updated.IsActive).To(BeFalse())
			Expect(updated.IsEmailVerified).To(BeTrue())
		})

		It("records last login", func() {
			created := newUser()
			at := time.Now().UTC().Truncate(time.Millisecond)

			Expect(users.UpdateLastLogin(ctx, created.ID, at)).To(Succeed())

			updated, err := users.GetByID(ctx, created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.LastLoginAt).NotTo(BeNil())
			Expect(updated.LastLoginAt.UTC()).To(BeTemporally("~", at, time.Millisecond))
		})

		It("reports missing users", func() {
			_, err := users.GetByID(ctx, ulid.Make())
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("TokenRepository", func() {
		issue := func(user *auth.User, purpose auth.TokenPurpose) (*auth.SingleUseToken, string) {
			plaintext, hash, err := auth.GenerateToken()
			Expect(err).NotTo(HaveOccurred())
			token, err := auth.NewSingleUseToken(user.ID, hash, purpose,
				time.Now().Add(purpose.TTL()), auth.RequestMeta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(tokens.Create(ctx, token)).To(Succeed())
			return token, plaintext
		}

		It("round-trips a token through its hash", func() {
			user := newUser()
			issued, plaintext := issue(user, auth.PurposePasswordReset)

			found, err := tokens.GetByTokenHash(ctx, auth.HashToken(plaintext), auth.PurposePasswordReset)
			Expect(err).NotTo(HaveOccurred())
			Expect(found.ID).To(Equal(issued.ID))
			Expect(found.IsUsed).To(BeFalse())
		})

		It("invalidates older tokens when a new one is issued", func() {
			user := newUser()
			first, _ := issue(user, auth.PurposePasswordReset)
			second, _ := issue(user, auth.PurposePasswordReset)

			stale, err := tokens.GetByTokenHash(ctx, first.TokenHash, auth.PurposePasswordReset)
			Expect(err).NotTo(HaveOccurred())
			Expect(stale.IsUsed).To(BeTrue(), "issuing a new token must consume the old one")

			live, err := tokens.GetByTokenHash(ctx, second.TokenHash, auth.PurposePasswordReset)
			Expect(err).NotTo(HaveOccurred())
			Expect(live.IsUsed).To(BeFalse())
		})

		It("scopes invalidation to one purpose", func() {
			user := newUser()
			verification, _ := issue(user, auth.PurposeEmailVerification)
			issue(user, auth.PurposePasswordReset)

			kept, err := tokens.GetByTokenHash(ctx, verification.TokenHash, auth.PurposeEmailVerification)
			Expect(err).NotTo(HaveOccurred())
			Expect(kept.IsUsed).To(BeFalse())
		})

		It("marks a token used exactly once", func() {
			user := newUser()
			issued, _ := issue(user, auth.PurposePasswordReset)

			Expect(tokens.MarkUsed(ctx, issued.ID, time.Now())).To(Succeed())

			err := tokens.MarkUsed(ctx, issued.ID, time.Now())
			Expect(err).To(MatchError(auth.ErrNotFound))
		})

		It("keeps consumed rows for audit", func() {
			user := newUser()
			issued, _ := issue(user, auth.PurposePasswordReset)
			Expect(tokens.MarkUsed(ctx, issued.ID, time.Now())).To(Succeed())

			row, err := tokens.GetByTokenHash(ctx, issued.TokenHash, auth.PurposePasswordReset)
			Expect(err).NotTo(HaveOccurred())
			Expect(row.IsUsed).To(BeTrue())
			Expect(row.UsedAt).NotTo(BeNil())
		})

		It("counts invalidated tokens", func() {
			user := newUser()
			issue(user, auth.PurposePasswordReset)

			count, err := tokens.InvalidateUnused(ctx, user.ID, auth.PurposePasswordReset)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(1)))

			count, err = tokens.InvalidateUnused(ctx, user.ID, auth.PurposePasswordReset)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeZero())
		})
	})
})
