// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/plateful/identity/internal/auth"
	"github.com/plateful/identity/internal/auth/mocks"
	"github.com/plateful/identity/pkg/errutil"
)

func newVerifyFixture(t *testing.T) (*auth.EmailVerificationService, *mocks.MockCredentialStore, *mocks.MockSingleUseTokenRepository, *mocks.MockMailer) {
	t.Helper()
	store := mocks.NewMockCredentialStore(t)
	repo := mocks.NewMockSingleUseTokenRepository(t)
	mailer := mocks.NewMockMailer(t)

	tokens, err := auth.NewTokenStore(repo)
	require.NoError(t, err)

	svc, err := auth.NewEmailVerificationService(store, tokens, mailer)
	require.NoError(t, err)
	return svc, store, repo, mailer
}

func TestNewEmailVerificationService_NilDependencies(t *testing.T) {
	store := mocks.NewMockCredentialStore(t)
	repo := mocks.NewMockSingleUseTokenRepository(t)
	mailer := mocks.NewMockMailer(t)
	tokens, err := auth.NewTokenStore(repo)
	require.NoError(t, err)

	tests := []struct {
		name        string
		store       auth.CredentialStore
		tokens      *auth.TokenStore
		mailer      auth.Mailer
		expectError string
	}{
		{name: "nil store", store: nil, tokens: tokens, mailer: mailer, expectError: "credential store"},
		{name: "nil token store", store: store, tokens: nil, mailer: mailer, expectError: "token store"},
		{name: "nil mailer", store: store, tokens: tokens, mailer: nil, expectError: "mailer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewEmailVerificationService(tt.store, tt.tokens, tt.mailer)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestEmailVerificationService_SendVerification(t *testing.T) {
	ctx := context.Background()

	t.Run("issues 24h token and dispatches mail", func(t *testing.T) {
		svc, store, repo, mailer := newVerifyFixture(t)

		user := activeUser()
		store.On("GetByID", ctx, user.ID).Return(user, nil)

		var created *auth.SingleUseToken
		repo.On("Create", ctx, mock.AnythingOfType("*auth.SingleUseToken")).
			Run(func(args mock.Arguments) {
				created = args.Get(1).(*auth.SingleUseToken)
			}).
			Return(nil)
		mailer.On("SendEmailVerification", ctx, user.Email, user.Name, mock.AnythingOfType("string")).
			Return(nil)

		require.NoError(t, svc.SendVerification(ctx, user.ID))

		require.NotNil(t, created)
		assert.Equal(t, auth.PurposeEmailVerification, created.Purpose)
		assert.WithinDuration(t, time.Now().Add(auth.EmailVerificationTTL), created.ExpiresAt, 5*time.Second)
		// Verification issuance records no request audit fields.
		assert.Empty(t, created.IPAddress)
		assert.Empty(t, created.UserAgent)
	})

	t.Run("already verified", func(t *testing.T) {
		svc, store, _, _ := newVerifyFixture(t)

		user := activeUser()
		user.IsEmailVerified = true
		store.On("GetByID", ctx, user.ID).Return(user, nil)

		err := svc.SendVerification(ctx, user.ID)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_ALREADY_VERIFIED")
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, store, _, _ := newVerifyFixture(t)

		id := ulid.Make()
		store.On("GetByID", ctx, id).Return(nil, auth.ErrNotFound)

		err := svc.SendVerification(ctx, id)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_USER_NOT_FOUND")
	})

	t.Run("dispatch failure surfaces", func(t *testing.T) {
		svc, store, repo, mailer := newVerifyFixture(t)

		user := activeUser()
		store.On("GetByID", ctx, user.ID).Return(user, nil)
		repo.On("Create", ctx, mock.AnythingOfType("*auth.SingleUseToken")).Return(nil)
		mailer.On("SendEmailVerification", ctx, user.Email, user.Name, mock.AnythingOfType("string")).
			Return(errors.New("smtp: connection refused"))

		err := svc.SendVerification(ctx, user.ID)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "VERIFY_SEND_FAILED")
	})
}

func TestEmailVerificationService_VerifyEmail(t *testing.T) {
	ctx := context.Background()

	liveVerifyToken := func(userID ulid.ULID, plaintext string) *auth.SingleUseToken {
		return &auth.SingleUseToken{
			ID:        ulid.Make(),
			UserID:    userID,
			TokenHash: auth.HashToken(plaintext),
			Purpose:   auth.PurposeEmailVerification,
			ExpiresAt: time.Now().Add(24 * time.Hour),
			CreatedAt: time.Now(),
		}
	}

	t.Run("consumes token and flips the flag", func(t *testing.T) {
		svc, store, repo, _ := newVerifyFixture(t)

		userID := ulid.Make()
		token := liveVerifyToken(userID, "verify-token")

		repo.On("GetByTokenHash", ctx, auth.HashToken("verify-token"), auth.PurposeEmailVerification).
			Return(token, nil)
		repo.On("MarkUsed", ctx, token.ID, mock.AnythingOfType("time.Time")).Return(nil)
		repo.On("InvalidateUnused", ctx, userID, auth.PurposeEmailVerification).Return(int64(0), nil)
		store.On("SetEmailVerified", ctx, userID).Return(nil)

		require.NoError(t, svc.VerifyEmail(ctx, "verify-token"))
	})

	t.Run("unknown token", func(t *testing.T) {
		svc, _, repo, _ := newVerifyFixture(t)

		repo.On("GetByTokenHash", ctx, mock.AnythingOfType("string"), auth.PurposeEmailVerification).
			Return(nil, auth.ErrNotFound)

		err := svc.VerifyEmail(ctx, "no-such-token")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "TOKEN_INVALID_OR_EXPIRED")
	})

	t.Run("expired token", func(t *testing.T) {
		svc, _, repo, _ := newVerifyFixture(t)

		token := liveVerifyToken(ulid.Make(), "stale-token")
		token.ExpiresAt = time.Now().Add(-time.Minute)

		repo.On("GetByTokenHash", ctx, auth.HashToken("stale-token"), auth.PurposeEmailVerification).
			Return(token, nil)

		err := svc.VerifyEmail(ctx, "stale-token")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "TOKEN_INVALID_OR_EXPIRED")
	})

	t.Run("flag update failure surfaces", func(t *testing.T) {
		svc, store, repo, _ := newVerifyFixture(t)

		userID := ulid.Make()
		token := liveVerifyToken(userID, "verify-token")

		repo.On("GetByTokenHash", ctx, auth.HashToken("verify-token"), auth.PurposeEmailVerification).
			Return(token, nil)
		repo.On("MarkUsed", ctx, token.ID, mock.AnythingOfType("time.Time")).Return(nil)
		repo.On("InvalidateUnused", ctx, userID, auth.PurposeEmailVerification).Return(int64(0), nil)
		store.On("SetEmailVerified", ctx, userID).Return(errors.New("connection refused"))

		err := svc.VerifyEmail(ctx, "verify-token")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "VERIFY_EMAIL_FAILED")
	})
}
