// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
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

func newResetFixture(t *testing.T, devMode bool) (*auth.PasswordResetService, *mocks.MockCredentialStore, *mocks.MockSingleUseTokenRepository, *mocks.MockMailer) {
	t.Helper()
	store := mocks.NewMockCredentialStore(t)
	repo := mocks.NewMockSingleUseTokenRepository(t)
	mailer := mocks.NewMockMailer(t)

	tokens, err := auth.NewTokenStore(repo)
	require.NoError(t, err)

	svc, err := auth.NewPasswordResetService(store, tokens, mailer, devMode)
	require.NoError(t, err)
	return svc, store, repo, mailer
}

func TestNewPasswordResetService_NilDependencies(t *testing.T) {
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
			svc, err := auth.NewPasswordResetService(tt.store, tt.tokens, tt.mailer, false)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestPasswordResetService_RequestReset(t *testing.T) {
	ctx := context.Background()
	meta := auth.RequestMeta{IPAddress: "203.0.113.7", UserAgent: "curl/8.5"}

	t.Run("known email issues token and dispatches mail", func(t *testing.T) {
		svc, store, repo, mailer := newResetFixture(t, false)

		user := activeUser()
		store.On("GetByEmail", ctx, user.Email).Return(user, nil)

		var created *auth.SingleUseToken
		repo.On("Create", ctx, mock.AnythingOfType("*auth.SingleUseToken")).
			Run(func(args mock.Arguments) {
				created = args.Get(1).(*auth.SingleUseToken)
			}).
			Return(nil)
		mailer.On("SendPasswordReset", ctx, user.Email, user.Name, mock.AnythingOfType("string")).
			Return(nil)

		ack, err := svc.RequestReset(ctx, user.Email, meta)
		require.NoError(t, err)
		require.NotNil(t, ack)
		assert.NotEmpty(t, ack.Message)
		assert.Empty(t, ack.DebugToken)

		require.NotNil(t, created)
		assert.Equal(t, user.ID, created.UserID)
		assert.Equal(t, auth.PurposePasswordReset, created.Purpose)
		assert.Equal(t, "203.0.113.7", created.IPAddress)
		assert.Equal(t, "curl/8.5", created.UserAgent)
	})

	t.Run("unknown email returns the identical ack with no token", func(t *testing.T) {
		svc, store, repo, mailer := newResetFixture(t, false)

		user := activeUser()
		store.On("GetByEmail", ctx, user.Email).Return(user, nil)
		repo.On("Create", ctx, mock.AnythingOfType("*auth.SingleUseToken")).Return(nil)
		mailer.On("SendPasswordReset", ctx, user.Email, user.Name, mock.AnythingOfType("string")).
			Return(nil)

		knownAck, err := svc.RequestReset(ctx, user.Email, meta)
		require.NoError(t, err)

		store.On("GetByEmail", ctx, "ghost@example.com").Return(nil, auth.ErrNotFound)

		unknownAck, err := svc.RequestReset(ctx, "ghost@example.com", meta)
		require.NoError(t, err)

		// Anti-enumeration: the two acknowledgments are indistinguishable.
		assert.Equal(t, knownAck, unknownAck)
		// No Create beyond the single known-email issuance.
		repo.AssertNumberOfCalls(t, "Create", 1)
	})

	t.Run("mail dispatch failure is swallowed and logged", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))

		store := mocks.NewMockCredentialStore(t)
		repo := mocks.NewMockSingleUseTokenRepository(t)
		mailer := mocks.NewMockMailer(t)
		tokens, err := auth.NewTokenStore(repo)
		require.NoError(t, err)
		svc, err := auth.NewPasswordResetServiceWithLogger(store, tokens, mailer, false, logger)
		require.NoError(t, err)

		user := activeUser()
		store.On("GetByEmail", ctx, user.Email).Return(user, nil)
		repo.On("Create", ctx, mock.AnythingOfType("*auth.SingleUseToken")).Return(nil)
		mailer.On("SendPasswordReset", ctx, user.Email, user.Name, mock.AnythingOfType("string")).
			Return(errors.New("smtp: connection refused"))

		ack, err := svc.RequestReset(ctx, user.Email, meta)
		require.NoError(t, err)
		require.NotNil(t, ack)
		assert.NotEmpty(t, ack.Message)

		entries := decodeLogLines(t, &buf)
		require.Len(t, entries, 1)
		assert.Equal(t, "WARN", entries[0]["level"])
		assert.Equal(t, "send_reset_email", entries[0]["operation"])
	})

	t.Run("storage failure does surface", func(t *testing.T) {
		svc, store, repo, _ := newResetFixture(t, false)

		user := activeUser()
		store.On("GetByEmail", ctx, user.Email).Return(user, nil)
		repo.On("Create", ctx, mock.AnythingOfType("*auth.SingleUseToken")).
			Return(errors.New("connection refused"))

		ack, err := svc.RequestReset(ctx, user.Email, meta)
		require.Error(t, err)
		assert.Nil(t, ack)
		errutil.AssertErrorCode(t, err, "RESET_REQUEST_FAILED")
	})

	t.Run("dev mode echoes the raw token", func(t *testing.T) {
		svc, store, repo, mailer := newResetFixture(t, true)

		user := activeUser()
		store.On("GetByEmail", ctx, user.Email).Return(user, nil)

		var created *auth.SingleUseToken
		repo.On("Create", ctx, mock.AnythingOfType("*auth.SingleUseToken")).
			Run(func(args mock.Arguments) {
				created = args.Get(1).(*auth.SingleUseToken)
			}).
			Return(nil)
		mailer.On("SendPasswordReset", ctx, user.Email, user.Name, mock.AnythingOfType("string")).
			Return(nil)

		ack, err := svc.RequestReset(ctx, user.Email, meta)
		require.NoError(t, err)
		require.NotEmpty(t, ack.DebugToken)
		assert.Equal(t, created.TokenHash, auth.HashToken(ack.DebugToken))
	})
}

func TestPasswordResetService_ResetPassword(t *testing.T) {
	ctx := context.Background()

	liveResetToken := func(userID ulid.ULID, plaintext string) *auth.SingleUseToken {
		return &auth.SingleUseToken{
			ID:        ulid.Make(),
			UserID:    userID,
			TokenHash: auth.HashToken(plaintext),
			Purpose:   auth.PurposePasswordReset,
			ExpiresAt: time.Now().Add(time.Hour),
			CreatedAt: time.Now(),
		}
	}

	t.Run("consumes token and updates password", func(t *testing.T) {
		svc, store, repo, _ := newResetFixture(t, false)

		userID := ulid.Make()
		token := liveResetToken(userID, "reset-token")

		repo.On("GetByTokenHash", ctx, auth.HashToken("reset-token"), auth.PurposePasswordReset).
			Return(token, nil)
		repo.On("MarkUsed", ctx, token.ID, mock.AnythingOfType("time.Time")).Return(nil)
		repo.On("InvalidateUnused", ctx, userID, auth.PurposePasswordReset).Return(int64(0), nil)
		store.On("UpdatePassword", ctx, userID, "NewSecret123!").Return(nil)

		ack, err := svc.ResetPassword(ctx, "reset-token", "NewSecret123!")
		require.NoError(t, err)
		require.NotNil(t, ack)
		assert.NotEmpty(t, ack.Message)
	})

	t.Run("unknown token", func(t *testing.T) {
		svc, _, repo, _ := newResetFixture(t, false)

		repo.On("GetByTokenHash", ctx, mock.AnythingOfType("string"), auth.PurposePasswordReset).
			Return(nil, auth.ErrNotFound)

		ack, err := svc.ResetPassword(ctx, "no-such-token", "NewSecret123!")
		require.Error(t, err)
		assert.Nil(t, ack)
		errutil.AssertErrorCode(t, err, "TOKEN_INVALID_OR_EXPIRED")
	})

	t.Run("already consumed token", func(t *testing.T) {
		svc, _, repo, _ := newResetFixture(t, false)

		token := liveResetToken(ulid.Make(), "spent-token")
		usedAt := time.Now().Add(-time.Minute)
		token.IsUsed = true
		token.UsedAt = &usedAt

		repo.On("GetByTokenHash", ctx, auth.HashToken("spent-token"), auth.PurposePasswordReset).
			Return(token, nil)

		ack, err := svc.ResetPassword(ctx, "spent-token", "NewSecret123!")
		require.Error(t, err)
		assert.Nil(t, ack)
		errutil.AssertErrorCode(t, err, "TOKEN_INVALID_OR_EXPIRED")
	})

	t.Run("expired token", func(t *testing.T) {
		svc, _, repo, _ := newResetFixture(t, false)

		token := liveResetToken(ulid.Make(), "stale-token")
		token.ExpiresAt = time.Now().Add(-time.Minute)

		repo.On("GetByTokenHash", ctx, auth.HashToken("stale-token"), auth.PurposePasswordReset).
			Return(token, nil)

		ack, err := svc.ResetPassword(ctx, "stale-token", "NewSecret123!")
		require.Error(t, err)
		assert.Nil(t, ack)
		errutil.AssertErrorCode(t, err, "TOKEN_INVALID_OR_EXPIRED")
	})

	t.Run("weak new password rejected before consumption", func(t *testing.T) {
		svc, _, _, _ := newResetFixture(t, false)

		ack, err := svc.ResetPassword(ctx, "reset-token", "short")
		require.Error(t, err)
		assert.Nil(t, ack)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_PASSWORD")
	})

	t.Run("storage failure during update", func(t *testing.T) {
		svc, store, repo, _ := newResetFixture(t, false)

		userID := ulid.Make()
		token := liveResetToken(userID, "reset-token")

		repo.On("GetByTokenHash", ctx, auth.HashToken("reset-token"), auth.PurposePasswordReset).
			Return(token, nil)
		repo.On("MarkUsed", ctx, token.ID, mock.AnythingOfType("time.Time")).Return(nil)
		repo.On("InvalidateUnused", ctx, userID, auth.PurposePasswordReset).Return(int64(0), nil)
		store.On("UpdatePassword", ctx, userID, "NewSecret123!").
			Return(errors.New("connection refused"))

		ack, err := svc.ResetPassword(ctx, "reset-token", "NewSecret123!")
		require.Error(t, err)
		assert.Nil(t, ack)
		errutil.AssertErrorCode(t, err, "RESET_PASSWORD_FAILED")
	})
}
