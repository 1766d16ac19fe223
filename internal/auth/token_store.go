// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenStore manages the lifecycle of single-use tokens. It knows nothing
// about what a token unlocks beyond its purpose tag; the same store serves
// the password-reset and email-verification families.
type TokenStore struct {
	tokens SingleUseTokenRepository
	logger *slog.Logger
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(tokens SingleUseTokenRepository) (*TokenStore, error) {
	return NewTokenStoreWithLogger(tokens, slog.Default())
}

// NewTokenStoreWithLogger creates a new TokenStore with an explicit logger.
func NewTokenStoreWithLogger(tokens SingleUseTokenRepository, logger *slog.Logger) (*TokenStore, error) {
	if tokens == nil {
		return nil, oops.Errorf("token repository is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &TokenStore{tokens: tokens, logger: logger}, nil
}

// Issue generates a fresh single-use token for the user and purpose and
// returns the plaintext. Creation invalidates every previously unused token
// of the same (user, purpose): at most one live token exists per pair, and
// under concurrent issuance the last writer's token is the one that survives.
func (s *TokenStore) Issue(ctx context.Context, userID ulid.ULID, purpose TokenPurpose, meta RequestMeta) (string, error) {
	if !purpose.IsValid() {
		return "", oops.Code("TOKEN_INVALID_PURPOSE").
			With("purpose", string(purpose)).
			Errorf("unknown token purpose %q", string(purpose))
	}

	plaintext, hash, err := GenerateToken()
	if err != nil {
		return "", oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "generate token").
			Wrap(err)
	}

	token, err := NewSingleUseToken(userID, hash, purpose, time.Now().Add(purpose.TTL()), meta)
	if err != nil {
		return "", oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "build token").
			Wrap(err)
	}

	// Create runs invalidate-then-insert in one transaction.
	if err := s.tokens.Create(ctx, token); err != nil {
		return "", oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "persist token").
			With("purpose", purpose.String()).
			Wrap(err)
	}

	return plaintext, nil
}

// Consume redeems a single-use token and returns the owning user's ID.
// Absent or already-used tokens fail TOKEN_NOT_FOUND; unused-but-stale
// tokens fail TOKEN_EXPIRED. On success the token is marked used and any
// other unused token of the same purpose for the user is invalidated, so a
// token that was briefly live alongside this one cannot be redeemed later.
func (s *TokenStore) Consume(ctx context.Context, plaintext string, purpose TokenPurpose) (ulid.ULID, error) {
	if plaintext == "" {
		return ulid.ULID{}, oops.Code("TOKEN_NOT_FOUND").Errorf("token cannot be empty")
	}
	if !purpose.IsValid() {
		return ulid.ULID{}, oops.Code("TOKEN_INVALID_PURPOSE").
			With("purpose", string(purpose)).
			Errorf("unknown token purpose %q", string(purpose))
	}

	token, err := s.tokens.GetByTokenHash(ctx, HashToken(plaintext), purpose)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ulid.ULID{}, oops.Code("TOKEN_NOT_FOUND").Errorf("token not found")
		}
		return ulid.ULID{}, oops.Code("TOKEN_CONSUME_FAILED").
			With("operation", "get token by hash").
			Wrap(err)
	}

	if token.IsUsed {
		return ulid.ULID{}, oops.Code("TOKEN_NOT_FOUND").Errorf("token not found")
	}
	if token.IsExpired() {
		return ulid.ULID{}, oops.Code("TOKEN_EXPIRED").Errorf("token has expired")
	}

	// Conditional on is_used still being false; losing that race means
	// someone else consumed the token first.
	if err := s.tokens.MarkUsed(ctx, token.ID, time.Now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ulid.ULID{}, oops.Code("TOKEN_NOT_FOUND").Errorf("token not found")
		}
		return ulid.ULID{}, oops.Code("TOKEN_CONSUME_FAILED").
			With("operation", "mark token used").
			Wrap(err)
	}

	// Sweep any sibling that was briefly live alongside this token. The
	// consumption already happened, so a sweep failure must not undo it.
	if _, err := s.tokens.InvalidateUnused(ctx, token.UserID, purpose); err != nil {
		s.logger.WarnContext(ctx, "best-effort sibling invalidation failed",
			slog.String("operation", "invalidate_unused"),
			slog.String("purpose", purpose.String()),
			slog.String("user_id", token.UserID.String()),
			slog.String("error", err.Error()))
	}

	return token.UserID, nil
}
