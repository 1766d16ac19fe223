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

// SessionService orchestrates registration, login, token refresh, bearer
// validation, and password changes.
type SessionService struct {
	store  CredentialStore
	codec  *TokenCodec
	hasher PasswordHasher
	logger *slog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(store CredentialStore, codec *TokenCodec, hasher PasswordHasher) (*SessionService, error) {
	return NewSessionServiceWithLogger(store, codec, hasher, slog.Default())
}

// NewSessionServiceWithLogger creates a new SessionService with an explicit logger.
func NewSessionServiceWithLogger(store CredentialStore, codec *TokenCodec, hasher PasswordHasher, logger *slog.Logger) (*SessionService, error) {
	if store == nil {
		return nil, oops.Errorf("credential store is required")
	}
	if codec == nil {
		return nil, oops.Errorf("token codec is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &SessionService{
		store:  store,
		codec:  codec,
		hasher: hasher,
		logger: logger,
	}, nil
}

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// RegisterParams carries the fields of a registration request.
type RegisterParams struct {
	Email           string
	Name            string
	Password        string
	ConfirmPassword string
}

// Register creates a new account and immediately authenticates it.
// No email verification is required before tokens are issued; verification
// only flips the IsEmailVerified flag later.
func (s *SessionService) Register(ctx context.Context, params RegisterParams) (*User, *TokenPair, error) {
	if params.Password != params.ConfirmPassword {
		return nil, nil, oops.Code("AUTH_PASSWORD_MISMATCH").Errorf("passwords do not match")
	}

	// Cheap existence check first; the store's unique constraint still
	// backstops the race between this lookup and the insert.
	_, err := s.store.GetByEmail(ctx, params.Email)
	if err == nil {
		return nil, nil, oops.Code("AUTH_EMAIL_EXISTS").Errorf("email is already registered")
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	user, err := s.store.Create(ctx, NewUserParams{
		Email:    params.Email,
		Name:     params.Name,
		Password: params.Password,
		Role:     RoleUser,
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, nil, oops.Code("AUTH_EMAIL_EXISTS").Errorf("email is already registered")
		}
		return nil, nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	pair, err := s.codec.IssuePair(user)
	if err != nil {
		return nil, nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "issue token pair").
			Wrap(err)
	}

	s.recordLastLogin(ctx, user)

	return user, pair, nil
}

// Login authenticates a user by email and password and issues a token pair.
// Unknown email and wrong password are indistinguishable to the caller.
// Uses constant-time operations to prevent timing-based email enumeration.
func (s *SessionService) Login(ctx context.Context, email, password string) (*User, *TokenPair, error) {
	found, lookupErr := s.store.GetByEmailWithPassword(ctx, email)

	// Determine which hash to verify against (real or dummy for timing attack prevention)
	var targetHash string
	var userExists bool

	if lookupErr != nil {
		if errors.Is(lookupErr, ErrNotFound) {
			// Use dummy hash - still perform verification to maintain constant time
			targetHash = dummyPasswordHash
			userExists = false
		} else {
			return nil, nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by email").
				Wrap(lookupErr)
		}
	} else {
		targetHash = found.PasswordHash
		userExists = true
	}

	// Always verify password (constant-time operation for timing attack prevention)
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		// For dummy hash verification errors, just treat as invalid
		if !userExists {
			return nil, nil, oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid email or password")
		}
		return nil, nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	// If user doesn't exist OR password invalid, return same error
	if !userExists || !valid {
		return nil, nil, oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid email or password")
	}

	// Deactivation surfaces only after the password matched, so the distinct
	// error never leaks account state to someone without the credentials.
	if !found.IsActive {
		return nil, nil, oops.Code("AUTH_ACCOUNT_DEACTIVATED").Errorf("account is deactivated")
	}

	// Check if password needs upgrade (e.g., from bcrypt to argon2id).
	// The store re-hashes internally; login succeeds even if this fails.
	if s.hasher.NeedsUpgrade(found.PasswordHash) {
		if err := s.store.UpdatePassword(ctx, found.ID, password); err != nil {
			s.logger.WarnContext(ctx, "best-effort password hash upgrade failed",
				slog.String("operation", "upgrade_password_hash"),
				slog.String("user_id", found.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	user := found.User
	s.recordLastLogin(ctx, &user)

	pair, err := s.codec.IssuePair(&user)
	if err != nil {
		return nil, nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue token pair").
			Wrap(err)
	}

	return &user, pair, nil
}

// Refresh exchanges a valid refresh token for a brand-new token pair.
// Bad token, unknown user, and deactivated account all collapse to the one
// outward AUTH_REFRESH_INVALID error so the endpoint cannot be used to probe
// for account existence. The presented refresh token is not invalidated; it
// stays valid until its own expiry.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, oops.Code("AUTH_REFRESH_INVALID").Wrap(err)
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, oops.Code("AUTH_REFRESH_INVALID").Wrap(err)
	}

	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_REFRESH_INVALID").Errorf("invalid refresh token")
		}
		return nil, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "get user by id").
			Wrap(err)
	}

	if !user.IsActive {
		return nil, oops.Code("AUTH_REFRESH_INVALID").Errorf("invalid refresh token")
	}

	pair, err := s.codec.IssuePair(user)
	if err != nil {
		return nil, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "issue token pair").
			Wrap(err)
	}

	return pair, nil
}

// ValidateBearer resolves verified access claims to the current user record.
// The role embedded in the claims is deliberately discarded: a token issued
// before a role change keeps its stale claim until expiry, so authorization
// must always come from what the store says right now.
func (s *SessionService) ValidateBearer(ctx context.Context, claims *AccessClaims) (*User, error) {
	if claims == nil {
		return nil, oops.Code("AUTH_INVALID_REQUEST").Errorf("access claims are required")
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_USER_NOT_FOUND").Errorf("user no longer exists")
		}
		return nil, oops.Code("AUTH_VALIDATE_FAILED").
			With("operation", "get user by id").
			Wrap(err)
	}

	if !user.IsActive {
		return nil, oops.Code("AUTH_ACCOUNT_DEACTIVATED").Errorf("account is deactivated")
	}

	return user, nil
}

// ChangePassword replaces the password for an authenticated user after
// re-checking the current one. Outstanding token pairs stay valid; there is
// no reissue and no revocation here.
func (s *SessionService) ChangePassword(ctx context.Context, userID ulid.ULID, currentPassword, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	found, err := s.store.GetByIDWithPassword(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_INVALID_REQUEST").Errorf("invalid password change request")
		}
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "get user by id").
			Wrap(err)
	}

	if !found.IsActive {
		return oops.Code("AUTH_INVALID_REQUEST").Errorf("invalid password change request")
	}

	valid, err := s.hasher.Verify(currentPassword, found.PasswordHash)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "verify password").
			Wrap(err)
	}
	if !valid {
		return oops.Code("AUTH_PASSWORD_INCORRECT").Errorf("current password is incorrect")
	}

	if err := s.store.UpdatePassword(ctx, userID, newPassword); err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "update password").
			Wrap(err)
	}

	return nil
}

// Logout acknowledges a client-side logout. Bearer tokens are stateless, so
// there is nothing server-side to invalidate; outstanding tokens age out at
// their TTLs.
func (s *SessionService) Logout(_ context.Context) error {
	return nil
}

// recordLastLogin stamps a successful authentication.
// Best effort: authentication succeeds even if the write fails.
func (s *SessionService) recordLastLogin(ctx context.Context, user *User) {
	now := time.Now()
	if err := s.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.WarnContext(ctx, "best-effort last-login update failed",
			slog.String("operation", "record_last_login"),
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()))
		return
	}
	user.LastLoginAt = &now
}
