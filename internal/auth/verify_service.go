// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/plateful/identity/pkg/errutil"
)

// EmailVerificationService implements the send-verification and verify-email flows.
//
// Unlike password reset, a verification dispatch failure is surfaced: the
// caller is already authenticated, so there is no account existence to hide,
// and a silently dropped mail would leave the user waiting forever.
type EmailVerificationService struct {
	store  CredentialStore
	tokens *TokenStore
	mailer Mailer
	logger *slog.Logger
}

// NewEmailVerificationService creates a new EmailVerificationService.
func NewEmailVerificationService(store CredentialStore, tokens *TokenStore, mailer Mailer) (*EmailVerificationService, error) {
	return NewEmailVerificationServiceWithLogger(store, tokens, mailer, slog.Default())
}

// NewEmailVerificationServiceWithLogger creates a new EmailVerificationService with an explicit logger.
func NewEmailVerificationServiceWithLogger(store CredentialStore, tokens *TokenStore, mailer Mailer, logger *slog.Logger) (*EmailVerificationService, error) {
	if store == nil {
		return nil, oops.Errorf("credential store is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token store is required")
	}
	if mailer == nil {
		return nil, oops.Errorf("mailer is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &EmailVerificationService{
		store:  store,
		tokens: tokens,
		mailer: mailer,
		logger: logger,
	}, nil
}

// SendVerification issues a verification token for the user and dispatches
// the verification email. Fails AUTH_ALREADY_VERIFIED for verified accounts
// and VERIFY_SEND_FAILED when dispatch fails.
func (s *EmailVerificationService) SendVerification(ctx context.Context, userID ulid.ULID) error {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_USER_NOT_FOUND").Errorf("user no longer exists")
		}
		return oops.Code("VERIFY_SEND_FAILED").
			With("operation", "get user by id").
			Wrap(err)
	}

	if user.IsEmailVerified {
		return oops.Code("AUTH_ALREADY_VERIFIED").Errorf("email is already verified")
	}

	// Verification tokens carry no request audit fields; only password
	// reset records them.
	token, err := s.tokens.Issue(ctx, user.ID, PurposeEmailVerification, RequestMeta{})
	if err != nil {
		return oops.Code("VERIFY_SEND_FAILED").
			With("operation", "issue verification token").
			Wrap(err)
	}

	if err := s.mailer.SendEmailVerification(ctx, user.Email, user.Name, token); err != nil {
		return oops.Code("VERIFY_SEND_FAILED").
			With("operation", "send verification email").
			Wrap(err)
	}

	return nil
}

// VerifyEmail consumes a verification token and marks the owning user's
// email verified. Flipping an already-verified flag again is permitted; the
// set is idempotent.
func (s *EmailVerificationService) VerifyEmail(ctx context.Context, token string) error {
	userID, err := s.tokens.Consume(ctx, token, PurposeEmailVerification)
	if err != nil {
		if errutil.HasCode(err, "TOKEN_CONSUME_FAILED") {
			return oops.Code("VERIFY_EMAIL_FAILED").
				With("operation", "consume verification token").
				Wrap(err)
		}
		return oops.Code("TOKEN_INVALID_OR_EXPIRED").Wrap(err)
	}

	if err := s.store.SetEmailVerified(ctx, userID); err != nil {
		return oops.Code("VERIFY_EMAIL_FAILED").
			With("operation", "set email verified").
			Wrap(err)
	}

	return nil
}
