// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/plateful/identity/pkg/errutil"
)

// resetAckMessage is returned for every password reset request, whether or
// not the email is registered. One message for both outcomes is the
// anti-enumeration guarantee; tests compare the two acks byte for byte.
const resetAckMessage = "If that email address is registered, a password reset link has been sent."

// resetDoneMessage acknowledges a completed password reset.
const resetDoneMessage = "Your password has been reset."

// ResetAck acknowledges a password reset request or completion.
// DebugToken is populated only in development mode, where it substitutes
// for email delivery during testing. It must stay empty in production.
type ResetAck struct {
	Message    string `json:"message"`
	DebugToken string `json:"debug_token,omitempty"`
}

// PasswordResetService implements the forgot-password and reset-password flows.
type PasswordResetService struct {
	store   CredentialStore
	tokens  *TokenStore
	mailer  Mailer
	devMode bool
	logger  *slog.Logger
}

// NewPasswordResetService creates a new PasswordResetService.
// devMode controls whether raw reset tokens are echoed in acknowledgments;
// it must never be enabled where real users can reach the service.
func NewPasswordResetService(store CredentialStore, tokens *TokenStore, mailer Mailer, devMode bool) (*PasswordResetService, error) {
	return NewPasswordResetServiceWithLogger(store, tokens, mailer, devMode, slog.Default())
}

// NewPasswordResetServiceWithLogger creates a new PasswordResetService with an explicit logger.
func NewPasswordResetServiceWithLogger(store CredentialStore, tokens *TokenStore, mailer Mailer, devMode bool, logger *slog.Logger) (*PasswordResetService, error) {
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
	return &PasswordResetService{
		store:   store,
		tokens:  tokens,
		mailer:  mailer,
		devMode: devMode,
		logger:  logger,
	}, nil
}

// RequestReset starts a password reset for the given email.
//
// Unknown emails get the exact same acknowledgment as known ones, with no
// token issued. Mail dispatch failures for known emails are logged and
// swallowed: an SMTP outage must neither reveal account existence nor
// surface an error for this endpoint. Only storage failures propagate.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string, meta RequestMeta) (*ResetAck, error) {
	ack := &ResetAck{Message: resetAckMessage}

	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ack, nil
		}
		return nil, oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	token, err := s.tokens.Issue(ctx, user.ID, PurposePasswordReset, meta)
	if err != nil {
		return nil, oops.Code("RESET_REQUEST_FAILED").
			With("operation", "issue reset token").
			Wrap(err)
	}

	if err := s.mailer.SendPasswordReset(ctx, user.Email, user.Name, token); err != nil {
		s.logger.WarnContext(ctx, "best-effort reset mail dispatch failed",
			slog.String("operation", "send_reset_email"),
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()))
	}

	if s.devMode {
		ack.DebugToken = token
	}

	return ack, nil
}

// ResetPassword completes a password reset: consumes the token and updates
// the password. Every token-side failure (absent, used, expired) surfaces as
// the single TOKEN_INVALID_OR_EXPIRED code. Consuming the token already
// invalidated the user's other unused reset tokens, so a double-submitted
// form cannot reset twice.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) (*ResetAck, error) {
	if err := ValidatePassword(newPassword); err != nil {
		return nil, err
	}

	userID, err := s.tokens.Consume(ctx, token, PurposePasswordReset)
	if err != nil {
		if errutil.HasCode(err, "TOKEN_CONSUME_FAILED") {
			return nil, oops.Code("RESET_PASSWORD_FAILED").
				With("operation", "consume reset token").
				Wrap(err)
		}
		return nil, oops.Code("TOKEN_INVALID_OR_EXPIRED").Wrap(err)
	}

	if err := s.store.UpdatePassword(ctx, userID, newPassword); err != nil {
		return nil, oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "update password").
			Wrap(err)
	}

	return &ResetAck{Message: resetDoneMessage}, nil
}
