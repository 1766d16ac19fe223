// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package mail

import (
	"context"
	"log/slog"

	"github.com/plateful/identity/internal/auth"
)

// LogMailer writes token emails to the log instead of sending them. It backs
// local development and tests where no SMTP server is available. Tokens go to
// the log in plaintext, so it must never be wired in production.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a mailer that logs instead of sending.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// SendPasswordReset logs a password reset token.
func (m *LogMailer) SendPasswordReset(_ context.Context, email, name, token string) error {
	m.logger.Info("password reset email (log mailer)",
		"to", email,
		"name", name,
		"token", token)
	return nil
}

// SendEmailVerification logs an email verification token.
func (m *LogMailer) SendEmailVerification(_ context.Context, email, name, token string) error {
	m.logger.Info("email verification email (log mailer)",
		"to", email,
		"name", name,
		"token", token)
	return nil
}

var (
	_ auth.Mailer = (*SMTPMailer)(nil)
	_ auth.Mailer = (*LogMailer)(nil)
)
