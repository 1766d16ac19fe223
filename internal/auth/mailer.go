// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package auth

import "context"

// Mailer dispatches the emails that carry single-use tokens to users.
//
// Implementations live in internal/mail. From this package's perspective
// dispatch is fire-and-forget: callers decide per flow whether a dispatch
// failure is surfaced (verification) or logged and swallowed (reset).
type Mailer interface {
	// SendPasswordReset delivers a password reset token to the address.
	SendPasswordReset(ctx context.Context, email, name, token string) error

	// SendEmailVerification delivers an email verification token to the address.
	SendEmailVerification(ctx context.Context, email, name, token string) error
}
