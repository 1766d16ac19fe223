// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

// Package auth provides the credential and token lifecycle primitives for
// Plateful: bearer token issuance and verification, account authentication,
// and the single-use token flows for password reset and email verification.
//
// # Domain Types
//
// User is the account entity as the identity services see it; the password
// hash never rides on it. SingleUseToken rows back the reset and
// verification flows and should be created through NewSingleUseToken, which
// validates required fields. Direct struct initialization bypasses
// validation and may create invalid state.
//
// # Services
//
// Service types coordinate domain operations:
//   - TokenCodec - signs and verifies access/refresh JWTs
//   - SessionService - register, login, refresh, bearer validation, password change
//   - TokenStore - issues and consumes single-use tokens
//   - PasswordResetService - forgot-password and reset-password flows
//   - EmailVerificationService - send-verification and verify-email flows
//
// Services are created with New*Service constructors that validate
// dependencies; *WithLogger variants accept an explicit logger.
//
// # Error Conventions
//
// Failures are oops errors whose codes form the outward taxonomy. Codes
// deliberately collapse sub-causes where distinguishing them would leak
// account information: AUTH_INVALID_CREDENTIALS covers unknown email and
// wrong password alike, AUTH_REFRESH_INVALID covers every refresh failure,
// and TOKEN_INVALID_OR_EXPIRED covers absent, used, and stale single-use
// tokens.
package auth
