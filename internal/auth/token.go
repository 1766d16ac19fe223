// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Single-use token configuration.
const (
	SingleUseTokenBytes = 32 // 32 bytes = 64 hex chars

	PasswordResetTTL     = time.Hour      // password reset window
	EmailVerificationTTL = 24 * time.Hour // verification window
)

// Audit field caps. Longer values are truncated, not rejected: the fields
// exist for forensics only and must never fail an issuance.
const (
	maxAuditIPLength        = 45 // IPv6 textual max
	maxAuditUserAgentLength = 256
)

// TokenPurpose tags a single-use token family.
type TokenPurpose string

// Known token purposes.
const (
	PurposePasswordReset     TokenPurpose = "password_reset"
	PurposeEmailVerification TokenPurpose = "email_verification"
)

// IsValid reports whether the purpose is one of the known constants.
func (p TokenPurpose) IsValid() bool {
	switch p {
	case PurposePasswordReset, PurposeEmailVerification:
		return true
	default:
		return false
	}
}

// String returns the wire representation of the purpose.
func (p TokenPurpose) String() string {
	return string(p)
}

// TTL returns the validity window for tokens of this purpose.
func (p TokenPurpose) TTL() time.Duration {
	if p == PurposeEmailVerification {
		return EmailVerificationTTL
	}
	return PasswordResetTTL
}

// RequestMeta carries optional audit context captured from the request
// that triggered a token issuance. Audit only; no behavioral effect.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// truncated returns a copy with fields capped to their audit limits.
func (m RequestMeta) truncated() RequestMeta {
	if len(m.IPAddress) > maxAuditIPLength {
		m.IPAddress = m.IPAddress[:maxAuditIPLength]
	}
	if len(m.UserAgent) > maxAuditUserAgentLength {
		m.UserAgent = m.UserAgent[:maxAuditUserAgentLength]
	}
	return m
}

// SingleUseToken represents one opaque, time-boxed, one-shot token row.
//
// Rows are never deleted: consumption and invalidation flip IsUsed, and the
// row is retained for audit. A token is live iff !IsUsed && now <= ExpiresAt.
type SingleUseToken struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	TokenHash string
	Purpose   TokenPurpose
	ExpiresAt time.Time
	IsUsed    bool
	UsedAt    *time.Time
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// NewSingleUseToken creates a validated SingleUseToken instance.
func NewSingleUseToken(userID ulid.ULID, tokenHash string, purpose TokenPurpose, expiresAt time.Time, meta RequestMeta) (*SingleUseToken, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("TOKEN_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("TOKEN_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !purpose.IsValid() {
		return nil, oops.Code("TOKEN_INVALID_PURPOSE").
			With("purpose", string(purpose)).
			Errorf("unknown token purpose %q", string(purpose))
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("TOKEN_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	meta = meta.truncated()
	return &SingleUseToken{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: tokenHash,
		Purpose:   purpose,
		ExpiresAt: expiresAt,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		CreatedAt: time.Now(),
	}, nil
}

// IsExpired returns true if the token's validity window has passed.
func (t *SingleUseToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsLive returns true if the token can still be consumed.
func (t *SingleUseToken) IsLive() bool {
	return !t.IsUsed && !t.IsExpired()
}

// GenerateToken creates a secure random opaque token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext is sent to the user; only the hash is stored.
func GenerateToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SingleUseTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	hash = HashToken(token)

	return token, hash, nil
}

// HashToken computes the SHA256 hash of an opaque token for storage lookup.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyTokenHash checks if the plaintext token matches the stored hash.
// Uses constant-time comparison to prevent timing attacks.
func VerifyTokenHash(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashToken(token)
	// Both sides are hex-encoded SHA256 (64 chars), compare in constant time
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// SingleUseTokenRepository manages single-use token persistence.
//
// There is deliberately no delete operation: used and expired rows are
// retained for audit.
type SingleUseTokenRepository interface {
	// Create stores a new token. In the same transaction, it first marks
	// all unused tokens of the same (user, purpose) as used, so that the
	// newest issuance is the only live token even under concurrent
	// requests (last writer wins).
	Create(ctx context.Context, token *SingleUseToken) error

	// GetByTokenHash retrieves a token by its hash and purpose.
	GetByTokenHash(ctx context.Context, tokenHash string, purpose TokenPurpose) (*SingleUseToken, error)

	// MarkUsed marks a token used at the given time. It only succeeds if
	// the token is still unused; a lost race returns ErrNotFound.
	MarkUsed(ctx context.Context, id ulid.ULID, usedAt time.Time) error

	// InvalidateUnused marks all unused tokens of a purpose for a user as
	// used and returns how many rows were affected.
	InvalidateUnused(ctx context.Context, userID ulid.ULID, purpose TokenPurpose) (int64, error)
}
