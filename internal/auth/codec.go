// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package auth

import (
	"bytes"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 720 * time.Hour // 30 days
)

// refreshTokenVersion is embedded in refresh claims. Reserved for a future
// per-user revocation counter; verification does not enforce it yet.
const refreshTokenVersion = 1

// TokenType is the scheme clients must use in the Authorization header.
const TokenType = "Bearer"

// CodecConfig holds the signing material and lifetimes for both token
// families. Secrets are injected explicitly; the codec reads no globals.
type CodecConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Validate checks that the configuration is usable.
// The two families must not share a secret: a refresh token must never
// verify as an access token or vice versa.
func (c CodecConfig) Validate() error {
	if len(c.AccessSecret) == 0 {
		return oops.Code("CODEC_INVALID_CONFIG").Errorf("access secret cannot be empty")
	}
	if len(c.RefreshSecret) == 0 {
		return oops.Code("CODEC_INVALID_CONFIG").Errorf("refresh secret cannot be empty")
	}
	if bytes.Equal(c.AccessSecret, c.RefreshSecret) {
		return oops.Code("CODEC_INVALID_CONFIG").Errorf("access and refresh secrets must differ")
	}
	if c.AccessTTL <= 0 {
		return oops.Code("CODEC_INVALID_CONFIG").Errorf("access TTL must be positive")
	}
	if c.RefreshTTL <= 0 {
		return oops.Code("CODEC_INVALID_CONFIG").Errorf("refresh TTL must be positive")
	}
	return nil
}

// AccessClaims are the claims carried by an access token.
//
// Role is a snapshot from issuance time. Authorization must not trust it:
// SessionService.ValidateBearer re-reads the current role from the
// credential store on every request.
type AccessClaims struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim as a user ULID.
func (c *AccessClaims) UserID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code("TOKEN_INVALID").
			With("reason", "bad subject").
			Wrap(err)
	}
	return id, nil
}

// RefreshClaims are the claims carried by a refresh token.
type RefreshClaims struct {
	Email        string `json:"email"`
	TokenVersion int    `json:"token_version"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim as a user ULID.
func (c *RefreshClaims) UserID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code("TOKEN_INVALID").
			With("reason", "bad subject").
			Wrap(err)
	}
	return id, nil
}

// TokenPair is what authentication operations hand back to clients.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // access token lifetime in seconds
}

// TokenCodec signs and verifies bearer tokens (HS256).
// Purely computational; it performs no I/O.
type TokenCodec struct {
	cfg CodecConfig
}

// NewTokenCodec creates a TokenCodec from a validated config.
func NewTokenCodec(cfg CodecConfig) (*TokenCodec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TokenCodec{cfg: cfg}, nil
}

// AccessTTL returns the configured access token lifetime.
func (tc *TokenCodec) AccessTTL() time.Duration {
	return tc.cfg.AccessTTL
}

// IssueAccess signs a new access token for the user.
func (tc *TokenCodec) IssueAccess(user *User) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tc.cfg.AccessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tc.cfg.AccessSecret)
	if err != nil {
		return "", oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "sign access token").
			Wrap(err)
	}
	return signed, nil
}

// IssueRefresh signs a new refresh token for the user.
func (tc *TokenCodec) IssueRefresh(user *User) (string, error) {
	now := time.Now()
	claims := RefreshClaims{
		Email:        user.Email,
		TokenVersion: refreshTokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tc.cfg.RefreshTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tc.cfg.RefreshSecret)
	if err != nil {
		return "", oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "sign refresh token").
			Wrap(err)
	}
	return signed, nil
}

// IssuePair issues an access/refresh token pair for the user.
func (tc *TokenCodec) IssuePair(user *User) (*TokenPair, error) {
	access, err := tc.IssueAccess(user)
	if err != nil {
		return nil, err
	}
	refresh, err := tc.IssueRefresh(user)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    TokenType,
		ExpiresIn:    int64(tc.cfg.AccessTTL.Seconds()),
	}, nil
}

// VerifyAccess verifies an access token and returns its claims.
// All failures surface as the single opaque TOKEN_INVALID code.
func (tc *TokenCodec) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := tc.verify(token, claims, tc.cfg.AccessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh verifies a refresh token and returns its claims.
// All failures surface as the single opaque TOKEN_INVALID code.
func (tc *TokenCodec) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := tc.verify(token, claims, tc.cfg.RefreshSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

func (tc *TokenCodec) verify(tokenString string, claims jwt.Claims, secret []byte) error {
	if tokenString == "" {
		return invalidTokenError(jwt.ErrTokenMalformed)
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, oops.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return invalidTokenError(err)
	}
	if !token.Valid {
		return invalidTokenError(jwt.ErrTokenUnverifiable)
	}
	return nil
}

// invalidTokenError collapses every verification failure into one opaque
// TOKEN_INVALID error. The reason is attached as log-only context; response
// bodies render a fixed message per code and never see it.
func invalidTokenError(err error) error {
	reason := "malformed"
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		reason = "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		reason = "bad signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		reason = "unverifiable"
	}
	return oops.Code("TOKEN_INVALID").
		With("reason", reason).
		Wrap(err)
}
