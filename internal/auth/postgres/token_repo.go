// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/plateful/identity/internal/auth"
)

// TokenRepository implements auth.SingleUseTokenRepository using PostgreSQL.
//
// Rows are never deleted. Consumption and invalidation flip is_used and the
// rows stay behind for audit, so the repository exposes no delete operation.
type TokenRepository struct {
	db DB
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db DB) (*TokenRepository, error) {
	if db == nil {
		return nil, oops.Errorf("database is required")
	}
	return &TokenRepository{db: db}, nil
}

// Create stores a new single-use token. Inside one transaction it first
// invalidates every unused token of the same (user, purpose), then inserts
// the fresh row. The invalidate-then-insert ordering makes concurrent
// issuance safe: whichever transaction commits last leaves its own token as
// the only live one.
func (r *TokenRepository) Create(ctx context.Context, token *auth.SingleUseToken) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return oops.Code("TOKEN_CREATE_FAILED").
			With("operation", "begin transaction").
			Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }() //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx, `
		UPDATE single_use_tokens
		SET is_used = TRUE, used_at = $3
		WHERE user_id = $1 AND purpose = $2 AND is_used = FALSE
	`, token.UserID.String(), token.Purpose.String(), time.Now())
	if err != nil {
		return oops.Code("TOKEN_CREATE_FAILED").
			With("operation", "invalidate previous tokens").
			With("user_id", token.UserID.String()).
			With("purpose", token.Purpose.String()).
			Wrap(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO single_use_tokens (
			id, user_id, token_hash, purpose, expires_at,
			is_used, used_at, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		token.ID.String(),
		token.UserID.String(),
		token.TokenHash,
		token.Purpose.String(),
		token.ExpiresAt,
		token.IsUsed,
		token.UsedAt,
		nullIfEmpty(token.IPAddress),
		nullIfEmpty(token.UserAgent),
		token.CreatedAt,
	)
	if err != nil {
		return oops.Code("TOKEN_CREATE_FAILED").
			With("operation", "insert token").
			With("user_id", token.UserID.String()).
			With("purpose", token.Purpose.String()).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TOKEN_CREATE_FAILED").
			With("operation", "commit transaction").
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a token by its hash and purpose.
func (r *TokenRepository) GetByTokenHash(ctx context.Context, tokenHash string, purpose auth.TokenPurpose) (*auth.SingleUseToken, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, token_hash, purpose, expires_at,
		       is_used, used_at, ip_address, user_agent, created_at
		FROM single_use_tokens
		WHERE token_hash = $1 AND purpose = $2
	`, tokenHash, purpose.String())

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").
			With("operation", "get token by hash").
			With("purpose", purpose.String()).
			Wrap(err)
	}
	return token, nil
}

// MarkUsed marks a token used at the given time. The guard on is_used means
// a token can be consumed exactly once; losing the race reports ErrNotFound
// just like an already-used lookup would.
func (r *TokenRepository) MarkUsed(ctx context.Context, id ulid.ULID, usedAt time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE single_use_tokens
		SET is_used = TRUE, used_at = $2
		WHERE id = $1 AND is_used = FALSE
	`, id.String(), usedAt)
	if err != nil {
		return oops.Code("TOKEN_MARK_USED_FAILED").
			With("operation", "mark token used").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("TOKEN_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// InvalidateUnused marks all unused tokens of a purpose for a user as used
// and returns how many rows were affected. Zero rows is a valid outcome.
func (r *TokenRepository) InvalidateUnused(ctx context.Context, userID ulid.ULID, purpose auth.TokenPurpose) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE single_use_tokens
		SET is_used = TRUE, used_at = $3
		WHERE user_id = $1 AND purpose = $2 AND is_used = FALSE
	`, userID.String(), purpose.String(), time.Now())
	if err != nil {
		return 0, oops.Code("TOKEN_INVALIDATE_FAILED").
			With("operation", "invalidate unused tokens").
			With("user_id", userID.String()).
			With("purpose", purpose.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// nullIfEmpty maps empty audit strings to NULL columns.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// scanToken scans a single token row.
// Callers are responsible for handling pgx.ErrNoRows.
func scanToken(row pgx.Row) (*auth.SingleUseToken, error) {
	var (
		idStr      string
		userIDStr  string
		tokenHash  string
		purposeStr string
		expiresAt  time.Time
		isUsed     bool
		usedAt     *time.Time
		ipAddress  *string
		userAgent  *string
		createdAt  time.Time
	)

	err := row.Scan(
		&idStr,
		&userIDStr,
		&tokenHash,
		&purposeStr,
		&expiresAt,
		&isUsed,
		&usedAt,
		&ipAddress,
		&userAgent,
		&createdAt,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("TOKEN_SCAN_FAILED").
			With("operation", "scan token").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_ID").
			With("operation", "parse token id").
			With("id", idStr).
			Wrap(err)
	}

	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_USER_ID").
			With("operation", "parse token user id").
			With("user_id", userIDStr).
			Wrap(err)
	}

	token := &auth.SingleUseToken{
		ID:        id,
		UserID:    userID,
		TokenHash: tokenHash,
		Purpose:   auth.TokenPurpose(purposeStr),
		ExpiresAt: expiresAt,
		IsUsed:    isUsed,
		UsedAt:    usedAt,
		CreatedAt: createdAt,
	}
	if ipAddress != nil {
		token.IPAddress = *ipAddress
	}
	if userAgent != nil {
		token.UserAgent = *userAgent
	}
	return token, nil
}

// Compile-time interface check.
var _ auth.SingleUseTokenRepository = (*TokenRepository)(nil)
