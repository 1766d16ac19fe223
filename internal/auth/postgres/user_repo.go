// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

// Package postgres provides PostgreSQL implementations of the auth
// repositories: the credential store and the single-use token store.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/plateful/identity/internal/auth"
)

// DB is the narrow pool surface the repositories need. It is satisfied by
// *pgxpool.Pool and by pgxmock.PgxPoolIface, so repository unit tests run
// without a server.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UserRepository implements auth.CredentialStore using PostgreSQL.
//
// Password hashing happens here: Create and UpdatePassword receive plaintext
// and store the hash, so callers never handle hashes on the write path.
type UserRepository struct {
	db     DB
	hasher auth.PasswordHasher
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db DB, hasher auth.PasswordHasher) (*UserRepository, error) {
	if db == nil {
		return nil, oops.Errorf("database is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	return &UserRepository{db: db, hasher: hasher}, nil
}

const userColumns = `id, email, name, role, is_active, is_email_verified,
	       last_login_at, created_at, updated_at`

// Create stores a new user account, hashing the password internally.
// A duplicate email surfaces as auth.ErrEmailTaken whether it is caught by
// the pre-insert race or by the unique constraint itself.
func (r *UserRepository) Create(ctx context.Context, params auth.NewUserParams) (*auth.User, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	hash, err := r.hasher.Hash(params.Password)
	if err != nil {
		return nil, oops.Code("USER_CREATE_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	now := time.Now()
	user := &auth.User{
		ID:        ulid.Make(),
		Email:     params.Email,
		Name:      params.Name,
		Role:      params.Role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO users (
			id, email, name, password_hash, role,
			is_active, is_email_verified, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		user.ID.String(),
		user.Email,
		user.Name,
		hash,
		user.Role.String(),
		user.IsActive,
		user.IsEmailVerified,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, oops.Code("USER_EMAIL_TAKEN").
				With("email", params.Email).
				Wrap(auth.ErrEmailTaken)
		}
		return nil, oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("email", params.Email).
			Wrap(err)
	}
	return user, nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email. The match is exact as stored; no
// case folding happens on either side.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

// GetByEmailWithPassword retrieves a user and their password hash by email.
func (r *UserRepository) GetByEmailWithPassword(ctx context.Context, email string) (*auth.UserWithPassword, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+userColumns+`, password_hash
		FROM users
		WHERE email = $1
	`, email)

	user, err := scanUserWithPassword(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user with password by email").
			Wrap(err)
	}
	return user, nil
}

// GetByIDWithPassword retrieves a user and their password hash by ID.
func (r *UserRepository) GetByIDWithPassword(ctx context.Context, id ulid.ULID) (*auth.UserWithPassword, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+userColumns+`, password_hash
		FROM users
		WHERE id = $1
	`, id.String())

	user, err := scanUserWithPassword(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user with password by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// UpdatePassword replaces the stored password hash, hashing internally.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, newPassword string) error {
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := r.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	result, err := r.db.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), hash, time.Now())
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdateLastLogin records a successful authentication timestamp.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE users SET last_login_at = $2, updated_at = $2
		WHERE id = $1
	`, id.String(), at)
	if err != nil {
		return oops.Code("USER_UPDATE_LAST_LOGIN_FAILED").
			With("operation", "update last login").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// SetEmailVerified marks the user's email address as verified.
// Idempotent: verifying an already-verified account is not an error.
func (r *UserRepository) SetEmailVerified(ctx context.Context, id ulid.ULID) error {
	result, err := r.db.Exec(ctx, `
		UPDATE users SET is_email_verified = TRUE, updated_at = $2
		WHERE id = $1
	`, id.String(), time.Now())
	if err != nil {
		return oops.Code("USER_SET_VERIFIED_FAILED").
			With("operation", "set email verified").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// SetRole changes the user's role.
func (r *UserRepository) SetRole(ctx context.Context, id ulid.ULID, role auth.Role) error {
	if !role.IsValid() {
		return oops.Code("AUTH_INVALID_ROLE").
			With("role", role.String()).
			Errorf("unknown role %q", role.String())
	}

	result, err := r.db.Exec(ctx, `
		UPDATE users SET role = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), role.String(), time.Now())
	if err != nil {
		return oops.Code("USER_SET_ROLE_FAILED").
			With("operation", "set role").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// SetActive activates or deactivates the account.
func (r *UserRepository) SetActive(ctx context.Context, id ulid.ULID, active bool) error {
	result, err := r.db.Exec(ctx, `
		UPDATE users SET is_active = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), active, time.Now())
	if err != nil {
		return oops.Code("USER_SET_ACTIVE_FAILED").
			With("operation", "set active").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// scanUser scans a user row without the password hash.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr       string
		email       string
		name        string
		roleStr     string
		isActive    bool
		isVerified  bool
		lastLoginAt *time.Time
		createdAt   time.Time
		updatedAt   time.Time
	)

	err := row.Scan(
		&idStr,
		&email,
		&name,
		&roleStr,
		&isActive,
		&isVerified,
		&lastLoginAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	return buildUser(idStr, email, name, roleStr, isActive, isVerified, lastLoginAt, createdAt, updatedAt)
}

// scanUserWithPassword scans a user row including the password hash.
func scanUserWithPassword(row pgx.Row) (*auth.UserWithPassword, error) {
	var (
		idStr        string
		email        string
		name         string
		roleStr      string
		isActive     bool
		isVerified   bool
		lastLoginAt  *time.Time
		createdAt    time.Time
		updatedAt    time.Time
		passwordHash string
	)

	err := row.Scan(
		&idStr,
		&email,
		&name,
		&roleStr,
		&isActive,
		&isVerified,
		&lastLoginAt,
		&createdAt,
		&updatedAt,
		&passwordHash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user with password").
			Wrap(err)
	}

	user, err := buildUser(idStr, email, name, roleStr, isActive, isVerified, lastLoginAt, createdAt, updatedAt)
	if err != nil {
		return nil, err
	}
	return &auth.UserWithPassword{User: *user, PasswordHash: passwordHash}, nil
}

func buildUser(idStr, email, name, roleStr string, isActive, isVerified bool, lastLoginAt *time.Time, createdAt, updatedAt time.Time) (*auth.User, error) {
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}

	role, err := auth.ParseRole(roleStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ROLE").
			With("operation", "parse user role").
			With("id", idStr).
			Wrap(err)
	}

	return &auth.User{
		ID:              id,
		Email:           email,
		Name:            name,
		Role:            role,
		IsActive:        isActive,
		IsEmailVerified: isVerified,
		LastLoginAt:     lastLoginAt,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}, nil
}

// Compile-time interface check.
var _ auth.CredentialStore = (*UserRepository)(nil)
