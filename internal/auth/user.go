// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Validation constraints for account fields.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
	MaxEmailLength    = 254 // RFC 5321 path limit
	MaxNameLength     = 100
)

// emailRegex is deliberately loose: one @ with non-empty, dot-separated
// domain. Real validation happens when the verification mail arrives.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// User represents a user account as seen by the identity services.
// The password hash is never carried on this type; lookups that need it
// return UserWithPassword instead.
type User struct {
	ID              ulid.ULID
	Email           string
	Name            string
	Role            Role
	IsActive        bool
	IsEmailVerified bool
	LastLoginAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UserWithPassword is a User plus its stored password hash.
// Returned only by the ...WithPassword lookups so that the hash never
// travels further than the password checks that need it.
type UserWithPassword struct {
	User
	PasswordHash string
}

// NewUserParams carries the fields needed to create an account.
// Password is plaintext here; hashing is the credential store's job.
type NewUserParams struct {
	Email    string
	Name     string
	Password string
	Role     Role
}

// Validate checks all fields of the params.
func (p NewUserParams) Validate() error {
	if err := ValidateEmail(p.Email); err != nil {
		return err
	}
	if err := ValidateName(p.Name); err != nil {
		return err
	}
	if err := ValidatePassword(p.Password); err != nil {
		return err
	}
	if !p.Role.IsValid() {
		return oops.Code("AUTH_INVALID_ROLE").
			With("role", string(p.Role)).
			Errorf("unknown role %q", string(p.Role))
	}
	return nil
}

// ValidateEmail validates an email address.
// Emails are matched and stored exactly as given; no case folding.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return oops.Code("AUTH_INVALID_EMAIL").
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	if !emailRegex.MatchString(email) {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email address is malformed")
	}
	return nil
}

// ValidatePassword validates a plaintext password against length rules.
// Length only; composition rules push users toward predictable patterns.
func ValidatePassword(password string) error {
	if password == "" {
		return oops.Code("AUTH_INVALID_PASSWORD").Errorf("password cannot be empty")
	}
	if len(password) < MinPasswordLength {
		return oops.Code("AUTH_INVALID_PASSWORD").
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return oops.Code("AUTH_INVALID_PASSWORD").
			With("max", MaxPasswordLength).
			Errorf("password must be at most %d characters", MaxPasswordLength)
	}
	return nil
}

// ValidateName validates a display name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return oops.Code("AUTH_INVALID_NAME").Errorf("name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return oops.Code("AUTH_INVALID_NAME").
			With("max", MaxNameLength).
			Errorf("name must be at most %d characters", MaxNameLength)
	}
	return nil
}

// CredentialStore manages user account persistence.
//
// Implementations own password hashing: Create and UpdatePassword receive
// plaintext and store a hash; the hash only ever leaves the store through
// the ...WithPassword lookups.
type CredentialStore interface {
	// Create stores a new user account, hashing the password internally.
	// Returns ErrEmailTaken (wrapped) if the email is already registered.
	Create(ctx context.Context, params NewUserParams) (*User, error)

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email, matched exactly as stored.
	// Returns ErrNotFound if no user has the given email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByEmailWithPassword retrieves a user and their password hash by email.
	GetByEmailWithPassword(ctx context.Context, email string) (*UserWithPassword, error)

	// GetByIDWithPassword retrieves a user and their password hash by ID.
	GetByIDWithPassword(ctx context.Context, id ulid.ULID) (*UserWithPassword, error)

	// UpdatePassword replaces the stored password hash for a user,
	// hashing the given plaintext internally.
	UpdatePassword(ctx context.Context, id ulid.ULID, newPassword string) error

	// UpdateLastLogin records a successful authentication timestamp.
	UpdateLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error

	// SetEmailVerified marks the user's email address as verified.
	SetEmailVerified(ctx context.Context, id ulid.ULID) error

	// SetRole changes the user's role.
	SetRole(ctx context.Context, id ulid.ULID, role Role) error

	// SetActive activates or deactivates the account.
	SetActive(ctx context.Context, id ulid.ULID, active bool) error
}
