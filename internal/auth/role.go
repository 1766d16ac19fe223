// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package auth

import "github.com/samber/oops"

// Role is the authorization level of a user account.
//
// The set is closed: persistence and token claims only ever carry one of
// the constants below. ParseRole is the single entry point for turning
// external strings (database rows, JWT claims, seed files) back into a Role.
type Role string

// Valid roles.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// String returns the wire representation of the role.
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether the role is one of the known constants.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsAdmin reports whether the role grants administrative access.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// ParseRole converts a string into a Role.
// Returns an error for anything outside the closed set.
func ParseRole(s string) (Role, error) {
	role := Role(s)
	if !role.IsValid() {
		return "", oops.Code("AUTH_INVALID_ROLE").
			With("role", s).
			Errorf("unknown role %q", s)
	}
	return role, nil
}
