// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned when creating a user with an email that
// already belongs to another account.
var ErrEmailTaken = errors.New("email already taken")
