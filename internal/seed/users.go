// Package seed loads bootstrap account definitions from seed-users.yaml files.
package seed

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/plateful/identity/internal/auth"
)

// File represents a seed-users.yaml file.
type File struct {
	Users []User `yaml:"users" json:"users" jsonschema:"minItems=1"`
}

// User is one bootstrap account definition.
//
// Passwords are plaintext in the file; they are hashed on insert like any
// other registration. Seed files are for development and first-boot admin
// provisioning, not for syncing production accounts.
type User struct {
	Email         string `yaml:"email" json:"email" jsonschema:"maxLength=254"`
	Name          string `yaml:"name" json:"name" jsonschema:"minLength=1,maxLength=100"`
	Password      string `yaml:"password" json:"password" jsonschema:"minLength=8,maxLength=128"`
	Role          string `yaml:"role,omitempty" json:"role,omitempty" jsonschema:"enum=user,enum=admin"`
	EmailVerified bool   `yaml:"email-verified,omitempty" json:"email-verified,omitempty"`

	// Active defaults to true when absent. Seeding an inactive account is
	// useful for pre-provisioning addresses that must not log in yet.
	Active *bool `yaml:"active,omitempty" json:"active,omitempty"`
}

// ParseFile parses and validates a seed-users.yaml file.
func ParseFile(data []byte) (*File, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("seed file is empty")
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	return &f, nil
}

// Validate checks every user entry and rejects duplicate emails within
// the file. Duplicates across files are left to the unique index.
func (f *File) Validate() error {
	if len(f.Users) == 0 {
		return fmt.Errorf("seed file contains no users")
	}

	seen := make(map[string]bool, len(f.Users))
	for i := range f.Users {
		u := &f.Users[i]
		if err := u.Validate(); err != nil {
			return fmt.Errorf("user %d (%s): %w", i+1, u.Email, err)
		}
		if seen[u.Email] {
			return fmt.Errorf("duplicate email %q in seed file", u.Email)
		}
		seen[u.Email] = true
	}

	return nil
}

// Validate checks one user entry against the account field rules.
func (u *User) Validate() error {
	if err := auth.ValidateEmail(u.Email); err != nil {
		return err
	}
	if err := auth.ValidateName(u.Name); err != nil {
		return err
	}
	if err := auth.ValidatePassword(u.Password); err != nil {
		return err
	}
	if u.Role != "" {
		if _, err := auth.ParseRole(u.Role); err != nil {
			return err
		}
	}
	return nil
}

// Params converts the entry into account creation params.
// An unset role defaults to the regular user role.
func (u *User) Params() auth.NewUserParams {
	role := auth.RoleUser
	if u.Role != "" {
		role = auth.Role(u.Role)
	}
	return auth.NewUserParams{
		Email:    u.Email,
		Name:     u.Name,
		Password: u.Password,
		Role:     role,
	}
}
