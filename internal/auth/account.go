// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HRTrack Contributors

package auth

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is one of the two mutually exclusive account categories.
type Role string

// Account roles.
const (
	RoleEmployee Role = "EMPLOYEE"
	RoleEmployer Role = "EMPLOYER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleEmployee || r == RoleEmployer
}

// Other returns the opposite role. It returns the zero Role for unknown roles.
func (r Role) Other() Role {
	switch r {
	case RoleEmployee:
		return RoleEmployer
	case RoleEmployer:
		return RoleEmployee
	default:
		return ""
	}
}

// Section returns the lowercase URL section for the role ("employee" or "employer").
func (r Role) Section() string {
	return strings.ToLower(string(r))
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", oops.Code("AUTH_INVALID_ROLE").
			With("role", s).
			Wrap(fmt.Errorf("%w: role must be EMPLOYEE or EMPLOYER", ErrValidation))
	}
	return r, nil
}

// Name length constraints.
const (
	MaxNameLength  = 120
	MaxEmailLength = 254
)

// Account is a user of the HR application.
type Account struct {
	ID             ulid.ULID
	Email          string
	Name           string
	Role           Role
	PasswordHash   *string    // nil until a password is first set
	LastLoginAt    *time.Time // nil until the first successful login
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewAccount creates a validated Account pending password setup.
func NewAccount(email, name string, role Role) (*Account, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, oops.Code("AUTH_INVALID_NAME").Wrap(fmt.Errorf("%w: name cannot be empty", ErrValidation))
	}
	if len(name) > MaxNameLength {
		return nil, oops.Code("AUTH_INVALID_NAME").
			With("max", MaxNameLength).
			Wrap(fmt.Errorf("%w: name must be at most %d characters", ErrValidation, MaxNameLength))
	}
	if !role.Valid() {
		return nil, oops.Code("AUTH_INVALID_ROLE").
			With("role", string(role)).
			Wrap(fmt.Errorf("%w: unknown role", ErrValidation))
	}

	now := time.Now()
	return &Account{
		ID:        ulid.Make(),
		Email:     normalized,
		Name:      name,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NormalizeEmail trims, lowercases and validates an email address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", oops.Code("AUTH_INVALID_EMAIL").Wrap(fmt.Errorf("%w: email cannot be empty", ErrValidation))
	}
	if len(email) > MaxEmailLength {
		return "", oops.Code("AUTH_INVALID_EMAIL").Wrap(fmt.Errorf("%w: email is too long", ErrValidation))
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", oops.Code("AUTH_INVALID_EMAIL").
			With("email", email).
			Wrap(fmt.Errorf("%w: email is not a valid address", ErrValidation))
	}
	return email, nil
}

// HasPassword reports whether the account completed setup: a password hash is
// stored AND the account has logged in at least once. A hash left behind by an
// unfinished setup does not count.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != "" && a.LastLoginAt != nil
}

// IsLockedAt returns true if the account is locked out at t.
func (a *Account) IsLockedAt(t time.Time) bool {
	return IsLockedOut(a.LockedUntil, t)
}

// RecordFailure increments the failure counter and sets a lockout once the
// threshold is reached.
func (a *Account) RecordFailure(now time.Time) {
	a.FailedAttempts++
	a.LockedUntil = ComputeLockoutTime(a.FailedAttempts, now)
	a.UpdatedAt = now
}

// RecordLogin resets the failure counter and stamps LastLoginAt.
func (a *Account) RecordLogin(now time.Time) {
	a.FailedAttempts = 0
	a.LockedUntil = nil
	a.LastLoginAt = &now
	a.UpdatedAt = now
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// Create stores a new account. Fails if (email, role) is taken.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by email (case-insensitive) and role.
	// Returns ErrNotFound if no such account exists.
	GetByEmail(ctx context.Context, email string, role Role) (*Account, error)

	// RecordLoginFailure stores the failure counter and lockout after a
	// rejected password. It never writes the password hash.
	RecordLoginFailure(ctx context.Context, id ulid.ULID, failedAttempts int, lockedUntil *time.Time, at time.Time) error

	// RecordLogin clears the failure state and stamps LastLoginAt. It never
	// writes the password hash.
	RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error

	// UpgradePasswordHash replaces oldHash with newHash only while the stored
	// hash still equals oldHash, and reports whether it did. A password set
	// in the meantime is left alone.
	UpgradePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string, at time.Time) (bool, error)
}
