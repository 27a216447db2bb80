// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

// Roles assignable to an identity. Only RoleUser is assigned through the API.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Display name bounds.
const (
	MinNameLength = 2
	MaxNameLength = 100
)

// Identity is the durable account record.
type Identity struct {
	ID             ulid.ULID
	Email          string
	PasswordHash   string
	Name           string
	Role           string
	EmailVerified  bool
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewIdentity validates the signup inputs and returns an unverified identity.
// The email is normalized; passwordHash must already be computed.
func NewIdentity(email, name, passwordHash string, now time.Time) (*Identity, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	trimmed, err := ValidateName(name)
	if err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, ValidationError("password", "Password is required")
	}

	return &Identity{
		ID:           ulid.Make(),
		Email:        normalized,
		PasswordHash: passwordHash,
		Name:         trimmed,
		Role:         RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsLockedAt reports whether the identity is locked out at t.
func (i *Identity) IsLockedAt(t time.Time) bool {
	return IsLockedOut(i.LockedUntil, t)
}

// View returns the client-safe projection of the identity.
func (i *Identity) View() UserView {
	return UserView{
		ID:            i.ID.String(),
		Email:         i.Email,
		Name:          i.Name,
		Role:          i.Role,
		EmailVerified: i.EmailVerified,
		CreatedAt:     i.CreatedAt,
	}
}

// UserView is the identity as exposed outside the credential store.
// It never carries the password hash.
type UserView struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Role          string    `json:"role"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NormalizeEmail trims and lower-cases an address and checks its syntax.
func NormalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", ValidationError("email", "Please provide a valid email address")
	}
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized || !strings.Contains(normalized[strings.LastIndex(normalized, "@")+1:], ".") {
		return "", ValidationError("email", "Please provide a valid email address")
	}
	return normalized, nil
}

// ValidateName trims a display name and checks its length.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	n := utf8.RuneCountInString(trimmed)
	if n < MinNameLength {
		return "", ValidationError("name", "Name must be at least 2 characters long")
	}
	if n > MaxNameLength {
		return "", ValidationError("name", "Name must not exceed 100 characters")
	}
	return trimmed, nil
}

// IdentityRepository persists identities. All email lookups are
// case-insensitive. Implementations return ErrNotFound for missing rows and a
// CodeEmailTaken error for duplicate emails.
type IdentityRepository interface {
	Create(ctx context.Context, identity *Identity) error
	GetByID(ctx context.Context, id ulid.ULID) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, hash string, at time.Time) error
	MarkEmailVerified(ctx context.Context, id ulid.ULID, at time.Time) error

	// RecordLogin clears failure counters after a successful sign-in.
	RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error

	// RecordLoginFailure atomically counts a failure at `at` and sets
	// locked_until to lockUntil once the counter reaches threshold. A lock
	// that expired before `at` restarts the count at one.
	RecordLoginFailure(ctx context.Context, id ulid.ULID, at time.Time, threshold int, lockUntil time.Time) error
}
