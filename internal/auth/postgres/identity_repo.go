// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/hilsha/gatehouse/internal/auth"
	"github.com/hilsha/gatehouse/internal/store"
)

const identityColumns = `id, email, password_hash, name, role, email_verified,
	failed_attempts, locked_until, created_at, updated_at`

// IdentityRepository implements auth.IdentityRepository using PostgreSQL.
type IdentityRepository struct {
	db store.DB
}

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(db store.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Create stores a new identity. A duplicate email, compared
// case-insensitively, fails with auth.CodeEmailTaken.
func (r *IdentityRepository) Create(ctx context.Context, identity *auth.Identity) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		identity.ID.String(),
		identity.Email,
		identity.PasswordHash,
		identity.Name,
		identity.Role,
		identity.EmailVerified,
		identity.FailedAttempts,
		identity.LockedUntil,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code(auth.CodeEmailTaken).
			With("email", identity.Email).
			Wrap(err)
	}
	if err != nil {
		return oops.Code("IDENTITY_CREATE_FAILED").
			With("operation", "insert identity").
			With("email", identity.Email).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an identity by ID.
func (r *IdentityRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Identity, error) {
	row := r.db.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id.String())

	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("IDENTITY_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_GET_FAILED").
			With("operation", "get identity by id").
			With("id", id.String()).
			Wrap(err)
	}
	return identity, nil
}

// GetByEmail retrieves an identity by email, ignoring case.
func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	row := r.db.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE lower(email) = lower($1)`, email)

	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("IDENTITY_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_GET_FAILED").
			With("operation", "get identity by email").
			Wrap(err)
	}
	return identity, nil
}

// UpdatePasswordHash replaces the stored hash.
func (r *IdentityRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, hash string, at time.Time) error {
	return r.update(ctx, "update password hash", id,
		`UPDATE identities SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		hash, at)
}

// MarkEmailVerified sets email_verified.
func (r *IdentityRepository) MarkEmailVerified(ctx context.Context, id ulid.ULID, at time.Time) error {
	return r.update(ctx, "mark email verified", id,
		`UPDATE identities SET email_verified = TRUE, updated_at = $2 WHERE id = $1`,
		at)
}

// RecordLogin clears the failure counter and any lock.
func (r *IdentityRepository) RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	return r.update(ctx, "record login", id, `
		UPDATE identities
		SET failed_attempts = 0, locked_until = NULL, updated_at = $2
		WHERE id = $1
	`, at)
}

// RecordLoginFailure increments the failure counter in one statement so
// concurrent failures are all counted. A lock that expired by $2 restarts the
// count at one. locked_until is set once the new count reaches threshold; a
// non-positive threshold never locks.
func (r *IdentityRepository) RecordLoginFailure(ctx context.Context, id ulid.ULID, at time.Time, threshold int, lockUntil time.Time) error {
	return r.update(ctx, "record login failure", id, `
		UPDATE identities
		SET failed_attempts = CASE
		        WHEN locked_until <= $2 THEN 1
		        ELSE failed_attempts + 1
		    END,
		    locked_until = CASE
		        WHEN $3 > 0 AND (CASE WHEN locked_until <= $2 THEN 1 ELSE failed_attempts + 1 END) >= $3 THEN $4
		        WHEN locked_until <= $2 THEN NULL
		        ELSE locked_until
		    END,
		    updated_at = $2
		WHERE id = $1
	`, at, threshold, lockUntil)
}

func (r *IdentityRepository) update(ctx context.Context, operation string, id ulid.ULID, sql string, args ...any) error {
	result, err := r.db.Exec(ctx, sql, append([]any{id.String()}, args...)...)
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").
			With("operation", operation).
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanIdentity scans a single identity row. pgx.ErrNoRows is returned
// unchanged for callers to classify.
func scanIdentity(row pgx.Row) (*auth.Identity, error) {
	var (
		idStr    string
		identity auth.Identity
	)
	err := row.Scan(
		&idStr,
		&identity.Email,
		&identity.PasswordHash,
		&identity.Name,
		&identity.Role,
		&identity.EmailVerified,
		&identity.FailedAttempts,
		&identity.LockedUntil,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}

	identity.ID, err = parseID("IDENTITY_INVALID_ID", "id", idStr)
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

// Compile-time interface check.
var _ auth.IdentityRepository = (*IdentityRepository)(nil)
