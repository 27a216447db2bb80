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

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db store.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db store.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (id, identity_id, token_hash, remember_me, user_agent, ip_address, created_at, renewed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		session.ID.String(),
		session.IdentityID.String(),
		session.TokenHash,
		session.RememberMe,
		session.UserAgent,
		session.IPAddress,
		session.CreatedAt,
		session.RenewedAt,
		session.ExpiresAt,
	)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("identity_id", session.IdentityID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash, expired or not.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, identity_id, token_hash, remember_me, user_agent, ip_address, created_at, renewed_at, expires_at
		FROM sessions
		WHERE token_hash = $1
	`, tokenHash)

	var (
		idStr, identityStr string
		s                  auth.Session
	)
	err := row.Scan(&idStr, &identityStr, &s.TokenHash, &s.RememberMe, &s.UserAgent, &s.IPAddress,
		&s.CreatedAt, &s.RenewedAt, &s.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	if s.ID, err = parseID("SESSION_INVALID_ID", "id", idStr); err != nil {
		return nil, err
	}
	if s.IdentityID, err = parseID("SESSION_INVALID_IDENTITY_ID", "identity_id", identityStr); err != nil {
		return nil, err
	}
	return &s, nil
}

// Extend moves the expiry forward. GREATEST keeps a concurrent, later
// renewal from being overwritten by an earlier one.
func (r *SessionRepository) Extend(ctx context.Context, id ulid.ULID, expiresAt, renewedAt time.Time) (time.Time, error) {
	var newExpiry time.Time
	err := r.db.QueryRow(ctx, `
		UPDATE sessions
		SET expires_at = GREATEST(expires_at, $2), renewed_at = $3
		WHERE id = $1
		RETURNING expires_at
	`, id.String(), expiresAt, renewedAt).Scan(&newExpiry)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, oops.Code("SESSION_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, oops.Code("SESSION_EXTEND_FAILED").
			With("operation", "extend session").
			With("id", id.String()).
			Wrap(err)
	}
	return newExpiry, nil
}

// Delete removes a session. A missing session is not an error.
func (r *SessionRepository) Delete(ctx context.Context, id ulid.ULID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id.String()); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session").
			With("id", id.String()).
			Wrap(err)
	}
	return nil
}

// DeleteByIdentity removes all sessions of an identity, optionally sparing one.
func (r *SessionRepository) DeleteByIdentity(ctx context.Context, identityID ulid.ULID, except *ulid.ULID) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM sessions
		WHERE identity_id = $1 AND ($2::text IS NULL OR id <> $2)
	`, identityID.String(), idArg(except))
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_BY_IDENTITY_FAILED").
			With("operation", "delete sessions by identity").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes sessions with expires_at <= now.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
