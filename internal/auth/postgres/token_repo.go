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

// TokenRepository implements auth.TokenRepository using PostgreSQL.
type TokenRepository struct {
	db store.DB
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db store.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create stores a new purpose token. Older tokens are left alone.
func (r *TokenRepository) Create(ctx context.Context, token *auth.PurposeToken) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO purpose_tokens (id, identity_id, purpose, token_hash, expires_at, consumed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		token.ID.String(),
		token.IdentityID.String(),
		string(token.Purpose),
		token.TokenHash,
		token.ExpiresAt,
		token.ConsumedAt,
		token.CreatedAt,
	)
	if err != nil {
		return oops.Code("TOKEN_CREATE_FAILED").
			With("operation", "insert purpose token").
			With("identity_id", token.IdentityID.String()).
			With("purpose", string(token.Purpose)).
			Wrap(err)
	}
	return nil
}

// Consume marks a live token consumed in a single statement, so two
// concurrent redemptions cannot both succeed.
func (r *TokenRepository) Consume(ctx context.Context, tokenHash string, purpose auth.Purpose, now time.Time) (ulid.ULID, error) {
	var identityStr string
	err := r.db.QueryRow(ctx, `
		UPDATE purpose_tokens
		SET consumed_at = $3
		WHERE token_hash = $1
		  AND purpose = $2
		  AND consumed_at IS NULL
		  AND expires_at > $3
		RETURNING identity_id
	`, tokenHash, string(purpose), now).Scan(&identityStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return ulid.ULID{}, oops.Code("TOKEN_NOT_FOUND").With("purpose", string(purpose)).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return ulid.ULID{}, oops.Code("TOKEN_CONSUME_FAILED").
			With("operation", "consume purpose token").
			With("purpose", string(purpose)).
			Wrap(err)
	}
	return parseID("TOKEN_INVALID_IDENTITY_ID", "identity_id", identityStr)
}

// GetByHash retrieves a token regardless of state.
func (r *TokenRepository) GetByHash(ctx context.Context, tokenHash string) (*auth.PurposeToken, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, identity_id, purpose, token_hash, expires_at, consumed_at, created_at
		FROM purpose_tokens
		WHERE token_hash = $1
	`, tokenHash)

	var (
		idStr, identityStr, purpose string
		t                           auth.PurposeToken
	)
	err := row.Scan(&idStr, &identityStr, &purpose, &t.TokenHash, &t.ExpiresAt, &t.ConsumedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").
			With("operation", "get purpose token by hash").
			Wrap(err)
	}

	if t.ID, err = parseID("TOKEN_INVALID_ID", "id", idStr); err != nil {
		return nil, err
	}
	if t.IdentityID, err = parseID("TOKEN_INVALID_IDENTITY_ID", "identity_id", identityStr); err != nil {
		return nil, err
	}
	t.Purpose = auth.Purpose(purpose)
	return &t, nil
}

// DeleteStale removes tokens that expired before cutoff. Consumed tokens are
// kept until then so a replay is still reported as already used.
func (r *TokenRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM purpose_tokens
		WHERE expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_STALE_FAILED").
			With("operation", "delete stale purpose tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// Compile-time interface check.
var _ auth.TokenRepository = (*TokenRepository)(nil)
