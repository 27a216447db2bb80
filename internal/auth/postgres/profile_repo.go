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

// ProfileRepository implements auth.ProfileRepository using PostgreSQL.
type ProfileRepository struct {
	db store.DB
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(db store.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Create stores a new profile.
func (r *ProfileRepository) Create(ctx context.Context, p *auth.Profile) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO profiles (
			identity_id, email, display_name, avatar, bio,
			notifications, newsletter, theme,
			last_login, login_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		p.IdentityID.String(),
		p.Email,
		p.DisplayName,
		p.Avatar,
		p.Bio,
		p.Preferences.Notifications,
		p.Preferences.Newsletter,
		string(p.Preferences.Theme),
		p.Metadata.LastLogin,
		p.Metadata.LoginCount,
		p.Metadata.CreatedAt,
		p.Metadata.UpdatedAt,
	)
	if err != nil {
		return oops.Code("PROFILE_CREATE_FAILED").
			With("operation", "insert profile").
			With("identity_id", p.IdentityID.String()).
			Wrap(err)
	}
	return nil
}

// Get retrieves the profile of an identity.
func (r *ProfileRepository) Get(ctx context.Context, identityID ulid.ULID) (*auth.Profile, error) {
	row := r.db.QueryRow(ctx, `
		SELECT identity_id, email, display_name, avatar, bio,
		       notifications, newsletter, theme,
		       last_login, login_count, created_at, updated_at
		FROM profiles
		WHERE identity_id = $1
	`, identityID.String())

	var (
		idStr string
		theme string
		p     auth.Profile
	)
	err := row.Scan(
		&idStr, &p.Email, &p.DisplayName, &p.Avatar, &p.Bio,
		&p.Preferences.Notifications, &p.Preferences.Newsletter, &theme,
		&p.Metadata.LastLogin, &p.Metadata.LoginCount, &p.Metadata.CreatedAt, &p.Metadata.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PROFILE_NOT_FOUND").
			With("identity_id", identityID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PROFILE_GET_FAILED").
			With("operation", "get profile").
			With("identity_id", identityID.String()).
			Wrap(err)
	}

	p.IdentityID, err = parseID("PROFILE_INVALID_ID", "identity_id", idStr)
	if err != nil {
		return nil, err
	}
	p.Preferences.Theme = auth.Theme(theme)
	return &p, nil
}

// Update writes the client-editable fields. Login metadata is owned by
// RecordLogin and left untouched.
func (r *ProfileRepository) Update(ctx context.Context, p *auth.Profile) error {
	result, err := r.db.Exec(ctx, `
		UPDATE profiles
		SET display_name = $2, avatar = $3, bio = $4,
		    notifications = $5, newsletter = $6, theme = $7,
		    updated_at = $8
		WHERE identity_id = $1
	`,
		p.IdentityID.String(),
		p.DisplayName,
		p.Avatar,
		p.Bio,
		p.Preferences.Notifications,
		p.Preferences.Newsletter,
		string(p.Preferences.Theme),
		p.Metadata.UpdatedAt,
	)
	if err != nil {
		return oops.Code("PROFILE_UPDATE_FAILED").
			With("operation", "update profile").
			With("identity_id", p.IdentityID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("PROFILE_NOT_FOUND").
			With("identity_id", p.IdentityID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// RecordLogin sets last_login and increments login_count in one statement.
func (r *ProfileRepository) RecordLogin(ctx context.Context, identityID ulid.ULID, at time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE profiles
		SET last_login = $2, login_count = login_count + 1
		WHERE identity_id = $1
	`, identityID.String(), at)
	if err != nil {
		return oops.Code("PROFILE_RECORD_LOGIN_FAILED").
			With("operation", "record profile login").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("PROFILE_NOT_FOUND").
			With("identity_id", identityID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ auth.ProfileRepository = (*ProfileRepository)(nil)
