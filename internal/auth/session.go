// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session lifetime defaults.
const (
	DefaultSessionTTL         = 7 * 24 * time.Hour
	DefaultSessionRenewAfter  = 24 * time.Hour
	maxSessionUserAgentLength = 512
)

// Session is an authenticated browser or API session. Only the hash of the
// bearer token is stored.
type Session struct {
	ID         ulid.ULID `json:"id"`
	IdentityID ulid.ULID `json:"-"`
	TokenHash  string    `json:"-"`
	RememberMe bool      `json:"rememberMe"`
	UserAgent  string    `json:"-"`
	IPAddress  string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
	RenewedAt  time.Time `json:"-"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// IsExpiredAt reports whether the session is expired at t. A session is
// expired from the instant now equals its expiry.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// SessionRepository persists sessions.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByTokenHash returns the session with the given token hash, expired
	// or not. Returns ErrNotFound when absent.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// Extend moves expires_at forward to expiresAt, never backwards, and sets
	// renewed_at. Returns the resulting expiry.
	Extend(ctx context.Context, id ulid.ULID, expiresAt, renewedAt time.Time) (time.Time, error)

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteByIdentity removes every session of an identity except the one
	// given, and returns the count deleted.
	DeleteByIdentity(ctx context.Context, identityID ulid.ULID, except *ulid.ULID) (int64, error)

	// DeleteExpired removes sessions expired at now and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionConfig tunes session lifetimes.
type SessionConfig struct {
	TTL        time.Duration
	RenewAfter time.Duration
	Clock      func() time.Time
}

// SessionManager creates, resolves, renews and revokes sessions.
type SessionManager struct {
	repo       SessionRepository
	ttl        time.Duration
	renewAfter time.Duration
	now        func() time.Time
}

// NewSessionManager creates a SessionManager. Zero config values use the
// defaults.
func NewSessionManager(repo SessionRepository, cfg SessionConfig) (*SessionManager, error) {
	if repo == nil {
		return nil, oops.Errorf("session repository is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.RenewAfter <= 0 {
		cfg.RenewAfter = DefaultSessionRenewAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &SessionManager{repo: repo, ttl: cfg.TTL, renewAfter: cfg.RenewAfter, now: cfg.Clock}, nil
}

// TTL returns the lifetime given to new and renewed sessions.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Create starts a session and returns its plaintext bearer token.
func (m *SessionManager) Create(ctx context.Context, identityID ulid.ULID, rememberMe bool, userAgent, ip string) (string, *Session, error) {
	if identityID.Compare(ulid.ULID{}) == 0 {
		return "", nil, oops.Code("SESSION_INVALID_IDENTITY").Errorf("identity ID cannot be zero")
	}

	token, hash, err := GenerateToken()
	if err != nil {
		return "", nil, err
	}
	if len(userAgent) > maxSessionUserAgentLength {
		userAgent = userAgent[:maxSessionUserAgentLength]
	}

	now := m.now()
	session := &Session{
		ID:         ulid.Make(),
		IdentityID: identityID,
		TokenHash:  hash,
		RememberMe: rememberMe,
		UserAgent:  userAgent,
		IPAddress:  ip,
		CreatedAt:  now,
		RenewedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
	}
	if err := m.repo.Create(ctx, session); err != nil {
		return "", nil, oops.Code("SESSION_CREATE_FAILED").With("identity_id", identityID.String()).Wrap(err)
	}
	return token, session, nil
}

// Resolve returns the live session for token, or nil when the token is
// empty, unknown or expired. Sessions idle past the renewal threshold get
// their expiry pushed to now+TTL.
func (m *SessionManager) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" || len(token) > 2*TokenBytes {
		return nil, nil
	}

	session, err := m.repo.GetByTokenHash(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("SESSION_LOOKUP_FAILED").Wrap(err)
	}

	now := m.now()
	if session.IsExpiredAt(now) {
		return nil, nil
	}

	if now.Sub(session.RenewedAt) >= m.renewAfter {
		expires, err := m.repo.Extend(ctx, session.ID, now.Add(m.ttl), now)
		if errors.Is(err, ErrNotFound) {
			// Revoked concurrently.
			return nil, nil
		}
		if err != nil {
			return nil, oops.Code("SESSION_RENEW_FAILED").With("session_id", session.ID.String()).Wrap(err)
		}
		session.ExpiresAt = expires
		session.RenewedAt = now
	}
	return session, nil
}

// Revoke deletes a session. It is idempotent.
func (m *SessionManager) Revoke(ctx context.Context, id ulid.ULID) error {
	if err := m.repo.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("SESSION_REVOKE_FAILED").With("session_id", id.String()).Wrap(err)
	}
	return nil
}

// RevokeAll deletes every session of an identity, optionally sparing one.
func (m *SessionManager) RevokeAll(ctx context.Context, identityID ulid.ULID, except *ulid.ULID) (int64, error) {
	n, err := m.repo.DeleteByIdentity(ctx, identityID, except)
	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_FAILED").With("identity_id", identityID.String()).Wrap(err)
	}
	return n, nil
}

// Sweep deletes expired sessions.
func (m *SessionManager) Sweep(ctx context.Context) (int64, error) {
	n, err := m.repo.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}
	return n, nil
}
