// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package authtest provides in-memory implementations of the auth
// repositories with the same atomicity guarantees as the PostgreSQL ones.
// Each repository exposes an Err hook per operation for failure tests.
package authtest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/hilsha/gatehouse/internal/auth"
)

// ErrInjected is a convenient error for failure hooks.
var ErrInjected = errors.New("injected failure")

// Store bundles the four in-memory repositories.
type Store struct {
	Identities *IdentityRepo
	Profiles   *ProfileRepo
	Sessions   *SessionRepo
	Tokens     *TokenRepo
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		Identities: &IdentityRepo{byID: map[ulid.ULID]*auth.Identity{}},
		Profiles:   &ProfileRepo{byID: map[ulid.ULID]*auth.Profile{}},
		Sessions:   &SessionRepo{byID: map[ulid.ULID]*auth.Session{}},
		Tokens:     &TokenRepo{byHash: map[string]*auth.PurposeToken{}},
	}
}

// IdentityRepo is an in-memory auth.IdentityRepository.
type IdentityRepo struct {
	mu   sync.Mutex
	byID map[ulid.ULID]*auth.Identity

	CreateErr      error
	GetErr         error
	UpdateErr      error
	RecordLoginErr error

	// FailureWrites counts RecordLoginFailure calls, matched or not.
	FailureWrites atomic.Int32
}

// Create stores a copy of identity, rejecting duplicate emails.
func (r *IdentityRepo) Create(_ context.Context, identity *auth.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return r.CreateErr
	}
	for _, existing := range r.byID {
		if strings.EqualFold(existing.Email, identity.Email) {
			return oops.Code(auth.CodeEmailTaken).With("email", identity.Email).Errorf("email already registered")
		}
	}
	c := *identity
	r.byID[identity.ID] = &c
	return nil
}

// GetByID returns a copy of the identity.
func (r *IdentityRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.GetErr != nil {
		return nil, r.GetErr
	}
	identity, ok := r.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	c := *identity
	return &c, nil
}

// GetByEmail returns a copy of the identity with a case-insensitive match.
func (r *IdentityRepo) GetByEmail(_ context.Context, email string) (*auth.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.GetErr != nil {
		return nil, r.GetErr
	}
	for _, identity := range r.byID {
		if strings.EqualFold(identity.Email, strings.TrimSpace(email)) {
			c := *identity
			return &c, nil
		}
	}
	return nil, auth.ErrNotFound
}

// UpdatePasswordHash replaces the stored hash.
func (r *IdentityRepo) UpdatePasswordHash(_ context.Context, id ulid.ULID, hash string, at time.Time) error {
	return r.mutate(id, r.UpdateErr, func(i *auth.Identity) {
		i.PasswordHash = hash
		i.UpdatedAt = at
	})
}

// MarkEmailVerified sets the verified flag.
func (r *IdentityRepo) MarkEmailVerified(_ context.Context, id ulid.ULID, at time.Time) error {
	return r.mutate(id, r.UpdateErr, func(i *auth.Identity) {
		i.EmailVerified = true
		i.UpdatedAt = at
	})
}

// RecordLogin clears the failure counters.
func (r *IdentityRepo) RecordLogin(_ context.Context, id ulid.ULID, at time.Time) error {
	return r.mutate(id, r.RecordLoginErr, func(i *auth.Identity) {
		i.FailedAttempts = 0
		i.LockedUntil = nil
		i.UpdatedAt = at
	})
}

// RecordLoginFailure increments the counter and locks at threshold. A lock
// that expired by at restarts the count.
func (r *IdentityRepo) RecordLoginFailure(_ context.Context, id ulid.ULID, at time.Time, threshold int, lockUntil time.Time) error {
	r.FailureWrites.Add(1)
	return r.mutate(id, r.RecordLoginErr, func(i *auth.Identity) {
		if i.LockedUntil != nil && !i.LockedUntil.After(at) {
			i.FailedAttempts = 0
			i.LockedUntil = nil
		}
		i.FailedAttempts++
		if threshold > 0 && i.FailedAttempts >= threshold {
			until := lockUntil
			i.LockedUntil = &until
		}
		i.UpdatedAt = at
	})
}

func (r *IdentityRepo) mutate(id ulid.ULID, hook error, fn func(*auth.Identity)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hook != nil {
		return hook
	}
	identity, ok := r.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	fn(identity)
	return nil
}

// Put stores identity directly, bypassing uniqueness checks.
func (r *IdentityRepo) Put(identity *auth.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *identity
	r.byID[identity.ID] = &c
}

// Count returns the number of stored identities.
func (r *IdentityRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// ProfileRepo is an in-memory auth.ProfileRepository.
type ProfileRepo struct {
	mu   sync.Mutex
	byID map[ulid.ULID]*auth.Profile

	CreateErr error
	UpdateErr error
}

// Create stores a copy of profile.
func (r *ProfileRepo) Create(_ context.Context, profile *auth.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return r.CreateErr
	}
	if _, ok := r.byID[profile.IdentityID]; ok {
		return oops.Code("PROFILE_EXISTS").Errorf("profile already exists")
	}
	c := *profile
	r.byID[profile.IdentityID] = &c
	return nil
}

// Get returns a copy of the profile.
func (r *ProfileRepo) Get(_ context.Context, identityID ulid.ULID) (*auth.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[identityID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	c := *p
	return &c, nil
}

// Update replaces the editable fields.
func (r *ProfileRepo) Update(_ context.Context, profile *auth.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.UpdateErr != nil {
		return r.UpdateErr
	}
	p, ok := r.byID[profile.IdentityID]
	if !ok {
		return auth.ErrNotFound
	}
	p.DisplayName = profile.DisplayName
	p.Avatar = profile.Avatar
	p.Bio = profile.Bio
	p.Preferences = profile.Preferences
	p.Metadata.UpdatedAt = profile.Metadata.UpdatedAt
	return nil
}

// RecordLogin updates the login metadata.
func (r *ProfileRepo) RecordLogin(_ context.Context, identityID ulid.ULID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[identityID]
	if !ok {
		return auth.ErrNotFound
	}
	last := at
	p.Metadata.LastLogin = &last
	p.Metadata.LoginCount++
	return nil
}

// SessionRepo is an in-memory auth.SessionRepository.
type SessionRepo struct {
	mu   sync.Mutex
	byID map[ulid.ULID]*auth.Session

	CreateErr error
	GetErr    error
	DeleteErr error
}

// Create stores a copy of session.
func (r *SessionRepo) Create(_ context.Context, session *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return r.CreateErr
	}
	c := *session
	r.byID[session.ID] = &c
	return nil
}

// GetByTokenHash returns a copy of the session.
func (r *SessionRepo) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.GetErr != nil {
		return nil, r.GetErr
	}
	for _, s := range r.byID {
		if s.TokenHash == tokenHash {
			c := *s
			return &c, nil
		}
	}
	return nil, auth.ErrNotFound
}

// Extend moves the expiry forward only.
func (r *SessionRepo) Extend(_ context.Context, id ulid.ULID, expiresAt, renewedAt time.Time) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return time.Time{}, auth.ErrNotFound
	}
	if expiresAt.After(s.ExpiresAt) {
		s.ExpiresAt = expiresAt
	}
	s.RenewedAt = renewedAt
	return s.ExpiresAt, nil
}

// Delete removes a session.
func (r *SessionRepo) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DeleteErr != nil {
		return r.DeleteErr
	}
	delete(r.byID, id)
	return nil
}

// DeleteByIdentity removes all sessions of identityID except one.
func (r *SessionRepo) DeleteByIdentity(_ context.Context, identityID ulid.ULID, except *ulid.ULID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DeleteErr != nil {
		return 0, r.DeleteErr
	}
	var n int64
	for id, s := range r.byID {
		if s.IdentityID != identityID || (except != nil && id == *except) {
			continue
		}
		delete(r.byID, id)
		n++
	}
	return n, nil
}

// DeleteExpired removes sessions expired at now.
func (r *SessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.byID {
		if s.IsExpiredAt(now) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

// CountFor returns the number of sessions held by identityID.
func (r *SessionRepo) CountFor(identityID ulid.ULID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.byID {
		if s.IdentityID == identityID {
			n++
		}
	}
	return n
}

// TokenRepo is an in-memory auth.TokenRepository.
type TokenRepo struct {
	mu     sync.Mutex
	byHash map[string]*auth.PurposeToken

	CreateErr  error
	ConsumeErr error
}

// Create stores a copy of token.
func (r *TokenRepo) Create(_ context.Context, token *auth.PurposeToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return r.CreateErr
	}
	c := *token
	r.byHash[token.TokenHash] = &c
	return nil
}

// Consume marks a live token consumed under the repository lock.
func (r *TokenRepo) Consume(_ context.Context, tokenHash string, purpose auth.Purpose, now time.Time) (ulid.ULID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ConsumeErr != nil {
		return ulid.ULID{}, r.ConsumeErr
	}
	t, ok := r.byHash[tokenHash]
	if !ok || t.Purpose != purpose || t.ConsumedAt != nil || t.IsExpiredAt(now) {
		return ulid.ULID{}, auth.ErrNotFound
	}
	at := now
	t.ConsumedAt = &at
	return t.IdentityID, nil
}

// GetByHash returns a copy of the token.
func (r *TokenRepo) GetByHash(_ context.Context, tokenHash string) (*auth.PurposeToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byHash[tokenHash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	c := *t
	return &c, nil
}

// DeleteStale removes tokens that expired before cutoff, consumed or not.
func (r *TokenRepo) DeleteStale(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for h, t := range r.byHash {
		if t.ExpiresAt.Before(cutoff) {
			delete(r.byHash, h)
			n++
		}
	}
	return n, nil
}

// Count returns the number of stored tokens.
func (r *TokenRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byHash)
}
