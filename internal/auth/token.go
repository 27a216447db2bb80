// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenBytes is the entropy of every opaque credential (session and purpose
// tokens): 32 bytes, 256 bits.
const TokenBytes = 32

// Default purpose token lifetimes.
const (
	DefaultResetTokenTTL        = time.Hour
	DefaultVerificationTokenTTL = 24 * time.Hour
)

// Purpose scopes a single-use token to one flow.
type Purpose string

// Token purposes.
const (
	PurposeResetPassword Purpose = "reset-password"
	PurposeVerifyEmail   Purpose = "verify-email"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeResetPassword || p == PurposeVerifyEmail
}

// PurposeToken is a stored single-use token. Only the hash of the plaintext
// value is kept.
type PurposeToken struct {
	ID         ulid.ULID
	IdentityID ulid.ULID
	Purpose    Purpose
	TokenHash  string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// IsExpiredAt reports whether the token is expired at t.
func (t *PurposeToken) IsExpiredAt(at time.Time) bool {
	return !at.Before(t.ExpiresAt)
}

// GenerateToken creates a random opaque token and its storage hash.
// The plaintext is base64url without padding.
func GenerateToken() (token, hash string, err error) {
	b := make([]byte, TokenBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", TokenBytes).
			Wrap(err)
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, HashToken(token), nil
}

// HashToken computes the hex SHA-256 of a plaintext token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenRepository persists purpose tokens.
type TokenRepository interface {
	// Create stores a new token.
	Create(ctx context.Context, token *PurposeToken) error

	// Consume atomically marks an unconsumed, unexpired token with the given
	// hash and purpose as consumed at now and returns its identity.
	// Returns ErrNotFound when no row qualifies.
	Consume(ctx context.Context, tokenHash string, purpose Purpose, now time.Time) (ulid.ULID, error)

	// GetByHash returns the token with the given hash regardless of state.
	GetByHash(ctx context.Context, tokenHash string) (*PurposeToken, error)

	// DeleteStale removes tokens that expired before cutoff and returns the
	// count deleted. Consumed tokens stay until then so replays classify as
	// already used.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenIssuer issues and redeems purpose tokens.
type TokenIssuer struct {
	repo TokenRepository
	now  func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. A nil clock uses time.Now.
func NewTokenIssuer(repo TokenRepository, now func() time.Time) (*TokenIssuer, error) {
	if repo == nil {
		return nil, oops.Errorf("token repository is required")
	}
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{repo: repo, now: now}, nil
}

// Issue creates a token for identityID. Older unconsumed tokens for the same
// purpose stay valid until they expire.
func (i *TokenIssuer) Issue(ctx context.Context, identityID ulid.ULID, purpose Purpose, ttl time.Duration) (string, *PurposeToken, error) {
	if !purpose.Valid() {
		return "", nil, oops.Code("TOKEN_INVALID_PURPOSE").With("purpose", string(purpose)).Errorf("unknown token purpose")
	}
	if ttl <= 0 {
		return "", nil, oops.Code("TOKEN_INVALID_TTL").With("ttl", ttl.String()).Errorf("token ttl must be positive")
	}

	plaintext, hash, err := GenerateToken()
	if err != nil {
		return "", nil, err
	}

	now := i.now()
	tok := &PurposeToken{
		ID:         ulid.Make(),
		IdentityID: identityID,
		Purpose:    purpose,
		TokenHash:  hash,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	if err := i.repo.Create(ctx, tok); err != nil {
		return "", nil, oops.With("identity_id", identityID.String()).With("purpose", string(purpose)).Wrap(err)
	}
	return plaintext, tok, nil
}

// Decoy performs the same generation and hashing work as Issue without
// touching storage.
func (i *TokenIssuer) Decoy() {
	_, _, _ = GenerateToken() //nolint:errcheck // decoy work only
}

// ValidateAndConsume redeems a token for the given purpose. At most one of any
// number of concurrent calls with the same token succeeds. Failures carry
// CodeTokenInvalid, CodeTokenExpired or CodeTokenAlreadyUsed.
func (i *TokenIssuer) ValidateAndConsume(ctx context.Context, plaintext string, purpose Purpose) (ulid.ULID, error) {
	if plaintext == "" {
		return ulid.ULID{}, oops.Code(CodeTokenInvalid).Errorf("token is empty")
	}

	hash := HashToken(plaintext)
	now := i.now()

	identityID, err := i.repo.Consume(ctx, hash, purpose, now)
	if err == nil {
		return identityID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return ulid.ULID{}, oops.Code("TOKEN_CONSUME_FAILED").With("purpose", string(purpose)).Wrap(err)
	}

	return ulid.ULID{}, i.classify(ctx, hash, purpose, now)
}

// classify explains why a consume matched no row.
func (i *TokenIssuer) classify(ctx context.Context, hash string, purpose Purpose, now time.Time) error {
	tok, err := i.repo.GetByHash(ctx, hash)
	switch {
	case errors.Is(err, ErrNotFound):
		return oops.Code(CodeTokenInvalid).Errorf("token not recognized")
	case err != nil:
		return oops.Code("TOKEN_LOOKUP_FAILED").Wrap(err)
	case tok.Purpose != purpose:
		return oops.Code(CodeTokenInvalid).With("purpose", string(purpose)).Errorf("token purpose mismatch")
	case tok.ConsumedAt != nil:
		return oops.Code(CodeTokenAlreadyUsed).Errorf("token already used")
	case tok.IsExpiredAt(now):
		return oops.Code(CodeTokenExpired).Errorf("token expired")
	default:
		// Consumed or expired between the update and this read.
		return oops.Code(CodeTokenAlreadyUsed).Errorf("token already used")
	}
}
