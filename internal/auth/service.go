// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultEnumerationFloor is the minimum duration of the flows whose timing
// must not reveal whether an email is registered.
const DefaultEnumerationFloor = 200 * time.Millisecond

// dummyPasswordHash is verified against when no identity matches, so unknown
// emails cost the same as wrong passwords. No password matches it.
//
//nolint:gosec // G101: intentionally fake hash for timing parity, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Config holds the orchestration settings.
type Config struct {
	// PublicURL is the externally reachable base URL of this service, used in
	// verification links.
	PublicURL string
	// FrontendURL is the base URL of the web client, used for default
	// reset and verification landing pages.
	FrontendURL string

	ResetTokenTTL        time.Duration
	VerificationTokenTTL time.Duration
	Lockout              LockoutPolicy
	EnumerationFloor     time.Duration

	RequireEmailVerification    bool
	RevokeSessionsOnReset       bool
	AutoSignInAfterVerification bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PublicURL:                   "http://localhost:5000",
		FrontendURL:                 "http://localhost:3000",
		ResetTokenTTL:               DefaultResetTokenTTL,
		VerificationTokenTTL:        DefaultVerificationTokenTTL,
		Lockout:                     DefaultLockoutPolicy(),
		EnumerationFloor:            DefaultEnumerationFloor,
		RequireEmailVerification:    true,
		RevokeSessionsOnReset:       true,
		AutoSignInAfterVerification: true,
	}
}

// URLPolicy decides whether a client-supplied redirect target is trusted.
type URLPolicy interface {
	AllowURL(raw string) bool
}

// EventRecorder counts auth outcomes, typically into metrics.
type EventRecorder interface {
	AuthEvent(event, outcome string)
}

// ServiceDeps are the collaborators of Service. Notifier, URLs, Events,
// Logger and Clock are optional.
type ServiceDeps struct {
	Identities IdentityRepository
	Profiles   ProfileRepository
	Sessions   *SessionManager
	Tokens     *TokenIssuer
	Hasher     PasswordHasher
	Notifier   Notifier
	URLs       URLPolicy
	Events     EventRecorder
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Service orchestrates the account use cases.
type Service struct {
	cfg        Config
	identities IdentityRepository
	profiles   ProfileRepository
	sessions   *SessionManager
	tokens     *TokenIssuer
	hasher     PasswordHasher
	notifier   Notifier
	urls       URLPolicy
	events     EventRecorder
	logger     *slog.Logger
	now        func() time.Time
	dummyHash  string
}

// NewService creates a Service, validating required dependencies.
func NewService(cfg Config, deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Identities == nil:
		return nil, oops.Errorf("identity repository is required")
	case deps.Profiles == nil:
		return nil, oops.Errorf("profile repository is required")
	case deps.Sessions == nil:
		return nil, oops.Errorf("session manager is required")
	case deps.Tokens == nil:
		return nil, oops.Errorf("token issuer is required")
	case deps.Hasher == nil:
		return nil, oops.Errorf("password hasher is required")
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = DefaultResetTokenTTL
	}
	if cfg.VerificationTokenTTL <= 0 {
		cfg.VerificationTokenTTL = DefaultVerificationTokenTTL
	}

	s := &Service{
		cfg:        cfg,
		identities: deps.Identities,
		profiles:   deps.Profiles,
		sessions:   deps.Sessions,
		tokens:     deps.Tokens,
		hasher:     deps.Hasher,
		notifier:   deps.Notifier,
		urls:       deps.URLs,
		events:     deps.Events,
		logger:     deps.Logger,
		now:        deps.Clock,
		dummyHash:  dummyPasswordHash,
	}
	if s.notifier == nil {
		s.notifier = discardNotifier{}
	}
	if s.urls == nil {
		s.urls = sameOriginPolicy(cfg.FrontendURL)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if d, ok := deps.Hasher.(interface{ DummyHash() string }); ok {
		s.dummyHash = d.DummyHash()
	}
	return s, nil
}

// Config returns the service settings.
func (s *Service) Config() Config {
	return s.cfg
}

// SessionTTL returns the lifetime of sessions created by the service.
func (s *Service) SessionTTL() time.Duration {
	return s.sessions.TTL()
}

// SignupInput is the signup request.
type SignupInput struct {
	Email    string
	Password string
	Name     string
}

// Signup registers an unverified identity with its profile and sends the
// verification notification.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*UserView, error) {
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	name, err := ValidateName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "hash password").Wrap(err)
	}

	identity, err := NewIdentity(email, name, hash, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		if IsCode(err, CodeEmailTaken) {
			s.event("signup", "conflict")
			return nil, ClientError(CodeEmailTaken, MsgEmailTaken)
		}
		return nil, oops.Code("AUTH_SIGNUP_FAILED").With("operation", "create identity").Wrap(err)
	}

	// A missing profile is recreated on first read.
	if err := s.profiles.Create(ctx, NewProfile(identity)); err != nil {
		s.bestEffort("create_profile", identity.ID, err)
	}

	s.sendVerification(ctx, identity, "")
	s.event("signup", "success")

	view := identity.View()
	return &view, nil
}

// LoginInput is the sign-in request.
type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
	UserAgent  string
	IPAddress  string
}

// LoginResult carries the new session and its plaintext bearer token.
type LoginResult struct {
	User    UserView
	Session *Session
	Token   string
}

// Login authenticates by email and password and starts a session. Unknown
// emails and wrong passwords fail identically, after the same hashing work.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	identity, lookupErr := s.identities.GetByEmail(ctx, email)
	targetHash := s.dummyHash
	exists := false
	switch {
	case lookupErr == nil:
		targetHash = identity.PasswordHash
		exists = true
	case !errors.Is(lookupErr, ErrNotFound):
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "get identity by email").Wrap(lookupErr)
	}

	valid, verifyErr := s.hasher.Verify(in.Password, targetHash)
	if verifyErr != nil {
		if !exists {
			s.recordLoginFailure(ctx, nil, false, s.now())
			s.event("login", "invalid_credentials")
			return nil, ErrInvalidCredentials()
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("identity_id", identity.ID.String()).
			Wrap(verifyErr)
	}

	// A locked identity answers exactly like a wrong password, whatever
	// password was sent, so the lock is neither an oracle nor an existence
	// signal.
	now := s.now()
	locked := exists && identity.IsLockedAt(now)
	if !exists || !valid || locked {
		s.recordLoginFailure(ctx, identity, exists && !locked, now)
		if locked {
			s.event("login", "locked")
		} else {
			s.event("login", "invalid_credentials")
		}
		return nil, ErrInvalidCredentials()
	}

	if s.cfg.RequireEmailVerification && !identity.EmailVerified {
		s.event("login", "unverified")
		return nil, ClientError(CodeEmailNotVerified, MsgEmailNotVerified)
	}

	if err := s.identities.RecordLogin(ctx, identity.ID, now); err != nil {
		s.bestEffort("record_login", identity.ID, err)
	}
	if s.hasher.NeedsUpgrade(identity.PasswordHash) {
		if newHash, err := s.hasher.Hash(in.Password); err == nil {
			if err := s.identities.UpdatePasswordHash(ctx, identity.ID, newHash, now); err != nil {
				s.bestEffort("upgrade_hash", identity.ID, err)
			}
		}
	}
	if err := s.profiles.RecordLogin(ctx, identity.ID, now); err != nil {
		s.bestEffort("record_profile_login", identity.ID, err)
	}

	token, session, err := s.sessions.Create(ctx, identity.ID, in.RememberMe, in.UserAgent, in.IPAddress)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "create session").Wrap(err)
	}

	s.event("login", "success")
	identity.FailedAttempts = 0
	identity.LockedUntil = nil
	return &LoginResult{User: identity.View(), Session: session, Token: token}, nil
}

// recordLoginFailure counts a failed sign-in when lockout is enabled. Unknown
// emails and locked identities issue the same single-row update against the
// zero id, which matches nothing, so every failure costs one write.
func (s *Service) recordLoginFailure(ctx context.Context, identity *Identity, count bool, now time.Time) {
	if !s.cfg.Lockout.Enabled() {
		return
	}
	target := ulid.ULID{}
	if count {
		target = identity.ID
	}
	err := s.identities.RecordLoginFailure(ctx, target, now, s.cfg.Lockout.Threshold, s.cfg.Lockout.LockUntil(now))
	if count && err != nil {
		s.bestEffort("record_login_failure", identity.ID, err)
	}
}

// Logout revokes the session behind token. Missing or invalid sessions are
// not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	session, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").With("operation", "resolve session").Wrap(err)
	}
	if session == nil {
		return nil
	}
	if err := s.sessions.Revoke(ctx, session.ID); err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "revoke session").
			With("session_id", session.ID.String()).
			Wrap(err)
	}
	s.event("logout", "success")
	return nil
}

// SessionInfo is an authenticated session with its identity.
type SessionInfo struct {
	User    UserView
	Session *Session
}

// GetSession resolves a bearer token. It returns nil, nil when the token does
// not name a live session.
func (s *Service) GetSession(ctx context.Context, token string) (*SessionInfo, error) {
	session, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	identity, err := s.identities.GetByID(ctx, session.IdentityID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_LOOKUP_FAILED").
			With("identity_id", session.IdentityID.String()).
			Wrap(err)
	}
	return &SessionInfo{User: identity.View(), Session: session}, nil
}

// padTo sleeps until floor has elapsed since start or ctx is done.
func (s *Service) padTo(ctx context.Context, start time.Time) {
	remaining := s.cfg.EnumerationFloor - time.Since(start)
	if remaining <= 0 {
		return
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *Service) bestEffort(operation string, identityID ulid.ULID, err error) {
	s.logger.Warn("best-effort operation failed",
		"operation", operation,
		"identity_id", identityID.String(),
		"error", err.Error(),
	)
}

func (s *Service) event(event, outcome string) {
	if s.events != nil {
		s.events.AuthEvent(event, outcome)
	}
}

// resolveRedirect returns raw when trusted, fallback when raw is empty, and a
// validation error otherwise.
func (s *Service) resolveRedirect(field, raw, fallback string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	if !s.urls.AllowURL(raw) {
		return "", ValidationError(field, "Redirect URL is not a trusted origin")
	}
	return raw, nil
}

// withQuery appends key=value to a URL, preserving existing parameters.
func withQuery(base string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?" + params.Encode()
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// sameOriginPolicy trusts URLs sharing the origin of base.
type sameOriginPolicy string

func (p sameOriginPolicy) AllowURL(raw string) bool {
	want, err := url.Parse(string(p))
	if err != nil || want.Host == "" {
		return false
	}
	got, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(got.Scheme, want.Scheme) && strings.EqualFold(got.Host, want.Host)
}
