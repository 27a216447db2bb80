// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hilsha/gatehouse/internal/auth"
)

// SessionResolver looks up the live session behind a bearer token. It
// returns nil, nil when there is none.
type SessionResolver interface {
	GetSession(ctx context.Context, token string) (*auth.SessionInfo, error)
}

// Guard resolves request credentials and gates handlers on them.
type Guard struct {
	resolver SessionResolver
	cookies  cookieJar
	logger   *slog.Logger
}

// NewGuard creates a Guard reading the session cookie named by cookiePrefix.
func NewGuard(resolver SessionResolver, cookiePrefix string, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{resolver: resolver, cookies: newCookieJar(cookiePrefix, false), logger: logger}
}

// credential returns the session token from the cookie, falling back to an
// Authorization bearer header.
func (g *Guard) credential(r *http.Request) string {
	if c, err := r.Cookie(g.cookies.name); err == nil && c.Value != "" {
		return c.Value
	}
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// resolve authenticates r once per request; later guards reuse the result.
func (g *Guard) resolve(r *http.Request) (*http.Request, *authState, error) {
	if st, ok := authStateFrom(r.Context()); ok {
		return r, st, nil
	}

	st := &authState{token: g.credential(r)}
	if st.token != "" {
		info, err := g.resolver.GetSession(r.Context(), st.token)
		if err != nil {
			return r, nil, err
		}
		st.info = info
	}
	return r.WithContext(withAuthState(r.Context(), st)), st, nil
}

// OptionalAuth attaches the session when one is present and never rejects.
// Lookup failures are logged and the request continues unauthenticated.
func (g *Guard) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r2, _, err := g.resolve(r)
		if err != nil {
			g.logger.WarnContext(r.Context(), "optional session lookup failed", "error", err)
			r2 = r.WithContext(withAuthState(r.Context(), &authState{token: g.credential(r)}))
		}
		next.ServeHTTP(w, r2)
	})
}

// RequireAuth rejects requests without a live session with 401.
func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r2, st, err := g.resolve(r)
		if err != nil {
			writeError(w, r, g.logger, err)
			return
		}
		if st.info == nil {
			writeError(w, r, g.logger, auth.ErrUnauthorized())
			return
		}
		next.ServeHTTP(w, r2)
	})
}

// RequireEmailVerified rejects identities whose email is unverified with
// 403. It implies RequireAuth.
func (g *Guard) RequireEmailVerified(next http.Handler) http.Handler {
	return g.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if !identity.EmailVerified {
			writeError(w, r, g.logger, auth.ErrEmailUnverified())
			return
		}
		next.ServeHTTP(w, r)
	}))
}
