// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package web exposes the account service over HTTP: JSON handlers, the
// session guard, per-class rate limiting and request schema validation.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/oops"

	"github.com/hilsha/gatehouse/internal/origin"
	"github.com/hilsha/gatehouse/internal/ratelimit"
)

// Config holds HTTP surface settings.
type Config struct {
	CookiePrefix  string
	SecureCookies bool
	// TrustProxy makes X-Forwarded-For authoritative for the client address.
	TrustProxy   bool
	MaxBodyBytes int64
	Clock        func() time.Time
}

// Metrics is the subset of observability.Metrics the router reports to.
type Metrics interface {
	HTTPRecorder
	RejectionRecorder
}

// Deps are the collaborators of the router. Limiter, Metrics and Logger
// are optional.
type Deps struct {
	Accounts Accounts
	Limiter  RateLimiter
	Origins  *origin.Policy
	Metrics  Metrics
	Logger   *slog.Logger
}

type route struct {
	method  string
	pattern string
	guard   func(http.Handler) http.Handler
	classes []string
	handler http.HandlerFunc
}

// NewRouter assembles the middleware chain and the /auth routes.
func NewRouter(cfg Config, deps Deps) (http.Handler, error) {
	if deps.Accounts == nil {
		return nil, oops.Errorf("accounts service is required")
	}
	if deps.Origins == nil {
		return nil, oops.Errorf("origin policy is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	v, err := newValidator(cfg.MaxBodyBytes)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger.With("component", "web")
	guard := NewGuard(deps.Accounts, cfg.CookiePrefix, logger)
	h := &handler{
		accounts:   deps.Accounts,
		validator:  v,
		cookies:    newCookieJar(cfg.CookiePrefix, cfg.SecureCookies),
		urls:       deps.Origins,
		trustProxy: cfg.TrustProxy,
		logger:     logger,
	}

	var rec HTTPRecorder
	rg := &rateGuard{limiter: deps.Limiter, trustProxy: cfg.TrustProxy, now: cfg.Clock, logger: logger}
	if deps.Metrics != nil {
		rec = deps.Metrics
		rg.metrics = deps.Metrics
	}
	if deps.Limiter == nil {
		rg = nil
	}

	r := chi.NewRouter()
	r.Use(
		recoverer(logger),
		requestID,
		observe(logger, rec),
		securityHeaders,
		cors(deps.Origins),
		rg.limit(ratelimit.ClassGeneral),
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusNotFound, "Route "+r.URL.Path+" not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusMethodNotAllowed, "Method "+r.Method+" not allowed on "+r.URL.Path)
	})

	none := func(next http.Handler) http.Handler { return next }
	routes := []route{
		{http.MethodPost, "/signup", none, []string{ratelimit.ClassAuth}, h.signup},
		{http.MethodPost, "/login", none, []string{ratelimit.ClassAuth}, h.login},
		{http.MethodPost, "/logout", guard.OptionalAuth, []string{ratelimit.ClassAuth}, h.logout},
		{http.MethodPost, "/forgot-password", none, []string{ratelimit.ClassAuth, ratelimit.ClassPasswordReset}, h.forgotPassword},
		{http.MethodPost, "/reset-password", none, []string{ratelimit.ClassAuth}, h.resetPassword},
		{http.MethodPost, "/change-password", guard.RequireAuth, []string{ratelimit.ClassAuth}, h.changePassword},
		{http.MethodPost, "/send-verification-email", none, []string{ratelimit.ClassAuth, ratelimit.ClassEmailVerification}, h.sendVerificationEmail},
		{http.MethodGet, "/verify-email", none, nil, h.verifyEmail},
		{http.MethodGet, "/session", guard.OptionalAuth, nil, h.session},
		{http.MethodGet, "/profile", guard.RequireAuth, nil, h.getProfile},
		{http.MethodPatch, "/profile", guard.RequireEmailVerified, []string{ratelimit.ClassAuth}, h.updateProfile},
	}

	r.Route("/auth", func(r chi.Router) {
		for _, rt := range routes {
			// Rate limiting runs before the guard so rejected clients never
			// reach the session store.
			r.With(rg.limit(rt.classes...), rt.guard).Method(rt.method, rt.pattern, rt.handler)
		}
	})
	return r, nil
}
