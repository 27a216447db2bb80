// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hilsha/gatehouse/internal/ratelimit"
	"github.com/hilsha/gatehouse/pkg/errutil"
)

// RateLimiter admits or rejects one request of a class for a client.
type RateLimiter interface {
	Allow(ctx context.Context, class, client string) (ratelimit.Decision, error)
}

// RejectionRecorder counts rate-limited requests.
type RejectionRecorder interface {
	RateLimitRejected(class string)
}

type rateGuard struct {
	limiter    RateLimiter
	trustProxy bool
	now        func() time.Time
	metrics    RejectionRecorder
	logger     *slog.Logger
}

// limit applies classes in order. Each class counts independently, and the
// headers describe the last class evaluated. A limiter failure lets the
// request through.
func (g *rateGuard) limit(classes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if g == nil || g.limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientIP(r, g.trustProxy)
			for _, class := range classes {
				d, err := g.limiter.Allow(r.Context(), class, client)
				if err != nil {
					errutil.LogErrorContext(r.Context(), g.logger, "rate limiter unavailable", err)
					continue
				}

				now := g.now()
				setRateLimitHeaders(w, d, now)
				if !d.Allowed {
					if g.metrics != nil {
						g.metrics.RateLimitRejected(class)
					}
					g.logger.WarnContext(r.Context(), "rate limit exceeded", "class", class, "client", client)
					w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter(now)/time.Second)))
					writeFailure(w, http.StatusTooManyRequests, d.Message)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision, now time.Time) {
	reset := int(d.RetryAfter(now) / time.Second)
	h := w.Header()
	h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("RateLimit-Reset", strconv.Itoa(reset))
}

// ClientIP identifies the caller for rate limiting. Forwarding headers are
// honored only when trustProxy is set or the peer address is unusable.
func ClientIP(r *http.Request, trustProxy bool) string {
	remote := peerIP(r.RemoteAddr)
	if trustProxy || remote == "" {
		if ip := forwardedIP(r); ip != "" {
			return ip
		}
	}
	if remote != "" {
		return remote
	}
	return "unknown"
}

func peerIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if ip := net.ParseIP(strings.TrimSpace(host)); ip != nil {
		return ip.String()
	}
	return ""
}

func forwardedIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return ""
}
