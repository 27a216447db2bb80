// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package origin decides which web origins are trusted, for CORS and for
// client-supplied redirect targets.
//
// Patterns are origins ("scheme://host[:port]") that may contain glob
// wildcards. '.' separates segments, so "https://*.example.com" trusts
// "https://app.example.com" but not "https://a.b.example.com" or
// "https://example.com".
package origin

import (
	"net/url"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// Policy matches origins against a fixed set of patterns. The zero value
// trusts nothing.
type Policy struct {
	patterns []compiledPattern
}

// NewPolicy compiles patterns. Empty entries are skipped.
func NewPolicy(patterns ...string) (*Policy, error) {
	p := &Policy{}
	for _, raw := range patterns {
		pattern := normalizePattern(raw)
		if pattern == "" {
			continue
		}
		if !strings.Contains(pattern, "://") {
			return nil, oops.In("origin").
				Code("INVALID_ORIGIN_PATTERN").
				With("pattern", raw).
				Errorf("origin pattern must include a scheme")
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, oops.In("origin").
				Code("INVALID_ORIGIN_PATTERN").
				With("pattern", raw).
				Wrap(err)
		}
		p.patterns = append(p.patterns, compiledPattern{pattern: pattern, glob: g})
	}
	return p, nil
}

// Patterns returns the normalized patterns in configuration order.
func (p *Policy) Patterns() []string {
	out := make([]string, len(p.patterns))
	for i, cp := range p.patterns {
		out[i] = cp.pattern
	}
	return out
}

// AllowOrigin reports whether an Origin header value is trusted.
func (p *Policy) AllowOrigin(origin string) bool {
	o, ok := Of(origin)
	if !ok {
		return false
	}
	return p.match(o)
}

// AllowURL reports whether an absolute http(s) URL points at a trusted
// origin. URLs carrying credentials are never trusted.
func (p *Policy) AllowURL(raw string) bool {
	o, ok := Of(raw)
	if !ok {
		return false
	}
	return p.match(o)
}

func (p *Policy) match(o string) bool {
	for _, cp := range p.patterns {
		if cp.glob.Match(o) {
			return true
		}
	}
	return false
}

// Of returns the lower-cased "scheme://host[:port]" of an absolute http or
// https URL.
func Of(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || u.User != nil {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	return scheme + "://" + strings.ToLower(u.Host), true
}

func normalizePattern(raw string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(raw)), "/")
}
