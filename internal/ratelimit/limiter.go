// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/samber/oops"
)

// Store counts hits in fixed windows.
type Store interface {
	// Hit increments the counter for key and returns the new count and the
	// instant the current window ends. A key's window starts at its first
	// hit and its counter resets once the window has elapsed.
	Hit(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)

	// Close releases background resources.
	Close() error
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Class     string
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	Message   string
}

// RetryAfter returns the wait until the window resets, rounded up to whole
// seconds and never below one.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	secs := math.Ceil(d.ResetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// Limiter checks hits against the configured classes.
type Limiter struct {
	store   Store
	classes map[string]Class
}

// New creates a Limiter. Every class must be valid.
func New(store Store, classes map[string]Class) (*Limiter, error) {
	if store == nil {
		return nil, oops.Code("RATELIMIT_INVALID_CONFIG").Errorf("store is required")
	}
	own := make(map[string]Class, len(classes))
	for name, c := range classes {
		if c.Name == "" {
			c.Name = name
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		own[name] = c
	}
	return &Limiter{store: store, classes: own}, nil
}

// Class returns the configuration of a class.
func (l *Limiter) Class(name string) (Class, bool) {
	c, ok := l.classes[name]
	return c, ok
}

// Allow records a hit for client in class and reports whether it is within
// the limit. Rejected hits still count, so a client that keeps retrying stays
// limited until the window ends.
func (l *Limiter) Allow(ctx context.Context, class, client string) (Decision, error) {
	c, ok := l.classes[class]
	if !ok {
		return Decision{}, oops.Code("RATELIMIT_UNKNOWN_CLASS").With("class", class).Errorf("unknown rate limit class")
	}

	count, resetAt, err := l.store.Hit(ctx, class+":"+client, c.Window)
	if err != nil {
		return Decision{}, oops.Code("RATELIMIT_STORE_FAILED").With("class", class).Wrap(err)
	}

	remaining := c.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Class:     class,
		Allowed:   count <= int64(c.Limit),
		Limit:     c.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
		Message:   c.Message,
	}, nil
}

// Close closes the underlying store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
