// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package authtest

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/hilsha/gatehouse/internal/auth"
)

// Clock is a manually advanced clock safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock set to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Outbox records notifications.
type Outbox struct {
	mu   sync.Mutex
	sent []auth.Notification
}

// Notify records n.
func (o *Outbox) Notify(_ context.Context, n auth.Notification) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, n)
}

// All returns every recorded notification.
func (o *Outbox) All() []auth.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]auth.Notification(nil), o.sent...)
}

// Last returns the most recent notification of kind, if any.
func (o *Outbox) Last(kind auth.NotificationKind) (auth.Notification, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if o.sent[i].Kind == kind {
			return o.sent[i], true
		}
	}
	return auth.Notification{}, false
}

// LastToken returns the token query parameter from the most recent
// notification of kind.
func (o *Outbox) LastToken(kind auth.NotificationKind) string {
	n, ok := o.Last(kind)
	if !ok {
		return ""
	}
	u, err := url.Parse(n.Link)
	if err != nil {
		return ""
	}
	return u.Query().Get("token")
}

// Events records auth events.
type Events struct {
	mu     sync.Mutex
	counts map[string]int
}

// AuthEvent increments the event/outcome counter.
func (e *Events) AuthEvent(event, outcome string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.counts == nil {
		e.counts = map[string]int{}
	}
	e.counts[event+"/"+outcome]++
}

// Count returns how often event/outcome was recorded.
func (e *Events) Count(event, outcome string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[event+"/"+outcome]
}

// FastHasher returns an argon2id hasher with minimal cost for tests.
func FastHasher() *auth.Argon2idHasher {
	return auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1})
}

// Harness wires a Service over in-memory stores.
type Harness struct {
	Store    *Store
	Clock    *Clock
	Outbox   *Outbox
	Events   *Events
	Sessions *auth.SessionManager
	Tokens   *auth.TokenIssuer
	Service  *auth.Service
}

// NewHarness builds a Service with cfg over fresh in-memory stores and a
// fake clock.
func NewHarness(cfg auth.Config) (*Harness, error) {
	h := &Harness{
		Store:  NewStore(),
		Clock:  NewClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)),
		Outbox: &Outbox{},
		Events: &Events{},
	}

	var err error
	h.Sessions, err = auth.NewSessionManager(h.Store.Sessions, auth.SessionConfig{Clock: h.Clock.Now})
	if err != nil {
		return nil, err
	}
	h.Tokens, err = auth.NewTokenIssuer(h.Store.Tokens, h.Clock.Now)
	if err != nil {
		return nil, err
	}
	h.Service, err = auth.NewService(cfg, auth.ServiceDeps{
		Identities: h.Store.Identities,
		Profiles:   h.Store.Profiles,
		Sessions:   h.Sessions,
		Tokens:     h.Tokens,
		Hasher:     FastHasher(),
		Notifier:   h.Outbox,
		Events:     h.Events,
		Clock:      h.Clock.Now,
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// TestConfig returns DefaultConfig without the enumeration floor.
func TestConfig() auth.Config {
	cfg := auth.DefaultConfig()
	cfg.EnumerationFloor = 0
	return cfg
}
