// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/hilsha/gatehouse/pkg/errutil"
)

// ExpiredSessionDeleter removes sessions that expired at now.
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// StaleTokenDeleter removes purpose tokens that expired before cutoff.
type StaleTokenDeleter interface {
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweep defaults.
const (
	DefaultSweepInterval  = time.Hour
	DefaultTokenRetention = 7 * 24 * time.Hour
)

// SweepResult counts the rows removed by one pass.
type SweepResult struct {
	Sessions int64 `json:"sessions"`
	Tokens   int64 `json:"tokens"`
}

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	Interval       time.Duration
	TokenRetention time.Duration
	Clock          func() time.Time
	Logger         *slog.Logger
	// OnSweep is called per record kind after every successful delete.
	OnSweep func(kind string, deleted int64)
}

// Sweeper periodically deletes expired sessions and stale purpose tokens.
type Sweeper struct {
	sessions  ExpiredSessionDeleter
	tokens    StaleTokenDeleter
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
	onSweep   func(string, int64)
}

// NewSweeper creates a sweeper. Zero config values fall back to defaults.
func NewSweeper(sessions ExpiredSessionDeleter, tokens StaleTokenDeleter, cfg SweeperConfig) *Sweeper {
	s := &Sweeper{
		sessions:  sessions,
		tokens:    tokens,
		interval:  cfg.Interval,
		retention: cfg.TokenRetention,
		now:       cfg.Clock,
		logger:    cfg.Logger,
		onSweep:   cfg.OnSweep,
	}
	if s.interval <= 0 {
		s.interval = DefaultSweepInterval
	}
	if s.retention <= 0 {
		s.retention = DefaultTokenRetention
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.onSweep == nil {
		s.onSweep = func(string, int64) {}
	}
	return s
}

// Once runs a single pass. A failure on one kind does not skip the other;
// the first error is returned.
func (s *Sweeper) Once(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now()

	n, sessErr := s.sessions.DeleteExpired(ctx, now)
	if sessErr == nil {
		res.Sessions = n
		s.onSweep("session", n)
	}

	n, tokErr := s.tokens.DeleteStale(ctx, now.Add(-s.retention))
	if tokErr == nil {
		res.Tokens = n
		s.onSweep("purpose_token", n)
	}

	switch {
	case sessErr != nil:
		return res, oops.Code("SWEEP_FAILED").With("kind", "session").Wrap(sessErr)
	case tokErr != nil:
		return res, oops.Code("SWEEP_FAILED").With("kind", "purpose_token").Wrap(tokErr)
	}
	return res, nil
}

// Run sweeps every interval until ctx is cancelled. Errors are logged and the
// loop keeps going.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.interval, "token_retention", s.retention)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			res, err := s.Once(ctx)
			if err != nil {
				errutil.LogError(s.logger, "sweep failed", err)
				continue
			}
			if res.Sessions > 0 || res.Tokens > 0 {
				s.logger.Info("sweep complete", "sessions", res.Sessions, "tokens", res.Tokens)
			}
		}
	}
}
