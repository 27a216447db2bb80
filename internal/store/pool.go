// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package store owns the PostgreSQL plumbing: the connection pool, schema
// migrations and the background sweeper for expired records.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// DB is the query surface repositories depend on. *pgxpool.Pool and
// pgxmock.PgxPoolIface both satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pinger reports database reachability for readiness probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolConfig controls pool sizing and the connect retry.
type PoolConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ConnectAttempts uint64
	RetryBase       time.Duration
	RetryCap        time.Duration
}

// Defaults for PoolConfig zero values.
const (
	DefaultConnectAttempts = 5
	DefaultRetryBase       = 250 * time.Millisecond
	DefaultRetryCap        = 5 * time.Second
)

// Connect opens a pool and waits until the database answers a ping.
// Unreachable databases are retried with capped exponential backoff; a
// malformed URL fails immediately.
func Connect(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = DefaultConnectAttempts
	}
	base := cfg.RetryBase
	if base <= 0 {
		base = DefaultRetryBase
	}
	capped := cfg.RetryCap
	if capped <= 0 {
		capped = DefaultRetryCap
	}
	backoff := retry.WithMaxRetries(attempts-1, retry.WithCappedDuration(capped, retry.NewExponential(base)))

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "create pool").Wrap(err)
	}

	var attempt uint64
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := pool.Ping(ctx); pingErr != nil {
			logger.Warn("database not ready",
				"attempt", attempt,
				"max_attempts", attempts,
				"error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("attempts", attempt).
			With("host", poolCfg.ConnConfig.Host).
			Wrap(err)
	}

	logger.Info("connected to database",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"max_conns", poolCfg.MaxConns)
	return pool, nil
}
