// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hilsha/gatehouse/internal/notify"
	"github.com/hilsha/gatehouse/internal/observability"
	"github.com/hilsha/gatehouse/internal/ratelimit"
	"github.com/hilsha/gatehouse/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory opens the database pool.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, cfg store.PoolConfig, logger *slog.Logger) (Pool, error)

	// MigratorFactory creates a migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// RateLimitStoreFactory creates the rate limit counter store.
	// Default: newRateLimitStore
	RateLimitStoreFactory func(ctx context.Context, cfg RateLimitConfig, reg prometheus.Registerer) (ratelimit.Store, error)

	// MailerFactory creates the outbound mailer.
	// Default: newMailer
	MailerFactory func(cfg MailConfig, logger *slog.Logger) (notify.Mailer, error)

	// QueueFactory creates the notification queue.
	// Default: newQueue
	QueueFactory func(cfg MailConfig, deliverer *notify.Deliverer, logger *slog.Logger) (notify.Queue, error)

	// ListenerFactory creates the public HTTP listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

// Pool wraps the methods used from *pgxpool.Pool.
type Pool interface {
	store.DB
	store.Pinger
	Close()
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
	Registerer() prometheus.Registerer
}

func (deps *ServeDeps) withDefaults() {
	if deps.PoolFactory == nil {
		deps.PoolFactory = func(ctx context.Context, cfg store.PoolConfig, logger *slog.Logger) (Pool, error) {
			pool, err := store.Connect(ctx, cfg, logger)
			if err != nil {
				return nil, err
			}
			return pool, nil
		}
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready)
		}
	}
	if deps.RateLimitStoreFactory == nil {
		deps.RateLimitStoreFactory = newRateLimitStore
	}
	if deps.MailerFactory == nil {
		deps.MailerFactory = newMailer
	}
	if deps.QueueFactory == nil {
		deps.QueueFactory = newQueue
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}
}

func newRateLimitStore(ctx context.Context, cfg RateLimitConfig, reg prometheus.Registerer) (ratelimit.Store, error) {
	if cfg.Store == backendRedis {
		return ratelimit.OpenRedisStore(ctx, cfg.RedisURL, "")
	}
	return ratelimit.NewMemoryStore(ratelimit.MemoryConfig{Registerer: reg}), nil
}

// newMailer sends over SMTP when a host is configured and logs otherwise.
func newMailer(cfg MailConfig, logger *slog.Logger) (notify.Mailer, error) {
	if cfg.SMTP.Host == "" {
		logger.Warn("no SMTP host configured, emails will only be logged")
		return notify.LogMailer{Logger: logger}, nil
	}
	return notify.NewSMTPMailer(cfg.SMTP)
}

func newQueue(cfg MailConfig, deliverer *notify.Deliverer, logger *slog.Logger) (notify.Queue, error) {
	if cfg.Queue == backendAsynq {
		return notify.NewAsynqQueue(deliverer, notify.AsynqConfig{
			RedisURL:    cfg.RedisURL,
			Concurrency: cfg.Workers,
			MaxRetry:    cfg.MaxRetry,
			Logger:      logger,
		})
	}
	return notify.NewMemoryQueue(deliverer, notify.MemoryQueueConfig{
		Workers:       cfg.Workers,
		BufferSize:    cfg.BufferSize,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		Logger:        logger,
	}), nil
}
