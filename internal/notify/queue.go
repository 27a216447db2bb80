// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"golang.org/x/time/rate"

	"github.com/hilsha/gatehouse/internal/auth"
	"github.com/hilsha/gatehouse/pkg/errutil"
)

// Delivery outcomes reported to the observer.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Queue accepts notifications for background delivery. Enqueue never blocks
// on delivery.
type Queue interface {
	Enqueue(ctx context.Context, n auth.Notification) error
	Close(ctx context.Context) error
}

// ObserverFunc receives one call per notification outcome.
type ObserverFunc func(kind, outcome string)

// Deliverer renders and sends one notification.
type Deliverer struct {
	renderer *Renderer
	mailer   Mailer
	observe  ObserverFunc
}

// NewDeliverer creates a Deliverer. observe may be nil.
func NewDeliverer(renderer *Renderer, mailer Mailer, observe ObserverFunc) *Deliverer {
	if observe == nil {
		observe = func(string, string) {}
	}
	return &Deliverer{renderer: renderer, mailer: mailer, observe: observe}
}

// Deliver renders n and hands it to the mailer.
func (d *Deliverer) Deliver(ctx context.Context, n auth.Notification) error {
	msg, err := d.renderer.Render(n)
	if err != nil {
		d.observe(string(n.Kind), OutcomeFailed)
		return err
	}
	if err := d.mailer.Send(ctx, msg); err != nil {
		d.observe(string(n.Kind), OutcomeFailed)
		return err
	}
	d.observe(string(n.Kind), OutcomeSent)
	return nil
}

// MemoryQueueConfig configures the in-process queue.
type MemoryQueueConfig struct {
	Workers    int
	BufferSize int
	// RatePerSecond throttles sends across all workers; zero disables it.
	RatePerSecond float64
	Burst         int
	SendTimeout   time.Duration
	Logger        *slog.Logger
}

// MemoryQueue delivers from a buffered channel with a fixed worker pool.
// Notifications still buffered when the process exits are lost.
type MemoryQueue struct {
	deliverer *Deliverer
	jobs      chan auth.Notification
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	stop   context.CancelFunc
}

// NewMemoryQueue starts the workers.
func NewMemoryQueue(deliverer *Deliverer, cfg MemoryQueueConfig) *MemoryQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &MemoryQueue{
		deliverer: deliverer,
		jobs:      make(chan auth.Notification, cfg.BufferSize),
		limiter:   limiter,
		timeout:   cfg.SendTimeout,
		logger:    cfg.Logger,
		stop:      cancel,
	}
	for range cfg.Workers {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	return q
}

// Enqueue buffers n. A full buffer drops the notification and returns an
// error rather than blocking the caller.
func (q *MemoryQueue) Enqueue(_ context.Context, n auth.Notification) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return oops.Code("NOTIFY_QUEUE_CLOSED").With("kind", string(n.Kind)).Errorf("notification queue is closed")
	}

	select {
	case q.jobs <- n:
		return nil
	default:
		q.deliverer.observe(string(n.Kind), OutcomeDropped)
		return oops.Code("NOTIFY_QUEUE_FULL").With("kind", string(n.Kind)).Errorf("notification queue is full")
	}
}

func (q *MemoryQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for n := range q.jobs {
		if err := q.limiter.Wait(ctx); err != nil {
			// Shutdown deadline passed; whatever is left is abandoned.
			q.deliverer.observe(string(n.Kind), OutcomeDropped)
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, q.timeout)
		if err := q.deliverer.Deliver(sendCtx, n); err != nil {
			errutil.LogError(q.logger, "notification delivery failed", oops.With("kind", string(n.Kind)).Wrap(err))
		}
		cancel()
	}
}

// Close stops accepting work and waits for buffered notifications to be
// delivered. When ctx expires first, in-flight sends are cancelled.
func (q *MemoryQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.stop()
		return nil
	case <-ctx.Done():
		q.stop()
		<-done
		return oops.Code("NOTIFY_DRAIN_TIMEOUT").Wrap(ctx.Err())
	}
}

var _ Queue = (*MemoryQueue)(nil)
