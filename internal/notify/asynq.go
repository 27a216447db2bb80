// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/samber/oops"

	"github.com/hilsha/gatehouse/internal/auth"
	"github.com/hilsha/gatehouse/pkg/errutil"
)

// TaskTypeSend is the asynq task type for one notification.
const TaskTypeSend = "notify:send"

// AsynqConfig configures the durable Redis-backed queue.
type AsynqConfig struct {
	RedisURL    string
	Queue       string
	Concurrency int
	MaxRetry    int
	Logger      *slog.Logger
}

// AsynqQueue persists notifications in Redis through asynq and delivers
// them from an asynq server, so retries survive restarts.
type AsynqQueue struct {
	client    *asynq.Client
	server    *asynq.Server
	deliverer *Deliverer
	queue     string
	maxRetry  int
	logger    *slog.Logger

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// NewAsynqQueue connects the client and starts the workers.
func NewAsynqQueue(deliverer *Deliverer, cfg AsynqConfig) (*AsynqQueue, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, oops.Code("NOTIFY_QUEUE_CONFIG_INVALID").With("operation", "parse redis url").Wrap(err)
	}
	if cfg.Queue == "" {
		cfg.Queue = "notifications"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	q := &AsynqQueue{
		client:    asynq.NewClient(opt),
		deliverer: deliverer,
		queue:     cfg.Queue,
		maxRetry:  cfg.MaxRetry,
		logger:    cfg.Logger,
	}
	q.server = asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
		Logger:      slogAdapter{cfg.Logger.With("component", "asynq")},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeSend, q.handle)
	if err := q.server.Start(mux); err != nil {
		_ = q.client.Close()
		return nil, oops.Code("NOTIFY_QUEUE_START_FAILED").Wrap(err)
	}
	return q, nil
}

// Enqueue submits n from a detached goroutine so a slow Redis never stalls
// the request that produced it.
func (q *AsynqQueue) Enqueue(ctx context.Context, n auth.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return oops.Code("NOTIFY_ENCODE_FAILED").With("kind", string(n.Kind)).Wrap(err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return oops.Code("NOTIFY_QUEUE_CLOSED").With("kind", string(n.Kind)).Errorf("notification queue is closed")
	}

	q.pending.Add(1)
	go func() {
		defer q.pending.Done()
		enqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		task := asynq.NewTask(TaskTypeSend, payload, asynq.Queue(q.queue), asynq.MaxRetry(q.maxRetry))
		if _, err := q.client.EnqueueContext(enqCtx, task); err != nil {
			q.deliverer.observe(string(n.Kind), OutcomeDropped)
			errutil.LogError(q.logger, "notification enqueue failed", oops.With("kind", string(n.Kind)).Wrap(err))
		}
	}()
	return nil
}

// handle is the asynq handler. Malformed payloads are not retried.
func (q *AsynqQueue) handle(ctx context.Context, task *asynq.Task) error {
	return handleSendTask(ctx, q.deliverer, task)
}

func handleSendTask(ctx context.Context, d *Deliverer, task *asynq.Task) error {
	var n auth.Notification
	if err := json.Unmarshal(task.Payload(), &n); err != nil {
		return fmt.Errorf("decode notification: %v: %w", err, asynq.SkipRetry)
	}
	err := d.Deliver(ctx, n)
	if err != nil && oopsCode(err) == "NOTIFY_UNKNOWN_KIND" {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func oopsCode(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			return code
		}
	}
	return ""
}

// Close waits for in-flight enqueues, then stops the workers and the client.
// asynq's own shutdown timeout bounds the worker stop.
func (q *AsynqQueue) Close(_ context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.pending.Wait()
	q.server.Shutdown()
	if err := q.client.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return oops.Code("NOTIFY_QUEUE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

// slogAdapter satisfies asynq.Logger.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a slogAdapter) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a slogAdapter) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a slogAdapter) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a slogAdapter) Fatal(args ...any) { a.l.Error(fmt.Sprint(args...), "fatal", true) }

var _ Queue = (*AsynqQueue)(nil)
