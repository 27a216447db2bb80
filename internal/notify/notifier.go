// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package notify

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/hilsha/gatehouse/internal/auth"
	"github.com/hilsha/gatehouse/pkg/errutil"
)

// QueueNotifier adapts a Queue to auth.Notifier. Enqueue failures are logged
// and never reach the caller.
type QueueNotifier struct {
	queue  Queue
	logger *slog.Logger
}

// NewQueueNotifier wraps queue.
func NewQueueNotifier(queue Queue, logger *slog.Logger) *QueueNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueNotifier{queue: queue, logger: logger}
}

// Notify implements auth.Notifier.
func (n *QueueNotifier) Notify(ctx context.Context, note auth.Notification) {
	if err := n.queue.Enqueue(ctx, note); err != nil {
		errutil.LogError(n.logger, "notification not queued", oops.With("kind", string(note.Kind)).Wrap(err))
	}
}

var _ auth.Notifier = (*QueueNotifier)(nil)
