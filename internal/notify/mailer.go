// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package notify delivers account notifications by email. Rendering and
// sending happen on background workers; callers only enqueue.
package notify

import (
	"context"
	"log/slog"
)

// Message is one rendered email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Mailer sends a rendered message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them. It is the
// development default when no SMTP host is configured.
type LogMailer struct {
	Logger *slog.Logger
}

// Send logs the message. The text body, which carries any action link, is
// logged at debug level only.
func (m LogMailer) Send(ctx context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email suppressed (log mailer)", "to", msg.To, "subject", msg.Subject)
	logger.DebugContext(ctx, "email body", "to", msg.To, "text", msg.Text)
	return nil
}
