// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import "context"

// NotificationKind identifies an outbound message template.
type NotificationKind string

// Notification kinds.
const (
	NotifyVerifyEmail     NotificationKind = "verify-email"
	NotifyResetPassword   NotificationKind = "reset-password"
	NotifyPasswordChanged NotificationKind = "password-changed"
	NotifyWelcome         NotificationKind = "welcome"
)

// Notification is a request to tell an identity about an account event.
// Link is set for kinds that carry an action URL.
type Notification struct {
	Kind NotificationKind `json:"kind"`
	To   string           `json:"to"`
	Name string           `json:"name"`
	Link string           `json:"link,omitempty"`
}

// Notifier hands notifications to the delivery channel. Implementations must
// not block on delivery; the service never awaits the outcome.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) {
	f(ctx, n)
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, Notification) {}
