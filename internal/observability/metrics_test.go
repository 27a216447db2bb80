// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Recorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.AuthEvent("login", "invalid_credentials")
	m.AuthEvent("login", "invalid_credentials")
	m.RateLimitRejected("auth")
	m.Notification("welcome", "sent")
	m.Swept("session", 3)
	m.Swept("purpose_token", 0)
	m.ObserveHTTP("/auth/session", "GET", 200, time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.AuthEvents.WithLabelValues("login", "invalid_credentials")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RateLimited.WithLabelValues("auth")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Notifications.WithLabelValues("welcome", "sent")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.SweepDeleted.WithLabelValues("session")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.SweepDeleted), "zero-row sweeps create no series")
	assert.InDelta(t, 1, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/auth/session", "GET", "200")), 0)
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
