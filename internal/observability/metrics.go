// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service counters. Its methods satisfy the small
// recorder interfaces declared by the auth, web, ratelimit and notify
// packages.
type Metrics struct {
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	AuthEvents    *prometheus.CounterVec
	RateLimited   *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	SweepDeleted  *prometheus.CounterVec
}

// NewMetrics creates and registers the service metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_http_requests_total",
				Help: "Total HTTP requests by route pattern, method and status",
			},
			[]string{"route", "method", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_request_duration_seconds",
				Help:    "HTTP request latency by route pattern and method",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		AuthEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_auth_events_total",
				Help: "Account use-case outcomes by event",
			},
			[]string{"event", "outcome"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_rate_limited_total",
				Help: "Requests rejected by the rate limiter by class",
			},
			[]string{"class"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_notifications_total",
				Help: "Notification delivery outcomes by kind",
			},
			[]string{"kind", "outcome"},
		),
		SweepDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_sweep_deleted_total",
				Help: "Rows removed by the expiry sweeper by kind",
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(m.HTTPRequests, m.HTTPDuration, m.AuthEvents, m.RateLimited, m.Notifications, m.SweepDeleted)
	return m
}

// AuthEvent counts one account use-case outcome.
func (m *Metrics) AuthEvent(event, outcome string) {
	m.AuthEvents.WithLabelValues(event, outcome).Inc()
}

// RateLimitRejected counts one rejected request.
func (m *Metrics) RateLimitRejected(class string) {
	m.RateLimited.WithLabelValues(class).Inc()
}

// Notification counts one delivery outcome.
func (m *Metrics) Notification(kind, outcome string) {
	m.Notifications.WithLabelValues(kind, outcome).Inc()
}

// Swept adds n deleted rows of kind.
func (m *Metrics) Swept(kind string, n int64) {
	if n > 0 {
		m.SweepDeleted.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveHTTP records one completed request. route is the router pattern,
// not the raw path, to bound label cardinality.
func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
