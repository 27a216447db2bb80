// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultCleanupInterval is how often the memory store drops elapsed windows.
const DefaultCleanupInterval = time.Minute

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	// CleanupInterval defaults to DefaultCleanupInterval when zero.
	CleanupInterval time.Duration

	// Clock defaults to time.Now.
	Clock func() time.Time

	// Registerer, when set, receives a gauge of tracked keys.
	Registerer prometheus.Registerer
}

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryStore keeps counters in process memory. It suits a single instance;
// use RedisStore when several instances share limits.
//
// A background goroutine drops elapsed windows. Call Close to stop it.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time

	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	keysGauge prometheus.Gauge
}

// NewMemoryStore creates a MemoryStore and starts its cleanup goroutine.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	s := &MemoryStore{
		windows:  make(map[string]*window),
		now:      now,
		stopChan: make(chan struct{}),
	}
	if cfg.Registerer != nil {
		s.keysGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatehouse_ratelimit_tracked_keys",
			Help: "Current number of rate limit windows held in memory",
		})
		cfg.Registerer.MustRegister(s.keysGauge)
	}

	s.wg.Add(1)
	go s.cleanupLoop(interval)
	return s
}

// Hit implements Store.
func (s *MemoryStore) Hit(_ context.Context, key string, d time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(d)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt, nil
}

// Len returns the number of tracked windows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Cleanup removes windows that have elapsed. The background goroutine calls
// it every interval.
func (s *MemoryStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, key)
		}
	}
	if s.keysGauge != nil {
		s.keysGauge.Set(float64(len(s.windows)))
	}
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// Close stops the cleanup goroutine and waits for it. It is safe to call
// more than once.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

var _ Store = (*MemoryStore)(nil)
