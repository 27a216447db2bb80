// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// DefaultRedisPrefix namespaces rate limit keys.
const DefaultRedisPrefix = "gatehouse:ratelimit:"

// RedisStore keeps counters in Redis so every instance shares them.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
	owned  bool
}

// ConnectRedis builds a client from a redis:// URL or a bare host:port.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, oops.Code("RATELIMIT_REDIS_URL_INVALID").Wrap(err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// NewRedisStore wraps an existing client. Close leaves the client open.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// OpenRedisStore connects to redisURL, pings it and returns a store that
// owns the client.
func OpenRedisStore(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	client, err := ConnectRedis(redisURL)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("RATELIMIT_REDIS_UNAVAILABLE").Wrap(err)
	}
	s := NewRedisStore(client, prefix)
	s.owned = true
	return s, nil
}

// Hit implements Store. INCR and PEXPIRE NX run in one MULTI so the expiry
// is set exactly once per window, by whichever hit opened it.
func (s *RedisStore) Hit(ctx context.Context, key string, d time.Duration) (int64, time.Time, error) {
	redisKey := s.prefix + key

	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		p.Do(ctx, "PEXPIRE", redisKey, d.Milliseconds(), "NX")
		pttl = p.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return 0, time.Time{}, oops.Code("RATELIMIT_REDIS_FAILED").With("key", redisKey).Wrap(err)
	}

	ttl := pttl.Val()
	if ttl <= 0 {
		ttl = d
	}
	return incr.Val(), s.now().Add(ttl), nil
}

// Close closes the client when the store opened it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return oops.Code("RATELIMIT_REDIS_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
