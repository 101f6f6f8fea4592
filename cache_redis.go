package tahan

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisRetention is how long entries survive in Redis past any tier
// TTL. Redis evicts by key TTL, so stale-cache fallback only works for as
// long as the retention window keeps expired entries around.
const DefaultRedisRetention = 6 * time.Hour

const redisKeyPrefix = "tahan:cache:"

// RedisStore is a TierStore on Redis, letting several analyzer processes
// share one tiered cache. Tier freshness is still judged by TieredCache from
// the entry's WrittenAt; the Redis TTL only bounds stale retention.
type RedisStore struct {
	client    redis.UniversalClient
	retention time.Duration
}

// NewRedisStore wraps a Redis client. A non-positive retention uses
// DefaultRedisRetention.
func NewRedisStore(client redis.UniversalClient, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRedisRetention
	}
	return &RedisStore{client: client, retention: retention}
}

// Get fetches and decodes an entry. Any Redis or decode failure reads as a
// miss; the gateway treats the cache as best-effort.
func (s *RedisStore) Get(ctx context.Context, key string) (*CacheEntry, bool) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// Unreachable Redis degrades to a cache miss.
			return nil, false
		}
		return nil, false
	}

	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

// Set stores an entry with the retention TTL.
func (s *RedisStore) Set(ctx context.Context, key string, entry *CacheEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	s.client.Set(ctx, redisKeyPrefix+key, raw, s.retention)
}

// Delete removes an entry.
func (s *RedisStore) Delete(ctx context.Context, key string) {
	s.client.Del(ctx, redisKeyPrefix+key)
}
