package tahan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"sync"
	"time"
)

// Cache tiers. Tiers differ only in TTL; a fingerprint may hold independent
// entries in several tiers at once, each expiring on its own clock.
type Tier int

const (
	TierShort Tier = iota
	TierMedium
	TierLong
)

func (t Tier) String() string {
	switch t {
	case TierShort:
		return "short"
	case TierMedium:
		return "medium"
	case TierLong:
		return "long"
	default:
		return "unknown"
	}
}

// Default tier TTLs.
const (
	DefaultShortTTL  = 5 * time.Minute
	DefaultMediumTTL = 15 * time.Minute
	DefaultLongTTL   = 60 * time.Minute
)

// tierOrder is the read probe order: freshest tier first.
var tierOrder = [...]Tier{TierShort, TierMedium, TierLong}

// Fingerprint computes the stable cache key for a payload. The service type
// is folded in so identical payloads to different services never collide.
func Fingerprint(service ServiceType, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(service))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// TieredCache is the three-TTL-tier result cache. Writes fan out to tiers
// selected by priority; reads probe short, then medium, then long and return
// the first unexpired entry. Expired entries are ignored on read, never
// purged, which keeps them available to the stale-cache fallback.
type TieredCache struct {
	store TierStore
	ttls  [3]time.Duration
	now   func() time.Time
}

// NewTieredCache builds a cache over the given store. Non-positive TTLs fall
// back to the defaults.
func NewTieredCache(store TierStore, short, medium, long time.Duration) *TieredCache {
	if short <= 0 {
		short = DefaultShortTTL
	}
	if medium <= 0 {
		medium = DefaultMediumTTL
	}
	if long <= 0 {
		long = DefaultLongTTL
	}
	return &TieredCache{
		store: store,
		ttls:  [3]time.Duration{short, medium, long},
		now:   time.Now,
	}
}

func tierKey(t Tier, fingerprint string) string {
	return t.String() + ":" + fingerprint
}

// tiersFor maps a priority onto the tiers a result is written into.
func tiersFor(p Priority) []Tier {
	switch p {
	case PriorityHigh, PriorityCritical:
		return []Tier{TierShort, TierMedium, TierLong}
	case PriorityMedium:
		return []Tier{TierMedium, TierLong}
	default:
		return []Tier{TierLong}
	}
}

// Put writes a result into the tiers selected by priority.
func (c *TieredCache) Put(ctx context.Context, fingerprint string, data []byte, priority Priority, confidence Confidence) {
	entry := &CacheEntry{
		Fingerprint: fingerprint,
		Data:        data,
		Priority:    priority,
		Confidence:  confidence,
		WrittenAt:   c.now(),
	}
	for _, t := range tiersFor(priority) {
		c.store.Set(ctx, tierKey(t, fingerprint), entry)
	}
}

// Get returns the first unexpired entry probing short, medium, long, together
// with the tier it was found in and its age.
func (c *TieredCache) Get(ctx context.Context, fingerprint string) (*CacheEntry, Tier, time.Duration, bool) {
	now := c.now()
	for _, t := range tierOrder {
		entry, ok := c.store.Get(ctx, tierKey(t, fingerprint))
		if !ok {
			continue
		}
		age := now.Sub(entry.WrittenAt)
		if age < c.ttls[t] {
			return entry, t, age, true
		}
	}
	return nil, 0, 0, false
}

// GetStale returns the freshest entry for the fingerprint regardless of TTL.
// Used only by the fallback chain, after Get has already missed.
func (c *TieredCache) GetStale(ctx context.Context, fingerprint string) (*CacheEntry, Tier, bool) {
	var best *CacheEntry
	var bestTier Tier
	for _, t := range tierOrder {
		entry, ok := c.store.Get(ctx, tierKey(t, fingerprint))
		if !ok {
			continue
		}
		if best == nil || entry.WrittenAt.After(best.WrittenAt) {
			best = entry
			bestTier = t
		}
	}
	return best, bestTier, best != nil
}

// TTL returns the configured TTL for a tier.
func (c *TieredCache) TTL(t Tier) time.Duration {
	if t < TierShort || t > TierLong {
		return 0
	}
	return c.ttls[t]
}

// InMemoryStore is the default TierStore: a sharded in-process map. Entries
// live for the process lifetime; there is no eviction thread.
type InMemoryStore struct {
	shards    []*storeShard
	numShards int
}

type storeShard struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewInMemoryStore creates a store with 16 shards.
func NewInMemoryStore() *InMemoryStore {
	numShards := 16
	shards := make([]*storeShard, numShards)
	for i := range shards {
		shards[i] = &storeShard{store: make(map[string]*CacheEntry)}
	}
	return &InMemoryStore{shards: shards, numShards: numShards}
}

func (s *InMemoryStore) getShard(key string) *storeShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// Get returns the entry for key if present.
func (s *InMemoryStore) Get(_ context.Context, key string) (*CacheEntry, bool) {
	shard := s.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	entry, ok := shard.store[key]
	return entry, ok
}

// Set stores an entry, overwriting any previous one.
func (s *InMemoryStore) Set(_ context.Context, key string, entry *CacheEntry) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.store[key] = entry
}

// Delete removes an entry.
func (s *InMemoryStore) Delete(_ context.Context, key string) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.store, key)
}

// Len reports the total number of stored entries across shards.
func (s *InMemoryStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}
