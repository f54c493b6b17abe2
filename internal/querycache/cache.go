// Package querycache caches query results keyed by statement hash. Entries
// carry a TTL and the cache evicts least-recently-used entries at capacity.
// The map is sharded so concurrent readers contend only per shard.
package querycache

import (
	"hash/fnv"
	"sync/atomic"
	"time"

	"bothive/engine/internal/locking"
	"bothive/engine/logging"
)

const shardCount = 4

// Entry is the stored record; exposed for inspection in stats and tests.
type Entry struct {
	Key            string
	Value          any
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	AccessCount    uint64
}

type shard struct {
	mu      *locking.Mutex
	entries map[string]*Entry
}

// Cache is a bounded TTL+LRU map. Capacity is enforced per shard so the
// effective bound is capacity rounded up to a multiple of the shard count.
type Cache struct {
	shards        [shardCount]*shard
	perShardLimit int
	ttl           time.Duration
	clock         logging.Clock

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New constructs a cache holding at most capacity entries with the given
// default TTL.
func New(capacity int, ttl time.Duration, clock logging.Clock) *Cache {
	if capacity < shardCount {
		capacity = shardCount
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if clock == nil {
		clock = logging.SystemClock{}
	}
	c := &Cache{
		perShardLimit: capacity / shardCount,
		ttl:           ttl,
		clock:         clock,
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			mu:      locking.NewMutex(locking.LayerCacheShards),
			entries: make(map[string]*Entry),
		}
	}
	return c
}

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Get returns the cached value when present and unexpired. Expired entries
// are removed lazily here. Hits refresh recency and bump the access count.
func (c *Cache) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	s := c.shardFor(key)
	now := c.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if now.After(entry.ExpiresAt) {
		delete(s.entries, key)
		c.misses.Add(1)
		return nil, false
	}
	entry.LastAccessedAt = now
	entry.AccessCount++
	c.hits.Add(1)
	return entry.Value, true
}

// Put stores a value under the default TTL.
func (c *Cache) Put(key string, value any) {
	c.PutTTL(key, value, c.ttl)
}

// PutTTL stores a value with an explicit TTL, evicting the least recently
// used entry in the shard when it is full.
func (c *Cache) PutTTL(key string, value any, ttl time.Duration) {
	if c == nil || key == "" {
		return
	}
	s := c.shardFor(key)
	now := c.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; !exists && len(s.entries) >= c.perShardLimit {
		evictOldestLocked(s)
	}
	s.entries[key] = &Entry{
		Key:            key,
		Value:          value,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
	}
}

// Invalidate removes one key.
func (c *Cache) Invalidate(key string) {
	if c == nil {
		return
	}
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Flush clears every shard.
func (c *Cache) Flush() {
	if c == nil {
		return
	}
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries = make(map[string]*Entry)
		s.mu.Unlock()
	}
}

// Len counts live entries; expired entries still resident count until a
// Get touches them.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

// Stats reports hit/miss totals. Approximate: counters are updated under
// shard locks but summed without a global lock.
func (c *Cache) Stats() (hits, misses uint64) {
	if c == nil {
		return 0, 0
	}
	return c.hits.Load(), c.misses.Load()
}

func evictOldestLocked(s *shard) {
	var oldestKey string
	var oldest time.Time
	first := true
	for key, entry := range s.entries {
		if first || entry.LastAccessedAt.Before(oldest) {
			oldestKey = key
			oldest = entry.LastAccessedAt
			first = false
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}
