package querycache

import (
	"fmt"
	"testing"
	"time"

	"bothive/engine/logging"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

var _ logging.Clock = (*fakeClock)(nil)

func TestGetMissThenHit(t *testing.T) {
	cache := New(16, time.Minute, newFakeClock())
	if _, ok := cache.Get("absent"); ok {
		t.Fatalf("expected miss on empty cache")
	}
	cache.Put("key", 42)
	value, ok := cache.Get("key")
	if !ok {
		t.Fatalf("expected hit after put")
	}
	if value.(int) != 42 {
		t.Fatalf("expected 42, got %v", value)
	}
	hits, misses := cache.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("expected 1 hit / 1 miss, got %d/%d", hits, misses)
	}
}

func TestTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	cache := New(16, time.Minute, clock)
	cache.Put("key", "value")
	clock.Advance(61 * time.Second)
	if _, ok := cache.Get("key"); ok {
		t.Fatalf("expected expiry after ttl")
	}
	if cache.Len() != 0 {
		t.Fatalf("expired entry should be removed on access, len=%d", cache.Len())
	}
}

func TestPutTTLOverridesDefault(t *testing.T) {
	clock := newFakeClock()
	cache := New(16, time.Minute, clock)
	cache.PutTTL("long", "value", time.Hour)
	clock.Advance(30 * time.Minute)
	if _, ok := cache.Get("long"); !ok {
		t.Fatalf("entry with explicit ttl expired early")
	}
}

func TestLRUEviction(t *testing.T) {
	clock := newFakeClock()
	// Capacity 4 means one entry per shard.
	cache := New(4, time.Hour, clock)

	// Find two keys landing in the same shard, insert both; the first must
	// be evicted.
	base := "key-0"
	target := cache.shardFor(base)
	var sibling string
	for i := 1; i < 1000; i++ {
		candidate := fmt.Sprintf("key-%d", i)
		if cache.shardFor(candidate) == target {
			sibling = candidate
			break
		}
	}
	if sibling == "" {
		t.Fatalf("no colliding key found")
	}

	cache.Put(base, 1)
	clock.Advance(time.Second)
	cache.Put(sibling, 2)
	if _, ok := cache.Get(base); ok {
		t.Fatalf("expected %q evicted by %q", base, sibling)
	}
	if _, ok := cache.Get(sibling); !ok {
		t.Fatalf("expected newest entry to survive")
	}
}

func TestGetRefreshesRecency(t *testing.T) {
	clock := newFakeClock()
	cache := New(8, time.Hour, clock)

	// Two keys in one shard with per-shard capacity 2; touching the older
	// one must make the other the eviction victim.
	keys := make([]string, 0, 3)
	target := cache.shardFor("seed")
	keys = append(keys, "seed")
	for i := 0; len(keys) < 3 && i < 5000; i++ {
		candidate := fmt.Sprintf("k%d", i)
		if cache.shardFor(candidate) == target {
			keys = append(keys, candidate)
		}
	}
	if len(keys) < 3 {
		t.Fatalf("not enough colliding keys")
	}

	cache.Put(keys[0], 0)
	clock.Advance(time.Second)
	cache.Put(keys[1], 1)
	clock.Advance(time.Second)
	if _, ok := cache.Get(keys[0]); !ok {
		t.Fatalf("expected hit on first key")
	}
	clock.Advance(time.Second)
	cache.Put(keys[2], 2)
	if _, ok := cache.Get(keys[0]); !ok {
		t.Fatalf("recently read key was evicted")
	}
	if _, ok := cache.Get(keys[1]); ok {
		t.Fatalf("stale key should have been evicted")
	}
}

func TestInvalidateAndFlush(t *testing.T) {
	cache := New(16, time.Minute, newFakeClock())
	cache.Put("a", 1)
	cache.Put("b", 2)
	cache.Invalidate("a")
	if _, ok := cache.Get("a"); ok {
		t.Fatalf("invalidated key still present")
	}
	cache.Flush()
	if cache.Len() != 0 {
		t.Fatalf("flush left %d entries", cache.Len())
	}
}
