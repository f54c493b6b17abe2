package talent

import (
	"testing"

	"bothive/engine/internal/host/hosttest"
)

func newReadyCache(t *testing.T) *Cache {
	t.Helper()
	cache := NewCache()
	if err := cache.Initialize(hosttest.New()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	return cache
}

func TestGetLoadoutBeforeInitialize(t *testing.T) {
	cache := NewCache()
	if _, err := cache.GetLoadout(hosttest.ClassWarrior, hosttest.SpecArms, 30); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestGetLoadoutLowLevelNil(t *testing.T) {
	cache := newReadyCache(t)
	loadout, err := cache.GetLoadout(hosttest.ClassWarrior, hosttest.SpecArms, 5)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if loadout != nil {
		t.Fatalf("expected nil loadout below first talent level, got %+v", loadout)
	}
}

func TestLoadoutGrowsWithBucket(t *testing.T) {
	cache := newReadyCache(t)
	mid, err := cache.GetLoadout(hosttest.ClassPriest, hosttest.SpecShadow, 35)
	if err != nil || mid == nil {
		t.Fatalf("mid lookup failed: %v %v", mid, err)
	}
	high, err := cache.GetLoadout(hosttest.ClassPriest, hosttest.SpecShadow, 65)
	if err != nil || high == nil {
		t.Fatalf("high lookup failed: %v %v", high, err)
	}
	if len(high.Talents) <= len(mid.Talents) {
		t.Fatalf("expected more talents at 65 (%d) than 35 (%d)", len(high.Talents), len(mid.Talents))
	}
	// Ordered prefix property: the mid loadout is a prefix of the high one.
	for i, id := range mid.Talents {
		if high.Talents[i] != id {
			t.Fatalf("loadout order diverged at %d: %d vs %d", i, high.Talents[i], id)
		}
	}
}

func TestHeroTalentsOnlyAtEndgame(t *testing.T) {
	cache := newReadyCache(t)
	seventy, err := cache.GetLoadout(hosttest.ClassDruid, hosttest.SpecBalance, 70)
	if err != nil || seventy == nil {
		t.Fatalf("level 70 lookup failed: %v %v", seventy, err)
	}
	if len(seventy.HeroTalents) != 0 {
		t.Fatalf("hero talents must not appear below 71")
	}
	eighty, err := cache.GetLoadout(hosttest.ClassDruid, hosttest.SpecBalance, 80)
	if err != nil || eighty == nil {
		t.Fatalf("level 80 lookup failed: %v %v", eighty, err)
	}
	if len(eighty.HeroTalents) == 0 {
		t.Fatalf("expected hero talents at 80")
	}
}
