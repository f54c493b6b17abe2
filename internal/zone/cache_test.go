package zone

import (
	"math/rand"
	"testing"

	"bothive/engine/internal/host"
)

func newReadyCache(t *testing.T) *Cache {
	t.Helper()
	cache := NewCache()
	if err := cache.Initialize(DefaultPlacements()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	return cache
}

func TestSelectZoneBeforeInitialize(t *testing.T) {
	cache := NewCache()
	if _, err := cache.SelectZone(10, host.FactionAlliance, 1, nil); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestStarterZoneForLowLevels(t *testing.T) {
	cache := newReadyCache(t)
	for level := 1; level <= 4; level++ {
		p, err := cache.SelectZone(level, host.FactionHorde, 2, rand.New(rand.NewSource(1)))
		if err != nil {
			t.Fatalf("select failed at level %d: %v", level, err)
		}
		if p.Category != CategoryStarter {
			t.Fatalf("expected starter zone at level %d, got %s", level, p.Category)
		}
	}
}

func TestSelectZoneRespectsRangeAndFaction(t *testing.T) {
	cache := newReadyCache(t)
	rng := rand.New(rand.NewSource(9))
	for i := 0; i < 50; i++ {
		p, err := cache.SelectZone(40, host.FactionAlliance, 1, rng)
		if err != nil {
			t.Fatalf("select failed: %v", err)
		}
		if p.MinLevel > 40 || p.MaxLevel < 40 {
			t.Fatalf("placement %s does not cover level 40", p.Name)
		}
		for _, f := range p.Factions {
			if f == host.FactionHorde && len(p.Factions) == 1 {
				t.Fatalf("horde-only placement selected for alliance")
			}
		}
	}
}

func TestSelectZoneFallsBackToCapital(t *testing.T) {
	placements := []Placement{
		{ZoneID: 1, Name: "start", Factions: []host.Faction{host.FactionAlliance, host.FactionHorde}, MinLevel: 1, MaxLevel: 10, Category: CategoryStarter},
		{ZoneID: 2, Name: "capital-a", Factions: []host.Faction{host.FactionAlliance}, MinLevel: 1, MaxLevel: 80, Category: CategoryCapital},
		{ZoneID: 3, Name: "capital-h", Factions: []host.Faction{host.FactionHorde}, MinLevel: 1, MaxLevel: 80, Category: CategoryCapital},
		{ZoneID: 4, Name: "low", MinLevel: 10, MaxLevel: 20, Category: CategoryLeveling},
	}
	cache := NewCache()
	if err := cache.Initialize(placements); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	p, err := cache.SelectZone(60, host.FactionHorde, 2, nil)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if p.ZoneID != 3 {
		t.Fatalf("expected horde capital fallback, got zone %d", p.ZoneID)
	}
}

func TestInitializeRejectsMissingCapital(t *testing.T) {
	placements := []Placement{
		{ZoneID: 1, Name: "start", MinLevel: 1, MaxLevel: 10, Category: CategoryStarter},
	}
	cache := NewCache()
	if err := cache.Initialize(placements); err == nil {
		t.Fatalf("expected error for missing capitals")
	}
}

func TestGetCapitalCity(t *testing.T) {
	cache := newReadyCache(t)
	for _, faction := range host.Factions {
		p, err := cache.GetCapitalCity(faction)
		if err != nil {
			t.Fatalf("capital lookup failed: %v", err)
		}
		if p.Category != CategoryCapital {
			t.Fatalf("expected capital, got %s", p.Category)
		}
	}
}
