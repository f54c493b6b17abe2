package gear

import (
	"math/rand"
	"testing"

	"bothive/engine/internal/host"
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

func TestBuildSetBeforeInitialize(t *testing.T) {
	cache := NewCache()
	if _, err := cache.BuildSet(hosttest.ClassWarrior, hosttest.SpecArms, 30, host.FactionAlliance, rand.New(rand.NewSource(1))); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestBuildSetFillsSlots(t *testing.T) {
	cache := newReadyCache(t)
	rng := rand.New(rand.NewSource(42))
	set, err := cache.BuildSet(hosttest.ClassWarrior, hosttest.SpecArms, 40, host.FactionAlliance, rng)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if !set.IsComplete {
		t.Fatalf("expected complete set at level 40, slots=%d", len(set.Slots))
	}
	if len(set.Slots) != len(host.EquipSlots) {
		t.Fatalf("expected %d slots, got %d", len(host.EquipSlots), len(set.Slots))
	}
	if len(set.Bags) != 4 {
		t.Fatalf("expected 4 bags, got %d", len(set.Bags))
	}
	if len(set.Consumables) == 0 {
		t.Fatalf("expected a consumable bundle")
	}
	if set.AverageItemLevel <= 0 || set.TotalScore <= 0 {
		t.Fatalf("expected aggregates, got avg=%f score=%f", set.AverageItemLevel, set.TotalScore)
	}
}

func TestBuildSetDeterministicForSeed(t *testing.T) {
	cache := newReadyCache(t)
	first, err := cache.BuildSet(hosttest.ClassPriest, hosttest.SpecHoly, 70, host.FactionHorde, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	second, err := cache.BuildSet(hosttest.ClassPriest, hosttest.SpecHoly, 70, host.FactionHorde, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(first.Slots) != len(second.Slots) {
		t.Fatalf("seeded builds diverged: %d vs %d slots", len(first.Slots), len(second.Slots))
	}
	for slot, item := range first.Slots {
		if second.Slots[slot] != item {
			t.Fatalf("slot %s diverged: %d vs %d", slot, item, second.Slots[slot])
		}
	}
}

func TestBuildSetLowLevelMayLeaveSlotsEmpty(t *testing.T) {
	cache := newReadyCache(t)
	set, err := cache.BuildSet(hosttest.ClassMage, hosttest.SpecFrost, 1, host.FactionAlliance, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	// The catalog's lowest band starts at required level 5, so a level 1
	// bot gets an incomplete set rather than an error.
	if set.IsComplete {
		t.Fatalf("expected incomplete set at level 1")
	}
}

// midBandCatalog adds one item whose required level falls inside a bucket,
// not on its floor.
type midBandCatalog struct {
	*hosttest.Fake
	extra host.ItemTemplate
}

func (c *midBandCatalog) Items() []host.ItemTemplate {
	return append(c.Fake.Items(), c.extra)
}

func TestCandidatesRespectRequiredLevel(t *testing.T) {
	catalog := &midBandCatalog{
		Fake: hosttest.New(),
		extra: host.ItemTemplate{
			ID:            42,
			Name:          "mid-band chest",
			Kind:          host.ItemKindArmor,
			Quality:       host.QualityRare,
			ItemLevel:     200,
			RequiredLevel: 8,
			Slot:          host.SlotChest,
			Equippable:    true,
			Stats:         []host.StatValue{{Stat: host.StatStrength, Amount: 500}},
		},
	}
	cache := NewCache()
	if err := cache.Initialize(catalog); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	// Levels 5 and 8 share the level-5 bucket, but only the latter may
	// wear a required-level-8 item.
	for _, tc := range []struct {
		level int
		want  bool
	}{{5, false}, {7, false}, {8, true}, {9, true}} {
		candidates, err := cache.Candidates(hosttest.ClassWarrior, hosttest.SpecArms, tc.level, host.SlotChest, host.QualityRare)
		if err != nil {
			t.Fatalf("candidates at %d: %v", tc.level, err)
		}
		found := false
		for _, c := range candidates {
			if c.ID == 42 {
				found = true
			}
		}
		if found != tc.want {
			t.Fatalf("level %d: item 42 present=%v want %v", tc.level, found, tc.want)
		}
	}

	set, err := cache.BuildSet(hosttest.ClassWarrior, hosttest.SpecArms, 5, host.FactionAlliance, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if set.Slots[host.SlotChest] == 42 {
		t.Fatalf("level-5 set equips an item requiring level 8")
	}
}

func TestLevelBucketWindows(t *testing.T) {
	cases := []struct {
		level  int
		bucket int
	}{
		{1, 1}, {4, 1}, {5, 5}, {9, 5}, {10, 10}, {59, 55}, {80, 80},
	}
	for _, tc := range cases {
		if got := LevelBucket(tc.level); got != tc.bucket {
			t.Fatalf("LevelBucket(%d)=%d want %d", tc.level, got, tc.bucket)
		}
	}
}

func TestCandidatesSortedByScore(t *testing.T) {
	cache := newReadyCache(t)
	candidates, err := cache.Candidates(hosttest.ClassWarrior, hosttest.SpecProtection, 60, host.SlotChest, host.QualityRare)
	if err != nil {
		t.Fatalf("candidates failed: %v", err)
	}
	if len(candidates) < 2 {
		t.Fatalf("expected multiple candidates, got %d", len(candidates))
	}
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Score > candidates[i-1].Score {
			t.Fatalf("candidates not sorted at %d", i)
		}
	}
}

func TestQualityDistributionAtEndgame(t *testing.T) {
	cache := newReadyCache(t)
	rng := rand.New(rand.NewSource(99))
	epics := 0
	const rounds = 200
	for i := 0; i < rounds; i++ {
		set, err := cache.BuildSet(hosttest.ClassDruid, hosttest.SpecGuardian, 80, host.FactionHorde, rng)
		if err != nil {
			t.Fatalf("build failed: %v", err)
		}
		if item, ok := set.Slots[host.SlotChest]; ok {
			candidates, _ := cache.Candidates(hosttest.ClassDruid, hosttest.SpecGuardian, 80, host.SlotChest, host.QualityEpic)
			for _, c := range candidates {
				if c.ID == item {
					epics++
					break
				}
			}
		}
	}
	// 40% epic chance at level 70+; allow generous slack for the seed.
	if epics < rounds/5 || epics > rounds*3/5 {
		t.Fatalf("epic frequency out of band: %d/%d", epics, rounds)
	}
}
