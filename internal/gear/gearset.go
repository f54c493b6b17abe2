package gear

import (
	"math/rand"

	"bothive/engine/internal/host"
)

// Set is the owned gear value a creation task carries into the apply phase.
// Empty slots are permitted; IsComplete reports whether every slot found a
// candidate.
type Set struct {
	Slots            map[host.EquipSlot]uint32
	Bags             []uint32
	Consumables      map[uint32]int
	AverageItemLevel float64
	TotalScore       float64
	IsComplete       bool
}

// qualityRoll is one entry in a level band's quality distribution.
type qualityRoll struct {
	quality host.Quality
	chance  float64
}

func qualityTiers(level int) []qualityRoll {
	switch {
	case level < 60:
		return []qualityRoll{
			{host.QualityUncommon, 0.5},
			{host.QualityRare, 0.5},
		}
	case level < 70:
		return []qualityRoll{
			{host.QualityUncommon, 0.3},
			{host.QualityRare, 0.7},
		}
	default:
		return []qualityRoll{
			{host.QualityRare, 0.6},
			{host.QualityEpic, 0.4},
		}
	}
}

// BuildSet assembles a gear set for the class/spec/level. Pure function over
// the published index; deterministic for a given rng seed. The faction is
// accepted for parity with the host's equip rules but no catalog item in
// play is faction-gated.
func (c *Cache) BuildSet(class, spec uint8, level int, faction host.Faction, rng *rand.Rand) (Set, error) {
	idx := c.load()
	if idx == nil {
		return Set{}, ErrNotInitialized
	}

	set := Set{
		Slots:       make(map[host.EquipSlot]uint32),
		Consumables: make(map[uint32]int),
		IsComplete:  true,
	}

	tiers := qualityTiers(level)
	var levelSum int
	for _, slot := range host.EquipSlots {
		item, ok := c.pickForSlot(class, spec, level, slot, tiers, rng)
		if !ok {
			// No candidate anywhere for this slot; leave it empty and let
			// the apply phase skip it.
			set.IsComplete = false
			continue
		}
		set.Slots[slot] = item.ID
		set.TotalScore += item.Score
		levelSum += item.ItemLevel
	}
	if len(set.Slots) > 0 {
		set.AverageItemLevel = float64(levelSum) / float64(len(set.Slots))
	}

	set.Bags = pickBags(idx.bags, level)
	for _, consumable := range idx.consumables {
		if consumable.RequiredLevel <= level {
			set.Consumables[consumable.ID] = consumableQty
		}
	}

	return set, nil
}

func (c *Cache) pickForSlot(class, spec uint8, level int, slot host.EquipSlot, tiers []qualityRoll, rng *rand.Rand) (CachedItem, bool) {
	rolled := rollQuality(tiers, rng)
	if candidates, err := c.Candidates(class, spec, level, slot, rolled); err == nil && len(candidates) > 0 {
		return candidates[0], true
	}
	// Rolled tier empty: fall back to any tier, best quality first.
	for quality := host.QualityLegendary; quality >= host.QualityUncommon; quality-- {
		if quality == rolled {
			continue
		}
		if candidates, err := c.Candidates(class, spec, level, slot, quality); err == nil && len(candidates) > 0 {
			return candidates[0], true
		}
	}
	return CachedItem{}, false
}

func rollQuality(tiers []qualityRoll, rng *rand.Rand) host.Quality {
	if len(tiers) == 0 {
		return host.QualityUncommon
	}
	draw := 0.0
	if rng != nil {
		draw = rng.Float64()
	}
	acc := 0.0
	for _, tier := range tiers {
		acc += tier.chance
		if draw < acc {
			return tier.quality
		}
	}
	return tiers[len(tiers)-1].quality
}

// pickBags fills the four bag slots with the largest bag the level allows.
func pickBags(bags []host.ItemTemplate, level int) []uint32 {
	for _, bag := range bags {
		if bag.RequiredLevel <= level {
			filled := make([]uint32, bagSlotCount)
			for i := range filled {
				filled[i] = bag.ID
			}
			return filled
		}
	}
	return nil
}
