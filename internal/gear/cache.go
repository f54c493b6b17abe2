// Package gear builds the immutable class/spec/level/slot item index and
// assembles gear sets from it. The index is published once through an
// atomic pointer; after that every lookup is lock-free.
package gear

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"bothive/engine/internal/host"
)

// ErrNotInitialized is returned when the cache is used before Initialize
// published the index.
var ErrNotInitialized = errors.New("gear: cache not initialized")

const (
	maxLevel      = 80
	minItemLevel  = 5
	bagSlotCount  = 4
	consumableQty = 20
)

// CachedItem is one scored candidate for a (class, spec, bucket, slot) key.
type CachedItem struct {
	ID            uint32
	ItemLevel     int
	RequiredLevel int
	Quality       host.Quality
	Score         float64
}

type specKey struct {
	class uint8
	spec  uint8
}

type slotIndex struct {
	// byQuality holds candidates sorted by descending score.
	byQuality map[host.Quality][]CachedItem
}

type index struct {
	// specs → levelBucket → slot → candidates.
	specs       map[specKey]map[int]map[host.EquipSlot]*slotIndex
	bags        []host.ItemTemplate
	consumables []host.ItemTemplate
}

// Cache is the process-wide gear index. Zero value is unusable until
// Initialize runs.
type Cache struct {
	ready atomic.Pointer[index]
}

func NewCache() *Cache {
	return &Cache{}
}

// LevelBucket floors a level into the cache's 5-level windows (1, 5, 10, …).
func LevelBucket(level int) int {
	if level < 5 {
		return 1
	}
	return level / 5 * 5
}

// Initialize scans the host item catalog and publishes the index. Filters:
// quality at least uncommon, item level at least 5, equippable inventory
// type. Items are fanned out to every bucket from their required level up
// so lookups stay a single map walk.
func (c *Cache) Initialize(catalog host.EntityCatalog) error {
	if c == nil {
		return ErrNotInitialized
	}
	if catalog == nil {
		return errors.New("gear: nil catalog")
	}

	idx := &index{specs: make(map[specKey]map[int]map[host.EquipSlot]*slotIndex)}

	var specs []host.SpecInfo
	for _, class := range catalog.Classes() {
		specs = append(specs, class.Specs...)
	}
	if len(specs) == 0 {
		return errors.New("gear: catalog has no class specs")
	}

	for _, item := range catalog.Items() {
		switch item.Kind {
		case host.ItemKindBag:
			idx.bags = append(idx.bags, item)
			continue
		case host.ItemKindConsumable:
			idx.consumables = append(idx.consumables, item)
			continue
		}
		if !item.Equippable || item.Quality < host.QualityUncommon || item.ItemLevel < minItemLevel {
			continue
		}
		for _, spec := range specs {
			if !item.UsableBy(spec.Class) {
				continue
			}
			cached := CachedItem{
				ID:            item.ID,
				ItemLevel:     item.ItemLevel,
				RequiredLevel: item.RequiredLevel,
				Quality:       item.Quality,
				Score:         scoreItem(item, spec.StatPriority),
			}
			key := specKey{class: spec.Class, spec: spec.Spec}
			buckets := idx.specs[key]
			if buckets == nil {
				buckets = make(map[int]map[host.EquipSlot]*slotIndex)
				idx.specs[key] = buckets
			}
			start := LevelBucket(item.RequiredLevel)
			for bucket := start; bucket <= maxLevel; bucket = nextBucket(bucket) {
				slots := buckets[bucket]
				if slots == nil {
					slots = make(map[host.EquipSlot]*slotIndex)
					buckets[bucket] = slots
				}
				si := slots[item.Slot]
				if si == nil {
					si = &slotIndex{byQuality: make(map[host.Quality][]CachedItem)}
					slots[item.Slot] = si
				}
				si.byQuality[item.Quality] = append(si.byQuality[item.Quality], cached)
			}
		}
	}

	sort.Slice(idx.bags, func(i, j int) bool {
		return idx.bags[i].BagSlots > idx.bags[j].BagSlots
	})
	for _, buckets := range idx.specs {
		for _, slots := range buckets {
			for _, si := range slots {
				for quality := range si.byQuality {
					candidates := si.byQuality[quality]
					sort.Slice(candidates, func(i, j int) bool {
						return candidates[i].Score > candidates[j].Score
					})
				}
			}
		}
	}

	c.ready.Store(idx)
	return nil
}

// Ready reports whether the index has been published.
func (c *Cache) Ready() bool {
	return c != nil && c.ready.Load() != nil
}

// Candidates returns the scored items for one quadruple, best first. Items
// whose required level sits above the exact level are excluded: buckets span
// five levels, so the low end of a band can reach items it cannot yet wear.
// Lock-free after initialization.
func (c *Cache) Candidates(class, spec uint8, level int, slot host.EquipSlot, quality host.Quality) ([]CachedItem, error) {
	idx := c.load()
	if idx == nil {
		return nil, ErrNotInitialized
	}
	buckets := idx.specs[specKey{class: class, spec: spec}]
	if buckets == nil {
		return nil, fmt.Errorf("gear: no index for class=%d spec=%d", class, spec)
	}
	slots := buckets[LevelBucket(level)]
	if slots == nil {
		return nil, nil
	}
	si := slots[slot]
	if si == nil {
		return nil, nil
	}
	return legalFor(si.byQuality[quality], level), nil
}

// legalFor filters out candidates above the wearer's level, copying only
// when something has to go.
func legalFor(candidates []CachedItem, level int) []CachedItem {
	for _, item := range candidates {
		if item.RequiredLevel > level {
			legal := make([]CachedItem, 0, len(candidates))
			for _, it := range candidates {
				if it.RequiredLevel <= level {
					legal = append(legal, it)
				}
			}
			return legal
		}
	}
	return candidates
}

func (c *Cache) load() *index {
	if c == nil {
		return nil
	}
	return c.ready.Load()
}

func nextBucket(bucket int) int {
	if bucket == 1 {
		return 5
	}
	return bucket + 5
}

// scoreItem weighs the item's stats against the spec's priority order and
// adds an item-level term so higher bands win ties.
func scoreItem(item host.ItemTemplate, priority []host.Stat) float64 {
	weights := make(map[host.Stat]float64, len(priority))
	weight := 1.0
	for _, stat := range priority {
		weights[stat] = weight
		weight *= 0.6
	}
	score := float64(item.ItemLevel) * 0.5
	for _, sv := range item.Stats {
		w, ok := weights[sv.Stat]
		if !ok {
			w = 0.1
		}
		score += w * float64(sv.Amount)
	}
	return score
}
