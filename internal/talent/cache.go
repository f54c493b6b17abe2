// Package talent indexes talent loadouts per class, spec and ten-level
// bucket. Built once at startup and published through an atomic pointer;
// readers never lock.
package talent

import (
	"errors"
	"sync/atomic"

	"bothive/engine/internal/host"
)

// ErrNotInitialized is returned when the cache is used before Initialize.
var ErrNotInitialized = errors.New("talent: cache not initialized")

const heroTalentLevel = 71

// Loadout is an ordered talent list for one (class, spec, bucket) key.
// HeroTalents is populated only for endgame buckets.
type Loadout struct {
	Class       uint8
	Spec        uint8
	Bucket      int
	Talents     []uint32
	HeroTalents []uint32
}

type loadoutKey struct {
	class  uint8
	spec   uint8
	bucket int
}

type index struct {
	loadouts map[loadoutKey]*Loadout
}

type Cache struct {
	ready atomic.Pointer[index]
}

func NewCache() *Cache {
	return &Cache{}
}

// Bucket groups levels by tens: 10..19 → 1, 70..79 → 7.
func Bucket(level int) int {
	return level / 10
}

// Initialize builds a loadout for every (class, spec, bucket) the catalog's
// talent entries reach, carrying each bucket's prefix of the ordered list.
func (c *Cache) Initialize(catalog host.EntityCatalog) error {
	if c == nil {
		return ErrNotInitialized
	}
	if catalog == nil {
		return errors.New("talent: nil catalog")
	}

	idx := &index{loadouts: make(map[loadoutKey]*Loadout)}
	for _, class := range catalog.Classes() {
		for _, spec := range class.Specs {
			entries := catalog.Talents(spec.Class, spec.Spec)
			if len(entries) == 0 {
				continue
			}
			for bucket := 1; bucket <= Bucket(80); bucket++ {
				ceiling := bucket*10 + 9
				if ceiling > 80 {
					ceiling = 80
				}
				loadout := &Loadout{Class: spec.Class, Spec: spec.Spec, Bucket: bucket}
				for _, entry := range entries {
					if entry.RequiredLevel > ceiling {
						continue
					}
					if entry.Hero {
						loadout.HeroTalents = append(loadout.HeroTalents, entry.ID)
					} else {
						loadout.Talents = append(loadout.Talents, entry.ID)
					}
				}
				if len(loadout.Talents) == 0 && len(loadout.HeroTalents) == 0 {
					continue
				}
				idx.loadouts[loadoutKey{spec.Class, spec.Spec, bucket}] = loadout
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

// GetLoadout returns the loadout for the level's bucket, or nil when the
// level is too low to have one. The pointer aliases cache memory and must
// be treated as read-only.
func (c *Cache) GetLoadout(class, spec uint8, level int) (*Loadout, error) {
	if c == nil {
		return nil, ErrNotInitialized
	}
	idx := c.ready.Load()
	if idx == nil {
		return nil, ErrNotInitialized
	}
	loadout := idx.loadouts[loadoutKey{class, spec, Bucket(level)}]
	if loadout == nil {
		return nil, nil
	}
	if level < heroTalentLevel && len(loadout.HeroTalents) > 0 {
		// Same bucket can straddle the hero threshold (70 vs 71); hide the
		// hero extension below it.
		trimmed := *loadout
		trimmed.HeroTalents = nil
		return &trimmed, nil
	}
	return loadout, nil
}
