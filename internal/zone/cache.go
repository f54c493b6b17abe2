// Package zone holds the placement catalog: where bots of a given level,
// faction and race may be dropped into the world. Loaded once from
// configuration and published through an atomic pointer.
package zone

import (
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"

	"bothive/engine/internal/host"
)

// ErrNotInitialized is returned when the cache is used before Initialize.
var ErrNotInitialized = errors.New("zone: cache not initialized")

const starterLevelCeiling = 4

type Category string

const (
	CategoryStarter  Category = "starter"
	CategoryLeveling Category = "leveling"
	CategoryEndgame  Category = "endgame"
	CategoryCapital  Category = "capital"
)

// Placement is one catalog entry. RaceGate of zero admits every race.
type Placement struct {
	ZoneID   uint32         `json:"zoneId"`
	MapID    uint32         `json:"mapId"`
	Name     string         `json:"name"`
	X        float64        `json:"x"`
	Y        float64        `json:"y"`
	Z        float64        `json:"z"`
	Facing   float64        `json:"facing"`
	Factions []host.Faction `json:"factions"`
	MinLevel int            `json:"minLevel"`
	MaxLevel int            `json:"maxLevel"`
	Category Category       `json:"category"`
	RaceGate uint8          `json:"raceGate,omitempty"`
}

// Position converts the placement into a host teleport target.
func (p Placement) Position() host.Position {
	return host.Position{ZoneID: p.ZoneID, MapID: p.MapID, X: p.X, Y: p.Y, Z: p.Z, Facing: p.Facing}
}

func (p Placement) allows(faction host.Faction) bool {
	if len(p.Factions) == 0 {
		return true
	}
	for _, f := range p.Factions {
		if f == faction {
			return true
		}
	}
	return false
}

type index struct {
	placements []Placement
	starters   map[starterKey]Placement
	capitals   map[host.Faction]Placement
}

type starterKey struct {
	faction host.Faction
	race    uint8
}

type Cache struct {
	ready atomic.Pointer[index]
}

func NewCache() *Cache {
	return &Cache{}
}

// Initialize validates and publishes the placement catalog. A faction
// without a capital or a starter zone fails startup.
func (c *Cache) Initialize(placements []Placement) error {
	if c == nil {
		return ErrNotInitialized
	}
	if len(placements) == 0 {
		return errors.New("zone: empty placement catalog")
	}

	idx := &index{
		starters: make(map[starterKey]Placement),
		capitals: make(map[host.Faction]Placement),
	}
	for _, p := range placements {
		if p.MinLevel > p.MaxLevel {
			return fmt.Errorf("zone: placement %d has inverted level range %d..%d", p.ZoneID, p.MinLevel, p.MaxLevel)
		}
		switch p.Category {
		case CategoryStarter:
			for _, faction := range host.Factions {
				if !p.allows(faction) {
					continue
				}
				idx.starters[starterKey{faction, p.RaceGate}] = p
			}
		case CategoryCapital:
			for _, faction := range host.Factions {
				if p.allows(faction) {
					idx.capitals[faction] = p
				}
			}
		case CategoryLeveling, CategoryEndgame:
			idx.placements = append(idx.placements, p)
		default:
			return fmt.Errorf("zone: placement %d has unknown category %q", p.ZoneID, p.Category)
		}
	}

	for _, faction := range host.Factions {
		if _, ok := idx.capitals[faction]; !ok {
			return fmt.Errorf("zone: no capital for faction %s", faction)
		}
		if _, ok := idx.starters[starterKey{faction, 0}]; !ok {
			if !factionHasStarter(idx, faction) {
				return fmt.Errorf("zone: no starter zone for faction %s", faction)
			}
		}
	}

	c.ready.Store(idx)
	return nil
}

func factionHasStarter(idx *index, faction host.Faction) bool {
	for key := range idx.starters {
		if key.faction == faction {
			return true
		}
	}
	return false
}

// Ready reports whether the catalog has been published.
func (c *Cache) Ready() bool {
	return c != nil && c.ready.Load() != nil
}

// SelectZone picks a placement for the level/faction/race. Levels at or
// below the starter ceiling go to the race's starter zone; anything else
// samples uniformly from placements whose range covers the level.
func (c *Cache) SelectZone(level int, faction host.Faction, race uint8, rng *rand.Rand) (Placement, error) {
	idx := c.load()
	if idx == nil {
		return Placement{}, ErrNotInitialized
	}

	if level <= starterLevelCeiling {
		if p, ok := idx.starters[starterKey{faction, race}]; ok {
			return p, nil
		}
		if p, ok := idx.starters[starterKey{faction, 0}]; ok {
			return p, nil
		}
		return Placement{}, fmt.Errorf("zone: no starter for faction %s race %d", faction, race)
	}

	var matches []Placement
	for _, p := range idx.placements {
		if p.MinLevel <= level && level <= p.MaxLevel && p.allows(faction) {
			if p.RaceGate != 0 && p.RaceGate != race {
				continue
			}
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		// Level-capped or gap in the catalog: park in the capital.
		return idx.capitals[faction], nil
	}
	pick := 0
	if rng != nil {
		pick = rng.Intn(len(matches))
	}
	return matches[pick], nil
}

// PlacementByZone returns a placement in the zone admitting the level and
// faction, when the catalog has one.
func (c *Cache) PlacementByZone(zoneID uint32, level int, faction host.Faction) (Placement, bool) {
	idx := c.load()
	if idx == nil {
		return Placement{}, false
	}
	for _, p := range idx.placements {
		if p.ZoneID == zoneID && p.MinLevel <= level && level <= p.MaxLevel && p.allows(faction) {
			return p, true
		}
	}
	return Placement{}, false
}

// ZonePlacement returns the catalog entry for a zone id.
func (c *Cache) ZonePlacement(zoneID uint32) (Placement, bool) {
	idx := c.load()
	if idx == nil {
		return Placement{}, false
	}
	for _, p := range idx.placements {
		if p.ZoneID == zoneID {
			return p, true
		}
	}
	return Placement{}, false
}

// ZoneRange reports the level range the catalog assigns to a zone.
func (c *Cache) ZoneRange(zoneID uint32) (minLevel, maxLevel int, ok bool) {
	idx := c.load()
	if idx == nil {
		return 0, 0, false
	}
	for _, p := range idx.placements {
		if p.ZoneID == zoneID {
			return p.MinLevel, p.MaxLevel, true
		}
	}
	return 0, 0, false
}

// GetCapitalCity returns the faction's capital placement.
func (c *Cache) GetCapitalCity(faction host.Faction) (Placement, error) {
	idx := c.load()
	if idx == nil {
		return Placement{}, ErrNotInitialized
	}
	return idx.capitals[faction], nil
}

func (c *Cache) load() *index {
	if c == nil {
		return nil
	}
	return c.ready.Load()
}
