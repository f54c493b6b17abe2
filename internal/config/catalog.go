package config

import (
	"encoding/json"
	"fmt"
	"os"

	"bothive/engine/internal/distribution"
	"bothive/engine/internal/zone"
)

// Catalog is the on-disk data catalog: zone placements and level bracket
// targets. The schema subcommand emits a JSON Schema for this type.
type Catalog struct {
	Zones    []zone.Placement             `json:"zones"`
	Brackets []distribution.BracketConfig `json:"brackets"`
	Comment  string                       `json:"comment,omitempty"`
}

// DefaultCatalog returns the built-in catalog used when no file is given.
func DefaultCatalog() Catalog {
	return Catalog{
		Zones:    zone.DefaultPlacements(),
		Brackets: distribution.DefaultBrackets(),
	}
}

// LoadCatalog reads and validates a catalog file. An empty path yields the
// built-in defaults.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("config: read catalog %s: %w", path, err)
	}
	var cat Catalog
	if err := json.Unmarshal(raw, &cat); err != nil {
		return Catalog{}, fmt.Errorf("config: parse catalog %s: %w", path, err)
	}
	if err := cat.Validate(); err != nil {
		return Catalog{}, fmt.Errorf("config: catalog %s: %w", path, err)
	}
	return cat, nil
}

// Validate rejects catalogs the caches would refuse or silently misuse.
func (c Catalog) Validate() error {
	if len(c.Zones) == 0 {
		return fmt.Errorf("no zone placements")
	}
	seen := make(map[uint32]struct{}, len(c.Zones))
	starters := 0
	for _, p := range c.Zones {
		if p.ZoneID == 0 {
			return fmt.Errorf("placement %q: zero zone id", p.Name)
		}
		if p.MinLevel < 1 || p.MaxLevel < p.MinLevel {
			return fmt.Errorf("placement %q: bad level range %d..%d", p.Name, p.MinLevel, p.MaxLevel)
		}
		if _, dup := seen[p.ZoneID]; dup {
			return fmt.Errorf("placement %q: duplicate zone id %d", p.Name, p.ZoneID)
		}
		seen[p.ZoneID] = struct{}{}
		if p.Category == zone.CategoryStarter {
			starters++
		}
	}
	if starters == 0 {
		return fmt.Errorf("no starter placements")
	}
	if len(c.Brackets) == 0 {
		return fmt.Errorf("no level brackets")
	}
	// Bracket shape (coverage, ordering, percent sum) is enforced by
	// distribution.NewLevels; probe it here so a bad file fails at load.
	if _, err := distribution.NewLevels(c.Brackets); err != nil {
		return err
	}
	return nil
}
