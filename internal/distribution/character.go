package distribution

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"bothive/engine/internal/host"
)

// ErrUnsatisfiable reports creation constraints no catalog combination can
// meet, e.g. a role restricted to a class with no spec for it.
var ErrUnsatisfiable = errors.New("distribution: constraints unsatisfiable")

// Constraints narrows what the sampler may roll. Zero values leave the
// field open.
type Constraints struct {
	Faction *host.Faction
	Class   uint8
	Role    *host.Role
}

// Sampler rolls identities and specializations from the host catalog.
// Immutable after construction.
type Sampler struct {
	races          []host.RaceInfo
	racesByFaction map[host.Faction][]host.RaceInfo
	specsByClass   map[uint8][]host.SpecInfo
	classRoles     map[uint8]map[host.Role]bool
	accountGroup   atomic.Uint32
}

// NewSampler indexes the catalog's races and classes.
func NewSampler(catalog host.EntityCatalog) (*Sampler, error) {
	if catalog == nil {
		return nil, errors.New("distribution: nil catalog")
	}
	s := &Sampler{
		racesByFaction: make(map[host.Faction][]host.RaceInfo),
		specsByClass:   make(map[uint8][]host.SpecInfo),
		classRoles:     make(map[uint8]map[host.Role]bool),
	}
	s.races = catalog.Races()
	if len(s.races) == 0 {
		return nil, errors.New("distribution: catalog has no races")
	}
	for _, race := range s.races {
		s.racesByFaction[race.Faction] = append(s.racesByFaction[race.Faction], race)
	}
	for _, class := range catalog.Classes() {
		s.specsByClass[class.Class] = class.Specs
		roles := make(map[host.Role]bool)
		for _, spec := range class.Specs {
			roles[spec.Role] = true
		}
		s.classRoles[class.Class] = roles
	}
	if len(s.specsByClass) == 0 {
		return nil, errors.New("distribution: catalog has no classes")
	}
	return s, nil
}

// ClassesForRole lists the classes able to fill the role, in catalog order.
func (s *Sampler) ClassesForRole(role host.Role) []uint8 {
	if s == nil {
		return nil
	}
	var classes []uint8
	for class, roles := range s.classRoles {
		if roles[role] {
			classes = append(classes, class)
		}
	}
	return classes
}

// SampleIdentity rolls a full identity honoring the constraints.
func (s *Sampler) SampleIdentity(constraints Constraints, rng *rand.Rand) (host.Identity, error) {
	if s == nil {
		return host.Identity{}, errors.New("distribution: nil sampler")
	}

	faction := rollFaction(constraints.Faction, rng)

	candidates := s.racesByFaction[faction]
	if len(candidates) == 0 {
		return host.Identity{}, fmt.Errorf("%w: no races for faction %s", ErrUnsatisfiable, faction)
	}

	// Narrow races to those allowing a class that satisfies class and role
	// constraints, then roll race and class together.
	type pick struct {
		race  host.RaceInfo
		class uint8
	}
	var picks []pick
	for _, race := range candidates {
		for _, class := range race.AllowedClasses {
			if constraints.Class != 0 && class != constraints.Class {
				continue
			}
			if constraints.Role != nil && !s.classRoles[class][*constraints.Role] {
				continue
			}
			picks = append(picks, pick{race: race, class: class})
		}
	}
	if len(picks) == 0 {
		return host.Identity{}, fmt.Errorf("%w: faction=%s class=%d role=%v", ErrUnsatisfiable, faction, constraints.Class, constraints.Role)
	}
	chosen := picks[0]
	if rng != nil {
		chosen = picks[rng.Intn(len(picks))]
	}

	gender := uint8(0)
	if rng != nil && rng.Intn(2) == 1 {
		gender = 1
	}

	return host.Identity{
		AccountGroup: s.accountGroup.Add(1),
		Name:         rollName(chosen.race.Name),
		Race:         chosen.race.Race,
		Class:        chosen.class,
		Gender:       gender,
		Faction:      faction,
	}, nil
}

// SelectSpec rolls a primary spec for the class, honoring a role
// constraint when present.
func (s *Sampler) SelectSpec(class uint8, role *host.Role, rng *rand.Rand) (host.SpecInfo, error) {
	specs := s.specsByClass[class]
	if len(specs) == 0 {
		return host.SpecInfo{}, fmt.Errorf("%w: class %d has no specs", ErrUnsatisfiable, class)
	}
	var matching []host.SpecInfo
	for _, spec := range specs {
		if role == nil || spec.Role == *role {
			matching = append(matching, spec)
		}
	}
	if len(matching) == 0 {
		return host.SpecInfo{}, fmt.Errorf("%w: class %d cannot fill role %v", ErrUnsatisfiable, class, *role)
	}
	if rng == nil {
		return matching[0], nil
	}
	return matching[rng.Intn(len(matching))], nil
}

// SelectSecondarySpec picks a complementary second spec: a different role
// than primary when one exists, otherwise any other spec, otherwise none.
func (s *Sampler) SelectSecondarySpec(class uint8, primary host.SpecInfo, rng *rand.Rand) (host.SpecInfo, bool) {
	specs := s.specsByClass[class]
	var otherRole, other []host.SpecInfo
	for _, spec := range specs {
		if spec.Spec == primary.Spec {
			continue
		}
		if spec.Role != primary.Role {
			otherRole = append(otherRole, spec)
		} else {
			other = append(other, spec)
		}
	}
	pool := otherRole
	if len(pool) == 0 {
		pool = other
	}
	if len(pool) == 0 {
		return host.SpecInfo{}, false
	}
	if rng == nil {
		return pool[0], true
	}
	return pool[rng.Intn(len(pool))], true
}

// SpecInfo looks up a spec by class and id.
func (s *Sampler) SpecInfo(class, spec uint8) (host.SpecInfo, bool) {
	for _, info := range s.specsByClass[class] {
		if info.Spec == spec {
			return info, true
		}
	}
	return host.SpecInfo{}, false
}

func rollFaction(constrained *host.Faction, rng *rand.Rand) host.Faction {
	if constrained != nil {
		return *constrained
	}
	if rng != nil && rng.Intn(2) == 1 {
		return host.FactionHorde
	}
	return host.FactionAlliance
}

// rollName composes a character name from the race name and a uuid
// fragment. The host requires global uniqueness across restarts, so the
// suffix deliberately does not come from the seeded sampler rng.
func rollName(raceName string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	base := raceName
	if base == "" {
		base = "bot"
	}
	return strings.ToUpper(base[:1]) + base[1:] + suffix
}
