// Package distribution owns the population's sampling machinery: weighted
// level brackets with per-faction occupancy counters, and the race/class/
// gender sampler used when a creation request leaves fields open.
package distribution

import (
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"

	"bothive/engine/internal/host"
)

// ErrUnderflow reports a bracket counter decremented past zero, which means
// an accounting invariant broke somewhere upstream.
var ErrUnderflow = errors.New("distribution: bracket counter underflow")

// selectionEpsilon keeps fully-populated brackets selectable so the draw
// never degenerates when every target is met.
const selectionEpsilon = 0.001

// BracketConfig declares one level bracket and its share of the population.
// TargetPercent is a fraction in [0,1]; a zero target makes the bracket
// unselectable.
type BracketConfig struct {
	MinLevel      int     `json:"minLevel"`
	MaxLevel      int     `json:"maxLevel"`
	TargetPercent float64 `json:"targetPercent"`
}

// Bracket pairs a config with live per-faction occupancy. Counters are
// plain atomics; a consistent-enough snapshot for a selection decision is
// one atomic load per counter.
type Bracket struct {
	BracketConfig
	Index  int
	counts [host.FactionCount]atomic.Uint64
}

// Count returns the bracket's occupancy for a faction.
func (b *Bracket) Count(faction host.Faction) uint64 {
	if b == nil {
		return 0
	}
	return b.counts[faction].Load()
}

// Contains reports whether the level falls inside the bracket.
func (b *Bracket) Contains(level int) bool {
	return b != nil && b.MinLevel <= level && level <= b.MaxLevel
}

// SampleLevel draws a level uniformly from the bracket's range.
func (b *Bracket) SampleLevel(rng *rand.Rand) int {
	if b == nil {
		return 1
	}
	span := b.MaxLevel - b.MinLevel + 1
	if span <= 1 || rng == nil {
		return b.MinLevel
	}
	return b.MinLevel + rng.Intn(span)
}

// BracketSnapshot is a value copy for observers.
type BracketSnapshot struct {
	MinLevel      int
	MaxLevel      int
	TargetPercent float64
	Counts        map[host.Faction]uint64
}

// Levels maintains the bracket catalog. The bracket slice is immutable
// after construction; only the counters move.
type Levels struct {
	brackets []*Bracket
}

// NewLevels validates the bracket catalog: non-empty, ordered,
// non-overlapping, targets summing to at most 1.
func NewLevels(configs []BracketConfig) (*Levels, error) {
	if len(configs) == 0 {
		return nil, errors.New("distribution: no brackets configured")
	}
	total := 0.0
	brackets := make([]*Bracket, 0, len(configs))
	for i, cfg := range configs {
		if cfg.MinLevel < 1 || cfg.MaxLevel < cfg.MinLevel {
			return nil, fmt.Errorf("distribution: bracket %d has bad range %d..%d", i, cfg.MinLevel, cfg.MaxLevel)
		}
		if cfg.TargetPercent < 0 || cfg.TargetPercent > 1 {
			return nil, fmt.Errorf("distribution: bracket %d target %f outside [0,1]", i, cfg.TargetPercent)
		}
		if i > 0 && cfg.MinLevel <= configs[i-1].MaxLevel {
			return nil, fmt.Errorf("distribution: bracket %d overlaps previous", i)
		}
		total += cfg.TargetPercent
		brackets = append(brackets, &Bracket{BracketConfig: cfg, Index: i})
	}
	if total > 1.0+1e-9 {
		return nil, fmt.Errorf("distribution: targets sum to %f > 1", total)
	}
	return &Levels{brackets: brackets}, nil
}

// Brackets returns the immutable bracket list.
func (l *Levels) Brackets() []*Bracket {
	if l == nil {
		return nil
	}
	return l.brackets
}

// SelectBracket draws a bracket for the faction, weighting each by its
// population deficit so under-filled brackets win. Zero-target brackets
// are never selected.
func (l *Levels) SelectBracket(faction host.Faction, rng *rand.Rand) (*Bracket, error) {
	if l == nil || len(l.brackets) == 0 {
		return nil, errors.New("distribution: no brackets")
	}

	total := l.factionTotal(faction)
	weights := make([]float64, len(l.brackets))
	sum := 0.0
	for i, bracket := range l.brackets {
		if bracket.TargetPercent <= 0 {
			continue
		}
		current := 0.0
		if total > 0 {
			current = float64(bracket.Count(faction)) / float64(total)
		}
		deficit := bracket.TargetPercent - current
		if deficit < 0 {
			deficit = 0
		}
		weights[i] = deficit + selectionEpsilon
		sum += weights[i]
	}
	if sum <= 0 {
		return nil, errors.New("distribution: every bracket has zero target")
	}

	draw := sum
	if rng != nil {
		draw = rng.Float64() * sum
	} else {
		draw = 0
	}
	acc := 0.0
	for i, weight := range weights {
		if weight == 0 {
			continue
		}
		acc += weight
		if draw < acc {
			return l.brackets[i], nil
		}
	}
	// Floating point spill lands on the last selectable bracket.
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return l.brackets[i], nil
		}
	}
	return nil, errors.New("distribution: selection failed")
}

// BracketFor returns the bracket covering the level, or nil.
func (l *Levels) BracketFor(level int) *Bracket {
	if l == nil {
		return nil
	}
	for _, bracket := range l.brackets {
		if bracket.Contains(level) {
			return bracket
		}
	}
	return nil
}

// Increment records a bot entering the level's bracket.
func (l *Levels) Increment(level int, faction host.Faction) {
	if bracket := l.BracketFor(level); bracket != nil {
		bracket.counts[faction].Add(1)
	}
}

// Decrement records a bot leaving the level's bracket. Underflow reports
// ErrUnderflow and leaves the counter at zero.
func (l *Levels) Decrement(level int, faction host.Faction) error {
	bracket := l.BracketFor(level)
	if bracket == nil {
		return nil
	}
	for {
		current := bracket.counts[faction].Load()
		if current == 0 {
			return ErrUnderflow
		}
		if bracket.counts[faction].CompareAndSwap(current, current-1) {
			return nil
		}
	}
}

// Restore seeds a bracket counter, used when reloading persisted counts.
func (l *Levels) Restore(minLevel int, faction host.Faction, count uint64) {
	for _, bracket := range l.brackets {
		if bracket.MinLevel == minLevel {
			bracket.counts[faction].Store(count)
			return
		}
	}
}

// DistributionDeviation returns the worst absolute gap between current and
// target share across factions and brackets.
func (l *Levels) DistributionDeviation() float64 {
	if l == nil {
		return 0
	}
	worst := 0.0
	for _, faction := range host.Factions {
		total := l.factionTotal(faction)
		for _, bracket := range l.brackets {
			current := 0.0
			if total > 0 {
				current = float64(bracket.Count(faction)) / float64(total)
			}
			gap := bracket.TargetPercent - current
			if gap < 0 {
				gap = -gap
			}
			if gap > worst {
				worst = gap
			}
		}
	}
	return worst
}

// IsBalanced reports whether the deviation is inside the 0.15 band.
func (l *Levels) IsBalanced() bool {
	return l.DistributionDeviation() <= 0.15
}

// Snapshot copies the bracket state for observers.
func (l *Levels) Snapshot() []BracketSnapshot {
	if l == nil {
		return nil
	}
	out := make([]BracketSnapshot, 0, len(l.brackets))
	for _, bracket := range l.brackets {
		counts := make(map[host.Faction]uint64, len(host.Factions))
		for _, faction := range host.Factions {
			counts[faction] = bracket.Count(faction)
		}
		out = append(out, BracketSnapshot{
			MinLevel:      bracket.MinLevel,
			MaxLevel:      bracket.MaxLevel,
			TargetPercent: bracket.TargetPercent,
			Counts:        counts,
		})
	}
	return out
}

// TotalCount sums live occupancy across brackets for one faction.
func (l *Levels) TotalCount(faction host.Faction) uint64 {
	return l.factionTotal(faction)
}

func (l *Levels) factionTotal(faction host.Faction) uint64 {
	var total uint64
	for _, bracket := range l.brackets {
		total += bracket.Count(faction)
	}
	return total
}

// DefaultBrackets mirrors a mature realm's shape: a broad leveling base
// with a smaller endgame crown.
func DefaultBrackets() []BracketConfig {
	return []BracketConfig{
		{MinLevel: 1, MaxLevel: 20, TargetPercent: 0.40},
		{MinLevel: 21, MaxLevel: 60, TargetPercent: 0.40},
		{MinLevel: 61, MaxLevel: 80, TargetPercent: 0.20},
	}
}
