// Package population sizes the bot population against real-player
// occupancy: a per-zone ratio drives creations and retirements, and a
// rebalance pass nudges the level distribution back toward its targets.
package population

import (
	"context"
	"math"
	"sort"
	"sync/atomic"

	"bothive/engine/internal/distribution"
	"bothive/engine/internal/host"
	"bothive/engine/internal/lifecycle"
	"bothive/engine/internal/pipeline"
	"bothive/engine/internal/retire"
	"bothive/engine/internal/telemetry"
	"bothive/engine/internal/zone"
	"bothive/engine/logging"
	logpopulation "bothive/engine/logging/population"
)

// Config tunes the controller.
type Config struct {
	// Ratio is the bot-per-real-player multiplier.
	Ratio float64
	// GlobalMax caps the total live bot population.
	GlobalMax int
	// PerZoneCap caps bots in a single zone.
	PerZoneCap int
	// MaxCreationsPerTick bounds how many creations one sweep submits.
	MaxCreationsPerTick int
	// RebalanceBudget bounds changes per RebalanceDistribution call.
	RebalanceBudget int
	// BalancedDeviation is the deviation band rebalancing converges into.
	BalancedDeviation float64
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		Ratio:               5,
		GlobalMax:           5000,
		PerZoneCap:          200,
		MaxCreationsPerTick: 50,
		RebalanceBudget:     50,
		BalancedDeviation:   0.15,
	}
}

func (c Config) normalized() Config {
	if c.Ratio <= 0 {
		c.Ratio = 5
	}
	if c.GlobalMax <= 0 {
		c.GlobalMax = 5000
	}
	if c.PerZoneCap <= 0 {
		c.PerZoneCap = 200
	}
	if c.MaxCreationsPerTick <= 0 {
		c.MaxCreationsPerTick = 50
	}
	if c.RebalanceBudget <= 0 {
		c.RebalanceBudget = 50
	}
	if c.BalancedDeviation <= 0 {
		c.BalancedDeviation = 0.15
	}
	return c
}

// Controller computes population targets and feeds the pipeline and the
// exit handler. Tick and RebalanceDistribution run on the main thread.
type Controller struct {
	cfg       Config
	census    host.WorldCensus
	bots      *lifecycle.Controller
	levels    *distribution.Levels
	zones     *zone.Cache
	pipe      *pipeline.Pipeline
	exits     *retire.Handler
	publisher logging.Publisher
	metrics   telemetry.Metrics

	tick atomic.Uint64

	// pendingZone maps submitted-but-unsettled task ids to the zone their
	// creation counts toward. Main thread only, like Tick itself.
	pendingZone map[uint64]uint32
}

// New constructs a controller.
func New(cfg Config, census host.WorldCensus, bots *lifecycle.Controller, levels *distribution.Levels, zones *zone.Cache, pipe *pipeline.Pipeline, exits *retire.Handler, publisher logging.Publisher, metrics telemetry.Metrics) *Controller {
	return &Controller{
		cfg:         cfg.normalized(),
		census:      census,
		bots:        bots,
		levels:      levels,
		zones:       zones,
		pipe:        pipe,
		exits:       exits,
		publisher:   publisher,
		metrics:     metrics,
		pendingZone: make(map[uint64]uint32),
	}
}

// NotifySettled releases the pending slot for a settled creation task.
// Main thread only; wired into the pipeline hooks.
func (c *Controller) NotifySettled(taskID uint64) {
	if c == nil {
		return
	}
	delete(c.pendingZone, taskID)
}

// Targets returns the desired bot count per zone for the current census.
func (c *Controller) Targets() map[uint32]int {
	real := c.census.RealPlayersByZone()
	targets := make(map[uint32]int, len(real))
	budget := c.cfg.GlobalMax
	for zoneID, players := range real {
		if players <= 0 {
			continue
		}
		want := int(float64(players) * c.cfg.Ratio)
		if want > c.cfg.PerZoneCap {
			want = c.cfg.PerZoneCap
		}
		if want > budget {
			want = budget
		}
		budget -= want
		targets[zoneID] = want
	}
	return targets
}

// Tick runs one population sweep. Real-player demand places bots near
// players first; whatever headroom remains below GlobalMax is filled with
// unconstrained creations, so an empty world still carries a full
// population. Bots beyond the per-zone cap or the global ceiling are
// retired, least active first. Returns the creations submitted and
// retirements begun.
func (c *Controller) Tick() (creations, retirements int) {
	if c == nil {
		return 0, 0
	}
	tick := c.tick.Add(1)
	targets := c.Targets()
	current := c.bots.ZoneHistogram()

	pendingByZone := make(map[uint32]int, len(c.pendingZone))
	for _, zoneID := range c.pendingZone {
		pendingByZone[zoneID]++
	}

	createBudget := c.cfg.MaxCreationsPerTick
	headroom := c.cfg.GlobalMax - c.bots.LiveCount() - len(c.pendingZone)
	if createBudget > headroom {
		createBudget = headroom
	}

	zoneIDs := make([]uint32, 0, len(targets))
	for zoneID := range targets {
		zoneIDs = append(zoneIDs, zoneID)
	}
	sort.Slice(zoneIDs, func(i, j int) bool { return zoneIDs[i] < zoneIDs[j] })

	for _, zoneID := range zoneIDs {
		deficit := targets[zoneID] - current[zoneID] - pendingByZone[zoneID]
		for deficit > 0 && createBudget > 0 {
			taskID, err := c.pipe.SubmitCreation(c.requestForZone(zoneID))
			if err != nil {
				break
			}
			c.pendingZone[taskID] = zoneID
			creations++
			createBudget--
			deficit--
		}
	}

	// Baseline fill toward GlobalMax. Unconstrained requests let the
	// bracket sampler pick the level and the zone cache place it, so the
	// level distribution converges on its targets without real players.
	for createBudget > 0 {
		taskID, err := c.pipe.SubmitCreation(pipeline.Request{})
		if err != nil {
			break
		}
		c.pendingZone[taskID] = 0
		creations++
		createBudget--
	}

	// Density overflow: a zone holding more bots than its cap sheds the
	// least active ones.
	for zoneID, have := range current {
		over := have - c.cfg.PerZoneCap
		if over <= 0 {
			continue
		}
		for _, bot := range c.bots.RetireCandidates(zoneID, over) {
			if err := c.exits.Begin(bot); err == nil {
				retirements++
			}
		}
	}

	// Global ceiling, reachable after restored state or off-sweep spawns.
	if over := c.bots.LiveCount() + len(c.pendingZone) - c.cfg.GlobalMax; over > 0 {
		for _, bot := range c.bots.RetireCandidates(0, over) {
			if err := c.exits.Begin(bot); err == nil {
				retirements++
			}
		}
	}

	if c.metrics != nil {
		c.metrics.Add("population.creations", uint64(creations))
		c.metrics.Add("population.retirements", uint64(retirements))
		c.metrics.Store("population.live", uint64(c.bots.LiveCount()))
	}
	if creations > 0 || retirements > 0 {
		logpopulation.Rebalance(context.Background(), c.publisher, tick, logpopulation.RebalancePayload{
			Creations:   creations,
			Retirements: retirements,
			Deviation:   c.levels.DistributionDeviation(),
		})
	}
	return creations, retirements
}

// requestForZone constrains a creation to the zone's level range and, when
// the zone is faction-exclusive, its faction.
func (c *Controller) requestForZone(zoneID uint32) pipeline.Request {
	req := pipeline.Request{ZoneID: zoneID}
	if placement, ok := c.zones.ZonePlacement(zoneID); ok {
		req.MinLevel = placement.MinLevel
		req.MaxLevel = placement.MaxLevel
		if len(placement.Factions) == 1 {
			faction := placement.Factions[0]
			req.Faction = &faction
		}
	}
	return req
}

// RebalanceDistribution converts bracket surpluses into retirements and
// deficits into creations, stopping once the deviation is inside the
// balanced band or the step budget is exhausted. Creations never push past
// GlobalMax, and an empty faction is seeded from the free headroom rather
// than skipped. Returns the changes made.
func (c *Controller) RebalanceDistribution() (creations, retirements int) {
	if c == nil {
		return 0, 0
	}
	if c.levels.DistributionDeviation() <= c.cfg.BalancedDeviation {
		return 0, 0
	}
	budget := c.cfg.RebalanceBudget
	headroom := c.cfg.GlobalMax - c.bots.LiveCount() - len(c.pendingZone)

	// Empty factions split the free headroom evenly up front, so the
	// first one processed cannot starve the rest.
	emptySeed := 0
	if headroom > 0 {
		empty := 0
		for _, faction := range host.Factions {
			if c.levels.TotalCount(faction) == 0 {
				empty++
			}
		}
		if empty > 0 {
			emptySeed = headroom / empty
		}
	}

	for _, faction := range host.Factions {
		if budget <= 0 {
			break
		}

		brackets := c.levels.Brackets()
		planned := make([]int, len(brackets))

		// First convert surpluses into retirements; the planned counts feed
		// the creation sizing below since retirements settle asynchronously.
		total := int(c.levels.TotalCount(faction))
		for i, bracket := range brackets {
			surplus := int(bracket.Count(faction)) - int(bracket.TargetPercent*float64(total))
			if surplus <= 0 {
				continue
			}
			for _, bot := range c.bracketRetireCandidates(faction, bracket, surplus) {
				if budget <= 0 {
					break
				}
				if err := c.exits.Begin(bot); err == nil {
					retirements++
					planned[i]++
					budget--
				}
			}
		}

		// Size the remaining population so the fullest bracket lands on its
		// target, then fill every bracket up to its share of that total.
		required := 0
		for i, bracket := range brackets {
			remaining := int(bracket.Count(faction)) - planned[i]
			if bracket.TargetPercent <= 0 {
				continue
			}
			if need := int(math.Ceil(float64(remaining) / bracket.TargetPercent)); need > required {
				required = need
			}
		}
		if required == 0 && total == 0 {
			// An empty faction has nothing to size against: seed it with
			// its share of the free headroom, spread by bracket target.
			required = emptySeed
			if required > budget {
				required = budget
			}
		}
		for i, bracket := range brackets {
			if bracket.TargetPercent <= 0 {
				continue
			}
			want := int(math.Round(bracket.TargetPercent * float64(required)))
			have := int(bracket.Count(faction)) - planned[i]
			for have < want && budget > 0 && headroom > 0 {
				faction := faction
				taskID, err := c.pipe.SubmitCreation(pipeline.Request{
					Faction:  &faction,
					MinLevel: bracket.MinLevel,
					MaxLevel: bracket.MaxLevel,
				})
				if err != nil {
					break
				}
				c.pendingZone[taskID] = 0
				creations++
				budget--
				headroom--
				have++
			}
		}
	}

	if creations > 0 || retirements > 0 {
		logpopulation.Rebalance(context.Background(), c.publisher, c.tick.Load(), logpopulation.RebalancePayload{
			Creations:   creations,
			Retirements: retirements,
			Deviation:   c.levels.DistributionDeviation(),
		})
	}
	return creations, retirements
}

// bracketRetireCandidates picks the least active live bots of one faction
// inside a level bracket.
func (c *Controller) bracketRetireCandidates(faction host.Faction, bracket *distribution.Bracket, n int) []host.EntityID {
	snaps := c.bots.Snapshot()
	candidates := snaps[:0]
	for _, snap := range snaps {
		if snap.Faction != faction || !snap.State.Live() || snap.State == lifecycle.StateLoggingOut {
			continue
		}
		if !bracket.Contains(snap.Level) {
			continue
		}
		candidates = append(candidates, snap)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Activity != candidates[j].Activity {
			return candidates[i].Activity < candidates[j].Activity
		}
		return candidates[i].BotID < candidates[j].BotID
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]host.EntityID, 0, len(candidates))
	for _, snap := range candidates {
		out = append(out, snap.BotID)
	}
	return out
}
