package engine

import (
	"time"

	"bothive/engine/internal/config"
	"bothive/engine/internal/pipeline"
)

// BracketStatus is one level bracket in the operator report.
type BracketStatus struct {
	MinLevel      int               `json:"minLevel"`
	MaxLevel      int               `json:"maxLevel"`
	TargetPercent float64           `json:"targetPercent"`
	Counts        map[string]uint64 `json:"counts"`
}

// Status is the operator-facing report served over HTTP and the live feed.
// Safe to build from any goroutine.
type Status struct {
	Time        time.Time         `json:"time"`
	Tick        uint64            `json:"tick"`
	Live        int               `json:"live"`
	RealPlayers int               `json:"realPlayers"`
	States      map[string]int    `json:"states"`
	Pipeline    pipeline.Stats    `json:"pipeline"`
	Retiring    int               `json:"retiring"`
	Brackets    []BracketStatus   `json:"brackets"`
	Deviation   float64           `json:"deviation"`
	ErrorRate   float64           `json:"errorRate"`
	Metrics     map[string]uint64 `json:"metrics,omitempty"`
}

// Status assembles the current report.
func (e *Engine) Status() Status {
	if e == nil {
		return Status{}
	}
	states := make(map[string]int)
	for state, count := range e.bots.CountByState() {
		states[state.String()] = count
	}
	brackets := make([]BracketStatus, 0, 4)
	for _, snap := range e.levels.Snapshot() {
		counts := make(map[string]uint64, len(snap.Counts))
		for faction, count := range snap.Counts {
			counts[faction.String()] = count
		}
		brackets = append(brackets, BracketStatus{
			MinLevel:      snap.MinLevel,
			MaxLevel:      snap.MaxLevel,
			TargetPercent: snap.TargetPercent,
			Counts:        counts,
		})
	}
	status := Status{
		Time:        e.clock.Now(),
		Tick:        e.tick.Load(),
		Live:        e.bots.LiveCount(),
		RealPlayers: e.seams.Census.RealPlayerCount(),
		States:      states,
		Pipeline:    e.pipe.SnapshotStats(),
		Retiring:    e.exits.ActiveCount(),
		Brackets:    brackets,
		Deviation:   e.levels.DistributionDeviation(),
		ErrorRate:   e.monitor.ErrorRate(),
	}
	if m, ok := e.metrics.(interface{ Snapshot() map[string]uint64 }); ok && m != nil {
		status.Metrics = m.Snapshot()
	}
	return status
}

// OptionsFromConfig maps the key/value store onto Options, starting from
// defaults so unset keys keep their tuning.
func OptionsFromConfig(cs *config.Store) Options {
	opts := DefaultOptions()
	if cs == nil {
		return opts
	}

	opts.Engine.TickRate = cs.GetInt("engine.tick_rate", opts.Engine.TickRate)
	opts.Engine.ApplyBudget = cs.GetInt("engine.apply_budget", opts.Engine.ApplyBudget)
	opts.Engine.PopulationSpec = cs.GetString("engine.population_spec", opts.Engine.PopulationSpec)
	opts.Engine.QueuePollSpec = cs.GetString("engine.queue_poll_spec", opts.Engine.QueuePollSpec)
	opts.Engine.RebalanceSpec = cs.GetString("engine.rebalance_spec", opts.Engine.RebalanceSpec)
	opts.Engine.HealthSpec = cs.GetString("engine.health_spec", opts.Engine.HealthSpec)
	opts.Engine.PersistSpec = cs.GetString("engine.persist_spec", opts.Engine.PersistSpec)
	opts.Engine.ShutdownGrace = durationKey(cs, "engine.shutdown_grace", opts.Engine.ShutdownGrace)

	opts.Pipeline.Workers = cs.GetInt("pipeline.workers", opts.Pipeline.Workers)
	opts.Pipeline.MaxConcurrentPrep = int64(cs.GetInt("pipeline.max_concurrent_prep", int(opts.Pipeline.MaxConcurrentPrep)))
	opts.Pipeline.ApplyCapacity = cs.GetInt("pipeline.apply_capacity", opts.Pipeline.ApplyCapacity)
	opts.Pipeline.Seed = int64(cs.GetInt("pipeline.seed", int(opts.Pipeline.Seed)))

	opts.Lifecycle.IdleTimeout = durationKey(cs, "lifecycle.idle_timeout", opts.Lifecycle.IdleTimeout)

	opts.Retire.ReturnMail = cs.GetBool("retire.return_mail", opts.Retire.ReturnMail)
	opts.Retire.SoftRetire = cs.GetBool("retire.soft_retire", opts.Retire.SoftRetire)
	opts.Retire.StageTimeout = durationKey(cs, "retire.stage_timeout", opts.Retire.StageTimeout)
	opts.Retire.MaxRetries = cs.GetInt("retire.max_retries", opts.Retire.MaxRetries)

	opts.Population.Ratio = cs.GetFloat("population.ratio", opts.Population.Ratio)
	opts.Population.GlobalMax = cs.GetInt("population.global_max", opts.Population.GlobalMax)
	opts.Population.PerZoneCap = cs.GetInt("population.per_zone_cap", opts.Population.PerZoneCap)
	opts.Population.MaxCreationsPerTick = cs.GetInt("population.max_creations_per_tick", opts.Population.MaxCreationsPerTick)
	opts.Population.RebalanceBudget = cs.GetInt("population.rebalance_budget", opts.Population.RebalanceBudget)
	opts.Population.BalancedDeviation = cs.GetFloat("population.balanced_deviation", opts.Population.BalancedDeviation)

	opts.Factory.Cooldown = durationKey(cs, "queues.jit_cooldown", opts.Factory.Cooldown)
	opts.Bridge.BufferSize = cs.GetInt("bridge.buffer_size", opts.Bridge.BufferSize)

	opts.Health.StallThreshold = durationKey(cs, "health.stall_threshold", opts.Health.StallThreshold)
	opts.Health.DeadlockThreshold = durationKey(cs, "health.deadlock_threshold", opts.Health.DeadlockThreshold)
	opts.Health.ErrorRateThreshold = cs.GetFloat("health.error_rate_threshold", opts.Health.ErrorRateThreshold)
	opts.Health.ErrorRateAlpha = cs.GetFloat("health.ewma_alpha", opts.Health.ErrorRateAlpha)

	return opts
}

// ConfigDefaults lists every engine config key with its default value, the
// input to config.NewStore.
func ConfigDefaults() map[string]string {
	return map[string]string{
		"engine.tick_rate":                  "10",
		"engine.apply_budget":               "10",
		"engine.population_spec":            "@every 1s",
		"engine.queue_poll_spec":            "@every 5s",
		"engine.rebalance_spec":             "@every 60s",
		"engine.health_spec":                "@every 10s",
		"engine.persist_spec":               "@every 30s",
		"engine.shutdown_grace":             "30s",
		"engine.catalog_path":               "",
		"engine.db_path":                    "bothive.db",
		"engine.listen_addr":                ":8780",
		"logging.json_path":                 "",
		"logging.use_color":                 "false",
		"net.enable_pprof":                  "false",
		"pipeline.workers":                  "4",
		"pipeline.max_concurrent_prep":      "64",
		"pipeline.apply_capacity":           "1024",
		"pipeline.seed":                     "0",
		"lifecycle.idle_timeout":            "30s",
		"retire.return_mail":                "true",
		"retire.soft_retire":                "false",
		"retire.stage_timeout":              "15s",
		"retire.max_retries":                "3",
		"population.ratio":                  "5",
		"population.global_max":             "5000",
		"population.per_zone_cap":           "200",
		"population.max_creations_per_tick": "50",
		"population.rebalance_budget":       "50",
		"population.balanced_deviation":     "0.15",
		"queues.jit_cooldown":               "30s",
		"bridge.buffer_size":                "4096",
		"health.stall_threshold":            "60s",
		"health.deadlock_threshold":         "30s",
		"health.error_rate_threshold":       "5",
		"health.ewma_alpha":                 "0.3",
	}
}

func durationKey(cs *config.Store, key string, fallback time.Duration) time.Duration {
	raw := cs.GetString(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
