// Package engine composes the subsystems and drives the main tick loop.
// Everything that mutates host entities or engine records runs here, on
// one goroutine; the scheduler only marks jobs due and the loop executes
// them between ticks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"bothive/engine/internal/bridge"
	"bothive/engine/internal/distribution"
	"bothive/engine/internal/health"
	"bothive/engine/internal/host"
	"bothive/engine/internal/lifecycle"
	"bothive/engine/internal/pipeline"
	"bothive/engine/internal/population"
	"bothive/engine/internal/queues"
	"bothive/engine/internal/retire"
	"bothive/engine/internal/store"
	"bothive/engine/internal/telemetry"
	"bothive/engine/logging"
)

// ErrAlreadyRunning is returned by Start on a running engine.
var ErrAlreadyRunning = errors.New("engine: already running")

// Config tunes the tick loop and the job schedule. Schedule entries are
// cron specs; empty entries disable the job.
type Config struct {
	TickRate        int
	CatchupMaxTicks int
	// ApplyBudget bounds creation applies per tick.
	ApplyBudget int

	PopulationSpec string
	QueuePollSpec  string
	RebalanceSpec  string
	HealthSpec     string
	PersistSpec    string

	// ShutdownGrace bounds how long Stop waits for in-flight retirements.
	ShutdownGrace time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		TickRate:        10,
		CatchupMaxTicks: 4,
		ApplyBudget:     10,
		PopulationSpec:  "@every 1s",
		QueuePollSpec:   "@every 5s",
		RebalanceSpec:   "@every 60s",
		HealthSpec:      "@every 10s",
		PersistSpec:     "@every 30s",
		ShutdownGrace:   30 * time.Second,
	}
}

func (c Config) normalized() Config {
	if c.TickRate <= 0 {
		c.TickRate = 10
	}
	if c.CatchupMaxTicks <= 0 {
		c.CatchupMaxTicks = 4
	}
	if c.ApplyBudget <= 0 {
		c.ApplyBudget = 10
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	return c
}

// TickResult summarizes one loop iteration for the AfterTick hook.
type TickResult struct {
	Tick         uint64
	Delta        float64
	Dispatched   int
	Applied      int
	Live         int
	Settled      int
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
}

// Hooks observe the loop without extending it.
type Hooks struct {
	AfterTick func(TickResult)
}

// Engine owns the composed subsystems and the main loop goroutine.
type Engine struct {
	cfg   Config
	hooks Hooks

	seams   Host
	bridge  *bridge.Bridge
	pipe    *pipeline.Pipeline
	bots    *lifecycle.Controller
	exits   *retire.Handler
	pop     *population.Controller
	poller  *queues.Poller
	factory *queues.Factory
	monitor *health.Monitor
	levels  *distribution.Levels
	db      *store.Store

	publisher logging.Publisher
	metrics   telemetry.Metrics
	log       telemetry.Logger
	clock     logging.Clock

	sched *cron.Cron
	tick  atomic.Uint64

	populationDue atomic.Bool
	pollDue       atomic.Bool
	rebalanceDue  atomic.Bool
	healthDue     atomic.Bool
	persistDue    atomic.Bool

	running  atomic.Bool
	stopping atomic.Bool
	stop     chan struct{}
	done     chan struct{}
}

// Start restores persisted state, attaches the host bridge and launches
// the loop goroutine and the job scheduler.
func (e *Engine) Start() error {
	if e == nil {
		return errors.New("engine: nil engine")
	}
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if err := e.restore(); err != nil {
		e.running.Store(false)
		return err
	}

	e.stop = make(chan struct{})
	e.done = make(chan struct{})

	if e.seams.Events != nil {
		e.bridge.Attach(e.seams.Events)
	}
	e.pipe.Start()
	e.scheduleJobs()
	e.sched.Start()

	go e.run()
	return nil
}

// Stop shuts the engine down: no new creations, in-flight retirements
// drained up to the grace deadline, counters flushed. Idempotent.
func (e *Engine) Stop() {
	if e == nil || !e.running.Load() {
		return
	}
	if e.stopping.CompareAndSwap(false, true) {
		close(e.stop)
	}
	<-e.done
}

// Running reports whether the loop goroutine is alive.
func (e *Engine) Running() bool {
	return e != nil && e.running.Load()
}

// Tick reports the current loop tick.
func (e *Engine) Tick() uint64 {
	if e == nil {
		return 0
	}
	return e.tick.Load()
}

func (e *Engine) scheduleJobs() {
	e.sched = cron.New()
	due := func(flag *atomic.Bool) func() {
		return func() { flag.Store(true) }
	}
	jobs := []struct {
		spec string
		flag *atomic.Bool
	}{
		{e.cfg.PopulationSpec, &e.populationDue},
		{e.cfg.QueuePollSpec, &e.pollDue},
		{e.cfg.RebalanceSpec, &e.rebalanceDue},
		{e.cfg.HealthSpec, &e.healthDue},
		{e.cfg.PersistSpec, &e.persistDue},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		// Specs are validated at construction; see New.
		_, _ = e.sched.AddFunc(job.spec, due(job.flag))
	}
}

// run is the fixed-timestep main loop, ticker-driven with a clamped delta.
func (e *Engine) run() {
	defer close(e.done)

	ticker := time.NewTicker(time.Second / time.Duration(e.cfg.TickRate))
	defer ticker.Stop()

	last := e.clock.Now()
	budgetSeconds := 1.0 / float64(e.cfg.TickRate)
	maxDt := budgetSeconds * float64(e.cfg.CatchupMaxTicks)
	budget := time.Second / time.Duration(e.cfg.TickRate)

	for {
		select {
		case <-e.stop:
			e.shutdown()
			return
		case <-ticker.C:
			now := e.clock.Now()
			dt := now.Sub(last).Seconds()
			clamped := false
			if dt <= 0 {
				dt = budgetSeconds
			} else if dt > maxDt {
				dt = maxDt
				clamped = true
			}
			last = now

			start := e.clock.Now()
			result := e.step(dt)
			result.Duration = e.clock.Now().Sub(start)
			result.Budget = budget
			result.ClampedDelta = clamped

			if e.bridge.ShutdownRequested() {
				e.stopping.Store(true)
				e.shutdown()
				return
			}
			if e.hooks.AfterTick != nil {
				e.hooks.AfterTick(result)
			}
		}
	}
}

// step executes one tick: host events first so lifecycle sees fresh state,
// then creation applies, lifecycle aging, retirement progress, and any due
// scheduled jobs.
func (e *Engine) step(dt float64) TickResult {
	tick := e.tick.Add(1)
	delta := time.Duration(dt * float64(time.Second))

	result := TickResult{Tick: tick, Delta: dt}
	result.Dispatched = e.bridge.DispatchTick()
	result.Applied = e.pipe.DrainTick(e.cfg.ApplyBudget)
	result.Live = e.bots.UpdateAll(delta)
	result.Settled = e.exits.Tick()

	if e.populationDue.CompareAndSwap(true, false) {
		e.pop.Tick()
	}
	if e.pollDue.CompareAndSwap(true, false) {
		e.poller.Sweep()
	}
	if e.rebalanceDue.CompareAndSwap(true, false) {
		e.pop.RebalanceDistribution()
	}
	if e.healthDue.CompareAndSwap(true, false) {
		e.monitor.Sweep()
	}
	if e.persistDue.CompareAndSwap(true, false) {
		e.persistCounters()
	}

	if e.metrics != nil {
		e.metrics.Store("engine.tick", tick)
		e.metrics.Store("engine.live", uint64(result.Live))
	}
	return result
}

// shutdown performs the graceful stop sequence on the loop goroutine.
func (e *Engine) shutdown() {
	if e.log != nil {
		e.log.Printf("engine: shutting down, %d retirements in flight", e.exits.ActiveCount())
	}
	e.sched.Stop()

	// Fail open futures and stop the workers; queued tasks settle with
	// ErrShutdownInProgress.
	if err := e.pipe.Shutdown(); err != nil && e.log != nil {
		e.log.Printf("engine: pipeline shutdown: %v", err)
	}

	// Retire every live bot, then drain the exit pipeline until done or
	// the grace deadline passes.
	for _, snap := range e.bots.Snapshot() {
		if snap.State.Live() && snap.State != lifecycle.StateLoggingOut {
			_ = e.exits.Begin(snap.BotID)
		}
	}
	deadline := e.clock.Now().Add(e.cfg.ShutdownGrace)
	for e.exits.ActiveCount() > 0 && e.clock.Now().Before(deadline) {
		e.exits.Tick()
		time.Sleep(10 * time.Millisecond)
	}
	if remaining := e.exits.ActiveCount(); remaining > 0 && e.log != nil {
		e.log.Printf("engine: %d retirements abandoned at shutdown deadline", remaining)
	}

	e.flushCounters()
	e.running.Store(false)
}

// restore reloads persisted bracket counters and resumes retirements a
// previous process left in flight.
func (e *Engine) restore() error {
	if e.db == nil {
		return nil
	}
	ctx := context.Background()
	counts, err := e.db.LoadBracketCounts(ctx)
	if err != nil {
		return fmt.Errorf("engine: restore counters: %w", err)
	}
	for _, row := range counts {
		e.levels.Restore(row.MinLevel, row.Faction, row.Count)
	}
	pending, err := e.db.PendingRetirements(ctx)
	if err != nil {
		return fmt.Errorf("engine: restore retirements: %w", err)
	}
	for _, row := range pending {
		err := e.exits.Resume(host.EntityID(row.BotID), retire.ParseStage(row.Stage), row.Attempts, row.Level, row.Faction)
		if err != nil && e.log != nil {
			e.log.Printf("engine: resume retirement of bot %d: %v", row.BotID, err)
		}
	}
	if e.log != nil && (len(counts) > 0 || len(pending) > 0) {
		e.log.Printf("engine: restored %d bracket counters, resumed %d retirements", len(counts), len(pending))
	}
	return nil
}

// persistCounters flushes bracket occupancy through the async store path.
func (e *Engine) persistCounters() {
	if e.db == nil {
		return
	}
	for _, bracket := range e.levels.Snapshot() {
		for faction, count := range bracket.Counts {
			e.db.AsyncSaveBracketCount(bracket.MinLevel, faction, count, func(err error) {
				if err != nil {
					e.monitor.RecordError()
				}
			})
		}
	}
}

// flushCounters is the synchronous variant used at shutdown, when the
// caller needs the rows on disk before the process exits.
func (e *Engine) flushCounters() {
	if e.db == nil {
		return
	}
	ctx := context.Background()
	for _, bracket := range e.levels.Snapshot() {
		for faction, count := range bracket.Counts {
			if err := e.db.SaveBracketCount(ctx, bracket.MinLevel, faction, count); err != nil && e.log != nil {
				e.log.Printf("engine: flush bracket counter %d/%s: %v", bracket.MinLevel, faction, err)
			}
		}
	}
}

// handleApplied runs on the loop goroutine inside DrainTick: the new bot
// is admitted before any queue bookkeeping sees it.
func (e *Engine) handleApplied(res pipeline.Result) {
	if err := e.bots.Admit(res.Bot, res.Level, res.Class, res.Faction, res.ZoneID); err != nil {
		e.monitor.RecordError()
		if e.log != nil {
			e.log.Printf("engine: admit bot %d: %v", res.Bot, err)
		}
	} else if err := e.bots.Start(res.Bot); err != nil && e.log != nil {
		e.log.Printf("engine: start bot %d: %v", res.Bot, err)
	}
	e.factory.NotifyApplied(res)
	e.pop.NotifySettled(res.TaskID)
	if e.metrics != nil {
		e.metrics.Add("engine.bots_created", 1)
	}
}

func (e *Engine) handleFailed(res pipeline.Result) {
	if !errors.Is(res.Err, pipeline.ErrCancelled) && !errors.Is(res.Err, pipeline.ErrShutdownInProgress) {
		e.monitor.RecordError()
		if e.log != nil {
			e.log.Printf("engine: creation task %d failed: %v", res.TaskID, res.Err)
		}
	}
	if res.Bot != 0 {
		// The apply phase got partway through before failing; the
		// half-built character must not outlive its task.
		if err := e.seams.Mutator.Delete(res.Bot); err != nil {
			e.monitor.RecordError()
			if e.log != nil {
				e.log.Printf("engine: delete partial bot %d: %v", res.Bot, err)
			}
		} else if e.metrics != nil {
			e.metrics.Add("engine.partials_deleted", 1)
		}
	}
	e.factory.NotifyFailed(res)
	e.pop.NotifySettled(res.TaskID)
	if e.metrics != nil {
		e.metrics.Add("engine.creations_failed", 1)
	}
}

// handleBridgeEvent fans normalized host events out to the subsystems.
func (e *Engine) handleBridgeEvent(event bridge.Event) {
	switch event.Kind {
	case bridge.KindQueue:
		e.factory.HandleQueueEvent(event.Queue)
		if event.Queue.Entity != 0 {
			e.bots.Touch(event.Queue.Entity)
		}
	case bridge.KindCombat:
		e.bots.NoteCombat(event.Combat.Entity, event.Combat.Entered)
	case bridge.KindGroup:
		if event.Group.Member != 0 {
			e.bots.Touch(event.Group.Member)
		}
	}
}
