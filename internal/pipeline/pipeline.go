// Package pipeline implements two-phase bot creation. Workers derive the
// full character sheet (identity, level, specs, gear, talents, placement)
// without touching the host; the main tick then applies prepared tasks
// against the host entity API under a per-tick budget.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"bothive/engine/internal/distribution"
	"bothive/engine/internal/gear"
	"bothive/engine/internal/host"
	"bothive/engine/internal/locking"
	"bothive/engine/internal/talent"
	"bothive/engine/internal/telemetry"
	"bothive/engine/internal/zone"
	"bothive/engine/logging"
)

var (
	// ErrQueueFull reports a saturated apply queue; callers may retry on a
	// later tick.
	ErrQueueFull = errors.New("pipeline: apply queue full")
	// ErrShutdownInProgress is delivered to every open future when the
	// pipeline shuts down.
	ErrShutdownInProgress = errors.New("pipeline: shutdown in progress")
	// ErrCancelled is delivered when a task is cancelled before applying.
	ErrCancelled = errors.New("pipeline: task cancelled")
	// ErrUnknownTask reports a task id the pipeline is not tracking.
	ErrUnknownTask = errors.New("pipeline: unknown task")
)

// dualSpecLevel is the level at which a second specialization is rolled.
const dualSpecLevel = 10

// Config tunes the pipeline. Zero values fall back to defaults.
type Config struct {
	Workers           int
	MaxConcurrentPrep int64
	ApplyCapacity     int
	ApplyBudget       int
	ShutdownDeadline  time.Duration
	Seed              int64
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		MaxConcurrentPrep: 64,
		ApplyCapacity:     1024,
		ApplyBudget:       10,
		ShutdownDeadline:  30 * time.Second,
	}
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxConcurrentPrep <= 0 {
		c.MaxConcurrentPrep = 64
	}
	if c.ApplyCapacity <= 0 {
		c.ApplyCapacity = 1024
	}
	if c.ApplyBudget <= 0 {
		c.ApplyBudget = 10
	}
	if c.ShutdownDeadline <= 0 {
		c.ShutdownDeadline = 30 * time.Second
	}
	return c
}

// Hooks are invoked on the main thread as tasks settle. OnApplied runs
// after the host mutation sequence succeeds; OnFailed runs for apply-phase
// failures, with Result.Bot set when a partial entity exists.
type Hooks struct {
	OnApplied func(Result)
	OnFailed  func(Result)
}

// Deps gathers the pipeline's collaborators.
type Deps struct {
	Levels    *distribution.Levels
	Sampler   *distribution.Sampler
	Gear      *gear.Cache
	Talents   *talent.Cache
	Zones     *zone.Cache
	Mutator   host.EntityMutator
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Log       telemetry.Logger
	Clock     logging.Clock
}

// Stats is a point-in-time pipeline counter snapshot.
type Stats struct {
	Submitted    uint64
	Applied      uint64
	Failed       uint64
	Cancelled    uint64
	PendingApply int
}

// Pipeline is the two-phase creation engine. SubmitCreation and Cancel are
// safe from any goroutine; DrainTick and Shutdown belong to the main
// thread.
type Pipeline struct {
	cfg   Config
	deps  Deps
	hooks Hooks

	nextID  atomic.Uint64
	tick    atomic.Uint64
	work    chan *Task
	ring    *applyRing
	prepSem *semaphore.Weighted

	tasksMu *locking.Mutex
	tasks   map[uint64]*Task

	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	started atomic.Bool
	closing atomic.Bool

	submitted atomic.Uint64
	applied   atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64
}

// New validates the dependency set and constructs a stopped pipeline.
func New(cfg Config, deps Deps, hooks Hooks) (*Pipeline, error) {
	if deps.Levels == nil || deps.Sampler == nil {
		return nil, errors.New("pipeline: distribution deps required")
	}
	if deps.Gear == nil || deps.Talents == nil || deps.Zones == nil {
		return nil, errors.New("pipeline: cache deps required")
	}
	if deps.Mutator == nil {
		return nil, errors.New("pipeline: entity mutator required")
	}
	if deps.Clock == nil {
		deps.Clock = logging.SystemClock{}
	}
	cfg = cfg.normalized()
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:     cfg,
		deps:    deps,
		hooks:   hooks,
		work:    make(chan *Task, cfg.ApplyCapacity),
		ring:    newApplyRing(cfg.ApplyCapacity),
		prepSem: semaphore.NewWeighted(cfg.MaxConcurrentPrep),
		tasksMu: locking.NewMutex(locking.LayerCreationQueue),
		tasks:   make(map[uint64]*Task),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start launches the worker pool. Idempotent.
func (p *Pipeline) Start() {
	if p == nil || !p.started.CompareAndSwap(false, true) {
		return
	}
	p.group, _ = errgroup.WithContext(p.ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		rng := rand.New(rand.NewSource(p.cfg.Seed + int64(i) + 1))
		p.group.Go(func() error {
			return p.runWorker(rng)
		})
	}
}

// SubmitCreation enqueues a creation request and returns its task id. The
// caller watches Task.Future (via TaskFuture) for the terminal result.
func (p *Pipeline) SubmitCreation(req Request) (uint64, error) {
	if p == nil {
		return 0, errors.New("pipeline: nil pipeline")
	}
	if p.closing.Load() {
		return 0, ErrShutdownInProgress
	}
	if p.ring.Free() == 0 {
		return 0, ErrQueueFull
	}

	task := newTask(p.nextID.Add(1), req, p.deps.Clock.Now())
	p.tasksMu.Lock()
	p.tasks[task.ID] = task
	p.tasksMu.Unlock()

	select {
	case p.work <- task:
	default:
		p.forget(task.ID)
		return 0, ErrQueueFull
	}
	p.submitted.Add(1)
	if p.deps.Metrics != nil {
		p.deps.Metrics.Add("pipeline.submitted", 1)
	}
	return task.ID, nil
}

// TaskFuture returns the future channel for a live task.
func (p *Pipeline) TaskFuture(id uint64) (<-chan Result, error) {
	task := p.lookup(id)
	if task == nil {
		return nil, ErrUnknownTask
	}
	return task.Future(), nil
}

// Cancel stops a task that has not yet started applying. Once APPLYING
// begins the task settles normally and Cancel reports false.
func (p *Pipeline) Cancel(id uint64) bool {
	task := p.lookup(id)
	if task == nil {
		return false
	}
	for _, from := range []TaskState{StateQueued, StatePreparing, StatePrepared} {
		if task.transition(from, StateCancelled) {
			p.cancelled.Add(1)
			p.finish(task, Result{TaskID: task.ID, State: StateCancelled, Err: ErrCancelled})
			return true
		}
	}
	return false
}

// DrainTick applies up to maxTasks prepared tasks against the host. Main
// thread only; never blocks. A non-positive budget uses the configured
// default. Returns the number of tasks that settled this tick.
func (p *Pipeline) DrainTick(maxTasks int) int {
	if p == nil {
		return 0
	}
	if maxTasks <= 0 {
		maxTasks = p.cfg.ApplyBudget
	}
	p.tick.Add(1)

	processed := 0
	for _, task := range p.ring.PopN(maxTasks) {
		if !task.transition(StatePrepared, StateApplying) {
			// Cancelled between prep and drain; already settled.
			continue
		}
		res := p.apply(task)
		if res.Err == nil {
			task.transition(StateApplying, StateApplied)
			res.State = StateApplied
			p.applied.Add(1)
			if p.deps.Metrics != nil {
				p.deps.Metrics.Add("pipeline.applied", 1)
			}
			if p.hooks.OnApplied != nil {
				p.hooks.OnApplied(res)
			}
		} else {
			task.transition(StateApplying, StateFailed)
			res.State = StateFailed
			p.failed.Add(1)
			if p.deps.Metrics != nil {
				p.deps.Metrics.Add("pipeline.apply_failed", 1)
			}
			if p.deps.Log != nil {
				p.deps.Log.Printf("pipeline: apply failed for task %d: %v", task.ID, res.Err)
			}
			if p.hooks.OnFailed != nil {
				p.hooks.OnFailed(res)
			}
		}
		p.finish(task, res)
		processed++
	}
	return processed
}

// Shutdown cancels pending tasks, stops the workers and delivers
// ErrShutdownInProgress to every future still open. Main thread only.
func (p *Pipeline) Shutdown() error {
	if p == nil || !p.closing.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	// Settle everything that has not reached APPLYING. Workers observe the
	// cancelled state and drop the task.
	for _, task := range p.snapshotTasks() {
		for _, from := range []TaskState{StateQueued, StatePreparing, StatePrepared} {
			if task.transition(from, StateCancelled) {
				p.cancelled.Add(1)
				p.finish(task, Result{TaskID: task.ID, State: StateCancelled, Err: ErrShutdownInProgress})
				break
			}
		}
	}
	p.ring.PopN(p.cfg.ApplyCapacity)

	if p.group == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- p.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(p.cfg.ShutdownDeadline):
		return fmt.Errorf("pipeline: workers did not stop within %s", p.cfg.ShutdownDeadline)
	}
}

// PendingApply reports the apply-queue depth.
func (p *Pipeline) PendingApply() int {
	if p == nil {
		return 0
	}
	return p.ring.Len()
}

// SnapshotStats copies the pipeline counters.
func (p *Pipeline) SnapshotStats() Stats {
	if p == nil {
		return Stats{}
	}
	return Stats{
		Submitted:    p.submitted.Load(),
		Applied:      p.applied.Load(),
		Failed:       p.failed.Load(),
		Cancelled:    p.cancelled.Load(),
		PendingApply: p.ring.Len(),
	}
}

func (p *Pipeline) runWorker(rng *rand.Rand) error {
	for {
		select {
		case <-p.ctx.Done():
			return nil
		case task, ok := <-p.work:
			if !ok {
				return nil
			}
			p.prepTask(task, rng)
		}
	}
}

func (p *Pipeline) prepTask(task *Task, rng *rand.Rand) {
	if err := p.prepSem.Acquire(p.ctx, 1); err != nil {
		return
	}
	defer p.prepSem.Release(1)

	if !task.transition(StateQueued, StatePreparing) {
		return
	}
	prepared, err := p.prepare(task.Request, rng)
	if err != nil {
		if task.transition(StatePreparing, StateFailed) {
			p.failed.Add(1)
			if p.deps.Metrics != nil {
				p.deps.Metrics.Add("pipeline.prep_failed", 1)
			}
			p.finish(task, Result{TaskID: task.ID, State: StateFailed, Err: err})
		}
		return
	}
	task.prepared = prepared
	if !task.transition(StatePreparing, StatePrepared) {
		return
	}
	if !p.ring.Push(task) {
		if task.transition(StatePrepared, StateFailed) {
			p.failed.Add(1)
			p.finish(task, Result{TaskID: task.ID, State: StateFailed, Err: ErrQueueFull})
		}
	}
}

// prepare runs phase one: every derivation, no host mutation.
func (p *Pipeline) prepare(req Request, rng *rand.Rand) (*Prepared, error) {
	identity, err := p.deps.Sampler.SampleIdentity(distribution.Constraints{
		Faction: req.Faction,
		Class:   req.Class,
		Role:    req.Role,
	}, rng)
	if err != nil {
		return nil, err
	}

	level, err := p.selectLevel(req, identity.Faction, rng)
	if err != nil {
		return nil, err
	}

	primary, err := p.deps.Sampler.SelectSpec(identity.Class, req.Role, rng)
	if err != nil {
		return nil, err
	}
	var secondary *host.SpecInfo
	if level >= dualSpecLevel {
		if spec, ok := p.deps.Sampler.SelectSecondarySpec(identity.Class, primary, rng); ok {
			secondary = &spec
		}
	}

	gearSet, err := p.deps.Gear.BuildSet(identity.Class, primary.Spec, level, identity.Faction, rng)
	if err != nil {
		return nil, err
	}

	primaryTalents, err := p.deps.Talents.GetLoadout(identity.Class, primary.Spec, level)
	if err != nil {
		return nil, err
	}
	var secondaryTalents *talent.Loadout
	if secondary != nil {
		if secondaryTalents, err = p.deps.Talents.GetLoadout(identity.Class, secondary.Spec, level); err != nil {
			return nil, err
		}
	}

	placement, err := p.selectPlacement(req, level, identity, rng)
	if err != nil {
		return nil, err
	}

	return &Prepared{
		Identity:         identity,
		Level:            level,
		Primary:          primary,
		Secondary:        secondary,
		Gear:             gearSet,
		PrimaryTalents:   primaryTalents,
		SecondaryTalents: secondaryTalents,
		Placement:        placement,
		PreparedAt:       p.deps.Clock.Now(),
	}, nil
}

func (p *Pipeline) selectLevel(req Request, faction host.Faction, rng *rand.Rand) (int, error) {
	if req.Level > 0 {
		return req.Level, nil
	}
	if req.MinLevel > 0 && req.MaxLevel >= req.MinLevel {
		span := req.MaxLevel - req.MinLevel + 1
		if span == 1 || rng == nil {
			return req.MinLevel, nil
		}
		return req.MinLevel + rng.Intn(span), nil
	}
	bracket, err := p.deps.Levels.SelectBracket(faction, rng)
	if err != nil {
		return 0, err
	}
	return bracket.SampleLevel(rng), nil
}

func (p *Pipeline) selectPlacement(req Request, level int, identity host.Identity, rng *rand.Rand) (zone.Placement, error) {
	if req.ZoneID != 0 {
		if placement, ok := p.deps.Zones.PlacementByZone(req.ZoneID, level, identity.Faction); ok {
			return placement, nil
		}
	}
	return p.deps.Zones.SelectZone(level, identity.Faction, identity.Race, rng)
}

func (p *Pipeline) lookup(id uint64) *Task {
	if p == nil {
		return nil
	}
	p.tasksMu.Lock()
	defer p.tasksMu.Unlock()
	return p.tasks[id]
}

func (p *Pipeline) forget(id uint64) {
	p.tasksMu.Lock()
	delete(p.tasks, id)
	p.tasksMu.Unlock()
}

func (p *Pipeline) snapshotTasks() []*Task {
	p.tasksMu.Lock()
	defer p.tasksMu.Unlock()
	out := make([]*Task, 0, len(p.tasks))
	for _, task := range p.tasks {
		out = append(out, task)
	}
	return out
}

// finish delivers the terminal result and drops the registry entry.
func (p *Pipeline) finish(task *Task, res Result) {
	task.deliver(res)
	p.forget(task.ID)
}
