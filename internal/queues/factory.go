package queues

import (
	"context"
	"sync"
	"time"

	"bothive/engine/internal/host"
	"bothive/engine/internal/lifecycle"
	"bothive/engine/internal/pipeline"
	"bothive/engine/internal/telemetry"
	"bothive/engine/logging"
	"bothive/engine/logging/population"
)

// FactoryConfig tunes the just-in-time spawner.
type FactoryConfig struct {
	// Cooldown is the minimum gap between JIT spawns for one queue.
	Cooldown time.Duration
}

// DefaultFactoryConfig returns the production tuning.
func DefaultFactoryConfig() FactoryConfig {
	return FactoryConfig{Cooldown: 30 * time.Second}
}

type pendingSpawn struct {
	queueKey string
	role     host.Role
}

// Factory turns shortages into constrained creations and enqueues the
// resulting bots. HandleShortage is safe from any goroutine; the Notify
// methods run on the main thread via the pipeline hooks.
type Factory struct {
	cfg        FactoryConfig
	pipe       *pipeline.Pipeline
	controller *lifecycle.Controller
	submitter  host.QueueSubmitter
	inspector  host.QueueInspector
	publisher  logging.Publisher
	metrics    telemetry.Metrics
	clock      logging.Clock

	mu        sync.Mutex
	cooldowns map[string]time.Time
	pending   map[uint64]pendingSpawn
	enrolled  map[string][]host.EntityID
}

// NewFactory constructs a factory.
func NewFactory(cfg FactoryConfig, pipe *pipeline.Pipeline, controller *lifecycle.Controller, submitter host.QueueSubmitter, inspector host.QueueInspector, publisher logging.Publisher, metrics telemetry.Metrics, clock logging.Clock) *Factory {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if clock == nil {
		clock = logging.SystemClock{}
	}
	return &Factory{
		cfg:        cfg,
		pipe:       pipe,
		controller: controller,
		submitter:  submitter,
		inspector:  inspector,
		publisher:  publisher,
		metrics:    metrics,
		clock:      clock,
		cooldowns:  make(map[string]time.Time),
		pending:    make(map[uint64]pendingSpawn),
		enrolled:   make(map[string][]host.EntityID),
	}
}

// HandleShortage submits one constrained creation per missing slot,
// unless the queue is inside its cooldown window.
func (f *Factory) HandleShortage(shortage Shortage) int {
	if f == nil {
		return 0
	}
	now := f.clock.Now()
	f.mu.Lock()
	if last, ok := f.cooldowns[shortage.QueueKey]; ok && now.Sub(last) < f.cfg.Cooldown {
		f.mu.Unlock()
		return 0
	}
	f.cooldowns[shortage.QueueKey] = now
	f.mu.Unlock()

	submitted := 0
	faction := shortage.Faction
	for role, count := range shortage.Missing {
		role := role
		for i := 0; i < count; i++ {
			taskID, err := f.pipe.SubmitCreation(pipeline.Request{
				Faction:  &faction,
				Role:     &role,
				MinLevel: shortage.MinLevel,
				MaxLevel: shortage.MaxLevel,
			})
			if err != nil {
				continue
			}
			f.mu.Lock()
			f.pending[taskID] = pendingSpawn{queueKey: shortage.QueueKey, role: role}
			f.mu.Unlock()
			submitted++
		}
	}
	if submitted > 0 {
		if f.metrics != nil {
			f.metrics.Add("queues.jit_submitted", uint64(submitted))
		}
		population.JITSpawn(context.Background(), f.publisher, 0, shortage.QueueKey, submitted)
	}
	return submitted
}

// NotifyApplied consumes an applied creation. If the shortage still
// exists, the bot is enqueued and the association recorded; if real
// players resolved it meanwhile, the bot is left to idle into the general
// population. Main thread only. Reports whether the task was one of ours.
func (f *Factory) NotifyApplied(res pipeline.Result) bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	spawn, ok := f.pending[res.TaskID]
	delete(f.pending, res.TaskID)
	f.mu.Unlock()
	if !ok {
		return false
	}

	if !f.shortageStillExists(spawn.queueKey, spawn.role) {
		// Shortage resolved between prep and apply; keep the bot out of the
		// queue and let it idle.
		_ = f.controller.Transition(res.Bot, lifecycle.StateIdle)
		if f.metrics != nil {
			f.metrics.Add("queues.jit_redundant", 1)
		}
		return true
	}

	if err := f.submitter.Enqueue(res.Bot, spawn.queueKey, spawn.role); err != nil {
		if f.metrics != nil {
			f.metrics.Add("queues.enqueue_failed", 1)
		}
		return true
	}
	f.mu.Lock()
	f.enrolled[spawn.queueKey] = append(f.enrolled[spawn.queueKey], res.Bot)
	f.mu.Unlock()
	if f.metrics != nil {
		f.metrics.Add("queues.jit_enqueued", 1)
	}
	return true
}

// NotifyFailed drops the pending association for a failed creation.
func (f *Factory) NotifyFailed(res pipeline.Result) {
	if f == nil {
		return
	}
	f.mu.Lock()
	delete(f.pending, res.TaskID)
	f.mu.Unlock()
}

// HandleQueueEvent reacts to host queue transitions for queues the
// factory has bots in. A failed queue withdraws every enrolled bot; an
// active (formed) queue clears the association. Main thread only.
func (f *Factory) HandleQueueEvent(event host.QueueEvent) {
	if f == nil {
		return
	}
	switch event.Kind {
	case host.QueueFailed:
		for _, bot := range f.takeEnrolled(event.QueueKey) {
			_ = f.submitter.Withdraw(bot, event.QueueKey)
			if f.metrics != nil {
				f.metrics.Add("queues.jit_withdrawn", 1)
			}
		}
	case host.QueueActive:
		f.takeEnrolled(event.QueueKey)
	}
}

// Enrolled lists bots currently associated with a queue.
func (f *Factory) Enrolled(queueKey string) []host.EntityID {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]host.EntityID(nil), f.enrolled[queueKey]...)
}

// PendingCount reports creations submitted but not yet settled.
func (f *Factory) PendingCount() int {
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *Factory) takeEnrolled(queueKey string) []host.EntityID {
	f.mu.Lock()
	defer f.mu.Unlock()
	bots := f.enrolled[queueKey]
	delete(f.enrolled, queueKey)
	return bots
}

func (f *Factory) shortageStillExists(queueKey string, role host.Role) bool {
	if f.inspector == nil {
		return true
	}
	for _, snapshot := range f.inspector.Queues() {
		if snapshot.Key != queueKey {
			continue
		}
		return snapshot.MissingRoles()[role] > 0
	}
	// Queue vanished; nothing to fill.
	return false
}
