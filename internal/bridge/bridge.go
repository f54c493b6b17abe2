// Package bridge is the single entry point for host-originated events.
// Host callbacks may fire on any goroutine; the bridge buffers them and
// replays the backlog on the main thread, so subscribers never need locks
// against the host.
package bridge

import (
	"sync/atomic"
	"time"

	"bothive/engine/internal/host"
	"bothive/engine/internal/locking"
	"bothive/engine/internal/telemetry"
	"bothive/engine/logging"
)

// Kind discriminates the normalized event union.
type Kind uint8

const (
	KindGroup Kind = iota
	KindQueue
	KindCombat
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindQueue:
		return "queue"
	case KindCombat:
		return "combat"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Event is one normalized host occurrence. Only the field matching Kind
// is populated.
type Event struct {
	Kind   Kind
	At     time.Time
	Group  host.GroupEvent
	Queue  host.QueueEvent
	Combat host.CombatEvent
}

// Subscriber receives replayed events on the main thread.
type Subscriber func(Event)

// Config tunes the bridge buffer.
type Config struct {
	BufferSize int
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{BufferSize: 4096}
}

// Bridge buffers host events for main-thread replay. Register subscribers
// before Attach; the subscriber list is immutable afterwards.
type Bridge struct {
	cfg     Config
	clock   logging.Clock
	metrics telemetry.Metrics

	mu     *locking.Mutex
	events []Event
	subs   []Subscriber

	attached atomic.Bool
	shutdown atomic.Bool
	dropped  atomic.Uint64
}

// New constructs a detached bridge.
func New(cfg Config, clock logging.Clock, metrics telemetry.Metrics) *Bridge {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if clock == nil {
		clock = logging.SystemClock{}
	}
	return &Bridge{
		cfg:     cfg,
		clock:   clock,
		metrics: metrics,
		mu:      locking.NewMutex(locking.LayerHostBridge),
		events:  make([]Event, 0, 64),
	}
}

// Subscribe registers a main-thread consumer. Must happen before Attach.
func (b *Bridge) Subscribe(sub Subscriber) {
	if b == nil || sub == nil || b.attached.Load() {
		return
	}
	b.subs = append(b.subs, sub)
}

// Attach hooks the bridge into the host's event source. Idempotent.
func (b *Bridge) Attach(source host.EventSource) {
	if b == nil || source == nil || !b.attached.CompareAndSwap(false, true) {
		return
	}
	source.OnGroupEvent(func(event host.GroupEvent) {
		b.push(Event{Kind: KindGroup, Group: event})
	})
	source.OnQueueEvent(func(event host.QueueEvent) {
		b.push(Event{Kind: KindQueue, Queue: event})
	})
	source.OnCombatEvent(func(event host.CombatEvent) {
		b.push(Event{Kind: KindCombat, Combat: event})
	})
	source.OnShutdown(func() {
		b.shutdown.Store(true)
		b.push(Event{Kind: KindShutdown})
	})
}

// DispatchTick replays the buffered backlog to every subscriber, in
// arrival order. Main thread only. Returns the number of events replayed.
func (b *Bridge) DispatchTick() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	backlog := b.events
	b.events = make([]Event, 0, 64)
	b.mu.Unlock()

	for _, event := range backlog {
		for _, sub := range b.subs {
			sub(event)
		}
	}
	return len(backlog)
}

// ShutdownRequested reports whether the host asked the engine to stop.
func (b *Bridge) ShutdownRequested() bool {
	return b != nil && b.shutdown.Load()
}

// Dropped reports events discarded because the buffer was full.
func (b *Bridge) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// Pending reports the current backlog depth.
func (b *Bridge) Pending() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *Bridge) push(event Event) {
	event.At = b.clock.Now()
	b.mu.Lock()
	if len(b.events) >= b.cfg.BufferSize {
		b.mu.Unlock()
		b.dropped.Add(1)
		if b.metrics != nil {
			b.metrics.Add("bridge.dropped", 1)
		}
		return
	}
	b.events = append(b.events, event)
	b.mu.Unlock()
}
