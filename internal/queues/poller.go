// Package queues watches the host's group-finder and battleground queues
// for composition shortages and spawns just-in-time bots to fill them.
package queues

import (
	"context"
	"sync/atomic"

	"bothive/engine/internal/host"
	"bothive/engine/internal/telemetry"
	"bothive/engine/logging"
	"bothive/engine/logging/population"
)

// Shortage describes roles a queue is missing to form an instance.
type Shortage struct {
	QueueKey string
	Kind     host.QueueKind
	Faction  host.Faction
	MinLevel int
	MaxLevel int
	Missing  map[host.Role]int
}

// Poller sweeps the host queues. Read-only against the host; its samples
// are advisory and the factory re-checks before enqueueing. Handlers are
// registered at composition time and may run on a worker goroutine.
type Poller struct {
	inspector host.QueueInspector
	publisher logging.Publisher
	metrics   telemetry.Metrics
	handlers  []func(Shortage)
	sweeps    atomic.Uint64
}

// NewPoller constructs a poller over the host's queue inspector.
func NewPoller(inspector host.QueueInspector, publisher logging.Publisher, metrics telemetry.Metrics) *Poller {
	return &Poller{
		inspector: inspector,
		publisher: publisher,
		metrics:   metrics,
	}
}

// OnShortage registers a handler. Not safe once sweeps have started.
func (p *Poller) OnShortage(handler func(Shortage)) {
	if p == nil || handler == nil {
		return
	}
	p.handlers = append(p.handlers, handler)
}

// Sweep samples every queue once and emits a shortage per queue that
// cannot form. Returns the shortages found.
func (p *Poller) Sweep() []Shortage {
	if p == nil || p.inspector == nil {
		return nil
	}
	tick := p.sweeps.Add(1)

	var found []Shortage
	for _, snapshot := range p.inspector.Queues() {
		missing := snapshot.MissingRoles()
		if len(missing) == 0 {
			continue
		}
		shortage := Shortage{
			QueueKey: snapshot.Key,
			Kind:     snapshot.Kind,
			Faction:  snapshot.Faction,
			MinLevel: snapshot.MinLevel,
			MaxLevel: snapshot.MaxLevel,
			Missing:  missing,
		}
		found = append(found, shortage)

		payload := population.ShortagePayload{
			QueueKey: shortage.QueueKey,
			Missing:  make(map[string]int, len(missing)),
			Faction:  shortage.Faction.String(),
			MinLevel: shortage.MinLevel,
			MaxLevel: shortage.MaxLevel,
		}
		for role, count := range missing {
			payload.Missing[role.String()] = count
		}
		population.ShortageDetected(context.Background(), p.publisher, tick, payload)

		for _, handler := range p.handlers {
			handler(shortage)
		}
	}
	if p.metrics != nil {
		p.metrics.Add("queues.sweeps", 1)
		p.metrics.Add("queues.shortages", uint64(len(found)))
	}
	return found
}
