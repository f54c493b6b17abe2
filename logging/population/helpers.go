package population

import (
	"context"

	"bothive/engine/logging"
)

const (
	// EventShortageDetected is emitted when the queue poller finds a gap.
	EventShortageDetected logging.EventType = "population.shortage_detected"
	// EventJITSpawn is emitted when the factory submits constrained creations.
	EventJITSpawn logging.EventType = "population.jit_spawn"
	// EventRebalance is emitted after a rebalance pass.
	EventRebalance logging.EventType = "population.rebalance"
	// EventZoneTargets is emitted after the once-per-second target sweep.
	EventZoneTargets logging.EventType = "population.zone_targets"
)

// ShortagePayload describes a missing composition slot in a host queue.
type ShortagePayload struct {
	QueueKey string         `json:"queueKey"`
	Missing  map[string]int `json:"missing"`
	Faction  string         `json:"faction"`
	MinLevel int            `json:"minLevel"`
	MaxLevel int            `json:"maxLevel"`
}

// RebalancePayload summarizes one rebalance invocation.
type RebalancePayload struct {
	Creations   int     `json:"creations"`
	Retirements int     `json:"retirements"`
	Deviation   float64 `json:"deviation"`
}

// ShortageDetected publishes a queue shortage event.
func ShortageDetected(ctx context.Context, pub logging.Publisher, tick uint64, payload ShortagePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventShortageDetected,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: payload.QueueKey, Kind: logging.EntityKindQueue},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryPopulation,
		Payload:  payload,
	})
}

// JITSpawn publishes a just-in-time spawn event.
func JITSpawn(ctx context.Context, pub logging.Publisher, tick uint64, queueKey string, submitted int) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventJITSpawn,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: queueKey, Kind: logging.EntityKindQueue},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryPopulation,
		Extra:    map[string]any{"submitted": submitted},
	})
}

// Rebalance publishes the outcome of a rebalance pass.
func Rebalance(ctx context.Context, pub logging.Publisher, tick uint64, payload RebalancePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRebalance,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindEngine},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryPopulation,
		Payload:  payload,
	})
}
