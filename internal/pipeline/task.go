package pipeline

import (
	"sync/atomic"
	"time"

	"bothive/engine/internal/gear"
	"bothive/engine/internal/host"
	"bothive/engine/internal/talent"
	"bothive/engine/internal/zone"
)

// TaskState tracks a creation task through the two-phase workflow.
type TaskState int32

const (
	StateQueued TaskState = iota
	StatePreparing
	StatePrepared
	StateApplying
	StateApplied
	StateFailed
	StateCancelled
)

func (s TaskState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StatePreparing:
		return "preparing"
	case StatePrepared:
		return "prepared"
	case StateApplying:
		return "applying"
	case StateApplied:
		return "applied"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Request constrains a creation. Zero values leave a field open to the
// distribution sampler: Level 0 samples from the bracket catalog, a nil
// Faction or Role rolls freely, ZoneID 0 lets the placement catalog choose.
// MinLevel/MaxLevel narrow the level sample without fixing it.
type Request struct {
	Faction  *host.Faction
	Class    uint8
	Role     *host.Role
	Level    int
	MinLevel int
	MaxLevel int
	ZoneID   uint32
}

// Prepared is the owned output of the worker phase. It references only
// engine-owned data; nothing in it touches host state.
type Prepared struct {
	Identity         host.Identity
	Level            int
	Primary          host.SpecInfo
	Secondary        *host.SpecInfo
	Gear             gear.Set
	PrimaryTalents   *talent.Loadout
	SecondaryTalents *talent.Loadout
	Placement        zone.Placement
	PreparedAt       time.Time
}

// Result is delivered exactly once on a task's future channel when the
// task reaches a terminal state.
type Result struct {
	TaskID  uint64
	State   TaskState
	Bot     host.EntityID
	Level   int
	Class   uint8
	Faction host.Faction
	ZoneID  uint32
	Err     error
}

// Task is one creation request moving through the pipeline. State moves
// only forward via compare-and-swap so a racing Cancel and worker settle
// on exactly one winner.
type Task struct {
	ID      uint64
	Request Request

	state       atomic.Int32
	prepared    *Prepared
	future      chan Result
	submittedAt time.Time
	delivered   atomic.Bool
}

func newTask(id uint64, req Request, now time.Time) *Task {
	return &Task{
		ID:          id,
		Request:     req,
		future:      make(chan Result, 1),
		submittedAt: now,
	}
}

// State reads the task's current state.
func (t *Task) State() TaskState {
	return TaskState(t.state.Load())
}

// Future returns the channel the terminal Result arrives on. Buffered;
// the pipeline never blocks delivering to it.
func (t *Task) Future() <-chan Result {
	return t.future
}

func (t *Task) transition(from, to TaskState) bool {
	return t.state.CompareAndSwap(int32(from), int32(to))
}

// deliver publishes the terminal result once; later calls are dropped.
func (t *Task) deliver(res Result) bool {
	if !t.delivered.CompareAndSwap(false, true) {
		return false
	}
	t.future <- res
	return true
}
