// Package lifecycle owns the per-bot state machine. All mutation happens
// on the main tick; observers read value-copied snapshots.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"bothive/engine/internal/host"
	"bothive/engine/internal/locking"
	"bothive/engine/internal/telemetry"
	"bothive/engine/logging"
	loglifecycle "bothive/engine/logging/lifecycle"
)

var (
	// ErrUnknownBot reports an id the controller is not tracking.
	ErrUnknownBot = errors.New("lifecycle: unknown bot")
	// ErrBadTransition reports a transition the state machine forbids.
	ErrBadTransition = errors.New("lifecycle: invalid transition")
)

// Config tunes the controller.
type Config struct {
	IdleTimeout time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{IdleTimeout: 30 * time.Second}
}

// Record is the controller-owned state for one bot.
type Record struct {
	BotID     host.EntityID
	State     State
	Level     int
	Class     uint8
	Faction   host.Faction
	ZoneID    uint32
	CreatedAt time.Time
	// LastTouch is the last lifecycle-update or event touch; the health
	// monitor reads it to detect stalls.
	LastTouch time.Time
	// Activity counts assignments and combat entries; retirement picks the
	// lowest scores first.
	Activity uint64

	idleFor time.Duration
}

// Snapshot is the value copy handed to observers.
type Snapshot struct {
	BotID     host.EntityID
	State     State
	Level     int
	Class     uint8
	Faction   host.Faction
	ZoneID    uint32
	CreatedAt time.Time
	LastTouch time.Time
	Activity  uint64
}

// Controller tracks every bot the engine owns. State mutation belongs to
// the main thread; Snapshot and the count accessors are safe anywhere.
type Controller struct {
	cfg       Config
	presence  host.PresenceReader
	publisher logging.Publisher
	metrics   telemetry.Metrics
	clock     logging.Clock

	mu      *locking.Mutex
	records map[host.EntityID]*Record

	tick       atomic.Uint64
	lastUpdate atomic.Int64
}

// New constructs a controller. The presence reader gates LOGGING_IN →
// ACTIVE; a nil reader admits immediately.
func New(cfg Config, presence host.PresenceReader, publisher logging.Publisher, metrics telemetry.Metrics, clock logging.Clock) *Controller {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if clock == nil {
		clock = logging.SystemClock{}
	}
	return &Controller{
		cfg:       cfg,
		presence:  presence,
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
		mu:        locking.NewMutex(locking.LayerLifecycle),
		records:   make(map[host.EntityID]*Record),
	}
}

// Admit registers a freshly applied bot in CREATED.
func (c *Controller) Admit(id host.EntityID, level int, class uint8, faction host.Faction, zoneID uint32) error {
	if c == nil {
		return errors.New("lifecycle: nil controller")
	}
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.records[id]; exists {
		return fmt.Errorf("lifecycle: bot %d already tracked", id)
	}
	c.records[id] = &Record{
		BotID:     id,
		State:     StateCreated,
		Level:     level,
		Class:     class,
		Faction:   faction,
		ZoneID:    zoneID,
		CreatedAt: now,
		LastTouch: now,
	}
	if c.metrics != nil {
		c.metrics.Add("lifecycle.admitted", 1)
	}
	return nil
}

// Start moves a CREATED bot into LOGGING_IN.
func (c *Controller) Start(id host.EntityID) error {
	return c.Transition(id, StateLoggingIn)
}

// Stop begins retirement: any live state moves to LOGGING_OUT.
func (c *Controller) Stop(id host.EntityID) error {
	return c.Transition(id, StateLoggingOut)
}

// Transition applies one validated state change.
func (c *Controller) Transition(id host.EntityID, to State) error {
	if c == nil {
		return errors.New("lifecycle: nil controller")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return ErrUnknownBot
	}
	return c.setStateLocked(rec, to)
}

// AssignActivity places an ACTIVE or IDLE bot into an activity state and
// bumps its activity score.
func (c *Controller) AssignActivity(id host.EntityID, activity State) error {
	if !activityStates[activity] {
		return fmt.Errorf("%w: %s is not an activity", ErrBadTransition, activity)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return ErrUnknownBot
	}
	if rec.State == StateIdle {
		if err := c.setStateLocked(rec, StateActive); err != nil {
			return err
		}
	}
	if err := c.setStateLocked(rec, activity); err != nil {
		return err
	}
	rec.Activity++
	return nil
}

// ClearActivity returns an activity-state bot to ACTIVE.
func (c *Controller) ClearActivity(id host.EntityID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return ErrUnknownBot
	}
	if !activityStates[rec.State] {
		return nil
	}
	return c.setStateLocked(rec, StateActive)
}

// NoteCombat reacts to host combat events for a tracked bot. Unknown ids
// are ignored; the host reports combat for real players too.
func (c *Controller) NoteCombat(id host.EntityID, entered bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return
	}
	if entered {
		if transitionAllowed(rec.State, StateCombat) {
			_ = c.setStateLocked(rec, StateCombat)
			rec.Activity++
		}
		return
	}
	if rec.State == StateCombat {
		_ = c.setStateLocked(rec, StateActive)
	}
}

// Touch refreshes a bot's liveness timestamp without changing state.
func (c *Controller) Touch(id host.EntityID) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[id]; ok {
		rec.LastTouch = c.clock.Now()
	}
}

// SetZone records a zone change observed for the bot.
func (c *Controller) SetZone(id host.EntityID, zoneID uint32) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[id]; ok {
		rec.ZoneID = zoneID
	}
}

// UpdateAll advances every record by one tick: LOGGING_IN bots are
// admitted when the host reports them in-world, ACTIVE bots idle out
// after the configured timeout. Main thread only. Returns the live count.
func (c *Controller) UpdateAll(delta time.Duration) int {
	if c == nil {
		return 0
	}
	now := c.clock.Now()
	c.tick.Add(1)
	c.lastUpdate.Store(now.UnixNano())

	c.mu.Lock()
	defer c.mu.Unlock()
	live := 0
	for _, rec := range c.records {
		// LOGGING_OUT bots are advanced by the exit pipeline, which touches
		// them per stage attempt; a wedged retirement shows up as a stall.
		if rec.State.Live() && rec.State != StateLoggingOut {
			rec.LastTouch = now
		}
		switch rec.State {
		case StateLoggingIn:
			if c.presence == nil || c.presence.InWorld(rec.BotID) {
				_ = c.setStateLocked(rec, StateActive)
			}
		case StateActive:
			rec.idleFor += delta
			if rec.idleFor >= c.cfg.IdleTimeout {
				_ = c.setStateLocked(rec, StateIdle)
			}
		}
		if rec.State.Live() {
			live++
		}
	}
	return live
}

// Remove drops a terminated record.
func (c *Controller) Remove(id host.EntityID) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.records, id)
	c.mu.Unlock()
}

// Get returns a value copy of one record.
func (c *Controller) Get(id host.EntityID) (Snapshot, bool) {
	if c == nil {
		return Snapshot{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(rec), true
}

// Snapshot copies every record.
func (c *Controller) Snapshot() []Snapshot {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Snapshot, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, snapshotOf(rec))
	}
	return out
}

// CountByState tallies records per state.
func (c *Controller) CountByState() map[State]int {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[State]int)
	for _, rec := range c.records {
		counts[rec.State]++
	}
	return counts
}

// LiveCount reports how many bots still occupy the world.
func (c *Controller) LiveCount() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	live := 0
	for _, rec := range c.records {
		if rec.State.Live() {
			live++
		}
	}
	return live
}

// ZoneHistogram counts live bots per zone.
func (c *Controller) ZoneHistogram() map[uint32]int {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	hist := make(map[uint32]int)
	for _, rec := range c.records {
		if rec.State.Live() {
			hist[rec.ZoneID]++
		}
	}
	return hist
}

// RetireCandidates selects up to n live bots, lowest activity first.
// A zero zoneID considers every zone. Bots already logging out are
// excluded.
func (c *Controller) RetireCandidates(zoneID uint32, n int) []host.EntityID {
	if c == nil || n <= 0 {
		return nil
	}
	c.mu.Lock()
	candidates := make([]*Record, 0, len(c.records))
	for _, rec := range c.records {
		if !rec.State.Live() || rec.State == StateLoggingOut {
			continue
		}
		if zoneID != 0 && rec.ZoneID != zoneID {
			continue
		}
		candidates = append(candidates, rec)
	}
	c.mu.Unlock()

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
	for _, rec := range candidates {
		out = append(out, rec.BotID)
	}
	return out
}

// LastUpdate reports when UpdateAll last ran; zero before the first tick.
func (c *Controller) LastUpdate() time.Time {
	if c == nil {
		return time.Time{}
	}
	nanos := c.lastUpdate.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (c *Controller) setStateLocked(rec *Record, to State) error {
	if !transitionAllowed(rec.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, rec.State, to)
	}
	from := rec.State
	rec.State = to
	rec.LastTouch = c.clock.Now()
	rec.idleFor = 0
	loglifecycle.StateChanged(context.Background(), c.publisher, c.tick.Load(),
		logging.BotRef(uint64(rec.BotID)), loglifecycle.StateChangedPayload{
			From: from.String(),
			To:   to.String(),
		}, nil)
	return nil
}

func snapshotOf(rec *Record) Snapshot {
	return Snapshot{
		BotID:     rec.BotID,
		State:     rec.State,
		Level:     rec.Level,
		Class:     rec.Class,
		Faction:   rec.Faction,
		ZoneID:    rec.ZoneID,
		CreatedAt: rec.CreatedAt,
		LastTouch: rec.LastTouch,
		Activity:  rec.Activity,
	}
}
