// Package health watches liveness: per-bot stalls, a wedged update loop,
// and the engine error rate. Recovery acts on bots only; it never touches
// the host.
package health

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"bothive/engine/internal/lifecycle"
	"bothive/engine/internal/retire"
	"bothive/engine/internal/telemetry"
	"bothive/engine/logging"
	loglifecycle "bothive/engine/logging/lifecycle"
)

// Config tunes the monitor.
type Config struct {
	// StallThreshold flags a bot with no lifecycle touch for this long.
	StallThreshold time.Duration
	// DeadlockThreshold flags the whole engine when no update loop ran.
	DeadlockThreshold time.Duration
	// ErrorRateThreshold is the tolerated errors-per-second EWMA.
	ErrorRateThreshold float64
	// ErrorRateAlpha is the EWMA smoothing factor.
	ErrorRateAlpha float64
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		StallThreshold:     60 * time.Second,
		DeadlockThreshold:  30 * time.Second,
		ErrorRateThreshold: 5,
		ErrorRateAlpha:     0.3,
	}
}

// Diagnostic is pushed to the operator channel when the engine looks
// deadlocked or too error-prone.
type Diagnostic struct {
	At         time.Time
	Reason     string
	LastUpdate time.Time
	ErrorRate  float64
	States     map[lifecycle.State]int
}

// Report summarizes one sweep.
type Report struct {
	Deadlocked        bool
	StalledBots       int
	ForcedRetirements int
	ErrorRate         float64
	ErrorRateExceeded bool
}

// Monitor runs periodic health sweeps. RecordError is safe from any
// goroutine; Sweep belongs to one caller.
type Monitor struct {
	cfg       Config
	bots      *lifecycle.Controller
	exits     *retire.Handler
	publisher logging.Publisher
	metrics   telemetry.Metrics
	log       telemetry.Logger
	clock     logging.Clock

	errors    atomic.Uint64
	ewma      atomic.Uint64
	lastSweep time.Time
	operator  chan Diagnostic
}

// New constructs a monitor.
func New(cfg Config, bots *lifecycle.Controller, exits *retire.Handler, publisher logging.Publisher, metrics telemetry.Metrics, log telemetry.Logger, clock logging.Clock) *Monitor {
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = 60 * time.Second
	}
	if cfg.DeadlockThreshold <= 0 {
		cfg.DeadlockThreshold = 30 * time.Second
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = 5
	}
	if cfg.ErrorRateAlpha <= 0 || cfg.ErrorRateAlpha > 1 {
		cfg.ErrorRateAlpha = 0.3
	}
	if clock == nil {
		clock = logging.SystemClock{}
	}
	return &Monitor{
		cfg:       cfg,
		bots:      bots,
		exits:     exits,
		publisher: publisher,
		metrics:   metrics,
		log:       log,
		clock:     clock,
		operator:  make(chan Diagnostic, 8),
	}
}

// RecordError counts one engine error toward the rate EWMA.
func (m *Monitor) RecordError() {
	if m == nil {
		return
	}
	m.errors.Add(1)
}

// Operator returns the channel diagnostics are pushed onto. Pushes are
// non-blocking; an unread channel drops new diagnostics.
func (m *Monitor) Operator() <-chan Diagnostic {
	if m == nil {
		return nil
	}
	return m.operator
}

// ErrorRate reports the current errors-per-second EWMA. Safe to read from
// any goroutine; the status report polls it off the main thread.
func (m *Monitor) ErrorRate() float64 {
	if m == nil {
		return 0
	}
	return math.Float64frombits(m.ewma.Load())
}

// Sweep runs one health pass: updates the error EWMA, checks for a
// deadlocked update loop and forces retirement of stalled bots.
func (m *Monitor) Sweep() Report {
	if m == nil {
		return Report{}
	}
	now := m.clock.Now()
	report := Report{}

	// Error rate.
	count := m.errors.Swap(0)
	elapsed := time.Second
	if !m.lastSweep.IsZero() {
		if d := now.Sub(m.lastSweep); d > 0 {
			elapsed = d
		}
	}
	m.lastSweep = now
	rate := float64(count) / elapsed.Seconds()
	ewma := m.cfg.ErrorRateAlpha*rate + (1-m.cfg.ErrorRateAlpha)*m.ErrorRate()
	m.ewma.Store(math.Float64bits(ewma))
	report.ErrorRate = ewma
	report.ErrorRateExceeded = ewma > m.cfg.ErrorRateThreshold
	if m.metrics != nil {
		m.metrics.Store("health.error_rate_milli", uint64(ewma*1000))
	}
	if report.ErrorRateExceeded {
		m.raise("error rate exceeded", now)
	}

	// Deadlock: the main update loop has not run at all recently.
	if last := m.bots.LastUpdate(); !last.IsZero() && now.Sub(last) > m.cfg.DeadlockThreshold {
		report.Deadlocked = true
		m.raise("lifecycle updates stopped", now)
	}

	// Stalled bots: force retirement, never touch the host directly.
	for _, snap := range m.bots.Snapshot() {
		if !snap.State.Live() {
			continue
		}
		if now.Sub(snap.LastTouch) <= m.cfg.StallThreshold {
			continue
		}
		report.StalledBots++
		loglifecycle.BotStalled(context.Background(), m.publisher, 0,
			logging.BotRef(uint64(snap.BotID)), map[string]any{
				"state":     snap.State.String(),
				"lastTouch": snap.LastTouch,
			})
		err := m.exits.Begin(snap.BotID)
		if err == nil {
			report.ForcedRetirements++
			continue
		}
		if !errors.Is(err, retire.ErrAlreadyRetiring) && m.log != nil {
			m.log.Printf("health: forced retirement of bot %d failed: %v", snap.BotID, err)
		}
	}
	if m.metrics != nil {
		m.metrics.Add("health.sweeps", 1)
		m.metrics.Add("health.forced_retirements", uint64(report.ForcedRetirements))
	}
	return report
}

// raise logs a diagnostic snapshot and signals the operator channel.
func (m *Monitor) raise(reason string, now time.Time) {
	diag := Diagnostic{
		At:         now,
		Reason:     reason,
		LastUpdate: m.bots.LastUpdate(),
		ErrorRate:  m.ErrorRate(),
		States:     m.bots.CountByState(),
	}
	if m.log != nil {
		m.log.Printf("health: %s (rate %.2f/s, states %v)", reason, diag.ErrorRate, diag.States)
	}
	select {
	case m.operator <- diag:
	default:
	}
}
