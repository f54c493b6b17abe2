package lifecycle

import (
	"errors"
	"testing"
	"time"

	"bothive/engine/internal/host"
	"bothive/engine/internal/host/hosttest"
)

func admit(t *testing.T, c *Controller, id host.EntityID) {
	t.Helper()
	if err := c.Admit(id, 30, hosttest.ClassWarrior, host.FactionAlliance, 12); err != nil {
		t.Fatalf("admit: %v", err)
	}
}

func TestAdmitStartActivate(t *testing.T) {
	fake := hosttest.New()
	c := New(DefaultConfig(), fake, nil, nil, nil)
	id, err := fake.CreateCharacter(host.Identity{Name: "Test"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	admit(t, c, id)
	if err := c.Start(id); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap, _ := c.Get(id)
	if snap.State != StateLoggingIn {
		t.Fatalf("expected logging_in, got %s", snap.State)
	}

	c.UpdateAll(time.Second)
	snap, _ = c.Get(id)
	if snap.State != StateActive {
		t.Fatalf("expected active after in-world check, got %s", snap.State)
	}
}

func TestLoggingInWaitsForPresence(t *testing.T) {
	fake := hosttest.New()
	fake.AutoInWorld = false
	c := New(DefaultConfig(), fake, nil, nil, nil)
	id, _ := fake.CreateCharacter(host.Identity{Name: "Test"})
	admit(t, c, id)
	c.Start(id)

	c.UpdateAll(time.Second)
	if snap, _ := c.Get(id); snap.State != StateLoggingIn {
		t.Fatalf("bot activated before host reported in-world")
	}

	fake.Entities[id].InWorldFlag = true
	c.UpdateAll(time.Second)
	if snap, _ := c.Get(id); snap.State != StateActive {
		t.Fatalf("bot not activated once in-world")
	}
}

func TestIdleTimeout(t *testing.T) {
	c := New(Config{IdleTimeout: 3 * time.Second}, nil, nil, nil, nil)
	admit(t, c, 1)
	c.Start(1)
	c.UpdateAll(time.Second)

	c.UpdateAll(2 * time.Second)
	if snap, _ := c.Get(1); snap.State != StateActive {
		t.Fatalf("idled out too early: %s", snap.State)
	}
	c.UpdateAll(2 * time.Second)
	if snap, _ := c.Get(1); snap.State != StateIdle {
		t.Fatalf("expected idle after timeout, got %s", snap.State)
	}
}

func TestAssignActivityResetsIdle(t *testing.T) {
	c := New(Config{IdleTimeout: 2 * time.Second}, nil, nil, nil, nil)
	admit(t, c, 1)
	c.Start(1)
	c.UpdateAll(time.Second)
	c.UpdateAll(3 * time.Second)
	if snap, _ := c.Get(1); snap.State != StateIdle {
		t.Fatalf("expected idle, got %s", snap.State)
	}

	if err := c.AssignActivity(1, StateQuesting); err != nil {
		t.Fatalf("assign: %v", err)
	}
	snap, _ := c.Get(1)
	if snap.State != StateQuesting {
		t.Fatalf("expected questing, got %s", snap.State)
	}
	if snap.Activity != 1 {
		t.Fatalf("activity score not bumped")
	}
	if err := c.ClearActivity(1); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if snap, _ := c.Get(1); snap.State != StateActive {
		t.Fatalf("expected active after clear, got %s", snap.State)
	}
}

func TestCombatTransitions(t *testing.T) {
	c := New(DefaultConfig(), nil, nil, nil, nil)
	admit(t, c, 1)
	c.Start(1)
	c.UpdateAll(time.Second)

	c.NoteCombat(1, true)
	if snap, _ := c.Get(1); snap.State != StateCombat {
		t.Fatalf("expected combat, got %s", snap.State)
	}
	c.NoteCombat(1, false)
	if snap, _ := c.Get(1); snap.State != StateActive {
		t.Fatalf("expected active after combat, got %s", snap.State)
	}
	// Combat events for untracked entities are ignored.
	c.NoteCombat(999, true)
}

func TestStopFromAnyLiveState(t *testing.T) {
	c := New(DefaultConfig(), nil, nil, nil, nil)
	admit(t, c, 1)
	if err := c.Stop(1); err != nil {
		t.Fatalf("stop from created: %v", err)
	}
	if snap, _ := c.Get(1); snap.State != StateLoggingOut {
		t.Fatalf("expected logging_out, got %s", snap.State)
	}
	// Double stop is rejected.
	if err := c.Stop(1); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
	if err := c.Transition(1, StateOffline); err != nil {
		t.Fatalf("offline: %v", err)
	}
	if err := c.Transition(1, StateTerminated); err != nil {
		t.Fatalf("terminate: %v", err)
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	c := New(DefaultConfig(), nil, nil, nil, nil)
	admit(t, c, 1)
	if err := c.Transition(1, StateCombat); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("created -> combat should fail, got %v", err)
	}
	if err := c.Transition(99, StateActive); !errors.Is(err, ErrUnknownBot) {
		t.Fatalf("expected ErrUnknownBot, got %v", err)
	}
}

func TestRetireCandidatesLowestActivityFirst(t *testing.T) {
	c := New(DefaultConfig(), nil, nil, nil, nil)
	for id := host.EntityID(1); id <= 3; id++ {
		admit(t, c, id)
		c.Start(id)
	}
	c.UpdateAll(time.Second)
	// Bot 2 is the busiest, bot 3 middling, bot 1 untouched.
	for i := 0; i < 5; i++ {
		c.AssignActivity(2, StateQuesting)
		c.ClearActivity(2)
	}
	c.AssignActivity(3, StateResting)
	c.ClearActivity(3)

	picks := c.RetireCandidates(0, 2)
	if len(picks) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(picks))
	}
	if picks[0] != 1 || picks[1] != 3 {
		t.Fatalf("expected lowest-activity order [1 3], got %v", picks)
	}
}

func TestRetireCandidatesFilterByZone(t *testing.T) {
	c := New(DefaultConfig(), nil, nil, nil, nil)
	admit(t, c, 1)
	if err := c.Admit(2, 30, hosttest.ClassMage, host.FactionAlliance, 77); err != nil {
		t.Fatalf("admit: %v", err)
	}
	picks := c.RetireCandidates(77, 5)
	if len(picks) != 1 || picks[0] != 2 {
		t.Fatalf("zone filter broken: %v", picks)
	}
}

func TestSnapshotAndHistogram(t *testing.T) {
	c := New(DefaultConfig(), nil, nil, nil, nil)
	admit(t, c, 1)
	if err := c.Admit(2, 55, hosttest.ClassDruid, host.FactionHorde, 12); err != nil {
		t.Fatalf("admit: %v", err)
	}
	c.Stop(2)
	c.Transition(2, StateOffline)

	snaps := c.Snapshot()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if c.LiveCount() != 1 {
		t.Fatalf("expected 1 live bot, got %d", c.LiveCount())
	}
	hist := c.ZoneHistogram()
	if hist[12] != 1 {
		t.Fatalf("histogram wrong: %v", hist)
	}
	counts := c.CountByState()
	if counts[StateCreated] != 1 || counts[StateOffline] != 1 {
		t.Fatalf("state counts wrong: %v", counts)
	}
}
