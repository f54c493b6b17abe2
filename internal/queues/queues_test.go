package queues

import (
	"testing"
	"time"

	"bothive/engine/internal/distribution"
	"bothive/engine/internal/gear"
	"bothive/engine/internal/host"
	"bothive/engine/internal/host/hosttest"
	"bothive/engine/internal/lifecycle"
	"bothive/engine/internal/pipeline"
	"bothive/engine/internal/talent"
	"bothive/engine/internal/zone"
)

type harness struct {
	fake       *hosttest.Fake
	pipe       *pipeline.Pipeline
	controller *lifecycle.Controller
	poller     *Poller
	factory    *Factory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := hosttest.New()
	levels, err := distribution.NewLevels(distribution.DefaultBrackets())
	if err != nil {
		t.Fatalf("levels: %v", err)
	}
	sampler, err := distribution.NewSampler(fake)
	if err != nil {
		t.Fatalf("sampler: %v", err)
	}
	gearCache := gear.NewCache()
	if err := gearCache.Initialize(fake); err != nil {
		t.Fatalf("gear: %v", err)
	}
	talentCache := talent.NewCache()
	if err := talentCache.Initialize(fake); err != nil {
		t.Fatalf("talents: %v", err)
	}
	zoneCache := zone.NewCache()
	if err := zoneCache.Initialize(zone.DefaultPlacements()); err != nil {
		t.Fatalf("zones: %v", err)
	}

	h := &harness{fake: fake}
	h.controller = lifecycle.New(lifecycle.DefaultConfig(), fake, nil, nil, nil)

	cfg := pipeline.DefaultConfig()
	cfg.Seed = 7
	h.pipe, err = pipeline.New(cfg, pipeline.Deps{
		Levels:  levels,
		Sampler: sampler,
		Gear:    gearCache,
		Talents: talentCache,
		Zones:   zoneCache,
		Mutator: fake,
	}, pipeline.Hooks{
		OnApplied: func(res pipeline.Result) {
			if err := h.controller.Admit(res.Bot, res.Level, res.Class, res.Faction, res.ZoneID); err != nil {
				t.Errorf("admit: %v", err)
				return
			}
			_ = h.controller.Start(res.Bot)
			h.factory.NotifyApplied(res)
		},
		OnFailed: func(res pipeline.Result) {
			h.factory.NotifyFailed(res)
		},
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	t.Cleanup(func() { h.pipe.Shutdown() })

	h.poller = NewPoller(fake, nil, nil)
	h.factory = NewFactory(DefaultFactoryConfig(), h.pipe, h.controller, fake, fake, nil, nil, nil)
	h.poller.OnShortage(func(s Shortage) { h.factory.HandleShortage(s) })
	h.pipe.Start()
	return h
}

func (h *harness) drainAll(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	applied := 0
	for time.Now().Before(deadline) && applied < want {
		applied += h.pipe.DrainTick(want)
		time.Sleep(time.Millisecond)
	}
	if applied != want {
		t.Fatalf("applied %d of %d creations", applied, want)
	}
}

func lfgQueue(waitingDPS, waitingHealer, waitingTank int) host.QueueSnapshot {
	return host.QueueSnapshot{
		Key:      "lfg-deadmines",
		Kind:     host.QueueKindDungeon,
		Faction:  host.FactionAlliance,
		MinLevel: 28,
		MaxLevel: 32,
		Waiting: map[host.Role]int{
			host.RoleDPS:    waitingDPS,
			host.RoleHealer: waitingHealer,
			host.RoleTank:   waitingTank,
		},
		Required: map[host.Role]int{
			host.RoleDPS:    3,
			host.RoleHealer: 1,
			host.RoleTank:   1,
		},
	}
}

func TestSweepDetectsShortage(t *testing.T) {
	fake := hosttest.New()
	fake.QueueState = []host.QueueSnapshot{lfgQueue(0, 0, 1)}
	var seen []Shortage
	poller := NewPoller(fake, nil, nil)
	poller.OnShortage(func(s Shortage) { seen = append(seen, s) })

	found := poller.Sweep()
	if len(found) != 1 || len(seen) != 1 {
		t.Fatalf("expected 1 shortage, got %d/%d", len(found), len(seen))
	}
	s := seen[0]
	if s.Missing[host.RoleDPS] != 3 || s.Missing[host.RoleHealer] != 1 {
		t.Fatalf("wrong missing counts: %v", s.Missing)
	}
	if _, ok := s.Missing[host.RoleTank]; ok {
		t.Fatalf("tank slot is filled, should not be missing")
	}
}

func TestSweepIgnoresFormableQueue(t *testing.T) {
	fake := hosttest.New()
	fake.QueueState = []host.QueueSnapshot{lfgQueue(3, 1, 1)}
	poller := NewPoller(fake, nil, nil)
	if found := poller.Sweep(); len(found) != 0 {
		t.Fatalf("formable queue reported as shortage: %v", found)
	}
}

func TestJITFillsShortage(t *testing.T) {
	h := newHarness(t)
	h.fake.QueueState = []host.QueueSnapshot{lfgQueue(0, 0, 1)}

	h.poller.Sweep()
	if h.factory.PendingCount() != 4 {
		t.Fatalf("expected 4 pending creations, got %d", h.factory.PendingCount())
	}
	h.drainAll(t, 4)

	enrolled := h.factory.Enrolled("lfg-deadmines")
	if len(enrolled) != 4 {
		t.Fatalf("expected 4 bots enqueued, got %d", len(enrolled))
	}
	healers, dps := 0, 0
	for _, bot := range enrolled {
		entity := h.fake.Entities[bot]
		role, ok := entity.QueuedIn["lfg-deadmines"]
		if !ok {
			t.Fatalf("bot %d not in host queue", bot)
		}
		if entity.Level < 28 || entity.Level > 32 {
			t.Fatalf("bot %d level %d outside bracket", bot, entity.Level)
		}
		if entity.Identity.Faction != host.FactionAlliance {
			t.Fatalf("bot %d wrong faction", bot)
		}
		switch role {
		case host.RoleHealer:
			healers++
		case host.RoleDPS:
			dps++
		}
	}
	if healers != 1 || dps != 3 {
		t.Fatalf("expected 1 healer + 3 dps, got %d/%d", healers, dps)
	}
}

func TestCooldownSuppressesResubmission(t *testing.T) {
	h := newHarness(t)
	h.fake.QueueState = []host.QueueSnapshot{lfgQueue(0, 0, 1)}

	h.poller.Sweep()
	first := h.factory.PendingCount()
	h.poller.Sweep()
	if h.factory.PendingCount() != first {
		t.Fatalf("cooldown ignored: pending went from %d to %d", first, h.factory.PendingCount())
	}
}

func TestResolvedShortageSkipsEnqueue(t *testing.T) {
	h := newHarness(t)
	h.fake.QueueState = []host.QueueSnapshot{lfgQueue(2, 0, 1)}

	h.poller.Sweep()
	if h.factory.PendingCount() != 2 {
		t.Fatalf("expected 2 pending, got %d", h.factory.PendingCount())
	}
	// Real players fill the queue before the bots apply.
	h.fake.QueueState = []host.QueueSnapshot{lfgQueue(3, 1, 1)}
	h.drainAll(t, 2)

	if n := len(h.factory.Enrolled("lfg-deadmines")); n != 0 {
		t.Fatalf("redundant bots enqueued: %d", n)
	}
	for id, entity := range h.fake.Entities {
		if len(entity.QueuedIn) != 0 {
			t.Fatalf("bot %d enqueued despite resolved shortage", id)
		}
	}
}

func TestQueueFailedWithdrawsBots(t *testing.T) {
	h := newHarness(t)
	h.fake.QueueState = []host.QueueSnapshot{lfgQueue(0, 1, 1)}

	h.poller.Sweep()
	h.drainAll(t, 3)
	if len(h.factory.Enrolled("lfg-deadmines")) != 3 {
		t.Fatalf("setup: bots not enrolled")
	}

	h.factory.HandleQueueEvent(host.QueueEvent{Kind: host.QueueFailed, QueueKey: "lfg-deadmines"})
	if len(h.factory.Enrolled("lfg-deadmines")) != 0 {
		t.Fatalf("association not cleared")
	}
	for id, entity := range h.fake.Entities {
		if _, queued := entity.QueuedIn["lfg-deadmines"]; queued {
			t.Fatalf("bot %d still queued after withdraw", id)
		}
	}
}
