package bridge

import (
	"sync"
	"testing"

	"bothive/engine/internal/host"
	"bothive/engine/internal/host/hosttest"
)

func TestDispatchReplaysInArrivalOrder(t *testing.T) {
	fake := hosttest.New()
	b := New(DefaultConfig(), nil, nil)
	var seen []Kind
	b.Subscribe(func(event Event) { seen = append(seen, event.Kind) })
	b.Attach(fake)

	fake.FireCombat(host.CombatEvent{Entity: 1, Entered: true})
	fake.FireQueue(host.QueueEvent{Kind: host.QueueJoined, QueueKey: "lfg-1", Entity: 1})
	fake.FireGroup(host.GroupEvent{Kind: host.GroupMemberJoined, GroupID: 5, Member: 1})

	if n := b.DispatchTick(); n != 3 {
		t.Fatalf("expected 3 events replayed, got %d", n)
	}
	want := []Kind{KindCombat, KindQueue, KindGroup}
	for i, kind := range want {
		if seen[i] != kind {
			t.Fatalf("event %d: expected %s, got %s", i, kind, seen[i])
		}
	}
	if n := b.DispatchTick(); n != 0 {
		t.Fatalf("backlog not cleared, replayed %d", n)
	}
}

func TestShutdownFlag(t *testing.T) {
	fake := hosttest.New()
	b := New(DefaultConfig(), nil, nil)
	var got []Kind
	b.Subscribe(func(event Event) { got = append(got, event.Kind) })
	b.Attach(fake)

	if b.ShutdownRequested() {
		t.Fatalf("shutdown flagged before request")
	}
	fake.FireShutdown()
	if !b.ShutdownRequested() {
		t.Fatalf("shutdown flag not set")
	}
	b.DispatchTick()
	if len(got) != 1 || got[0] != KindShutdown {
		t.Fatalf("shutdown event not replayed: %v", got)
	}
}

func TestBufferOverflowDrops(t *testing.T) {
	fake := hosttest.New()
	b := New(Config{BufferSize: 2}, nil, nil)
	b.Attach(fake)

	for i := 0; i < 5; i++ {
		fake.FireCombat(host.CombatEvent{Entity: host.EntityID(i)})
	}
	if b.Pending() != 2 {
		t.Fatalf("expected 2 buffered, got %d", b.Pending())
	}
	if b.Dropped() != 3 {
		t.Fatalf("expected 3 dropped, got %d", b.Dropped())
	}
}

func TestConcurrentPush(t *testing.T) {
	fake := hosttest.New()
	b := New(DefaultConfig(), nil, nil)
	total := 0
	b.Subscribe(func(Event) { total++ })
	b.Attach(fake)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				fake.FireCombat(host.CombatEvent{Entity: 1, Entered: true})
			}
		}()
	}
	wg.Wait()
	if n := b.DispatchTick(); n != 400 {
		t.Fatalf("expected 400 events, got %d", n)
	}
	if total != 400 {
		t.Fatalf("subscriber saw %d events", total)
	}
}

func TestSubscribeAfterAttachIgnored(t *testing.T) {
	fake := hosttest.New()
	b := New(DefaultConfig(), nil, nil)
	b.Attach(fake)
	called := false
	b.Subscribe(func(Event) { called = true })
	fake.FireCombat(host.CombatEvent{Entity: 1})
	b.DispatchTick()
	if called {
		t.Fatalf("late subscriber should not receive events")
	}
}
