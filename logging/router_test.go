package logging

import (
	"context"
	"sync"
	"testing"
	"time"
)

// captureSink retains written events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Write(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) Close(context.Context) error { return nil }

func (s *captureSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event.Type)
	}
	return out
}

func newTestRouter(t *testing.T, cfg Config) (*Router, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	cfg.EnabledSinks = []string{"capture"}
	router, err := NewRouter(cfg, nil, nil, map[string]Sink{"capture": sink})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return router, sink
}

func drainRouter(t *testing.T, router *Router) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRouterAppliesGlobalSeverityFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinimumSeverity = SeverityWarn
	router, sink := newTestRouter(t, cfg)

	ctx := context.Background()
	router.Publish(ctx, Event{Type: "quiet", Severity: SeverityInfo})
	router.Publish(ctx, Event{Type: "loud", Severity: SeverityError})
	drainRouter(t, router)

	got := sink.types()
	if len(got) != 1 || got[0] != "loud" {
		t.Fatalf("expected only the error event, got %v", got)
	}
}

func TestCategoryMinimumRaisesFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinimumSeverity = SeverityInfo
	cfg.CategoryMinimums = map[string]Severity{
		CategoryPopulation: SeverityWarn,
	}
	router, sink := newTestRouter(t, cfg)

	ctx := context.Background()
	router.Publish(ctx, Event{Type: "sweep", Severity: SeverityInfo, Category: CategoryPopulation})
	router.Publish(ctx, Event{Type: "deficit", Severity: SeverityWarn, Category: CategoryPopulation})
	router.Publish(ctx, Event{Type: "spawned", Severity: SeverityInfo, Category: CategoryLifecycle})
	drainRouter(t, router)

	got := sink.types()
	if len(got) != 2 || got[0] != "deficit" || got[1] != "spawned" {
		t.Fatalf("category floor misapplied: %v", got)
	}
}

func TestCategoryMinimumNeverLowersFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinimumSeverity = SeverityWarn
	cfg.CategoryMinimums = map[string]Severity{
		CategoryHealth: SeverityDebug,
	}
	if got := cfg.MinimumFor(CategoryHealth); got != SeverityWarn {
		t.Fatalf("override below the global floor must not apply, got %d", got)
	}
	if got := cfg.MinimumFor(CategoryPipeline); got != SeverityWarn {
		t.Fatalf("unlisted category should use the global floor, got %d", got)
	}
}
