package engine

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"bothive/engine/internal/bridge"
	"bothive/engine/internal/config"
	"bothive/engine/internal/distribution"
	"bothive/engine/internal/gear"
	"bothive/engine/internal/health"
	"bothive/engine/internal/host"
	"bothive/engine/internal/lifecycle"
	"bothive/engine/internal/pipeline"
	"bothive/engine/internal/population"
	"bothive/engine/internal/queues"
	"bothive/engine/internal/registry"
	"bothive/engine/internal/retire"
	"bothive/engine/internal/store"
	"bothive/engine/internal/talent"
	"bothive/engine/internal/telemetry"
	"bothive/engine/internal/zone"
	"bothive/engine/logging"
)

// Host bundles the collaborator seams injected by the embedding server.
type Host struct {
	Catalog   host.EntityCatalog
	Mutator   host.EntityMutator
	Presence  host.PresenceReader
	Census    host.WorldCensus
	Inspector host.QueueInspector
	Submitter host.QueueSubmitter
	Events    host.EventSource
}

func (h Host) validate() error {
	switch {
	case h.Catalog == nil:
		return errors.New("engine: host catalog missing")
	case h.Mutator == nil:
		return errors.New("engine: host mutator missing")
	case h.Census == nil:
		return errors.New("engine: host census missing")
	case h.Inspector == nil:
		return errors.New("engine: host queue inspector missing")
	case h.Submitter == nil:
		return errors.New("engine: host queue submitter missing")
	}
	return nil
}

// Options carries every subsystem tuning plus the shared ambient seams.
type Options struct {
	Engine     Config
	Pipeline   pipeline.Config
	Lifecycle  lifecycle.Config
	Retire     retire.Config
	Population population.Config
	Factory    queues.FactoryConfig
	Bridge     bridge.Config
	Health     health.Config
	Catalog    config.Catalog

	// Store is optional; nil disables persistence and restart resumption.
	Store *store.Store

	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Log       telemetry.Logger
	Clock     logging.Clock
	Hooks     Hooks
}

// DefaultOptions returns the production tuning with the built-in catalog.
func DefaultOptions() Options {
	return Options{
		Engine:     DefaultConfig(),
		Pipeline:   pipeline.DefaultConfig(),
		Lifecycle:  lifecycle.DefaultConfig(),
		Retire:     retire.DefaultConfig(),
		Population: population.DefaultConfig(),
		Factory:    queues.DefaultFactoryConfig(),
		Bridge:     bridge.DefaultConfig(),
		Health:     health.DefaultConfig(),
		Catalog:    config.DefaultCatalog(),
	}
}

// Service names in the composition registry.
const (
	svcLevels     = "levels"
	svcSampler    = "sampler"
	svcGear       = "gear"
	svcTalents    = "talents"
	svcZones      = "zones"
	svcBridge     = "bridge"
	svcBots       = "bots"
	svcExits      = "exits"
	svcPipeline   = "pipeline"
	svcFactory    = "factory"
	svcPoller     = "poller"
	svcPopulation = "population"
	svcHealth     = "health"
)

// New composes an engine. Construction is eager: every cache initializes
// against the host catalog and a failure anywhere aborts startup.
func New(opts Options, seams Host) (*Engine, error) {
	if err := seams.validate(); err != nil {
		return nil, err
	}
	if err := validateSchedule(opts.Engine); err != nil {
		return nil, err
	}
	if opts.Publisher == nil {
		opts.Publisher = logging.NopPublisher()
	}
	if opts.Clock == nil {
		opts.Clock = logging.SystemClock{}
	}

	e := &Engine{
		cfg:       opts.Engine.normalized(),
		hooks:     opts.Hooks,
		seams:     seams,
		db:        opts.Store,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		log:       opts.Log,
		clock:     opts.Clock,
	}

	reg := registry.New()

	reg.Provide(svcLevels, func(*registry.Registry) (any, error) {
		return distribution.NewLevels(opts.Catalog.Brackets)
	})
	reg.Provide(svcSampler, func(*registry.Registry) (any, error) {
		return distribution.NewSampler(seams.Catalog)
	})
	reg.Provide(svcGear, func(*registry.Registry) (any, error) {
		cache := gear.NewCache()
		if err := cache.Initialize(seams.Catalog); err != nil {
			return nil, err
		}
		return cache, nil
	})
	reg.Provide(svcTalents, func(*registry.Registry) (any, error) {
		cache := talent.NewCache()
		if err := cache.Initialize(seams.Catalog); err != nil {
			return nil, err
		}
		return cache, nil
	})
	reg.Provide(svcZones, func(*registry.Registry) (any, error) {
		cache := zone.NewCache()
		if err := cache.Initialize(opts.Catalog.Zones); err != nil {
			return nil, err
		}
		return cache, nil
	})
	reg.Provide(svcBridge, func(*registry.Registry) (any, error) {
		return bridge.New(opts.Bridge, opts.Clock, opts.Metrics), nil
	})
	reg.Provide(svcBots, func(*registry.Registry) (any, error) {
		return lifecycle.New(opts.Lifecycle, seams.Presence, opts.Publisher, opts.Metrics, opts.Clock), nil
	})
	reg.Provide(svcExits, func(r *registry.Registry) (any, error) {
		bots, err := registry.Get[*lifecycle.Controller](r, svcBots)
		if err != nil {
			return nil, err
		}
		levels, err := registry.Get[*distribution.Levels](r, svcLevels)
		if err != nil {
			return nil, err
		}
		var progress retire.ProgressStore
		if opts.Store != nil {
			progress = opts.Store
		}
		return retire.New(opts.Retire, seams.Mutator, bots, levels, progress, opts.Publisher, opts.Metrics, opts.Clock), nil
	})
	reg.Provide(svcPipeline, func(r *registry.Registry) (any, error) {
		deps := pipeline.Deps{
			Levels:    registry.MustGet[*distribution.Levels](r, svcLevels),
			Sampler:   registry.MustGet[*distribution.Sampler](r, svcSampler),
			Gear:      registry.MustGet[*gear.Cache](r, svcGear),
			Talents:   registry.MustGet[*talent.Cache](r, svcTalents),
			Zones:     registry.MustGet[*zone.Cache](r, svcZones),
			Mutator:   seams.Mutator,
			Publisher: opts.Publisher,
			Metrics:   opts.Metrics,
			Log:       opts.Log,
			Clock:     opts.Clock,
		}
		// The hooks close over the engine; every field they touch is
		// assigned before Start runs the first DrainTick.
		return pipeline.New(opts.Pipeline, deps, pipeline.Hooks{
			OnApplied: e.handleApplied,
			OnFailed:  e.handleFailed,
		})
	})
	reg.Provide(svcFactory, func(r *registry.Registry) (any, error) {
		pipe, err := registry.Get[*pipeline.Pipeline](r, svcPipeline)
		if err != nil {
			return nil, err
		}
		bots, err := registry.Get[*lifecycle.Controller](r, svcBots)
		if err != nil {
			return nil, err
		}
		return queues.NewFactory(opts.Factory, pipe, bots, seams.Submitter, seams.Inspector, opts.Publisher, opts.Metrics, opts.Clock), nil
	})
	reg.Provide(svcPoller, func(r *registry.Registry) (any, error) {
		factory, err := registry.Get[*queues.Factory](r, svcFactory)
		if err != nil {
			return nil, err
		}
		poller := queues.NewPoller(seams.Inspector, opts.Publisher, opts.Metrics)
		poller.OnShortage(func(shortage queues.Shortage) {
			factory.HandleShortage(shortage)
		})
		return poller, nil
	})
	reg.Provide(svcPopulation, func(r *registry.Registry) (any, error) {
		bots := registry.MustGet[*lifecycle.Controller](r, svcBots)
		levels := registry.MustGet[*distribution.Levels](r, svcLevels)
		zones := registry.MustGet[*zone.Cache](r, svcZones)
		pipe, err := registry.Get[*pipeline.Pipeline](r, svcPipeline)
		if err != nil {
			return nil, err
		}
		exits, err := registry.Get[*retire.Handler](r, svcExits)
		if err != nil {
			return nil, err
		}
		return population.New(opts.Population, seams.Census, bots, levels, zones, pipe, exits, opts.Publisher, opts.Metrics), nil
	})
	reg.Provide(svcHealth, func(r *registry.Registry) (any, error) {
		bots := registry.MustGet[*lifecycle.Controller](r, svcBots)
		exits, err := registry.Get[*retire.Handler](r, svcExits)
		if err != nil {
			return nil, err
		}
		return health.New(opts.Health, bots, exits, opts.Publisher, opts.Metrics, opts.Log, opts.Clock), nil
	})

	if err := reg.StartAll(); err != nil {
		return nil, err
	}

	e.levels = registry.MustGet[*distribution.Levels](reg, svcLevels)
	e.bridge = registry.MustGet[*bridge.Bridge](reg, svcBridge)
	e.bots = registry.MustGet[*lifecycle.Controller](reg, svcBots)
	e.exits = registry.MustGet[*retire.Handler](reg, svcExits)
	e.pipe = registry.MustGet[*pipeline.Pipeline](reg, svcPipeline)
	e.factory = registry.MustGet[*queues.Factory](reg, svcFactory)
	e.poller = registry.MustGet[*queues.Poller](reg, svcPoller)
	e.pop = registry.MustGet[*population.Controller](reg, svcPopulation)
	e.monitor = registry.MustGet[*health.Monitor](reg, svcHealth)

	e.bridge.Subscribe(e.handleBridgeEvent)
	return e, nil
}

func validateSchedule(cfg Config) error {
	probe := cron.New()
	specs := []string{cfg.PopulationSpec, cfg.QueuePollSpec, cfg.RebalanceSpec, cfg.HealthSpec, cfg.PersistSpec}
	for _, spec := range specs {
		if spec == "" {
			continue
		}
		if _, err := probe.AddFunc(spec, func() {}); err != nil {
			return fmt.Errorf("engine: bad schedule spec %q: %w", spec, err)
		}
	}
	return nil
}
