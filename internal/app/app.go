// Package app is the process entrypoint: it loads configuration, wires
// the logging router, opens the store, composes the engine against the
// injected host seams and serves the operator endpoints until the context
// is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"bothive/engine/internal/config"
	"bothive/engine/internal/engine"
	servernet "bothive/engine/internal/net"
	"bothive/engine/internal/store"
	"bothive/engine/internal/telemetry"
	"bothive/engine/logging"
	loggingSinks "bothive/engine/logging/sinks"
)

// Config carries what the caller must inject: the host seams and, for
// tests, overrides for the ambient pieces.
type Config struct {
	// Seams are the host collaborators the engine runs against.
	Seams engine.Host
	// EnvFile optionally seeds the environment, godotenv-style.
	EnvFile string
	Logger  telemetry.Logger
	// ListenAddr overrides the configured address when non-empty.
	ListenAddr string
}

// Run blocks until ctx is cancelled or the server fails.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	cs, err := config.NewStore(engine.ConfigDefaults(), cfg.EnvFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	router, closeRouter, err := buildRouter(cs, telemetryLogger)
	if err != nil {
		return err
	}
	defer closeRouter()

	catalog, err := config.LoadCatalog(cs.GetString("engine.catalog_path", ""))
	if err != nil {
		return err
	}

	storeCfg := store.DefaultConfig()
	storeCfg.Path = cs.GetString("engine.db_path", storeCfg.Path)
	db, err := store.Open(storeCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	metrics := logging.NewMetrics()
	opts := engine.OptionsFromConfig(cs)
	opts.Catalog = catalog
	opts.Store = db
	opts.Publisher = router
	opts.Metrics = telemetry.WrapMetrics(metrics)
	opts.Log = telemetryLogger

	eng, err := engine.New(opts, cfg.Seams)
	if err != nil {
		return fmt.Errorf("failed to compose engine: %w", err)
	}
	if err := eng.Start(); err != nil {
		return err
	}
	defer eng.Stop()

	addr := cfg.ListenAddr
	if addr == "" {
		addr = cs.GetString("engine.listen_addr", ":8780")
	}
	handler := servernet.NewHTTPHandler(eng, servernet.HTTPHandlerConfig{
		EnablePprof: cs.GetBool("net.enable_pprof", false),
		Logger:      log.Default(),
	})
	srv := &http.Server{Addr: addr, Handler: handler}
	telemetryLogger.Printf("operator endpoints listening on %s", addr)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildRouter assembles the async logging router from configuration. The
// console sink is always on; a JSON sink is added when a file path is set.
func buildRouter(cs *config.Store, logger telemetry.Logger) (*logging.Router, func(), error) {
	logConfig := logging.DefaultConfig()
	logConfig.Console.UseColor = cs.GetBool("logging.use_color", false)

	sinks := map[string]logging.Sink{
		"console": loggingSinks.NewConsole(os.Stdout),
	}
	var jsonFile *os.File
	if path := cs.GetString("logging.json_path", ""); path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		jsonFile = file
		sinks["json"] = loggingSinks.NewJSON(file, logConfig.JSON.FlushInterval)
		logConfig.EnabledSinks = append(logConfig.EnabledSinks, "json")
	}

	router, err := logging.NewRouter(logConfig, logging.SystemClock{}, log.Default(), sinks)
	if err != nil {
		if jsonFile != nil {
			jsonFile.Close()
		}
		return nil, nil, fmt.Errorf("failed to construct logging router: %w", err)
	}
	closer := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if cerr := router.Close(ctx); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
		if jsonFile != nil {
			jsonFile.Close()
		}
	}
	return router, closer, nil
}
