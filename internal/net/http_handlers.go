// Package net serves the operator surface: a JSON status report and a
// websocket feed streaming the same report on an interval.
package net

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/websocket"

	"bothive/engine/internal/engine"
	"bothive/engine/internal/querycache"
	"bothive/engine/logging"
)

// StatusSource yields the current engine report.
type StatusSource interface {
	Status() engine.Status
}

// HTTPHandlerConfig tunes the operator endpoints.
type HTTPHandlerConfig struct {
	// StatusTTL caches the rendered report; bursts of polling cost one
	// Status() call per window.
	StatusTTL time.Duration
	// FeedInterval is the websocket frame cadence.
	FeedInterval time.Duration
	WriteTimeout time.Duration
	// EnablePprof mounts the runtime profiling endpoints under /debug.
	EnablePprof bool
	Logger      *log.Logger
	Clock       logging.Clock
}

const statusCacheKey = "status"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*nethttp.Request) bool { return true },
}

// NewHTTPHandler builds the operator mux.
func NewHTTPHandler(src StatusSource, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = time.Second
	}
	if cfg.FeedInterval <= 0 {
		cfg.FeedInterval = time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	cache := querycache.New(16, cfg.StatusTTL, cfg.Clock)

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/status", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			nethttp.Error(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		body, err := renderStatus(cache, src)
		if err != nil {
			logger.Printf("status: encode failed: %v", err)
			nethttp.Error(w, "internal error", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	})

	mux.HandleFunc("/ws", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Printf("ws: upgrade failed: %v", err)
			return
		}
		go serveFeed(conn, src, cache, cfg, logger)
	})

	if cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

func renderStatus(cache *querycache.Cache, src StatusSource) ([]byte, error) {
	if cached, ok := cache.Get(statusCacheKey); ok {
		return cached.([]byte), nil
	}
	body, err := json.Marshal(src.Status())
	if err != nil {
		return nil, err
	}
	cache.Put(statusCacheKey, body)
	return body, nil
}

// serveFeed pushes status frames until the peer goes away. A read pump
// discards inbound messages so pings and close frames are processed.
func serveFeed(conn *websocket.Conn, src StatusSource, cache *querycache.Cache, cfg HTTPHandlerConfig, logger *log.Logger) {
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(cfg.FeedInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			body, err := renderStatus(cache, src)
			if err != nil {
				logger.Printf("ws: encode failed: %v", err)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		}
	}
}
