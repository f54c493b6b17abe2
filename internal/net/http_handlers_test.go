package net

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bothive/engine/internal/engine"
)

type fakeSource struct {
	calls atomic.Int64
	live  int
}

func (f *fakeSource) Status() engine.Status {
	f.calls.Add(1)
	return engine.Status{
		Time: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Tick: 42,
		Live: f.live,
		States: map[string]int{
			"ACTIVE": f.live,
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := NewHTTPHandler(&fakeSource{}, HTTPHandlerConfig{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if body := resp.Body.String(); body != "ok" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestStatusEndpointReportsEngineState(t *testing.T) {
	src := &fakeSource{live: 7}
	handler := NewHTTPHandler(src, HTTPHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if contentType := resp.Header().Get("Content-Type"); contentType != "application/json" {
		t.Fatalf("unexpected content type %q", contentType)
	}
	var status engine.Status
	if err := json.Unmarshal(resp.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Tick != 42 || status.Live != 7 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.States["ACTIVE"] != 7 {
		t.Fatalf("states lost in transit: %+v", status.States)
	}
}

func TestStatusEndpointCachesWithinTTL(t *testing.T) {
	src := &fakeSource{live: 3}
	handler := NewHTTPHandler(src, HTTPHandlerConfig{StatusTTL: time.Hour})

	for i := 0; i < 5; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/status", nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, resp.Code)
		}
	}
	if calls := src.calls.Load(); calls != 1 {
		t.Fatalf("expected 1 source call under TTL, got %d", calls)
	}
}

func TestStatusEndpointRejectsPost(t *testing.T) {
	handler := NewHTTPHandler(&fakeSource{}, HTTPHandlerConfig{})
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/status", nil))
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}

func TestWebsocketFeedStreamsStatus(t *testing.T) {
	src := &fakeSource{live: 4}
	server := httptest.NewServer(NewHTTPHandler(src, HTTPHandlerConfig{
		FeedInterval: 20 * time.Millisecond,
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 2; i++ {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		var status engine.Status
		if err := json.Unmarshal(frame, &status); err != nil {
			t.Fatalf("frame %d decode: %v", i, err)
		}
		if status.Live != 4 {
			t.Fatalf("frame %d: unexpected status %+v", i, status)
		}
	}
}
