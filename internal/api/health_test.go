package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/snarg/lt-engine/internal/session"
	"github.com/snarg/lt-engine/internal/stream"
)

type fakeHealth struct{ err error }

func (f *fakeHealth) Health() error { return f.err }

type fakeStream struct{ state stream.State }

func (f *fakeStream) State() stream.State { return f.state }

type fakeMQTT struct{ connected bool }

func (f *fakeMQTT) IsConnected() bool { return f.connected }

type fakeStatus struct{ info session.Info }

func (f *fakeStatus) Info() session.Info { return f.info }

func serveHealth(t *testing.T, h *HealthHandler) (int, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	return rec.Code, resp
}

func TestHealthHandler(t *testing.T) {
	start := time.Now().Add(-time.Minute)

	t.Run("all_ok_is_healthy", func(t *testing.T) {
		h := NewHealthHandler(&fakeHealth{}, &fakeStatus{info: session.Info{State: "idle"}},
			&fakeStream{state: stream.Open}, &fakeMQTT{connected: true}, "1.2.3", start)
		code, resp := serveHealth(t, h)
		if code != http.StatusOK {
			t.Fatalf("status = %d, want 200", code)
		}
		if resp.Status != "healthy" {
			t.Errorf("status = %q, want healthy", resp.Status)
		}
		if resp.Version != "1.2.3" {
			t.Errorf("version = %q", resp.Version)
		}
		if resp.UptimeSeconds < 59 {
			t.Errorf("uptime = %d, want >= 59", resp.UptimeSeconds)
		}
		if resp.Checks["store"] != "ok" || resp.Checks["stream"] != "ok" || resp.Checks["mqtt"] != "ok" {
			t.Errorf("checks = %v", resp.Checks)
		}
	})

	t.Run("store_failure_is_unhealthy", func(t *testing.T) {
		h := NewHealthHandler(&fakeHealth{err: errors.New("db closed")}, &fakeStatus{},
			&fakeStream{state: stream.Open}, &fakeMQTT{connected: true}, "dev", start)
		code, resp := serveHealth(t, h)
		if code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", code)
		}
		if resp.Status != "unhealthy" || resp.Checks["store"] != "error" {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("stream_error_degrades", func(t *testing.T) {
		h := NewHealthHandler(&fakeHealth{}, &fakeStatus{},
			&fakeStream{state: stream.Error}, &fakeMQTT{connected: true}, "dev", start)
		code, resp := serveHealth(t, h)
		if code != http.StatusOK {
			t.Fatalf("status = %d, want 200", code)
		}
		if resp.Status != "degraded" || resp.Checks["stream"] != "error" {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("stream_closed_degrades", func(t *testing.T) {
		h := NewHealthHandler(&fakeHealth{}, &fakeStatus{},
			&fakeStream{state: stream.Closed}, &fakeMQTT{connected: true}, "dev", start)
		_, resp := serveHealth(t, h)
		if resp.Status != "degraded" || resp.Checks["stream"] != "disconnected" {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("mqtt_disconnected_degrades", func(t *testing.T) {
		h := NewHealthHandler(&fakeHealth{}, &fakeStatus{},
			&fakeStream{state: stream.Open}, &fakeMQTT{connected: false}, "dev", start)
		_, resp := serveHealth(t, h)
		if resp.Status != "degraded" || resp.Checks["mqtt"] != "disconnected" {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("nil_deps_are_not_configured", func(t *testing.T) {
		h := NewHealthHandler(&fakeHealth{}, nil, nil, nil, "dev", start)
		code, resp := serveHealth(t, h)
		if code != http.StatusOK {
			t.Fatalf("status = %d, want 200", code)
		}
		if resp.Status != "healthy" {
			t.Errorf("status = %q", resp.Status)
		}
		if resp.Checks["stream"] != "not_configured" || resp.Checks["mqtt"] != "not_configured" {
			t.Errorf("checks = %v", resp.Checks)
		}
		if resp.Session != nil {
			t.Error("session reported without a session status")
		}
	})

	t.Run("session_info_included", func(t *testing.T) {
		info := session.Info{ID: "sess-1", State: "active", Paragraphs: 3}
		h := NewHealthHandler(&fakeHealth{}, &fakeStatus{info: info},
			&fakeStream{state: stream.Open}, &fakeMQTT{connected: true}, "dev", start)
		_, resp := serveHealth(t, h)
		if resp.Session == nil || resp.Session.ID != "sess-1" {
			t.Fatalf("session = %+v", resp.Session)
		}
		if resp.Checks["session"] != "active" {
			t.Errorf("session check = %q", resp.Checks["session"])
		}
	})
}
