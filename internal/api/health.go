package api

import (
	"net/http"
	"time"

	"github.com/snarg/lt-engine/internal/session"
	"github.com/snarg/lt-engine/internal/stream"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Session       *session.Info     `json:"session,omitempty"`
}

// HealthChecker is the snapshot store's health surface.
type HealthChecker interface {
	Health() error
}

// StreamStatus reports the downstream connection state.
type StreamStatus interface {
	State() stream.State
}

// MQTTStatus reports the MQTT sink state.
type MQTTStatus interface {
	IsConnected() bool
}

// SessionStatus reports the current session.
type SessionStatus interface {
	Info() session.Info
}

type HealthHandler struct {
	store     HealthChecker
	sess      SessionStatus
	stream    StreamStatus
	mqtt      MQTTStatus
	version   string
	startTime time.Time
}

func NewHealthHandler(store HealthChecker, sess SessionStatus, stream StreamStatus, mqtt MQTTStatus, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		store:     store,
		sess:      sess,
		stream:    stream,
		mqtt:      mqtt,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Snapshot store check
	if err := h.store.Health(); err != nil {
		checks["store"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	// Downstream stream check
	if h.stream != nil {
		switch h.stream.State() {
		case stream.Open:
			checks["stream"] = "ok"
		case stream.Error:
			checks["stream"] = "error"
			if status == "healthy" {
				status = "degraded"
			}
		default:
			checks["stream"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["stream"] = "not_configured"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}

	if h.sess != nil {
		info := h.sess.Info()
		checks["session"] = info.State
		resp.Session = &info
	}

	WriteJSON(w, httpStatus, resp)
}
