package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/lt-engine/internal/session"
	"github.com/snarg/lt-engine/internal/store"
)

// SessionController starts and stops the engine's single live session.
type SessionController interface {
	SessionStatus
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context)
}

// SnapshotReader is the read side of the snapshot store.
type SnapshotReader interface {
	Get(sessionID string) (store.Snapshot, error)
	Delete(sessionID string) error
	List() ([]string, error)
}

type SessionsHandler struct {
	ctrl  SessionController
	snaps SnapshotReader
}

func NewSessionsHandler(ctrl SessionController, snaps SnapshotReader) *SessionsHandler {
	return &SessionsHandler{ctrl: ctrl, snaps: snaps}
}

// SessionSummary is one row of the session list.
type SessionSummary struct {
	SessionID  string `json:"session_id"`
	Paragraphs int    `json:"paragraphs"`
	Timestamp  int64  `json:"timestamp"`
	AudioKey   string `json:"audio_key,omitempty"`
}

func (h *SessionsHandler) Current(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.ctrl.Info())
}

func (h *SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, err := h.ctrl.Start(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrActive) {
			WriteError(w, http.StatusConflict, "a session is already active")
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("session start failed")
		WriteErrorDetail(w, http.StatusBadGateway, "session start failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (h *SessionsHandler) StopCurrent(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Stop(r.Context())
	WriteJSON(w, http.StatusOK, h.ctrl.Info())
}

func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	ids, err := h.snaps.List()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "snapshot listing failed")
		return
	}
	summaries := make([]SessionSummary, 0, len(ids))
	for _, id := range ids {
		snap, err := h.snaps.Get(id)
		if err != nil {
			continue // deleted between List and Get
		}
		summaries = append(summaries, SessionSummary{
			SessionID:  snap.SessionID,
			Paragraphs: len(snap.Transcript.Paragraphs),
			Timestamp:  snap.Timestamp,
			AudioKey:   snap.AudioKey,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.snaps.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "session not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "snapshot read failed")
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

// Transcript serves the rendered transcript as plain text.
func (h *SessionsHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.snaps.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "session not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "snapshot read failed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, snap.Transcript.Render())
}

func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.snaps.Delete(id); err != nil {
		WriteError(w, http.StatusInternalServerError, "snapshot delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Routes registers session routes on the given router.
func (h *SessionsHandler) Routes(r chi.Router) {
	r.Get("/session", h.Current)
	r.Post("/session/start", h.Start)
	r.Post("/session/stop", h.StopCurrent)
	r.Get("/sessions", h.List)
	r.Get("/sessions/{id}", h.Get)
	r.Get("/sessions/{id}/transcript", h.Transcript)
	r.Delete("/sessions/{id}", h.Delete)
}
