// Package forward pushes live session updates to downstream consumers.
// Delivery is best effort: a sink that cannot deliver drops the update
// and counts it, it never blocks or fails the session.
package forward

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/snarg/lt-engine/internal/metrics"
	"github.com/snarg/lt-engine/internal/stream"
)

// Update is the envelope forwarded for every session change.
type Update struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Payload   any    `json:"payload,omitempty"`
}

// Update types.
const (
	UpdateTranscript  = "transcript"
	UpdateTranslation = "translation"
	UpdateSessionEnd  = "session_end"
)

// TranscriptPayload carries one confirmed recognition result. Only the
// event's own metadata goes downstream, never the accumulated paragraph.
type TranscriptPayload struct {
	Speaker    string  `json:"speaker"`
	Transcript string  `json:"transcript"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
}

// Sink delivers updates downstream.
type Sink interface {
	Forward(u Update) error
	Close()
}

// StreamSink forwards updates over a managed websocket connection.
type StreamSink struct {
	mgr *stream.Manager
	log zerolog.Logger
}

// NewStreamSink wraps an already-configured connection manager. The
// caller owns the manager's Connect/Disconnect lifecycle.
func NewStreamSink(mgr *stream.Manager, log zerolog.Logger) *StreamSink {
	return &StreamSink{
		mgr: mgr,
		log: log.With().Str("component", "stream_sink").Logger(),
	}
}

// Forward sends the update if the connection is open. Updates while the
// connection is down are dropped.
func (s *StreamSink) Forward(u Update) error {
	err := s.mgr.Send(u)
	if errors.Is(err, stream.ErrNotOpen) {
		s.log.Debug().Str("type", u.Type).Msg("Connection not open, update dropped")
		return nil
	}
	return err
}

func (s *StreamSink) Close() {
	s.mgr.Disconnect()
}

// Tee fans an update out to several sinks. A failing sink logs and does
// not stop the others.
type Tee struct {
	sinks []Sink
	log   zerolog.Logger
}

func NewTee(log zerolog.Logger, sinks ...Sink) *Tee {
	return &Tee{
		sinks: sinks,
		log:   log.With().Str("component", "forward_tee").Logger(),
	}
}

func (t *Tee) Forward(u Update) error {
	for _, s := range t.sinks {
		if err := s.Forward(u); err != nil {
			metrics.ForwardDroppedTotal.Inc()
			t.log.Warn().Err(err).Str("type", u.Type).Msg("Sink delivery failed")
		}
	}
	return nil
}

func (t *Tee) Close() {
	for _, s := range t.sinks {
		s.Close()
	}
}

func marshalUpdate(u Update) ([]byte, error) {
	return json.Marshal(u)
}
