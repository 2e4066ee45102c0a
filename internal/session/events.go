package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/snarg/lt-engine/internal/forward"
	"github.com/snarg/lt-engine/internal/live"
	"github.com/snarg/lt-engine/internal/metrics"
	"github.com/snarg/lt-engine/internal/render"
	"github.com/snarg/lt-engine/internal/speech"
	"github.com/snarg/lt-engine/internal/storage"
	"github.com/snarg/lt-engine/internal/transcript"
)

// onMessage handles one decoded recognition message. Delivery is
// serialized by the speech client, so state mutations here only race
// with the API surface, which the mutex covers.
func (m *Manager) onMessage(msg speech.Message) {
	switch msg.Message {
	case speech.MsgRecognitionStarted:
		m.mu.Lock()
		id := m.sessionID
		transition := m.state == Initializing
		if transition {
			m.state = Active
		}
		m.mu.Unlock()
		if transition {
			m.log.Info().Str("session_id", id).Msg("Recognition started")
			m.publishState(id, Active, "")
		}

	case speech.MsgAddTranscript:
		m.applyTranscript(msg, true)

	case speech.MsgAddPartialTranscript:
		m.applyTranscript(msg, false)

	case speech.MsgAddTranslation:
		m.applyTranslation(msg, true)

	case speech.MsgAddPartialTranslation:
		m.applyTranslation(msg, false)

	case speech.MsgError:
		reason := rephraseError(msg.Type, msg.Reason)
		m.log.Error().Str("type", msg.Type).Str("reason", msg.Reason).Msg("Recognition service error")
		m.mu.Lock()
		m.lastError = reason
		m.fatal = true
		m.mu.Unlock()

	case speech.MsgWarning:
		m.log.Warn().Str("type", msg.Type).Str("reason", msg.Reason).Msg("Recognition service warning")

	case speech.MsgAudioAdded, speech.MsgInfo, speech.MsgEndOfTranscript:
		// AudioAdded acks are uninteresting; EndOfTranscript is handled by
		// the client's close path.
	}
}

func (m *Manager) applyTranscript(msg speech.Message, final bool) {
	// Reconciliation drops whitespace-only events; skip them up front so
	// they don't re-render or re-forward an unchanged paragraph.
	if msg.Metadata == nil || strings.TrimSpace(msg.Metadata.Transcript) == "" {
		return
	}
	ev := transcript.Event{
		Speaker:   msg.Speaker(),
		Text:      msg.Metadata.Transcript,
		StartTime: msg.Metadata.StartTime,
		EndTime:   msg.Metadata.EndTime,
	}

	m.mu.Lock()
	if m.state != Active && m.state != Initializing {
		m.mu.Unlock()
		return
	}
	if final {
		m.trans = transcript.ApplyFinal(m.trans, ev)
	} else {
		m.trans = transcript.ApplyPartial(m.trans, ev)
	}
	id := m.sessionID
	p, ok := latestForSpeaker(m.trans, ev.Speaker)
	renderer := m.renderer
	writer := m.writer
	m.mu.Unlock()

	if !ok {
		return
	}
	text, complete := paragraphText(p)
	if renderer != nil {
		renderer.Update(paragraphNode(p.ID), text, complete)
	}
	if m.opts.Bus != nil {
		m.opts.Bus.Publish(live.TypeTranscript, id, p)
	}
	if final {
		m.forwardUpdate(forward.Update{Type: forward.UpdateTranscript, SessionID: id, Payload: forward.TranscriptPayload{
			Speaker:    ev.Speaker,
			Transcript: ev.Text,
			StartTime:  ev.StartTime,
			EndTime:    ev.EndTime,
		}})
	}
	if writer != nil {
		writer.Mark()
	}
}

func (m *Manager) applyTranslation(msg speech.Message, final bool) {
	content, speaker, startTime, ok := msg.TranslationResult()
	if !ok {
		return
	}
	ev := transcript.Event{Speaker: speaker, Text: content, StartTime: startTime}

	m.mu.Lock()
	if m.state != Active && m.state != Initializing {
		m.mu.Unlock()
		return
	}
	m.translations = transcript.ApplyTranslation(m.translations, ev, final)
	id := m.sessionID
	entry, ok := latestTranslation(m.translations, transcript.TranslationID(speaker, startTime), final)
	renderer := m.renderer
	writer := m.writer
	m.mu.Unlock()

	if !ok {
		return
	}
	if renderer != nil {
		renderer.Update(translationNode(entry.ID), entry.Content, !entry.IsPartial)
	}
	if m.opts.Bus != nil {
		m.opts.Bus.Publish(live.TypeTranslation, id, entry)
	}
	if final {
		m.forwardUpdate(forward.Update{Type: forward.UpdateTranslation, SessionID: id, Payload: entry})
	}
	if writer != nil {
		writer.Mark()
	}
}

// onClosed handles the end of one recognition transport. A clean close
// finishes the session; a loss enters the reconnect sub-flow with a fresh
// token and the unchanged recognition config.
func (m *Manager) onClosed(err error) {
	m.mu.Lock()
	stopping := m.stopping
	fatal := m.fatal
	idle := m.state == Idle
	if err == nil && m.closed != nil {
		select {
		case <-m.closed:
		default:
			close(m.closed)
		}
	}
	m.mu.Unlock()

	if idle {
		return
	}
	if err == nil {
		if !stopping {
			// Service ended the session on its own terms.
			m.teardown(nil)
		}
		return
	}
	if stopping {
		return
	}
	if fatal {
		m.teardown(nil) // lastError already carries the rephrased cause
		return
	}
	m.reconnect(err)
}

func (m *Manager) reconnect(cause error) {
	m.mu.Lock()
	if m.reconnects >= m.opts.MaxReconnects {
		m.mu.Unlock()
		m.teardown(fmt.Errorf("session: recognition lost after %d reconnects: %w", m.opts.MaxReconnects, cause))
		return
	}
	m.reconnects++
	attempt := m.reconnects
	delay := m.opts.ReconnectDelay
	m.mu.Unlock()

	metrics.SessionReconnectsTotal.Inc()
	m.log.Warn().Err(cause).Int("attempt", attempt).Msg("Recognition transport lost, reconnecting")

	if delay > 0 {
		time.Sleep(delay)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.connect(ctx); err != nil {
		m.onClosed(fmt.Errorf("session: reconnect %d: %w", attempt, err))
	}
}

// teardown finishes the session: stops the pipeline, persists the final
// snapshot and recorded audio, and reports the Idle transition. Safe to
// call more than once.
func (m *Manager) teardown(err error) {
	m.mu.Lock()
	if m.state == Idle {
		m.mu.Unlock()
		return
	}
	m.state = Idle
	if err != nil {
		m.lastError = err.Error()
	}
	id := m.sessionID
	errMsg := m.lastError
	renderer := m.renderer
	m.renderer = nil
	writer := m.writer
	m.writer = nil
	source := m.source
	m.source = nil
	m.client = nil
	m.fatal = false
	recorded := m.recorded
	m.recorded = nil
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if source != nil {
		source.Stop()
	}
	if renderer != nil {
		renderer.Stop()
	}
	if writer != nil {
		writer.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if m.opts.Blobs != nil && len(recorded) > 0 {
		key := storage.SessionAudioKey(id, time.Now())
		if saveErr := m.opts.Blobs.Save(ctx, key, recorded, "application/octet-stream"); saveErr != nil {
			m.log.Error().Err(saveErr).Str("session_id", id).Msg("Audio blob write failed")
		} else {
			snap.AudioKey = key
		}
	}

	snap.Timestamp = time.Now().UnixMilli()
	if putErr := m.opts.Store.Put(snap); putErr != nil {
		m.log.Error().Err(putErr).Str("session_id", id).Msg("Final snapshot write failed")
	} else {
		metrics.SnapshotsWrittenTotal.Inc()
	}

	if errMsg != "" {
		m.log.Error().Str("session_id", id).Str("error", errMsg).Msg("Session ended with error")
	} else {
		m.log.Info().Str("session_id", id).Int("paragraphs", len(snap.Transcript.Paragraphs)).Msg("Session ended")
	}
	m.publishState(id, Idle, errMsg)
	m.forwardUpdate(forward.Update{Type: forward.UpdateSessionEnd, SessionID: id})
}

func (m *Manager) publishState(id string, s State, errMsg string) {
	if m.opts.Bus == nil {
		return
	}
	payload := map[string]string{"state": s.String()}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	m.opts.Bus.Publish(live.TypeSession, id, payload)
}

func (m *Manager) forwardUpdate(u forward.Update) {
	if m.opts.Sink == nil {
		return
	}
	if err := m.opts.Sink.Forward(u); err != nil {
		metrics.ForwardDroppedTotal.Inc()
		m.log.Debug().Err(err).Str("type", u.Type).Msg("Forward failed")
	}
}

// emitFrame receives rendered frames from the renderer goroutine.
func (m *Manager) emitFrame(f render.Frame) {
	m.mu.Lock()
	id := m.sessionID
	m.mu.Unlock()
	metrics.FramesPublishedTotal.Inc()
	if m.opts.Bus != nil {
		m.opts.Bus.Publish(live.TypeFrame, id, f)
	}
}

func paragraphNode(id int) string { return fmt.Sprintf("paragraph/%d", id) }

func translationNode(id string) string { return "translation/" + id }

// paragraphText composes a paragraph's display text. complete is true
// when nothing provisional is pending, letting the renderer snap.
func paragraphText(p transcript.Paragraph) (text string, complete bool) {
	confirmed := p.ConfirmedText()
	partial := p.VisiblePartial()
	if partial == "" {
		return confirmed, true
	}
	if confirmed == "" {
		return partial, false
	}
	if strings.HasSuffix(confirmed, " ") {
		return confirmed + partial, false
	}
	return confirmed + " " + partial, false
}

// latestForSpeaker returns the speaker's most recent paragraph.
func latestForSpeaker(t transcript.Transcript, speaker string) (transcript.Paragraph, bool) {
	for i := len(t.Paragraphs) - 1; i >= 0; i-- {
		if t.Paragraphs[i].Speaker == speaker {
			return t.Paragraphs[i], true
		}
	}
	return transcript.Paragraph{}, false
}

// latestTranslation locates the entry just touched by a translation event.
// Finals match by id; partials live in the single provisional slot.
func latestTranslation(entries []transcript.TranslationEntry, id string, final bool) (transcript.TranslationEntry, bool) {
	if !final {
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].IsPartial {
				return entries[i], true
			}
		}
		return transcript.TranslationEntry{}, false
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].ID == id {
			return entries[i], true
		}
	}
	return transcript.TranslationEntry{}, false
}

// rephraseError turns service error codes into operator-facing language.
func rephraseError(errType, reason string) string {
	switch errType {
	case "not_authorised", "invalid_jwt", "permission_denied":
		return "authentication with the recognition service failed"
	case "quota_exceeded", "insufficient_funds":
		return "recognition quota exceeded"
	case "data_error", "unsupported_audio_type", "invalid_audio_type":
		return "the audio stream was rejected by the recognition service"
	case "internal_error", "job_error":
		return "the recognition service reported an internal error"
	}
	if reason != "" {
		return "recognition error: " + reason
	}
	if errType != "" {
		return "recognition error: " + errType
	}
	return "recognition error"
}
