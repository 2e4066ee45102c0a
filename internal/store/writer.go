package store

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/lt-engine/internal/metrics"
)

// DefaultWriteInterval throttles snapshot writes during an active session.
const DefaultWriteInterval = 2 * time.Second

// Writer coalesces snapshot writes. Callers mark the session dirty as
// often as they like; the writer persists at most once per interval,
// fetching the latest state at fire time so intermediate states are
// skipped rather than queued. Stop performs a final flush.
type Writer struct {
	store    *Store
	fetch    func() Snapshot
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	dirty   bool
	timer   *time.Timer
	stopped bool
}

// NewWriter creates an idle writer. fetch must return a self-contained
// copy of the current session state; it is called from the writer's
// timer goroutine.
func NewWriter(s *Store, interval time.Duration, fetch func() Snapshot, log zerolog.Logger) *Writer {
	if interval <= 0 {
		interval = DefaultWriteInterval
	}
	return &Writer{
		store:    s,
		fetch:    fetch,
		interval: interval,
		log:      log.With().Str("component", "snapshot_writer").Logger(),
	}
}

// Mark records that the session state changed. The first mark after a
// flush arms the timer; further marks within the interval coalesce.
func (w *Writer) Mark() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.dirty {
		return
	}
	w.dirty = true
	w.timer = time.AfterFunc(w.interval, w.fire)
}

func (w *Writer) fire() {
	w.mu.Lock()
	if !w.dirty || w.stopped {
		w.mu.Unlock()
		return
	}
	w.dirty = false
	w.mu.Unlock()
	w.flush()
}

// Stop cancels the pending timer and flushes any unwritten state.
func (w *Writer) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	dirty := w.dirty
	w.dirty = false
	w.mu.Unlock()
	if dirty {
		w.flush()
	}
}

func (w *Writer) flush() {
	snap := w.fetch()
	snap.Timestamp = time.Now().UnixMilli()
	if err := w.store.Put(snap); err != nil {
		w.log.Error().Err(err).Str("session_id", snap.SessionID).Msg("Snapshot write failed")
		return
	}
	metrics.SnapshotsWrittenTotal.Inc()
	w.log.Debug().Str("session_id", snap.SessionID).Msg("Snapshot written")
}
