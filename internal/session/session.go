// Package session orchestrates one live transcription session: audio in,
// recognition messages reconciled into the transcript, rendered frames and
// state changes fanned out to subscribers, snapshots persisted throughout.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/lt-engine/internal/audio"
	"github.com/snarg/lt-engine/internal/auth"
	"github.com/snarg/lt-engine/internal/forward"
	"github.com/snarg/lt-engine/internal/live"
	"github.com/snarg/lt-engine/internal/render"
	"github.com/snarg/lt-engine/internal/speech"
	"github.com/snarg/lt-engine/internal/storage"
	"github.com/snarg/lt-engine/internal/store"
	"github.com/snarg/lt-engine/internal/transcript"
)

// State is the session lifecycle state.
type State int

const (
	// Idle means no session is running.
	Idle State = iota
	// Initializing covers token fetch and the recognition handshake.
	Initializing
	// Active means recognition is running and audio is streaming.
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrActive is returned by Start while a session is already running.
var ErrActive = errors.New("session: already active")

// DefaultMaxReconnects bounds the recognition reconnect sub-flow.
const DefaultMaxReconnects = 3

// Recognizer is the recognition client surface the manager drives.
// *speech.Client satisfies it.
type Recognizer interface {
	Start(ctx context.Context, token string, cfg speech.Config) error
	SendAudio(frame []byte) error
	Stop()
}

// RecognizerFactory builds a fresh Recognizer for each connect attempt.
type RecognizerFactory func(opts speech.Options) Recognizer

// Info is the read-only session summary exposed over the API.
type Info struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	Paragraphs int       `json:"paragraphs"`
	Reconnects int       `json:"reconnects"`
	LastError  string    `json:"last_error,omitempty"`
}

// Options wires a Manager. Tokens, SpeechURL, and Store are required;
// Sink and Blobs are optional.
type Options struct {
	Tokens    auth.TokenSource
	SpeechURL string
	Config    speech.Config

	// NewRecognizer defaults to the real websocket client.
	NewRecognizer RecognizerFactory

	Bus   *live.Bus
	Sink  forward.Sink
	Store *store.Store
	Blobs storage.BlobStore

	// FrameInterval is the animation tick. Zero uses the renderer default.
	FrameInterval time.Duration

	// SnapshotInterval throttles snapshot writes. Zero uses the store
	// default.
	SnapshotInterval time.Duration

	MaxReconnects int

	// ReconnectDelay spaces recognition reconnect attempts.
	ReconnectDelay time.Duration

	Log zerolog.Logger
}

// Manager runs at most one session at a time.
type Manager struct {
	opts Options
	log  zerolog.Logger

	mu           sync.Mutex
	state        State
	sessionID    string
	startedAt    time.Time
	trans        transcript.Transcript
	translations []transcript.TranslationEntry
	recorded     []byte
	reconnects   int
	lastError    string
	stopping     bool
	fatal        bool

	client   Recognizer
	source   audio.Source
	renderer *render.Renderer
	writer   *store.Writer
	closed   chan struct{}
}

// NewManager creates an idle manager.
func NewManager(opts Options) *Manager {
	if opts.NewRecognizer == nil {
		opts.NewRecognizer = func(o speech.Options) Recognizer {
			return speech.NewClient(o)
		}
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = DefaultMaxReconnects
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = time.Second
	}
	return &Manager{
		opts: opts,
		log:  opts.Log.With().Str("component", "session").Logger(),
	}
}

// Start begins a new session fed by src. It returns once the recognition
// transport is open; the Active transition follows the service's
// RecognitionStarted message.
func (m *Manager) Start(ctx context.Context, src audio.Source) (string, error) {
	m.mu.Lock()
	if m.state != Idle {
		m.mu.Unlock()
		return "", ErrActive
	}
	id := uuid.NewString()
	m.state = Initializing
	m.sessionID = id
	m.startedAt = time.Now()
	m.trans = transcript.Transcript{}
	m.translations = nil
	m.recorded = nil
	m.reconnects = 0
	m.lastError = ""
	m.stopping = false
	m.fatal = false
	m.source = src
	m.closed = make(chan struct{})
	m.mu.Unlock()

	m.publishState(id, Initializing, "")

	if err := m.connect(ctx); err != nil {
		m.mu.Lock()
		m.state = Idle
		m.lastError = err.Error()
		m.mu.Unlock()
		m.publishState(id, Idle, err.Error())
		return "", err
	}

	renderer := render.NewRenderer(m.opts.FrameInterval, m.emitFrame, m.log)
	renderer.Start()
	writer := store.NewWriter(m.opts.Store, m.opts.SnapshotInterval, m.snapshot, m.log)

	m.mu.Lock()
	m.renderer = renderer
	m.writer = writer
	m.mu.Unlock()

	if err := src.Start(m.onFrame); err != nil {
		m.teardown(fmt.Errorf("session: audio source: %w", err))
		return "", err
	}

	m.log.Info().Str("session_id", id).Str("language", m.opts.Config.Language).Msg("Session starting")
	return id, nil
}

// connect fetches a fresh token and opens a recognition session with the
// unchanged Config. Used for both the initial connect and reconnects.
func (m *Manager) connect(ctx context.Context) error {
	token, err := m.opts.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("session: token: %w", err)
	}

	client := m.opts.NewRecognizer(speech.Options{
		URL:       m.opts.SpeechURL,
		OnMessage: m.onMessage,
		OnClosed:  m.onClosed,
		Log:       m.log,
	})
	if err := client.Start(ctx, token, m.opts.Config); err != nil {
		return err
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()
	return nil
}

// Stop ends the session cleanly: audio stops, the recognition service is
// told to flush, and the final state is persisted. Safe to call when idle.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	if m.state == Idle || m.stopping {
		m.mu.Unlock()
		return
	}
	m.stopping = true
	client := m.client
	source := m.source
	closed := m.closed
	m.mu.Unlock()

	if source != nil {
		source.Stop()
	}
	if client != nil {
		client.Stop()
	}

	// Wait briefly for the transcript tail to flush through the read loop.
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
	}
	m.teardown(nil)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Info returns the session summary.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := Info{
		ID:         m.sessionID,
		State:      m.state.String(),
		Paragraphs: len(m.trans.Paragraphs),
		Reconnects: m.reconnects,
		LastError:  m.lastError,
	}
	if m.state != Idle {
		info.StartedAt = m.startedAt
	}
	return info
}

// snapshot builds a self-contained copy of the session state. Fetched by
// the snapshot writer at flush time.
func (m *Manager) snapshot() store.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() store.Snapshot {
	snap := store.Snapshot{
		SessionID:  m.sessionID,
		Transcript: m.trans,
	}
	snap.Translations = append(snap.Translations, m.translations...)
	return snap
}

// onFrame receives one audio frame from the source goroutine.
func (m *Manager) onFrame(frame []byte) {
	m.mu.Lock()
	client := m.client
	if m.state != Idle && !m.stopping {
		m.recorded = append(m.recorded, frame...)
	} else {
		client = nil
	}
	m.mu.Unlock()

	if client == nil {
		return
	}
	if err := client.SendAudio(frame); err != nil {
		m.log.Debug().Err(err).Msg("Audio frame dropped")
	}
}
