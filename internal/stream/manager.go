// Package stream maintains the long-lived event stream to the backend:
// dialing, loss detection, bounded backoff reconnect, and best-effort
// sends. Application state never lives here — callers feed the manager
// messages and observe state changes.
package stream

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/snarg/lt-engine/internal/metrics"
)

// State is the connection lifecycle state.
type State int

const (
	// Closed - no transport. Initial state, and transient between a loss
	// and the next scheduled attempt.
	Closed State = iota
	// Connecting - dial in progress.
	Connecting
	// Open - transport established, sends allowed.
	Open
	// Error - retry budget exhausted. Terminal until the next manual
	// Connect; the caller must surface this rather than wait.
	Error
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// ErrNotOpen is returned by Send when the transport is not open. Messages
// are dropped, never queued; replay on reconnect is explicitly not offered.
var ErrNotOpen = errors.New("stream: transport not open")

// Conn is the subset of a websocket connection the manager needs.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer establishes transport connections. Injected so tests can run the
// full reconnect machinery without a network.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer dials with gorilla's default dialer.
type WebsocketDialer struct{}

func (WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Options configures a Manager.
type Options struct {
	URL        string
	Header     http.Header
	MaxRetries int           // consecutive failed attempts before Error (default 5)
	BaseDelay  time.Duration // backoff base (default 1s)
	MaxDelay   time.Duration // backoff cap (default 30s)
	Dialer     Dialer
	OnState    func(State)
	OnMessage  func([]byte)
	Log        zerolog.Logger
}

// Manager owns one backend stream. Transitions happen autonomously on
// transport events between Connect and Disconnect.
type Manager struct {
	opts Options

	mu         sync.Mutex
	state      State
	conn       Conn
	attempt    int
	retryTimer *time.Timer
	manual     bool // Disconnect called; suppress reconnect
	gen        int  // connection generation, stale read loops ignore events

	log zerolog.Logger
}

// NewManager creates a manager. Connect must be called to start.
func NewManager(opts Options) *Manager {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	return &Manager{
		opts: opts,
		log:  opts.Log.With().Str("component", "stream").Logger(),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts (or restarts) the stream. It resets the retry budget and
// clears a previous terminal Error.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.state == Connecting || m.state == Open {
		m.mu.Unlock()
		return
	}
	m.manual = false
	m.attempt = 0
	m.mu.Unlock()

	go m.dial()
}

// Disconnect tears the stream down from any state and cancels any pending
// retry. Nothing reconnects after Disconnect until the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	m.gen++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	conn := m.conn
	m.conn = nil
	changed := m.state != Closed
	m.state = Closed
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if changed {
		m.notify(Closed)
	}
}

// Send writes one JSON message, best effort. Returns ErrNotOpen when the
// transport is down; the caller decides whether that matters.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	conn := m.conn
	open := m.state == Open
	m.mu.Unlock()

	if !open || conn == nil {
		metrics.ForwardDroppedTotal.Inc()
		return ErrNotOpen
	}
	return conn.WriteJSON(v)
}

func (m *Manager) dial() {
	m.mu.Lock()
	if m.manual {
		m.mu.Unlock()
		return
	}
	m.state = Connecting
	gen := m.gen
	m.mu.Unlock()
	m.notify(Connecting)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, err := m.opts.Dialer.Dial(ctx, m.opts.URL, m.opts.Header)
	cancel()

	m.mu.Lock()
	if m.manual || gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.log.Warn().Err(err).Str("url", m.opts.URL).Msg("dial failed")
		m.handleLoss()
		return
	}

	m.conn = conn
	m.state = Open
	m.attempt = 0
	m.mu.Unlock()

	metrics.StreamConnectsTotal.Inc()
	m.log.Info().Str("url", m.opts.URL).Msg("stream connected")
	m.notify(Open)

	go m.readLoop(conn, gen)
}

func (m *Manager) readLoop(conn Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			stale := m.manual || gen != m.gen
			if !stale {
				m.conn = nil
				m.state = Closed
			}
			m.mu.Unlock()
			conn.Close()

			if stale {
				return
			}
			m.log.Warn().Err(err).Msg("stream lost")
			m.notify(Closed)
			m.handleLoss()
			return
		}
		if m.opts.OnMessage != nil {
			m.opts.OnMessage(data)
		}
	}
}

// handleLoss schedules the next attempt or gives up after the retry cap.
func (m *Manager) handleLoss() {
	m.mu.Lock()
	if m.manual {
		m.mu.Unlock()
		return
	}
	m.attempt++
	if m.attempt > m.opts.MaxRetries {
		m.state = Error
		m.mu.Unlock()
		m.log.Error().Int("attempts", m.opts.MaxRetries).Msg("stream retry budget exhausted")
		m.notify(Error)
		return
	}

	delay := m.backoff(m.attempt)
	m.log.Info().Int("attempt", m.attempt).Dur("delay", delay).Msg("scheduling reconnect")
	metrics.StreamReconnectsTotal.Inc()
	m.retryTimer = time.AfterFunc(delay, m.dial)
	m.mu.Unlock()
}

// backoff computes the attempt delay: exponential with jitter, capped.
// Jitter spreads simultaneous clients so they don't reconnect in lockstep.
func (m *Manager) backoff(attempt int) time.Duration {
	d := m.opts.BaseDelay << uint(attempt-1)
	if d > m.opts.MaxDelay || d <= 0 {
		d = m.opts.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(m.opts.BaseDelay)/4 + 1))
	if d+jitter > m.opts.MaxDelay {
		return m.opts.MaxDelay
	}
	return d + jitter
}

func (m *Manager) notify(s State) {
	if m.opts.OnState != nil {
		m.opts.OnState(s)
	}
}
