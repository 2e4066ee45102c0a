package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeConn is a scriptable Conn. ReadMessage blocks until the test closes
// the connection, then returns an error, mimicking a dropped transport.
type fakeConn struct {
	mu     sync.Mutex
	wrote  []any
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wrote = append(c.wrote, v)
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("connection dropped")
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer fails the first failures dials, then hands out fake conns.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failures {
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// stateRecorder collects state transitions and lets tests wait for one.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{}
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) saw(want State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == want {
			return true
		}
	}
	return false
}

func (r *stateRecorder) waitFor(t *testing.T, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.saw(want) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Fatalf("timed out waiting for state %v, saw %v", want, r.states)
}

func newTestManager(d Dialer, rec *stateRecorder, maxRetries int) *Manager {
	return NewManager(Options{
		URL:        "ws://test/stream",
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Dialer:     d,
		OnState:    rec.record,
		Log:        zerolog.Nop(),
	})
}

func TestManager(t *testing.T) {
	t.Run("connects_and_opens", func(t *testing.T) {
		d := &fakeDialer{}
		rec := newStateRecorder()
		m := newTestManager(d, rec, 5)
		m.Connect()
		rec.waitFor(t, Open)
		defer m.Disconnect()

		if got := m.State(); got != Open {
			t.Errorf("state = %v, want Open", got)
		}
	})

	t.Run("reconnects_after_loss", func(t *testing.T) {
		d := &fakeDialer{}
		rec := newStateRecorder()
		m := newTestManager(d, rec, 5)
		m.Connect()
		rec.waitFor(t, Open)

		// Drop the transport; the manager must come back on its own.
		d.mu.Lock()
		d.conns[0].Close()
		d.mu.Unlock()

		// The loss must register before polling for the re-open, or the
		// still-Open state from the first dial passes trivially.
		rec.waitFor(t, Closed)
		deadline := time.Now().Add(5 * time.Second)
		for m.State() != Open && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		defer m.Disconnect()

		if m.State() != Open {
			t.Fatalf("state after reconnect = %v, want Open", m.State())
		}
		if d.dialCount() < 2 {
			t.Errorf("dials = %d, want at least 2", d.dialCount())
		}
	})

	t.Run("terminal_error_after_retry_budget", func(t *testing.T) {
		d := &fakeDialer{failures: 1000}
		rec := newStateRecorder()
		m := newTestManager(d, rec, 3)
		m.Connect()
		rec.waitFor(t, Error)

		if got := m.State(); got != Error {
			t.Fatalf("state = %v, want Error", got)
		}
		// 1 initial dial + 3 retries, and nothing further scheduled.
		dials := d.dialCount()
		time.Sleep(20 * time.Millisecond)
		if after := d.dialCount(); after != dials {
			t.Errorf("dials kept happening after terminal Error: %d -> %d", dials, after)
		}
		if dials != 4 {
			t.Errorf("dials = %d, want 4 (initial + 3 retries)", dials)
		}
	})

	t.Run("disconnect_cancels_pending_retry", func(t *testing.T) {
		d := &fakeDialer{failures: 1000}
		rec := newStateRecorder()
		m := NewManager(Options{
			URL:        "ws://test/stream",
			MaxRetries: 5,
			BaseDelay:  time.Hour, // retry scheduled far in the future
			MaxDelay:   time.Hour,
			Dialer:     d,
			OnState:    rec.record,
			Log:        zerolog.Nop(),
		})
		m.Connect()
		rec.waitFor(t, Connecting)

		// Wait until the first dial failed and a retry is parked.
		deadline := time.Now().Add(5 * time.Second)
		for d.dialCount() < 1 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(10 * time.Millisecond)

		m.Disconnect()
		dials := d.dialCount()
		time.Sleep(20 * time.Millisecond)
		if after := d.dialCount(); after != dials {
			t.Error("retry fired after Disconnect")
		}
		if m.State() != Closed {
			t.Errorf("state = %v, want Closed", m.State())
		}
	})

	t.Run("send_when_not_open_drops", func(t *testing.T) {
		d := &fakeDialer{}
		m := newTestManager(d, newStateRecorder(), 5)

		if err := m.Send(map[string]string{"k": "v"}); !errors.Is(err, ErrNotOpen) {
			t.Errorf("Send before connect = %v, want ErrNotOpen", err)
		}
	})

	t.Run("send_when_open_writes", func(t *testing.T) {
		d := &fakeDialer{}
		rec := newStateRecorder()
		m := newTestManager(d, rec, 5)
		m.Connect()
		rec.waitFor(t, Open)
		defer m.Disconnect()

		if err := m.Send(map[string]string{"k": "v"}); err != nil {
			t.Fatalf("Send = %v", err)
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		c := d.conns[0]
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.wrote) != 1 {
			t.Errorf("wrote %d messages, want 1", len(c.wrote))
		}
	})

	t.Run("connect_after_error_resets_budget", func(t *testing.T) {
		d := &fakeDialer{failures: 4} // initial + 3 retries fail, then succeed
		rec := newStateRecorder()
		m := newTestManager(d, rec, 3)
		m.Connect()
		rec.waitFor(t, Error)

		m.Connect()
		rec.waitFor(t, Open)
		defer m.Disconnect()
	})
}
