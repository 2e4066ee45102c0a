// Package live distributes session events to SSE subscribers.
package live

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published on the bus.
const (
	TypeFrame       = "frame"
	TypeTranscript  = "transcript"
	TypeTranslation = "translation"
	TypeSession     = "session"
)

// Event is one server-sent event. ID is monotonic within the process
// and usable as an SSE Last-Event-ID for replay.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Filter narrows a subscription. Zero value matches everything.
type Filter struct {
	// Types restricts to the listed event types.
	Types []string

	// SessionID restricts to one session.
	SessionID string
}

// ParseFilter builds a filter from comma-separated query values.
func ParseFilter(types, sessionID string) Filter {
	var f Filter
	for _, t := range strings.Split(types, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			f.Types = append(f.Types, t)
		}
	}
	f.SessionID = strings.TrimSpace(sessionID)
	return f
}

// Bus provides pub-sub event distribution for SSE subscribers with a
// ring buffer for replay on reconnect.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// NewBus creates an event bus with the given ring buffer size.
func NewBus(ringSize int) *Bus {
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel
// function. Slow subscribers lose events rather than block the bus.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// ReplaySince returns buffered events after the given event ID. An empty
// or unknown id replays everything still in the ring, so a client whose
// last event was overwritten still catches up instead of missing it all.
func (b *Bus) ReplaySince(lastEventID string, filter Filter) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	// Discard everything up to the marker. If the marker was overwritten
	// the reset never happens and the whole ring replays.
	var events []Event
	for i := 0; i < b.ringSize; i++ {
		idx := (b.ringHead + i) % b.ringSize
		e := b.ring[idx]
		if e.ID == "" {
			continue
		}
		if lastEventID != "" && e.ID == lastEventID {
			events = nil
			continue
		}
		if matchesFilter(e, filter) {
			events = append(events, e)
		}
	}
	return events
}

// Publish encodes payload, appends the event to the ring, and fans it
// out to matching subscribers.
func (b *Bus) Publish(eventType, sessionID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	seq := b.seq.Add(1)
	event := Event{
		ID:        fmt.Sprintf("%d-%d", time.Now().UnixMilli(), seq),
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}

	b.ringMu.Lock()
	b.ring[b.ringHead] = event
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if matchesFilter(event, sub.filter) {
			select {
			case sub.ch <- event:
			default:
				// Drop if subscriber is slow
			}
		}
	}
	b.mu.RUnlock()
}

func matchesFilter(e Event, f Filter) bool {
	if len(f.Types) > 0 {
		match := false
		for _, t := range f.Types {
			if t == e.Type {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if f.SessionID != "" && e.SessionID != "" && f.SessionID != e.SessionID {
		return false
	}
	return true
}
