package live

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	t.Run("subscriber_receives_published_event", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{})
		defer cancel()

		b.Publish(TypeFrame, "sess-1", map[string]string{"text": "hello"})

		select {
		case evt := <-ch:
			if evt.Type != TypeFrame {
				t.Errorf("Type = %q, want frame", evt.Type)
			}
			if evt.SessionID != "sess-1" {
				t.Errorf("SessionID = %q, want sess-1", evt.SessionID)
			}
			if evt.ID == "" {
				t.Error("expected non-empty event ID")
			}
			var payload map[string]string
			if err := json.Unmarshal(evt.Data, &payload); err != nil {
				t.Fatalf("Data is not valid JSON: %v", err)
			}
			if payload["text"] != "hello" {
				t.Errorf("payload text = %q, want hello", payload["text"])
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("filtered_subscriber_misses_non_matching", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{Types: []string{TypeTranslation}})
		defer cancel()

		b.Publish(TypeFrame, "sess-1", "x")

		select {
		case evt := <-ch:
			t.Fatalf("should not receive event, got %+v", evt)
		case <-time.After(50 * time.Millisecond):
			// expected
		}
	})

	t.Run("session_filter", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{SessionID: "sess-2"})
		defer cancel()

		b.Publish(TypeFrame, "sess-1", "x")
		b.Publish(TypeFrame, "sess-2", "y")

		select {
		case evt := <-ch:
			if evt.SessionID != "sess-2" {
				t.Errorf("SessionID = %q, want sess-2", evt.SessionID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	})

	t.Run("cancel_stops_delivery", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{})
		cancel()

		b.Publish(TypeFrame, "sess-1", "x")

		select {
		case _, ok := <-ch:
			if ok {
				t.Fatal("should not receive event after cancel")
			}
		case <-time.After(50 * time.Millisecond):
			// expected — channel not closed, just removed from map
		}
	})

	t.Run("multiple_subscribers", func(t *testing.T) {
		b := NewBus(64)
		ch1, cancel1 := b.Subscribe(Filter{})
		defer cancel1()
		ch2, cancel2 := b.Subscribe(Filter{})
		defer cancel2()

		b.Publish(TypeSession, "sess-1", "x")

		for i, ch := range []<-chan Event{ch1, ch2} {
			select {
			case evt := <-ch:
				if evt.Type != TypeSession {
					t.Errorf("subscriber %d: Type = %q, want session", i, evt.Type)
				}
			case <-time.After(time.Second):
				t.Fatalf("subscriber %d: timed out", i)
			}
		}
	})
}

func TestBusReplaySince(t *testing.T) {
	t.Run("replay_all_when_empty_lastID", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(TypeFrame, "sess-1", "a")
		b.Publish(TypeTranscript, "sess-1", "b")

		events := b.ReplaySince("", Filter{})
		if len(events) != 2 {
			t.Fatalf("got %d events, want 2", len(events))
		}
	})

	t.Run("replay_after_specific_id", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(TypeFrame, "sess-1", "a")

		all := b.ReplaySince("", Filter{})
		if len(all) != 1 {
			t.Fatalf("expected 1 event, got %d", len(all))
		}
		firstID := all[0].ID

		b.Publish(TypeTranscript, "sess-1", "b")

		events := b.ReplaySince(firstID, Filter{})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (after first)", len(events))
		}
		if events[0].Type != TypeTranscript {
			t.Errorf("Type = %q, want transcript", events[0].Type)
		}
	})

	t.Run("replay_with_filter", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(TypeFrame, "sess-1", "a")
		b.Publish(TypeFrame, "sess-2", "b")

		events := b.ReplaySince("", Filter{SessionID: "sess-2"})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (filtered)", len(events))
		}
		if events[0].SessionID != "sess-2" {
			t.Errorf("SessionID = %q, want sess-2", events[0].SessionID)
		}
	})

	t.Run("unknown_lastID_replays_all", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(TypeFrame, "sess-1", "a")

		// When lastEventID is not found (overwritten by ring wrap), all
		// available events are returned so the client doesn't silently
		// miss everything.
		events := b.ReplaySince("nonexistent-id", Filter{})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (fallback replay all)", len(events))
		}
	})

	t.Run("ring_wrap_keeps_newest", func(t *testing.T) {
		b := NewBus(4)
		for i := 0; i < 8; i++ {
			b.Publish(TypeFrame, "sess-1", i)
		}
		events := b.ReplaySince("", Filter{})
		if len(events) != 4 {
			t.Fatalf("got %d events, want 4", len(events))
		}
		var last int
		if err := json.Unmarshal(events[len(events)-1].Data, &last); err != nil {
			t.Fatal(err)
		}
		if last != 7 {
			t.Errorf("newest payload = %d, want 7", last)
		}
	})
}

func TestParseFilter(t *testing.T) {
	f := ParseFilter(" frame, translation ,", " sess-1 ")
	if len(f.Types) != 2 || f.Types[0] != "frame" || f.Types[1] != "translation" {
		t.Errorf("Types = %v", f.Types)
	}
	if f.SessionID != "sess-1" {
		t.Errorf("SessionID = %q", f.SessionID)
	}
	empty := ParseFilter("", "")
	if len(empty.Types) != 0 || empty.SessionID != "" {
		t.Errorf("empty parse = %+v", empty)
	}
}

func TestMatchesFilter(t *testing.T) {
	tests := []struct {
		name   string
		event  Event
		filter Filter
		want   bool
	}{
		{
			name:   "empty_filter_matches_all",
			event:  Event{Type: TypeFrame, SessionID: "sess-1"},
			filter: Filter{},
			want:   true,
		},
		{
			name:   "type_match",
			event:  Event{Type: TypeFrame},
			filter: Filter{Types: []string{TypeFrame}},
			want:   true,
		},
		{
			name:   "type_no_match",
			event:  Event{Type: TypeFrame},
			filter: Filter{Types: []string{TypeTranslation}},
			want:   false,
		},
		{
			name:   "type_multiple_one_matches",
			event:  Event{Type: TypeTranscript},
			filter: Filter{Types: []string{TypeFrame, TypeTranscript}},
			want:   true,
		},
		{
			name:   "session_match",
			event:  Event{Type: TypeFrame, SessionID: "sess-1"},
			filter: Filter{SessionID: "sess-1"},
			want:   true,
		},
		{
			name:   "session_no_match",
			event:  Event{Type: TypeFrame, SessionID: "sess-2"},
			filter: Filter{SessionID: "sess-1"},
			want:   false,
		},
		{
			name:   "sessionless_event_passes_session_filter",
			event:  Event{Type: TypeSession},
			filter: Filter{SessionID: "sess-1"},
			want:   true,
		},
		{
			name:   "type_and_session_both_required",
			event:  Event{Type: TypeFrame, SessionID: "sess-2"},
			filter: Filter{Types: []string{TypeFrame}, SessionID: "sess-1"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchesFilter(tt.event, tt.filter)
			if got != tt.want {
				t.Errorf("matchesFilter(%+v, %+v) = %v, want %v", tt.event, tt.filter, got, tt.want)
			}
		})
	}
}
