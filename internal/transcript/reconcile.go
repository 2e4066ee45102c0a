package transcript

import "strings"

// Event is a single recognition or translation result as delivered by the
// upstream engine, already stripped of transport framing.
type Event struct {
	Speaker   string
	Text      string
	StartTime float64
	EndTime   float64
}

// lastForSpeaker finds the index of the most recent paragraph owned by the
// speaker, or -1. The scan runs backward because only the tail paragraph
// per speaker is ever extended; earlier paragraphs are settled.
func lastForSpeaker(paragraphs []Paragraph, speaker string) int {
	for i := len(paragraphs) - 1; i >= 0; i-- {
		if paragraphs[i].Speaker == speaker {
			return i
		}
	}
	return -1
}

// needsNewParagraph applies the gap rule against a candidate paragraph.
// A paragraph with no confirmed segments never triggers a break: its only
// time anchor came from partials, which is too weak to declare silence.
func needsNewParagraph(p Paragraph, startTime float64) bool {
	if len(p.Segments) == 0 {
		return false
	}
	return startTime-p.LastSegmentEndTime > ParagraphGapSeconds
}

// ApplyFinal merges one final recognition result into the transcript and
// returns the updated transcript. Events with empty or all-whitespace text
// are dropped; the upstream engine emits them as keepalive noise.
//
// Re-delivery of the same final (identical start time to the paragraph's
// last segment) is a no-op, so the merge is idempotent. Distinct events
// that happen to repeat the same words are appended normally.
func ApplyFinal(t Transcript, ev Event) Transcript {
	if strings.TrimSpace(ev.Text) == "" {
		return t
	}

	idx := lastForSpeaker(t.Paragraphs, ev.Speaker)
	if idx == -1 || needsNewParagraph(t.Paragraphs[idx], ev.StartTime) {
		t.Paragraphs = append(clone(t.Paragraphs), Paragraph{
			ID:                 t.takeID(),
			Speaker:            ev.Speaker,
			Segments:           []Segment{{Text: ev.Text, StartTime: ev.StartTime, EndTime: ev.EndTime}},
			LastSegmentEndTime: ev.EndTime,
		})
		return t
	}

	t.Paragraphs = clone(t.Paragraphs)
	p := &t.Paragraphs[idx]
	if last := len(p.Segments) - 1; last < 0 || p.Segments[last].StartTime != ev.StartTime {
		p.Segments = append(p.Segments[:len(p.Segments):len(p.Segments)],
			Segment{Text: ev.Text, StartTime: ev.StartTime, EndTime: ev.EndTime})
	}
	p.LastSegmentEndTime = ev.EndTime
	p.PartialText = ""
	return t
}

// ApplyPartial records one provisional hypothesis. The paragraph selection
// and gap rule match ApplyFinal, but a freshly created paragraph seeds
// LastSegmentEndTime with the event's start time: the next event typically
// lands within milliseconds and must not re-trigger the gap rule against a
// zero anchor. Continuing a paragraph only replaces PartialText; confirmed
// segments are never touched.
func ApplyPartial(t Transcript, ev Event) Transcript {
	if strings.TrimSpace(ev.Text) == "" {
		return t
	}

	idx := lastForSpeaker(t.Paragraphs, ev.Speaker)
	if idx == -1 || needsNewParagraph(t.Paragraphs[idx], ev.StartTime) {
		t.Paragraphs = append(clone(t.Paragraphs), Paragraph{
			ID:                 t.takeID(),
			Speaker:            ev.Speaker,
			PartialText:        ev.Text,
			LastSegmentEndTime: ev.StartTime,
		})
		return t
	}

	t.Paragraphs = clone(t.Paragraphs)
	t.Paragraphs[idx].PartialText = ev.Text
	return t
}

// ApplyTranslation merges one translation result into the entry list and
// returns the updated list.
//
// Finals replace the in-flight partial with the same ID in place, keeping
// its display position; otherwise they append.
//
// Partials occupy a single process-wide slot: whichever entry currently has
// IsPartial set is overwritten in place, regardless of ID. This assumes one
// translation in flight at a time — under concurrent multi-speaker
// translation the slot is shared and late partials clobber each other. That
// behavior is load-bearing for current callers and is kept as is.
func ApplyTranslation(entries []TranslationEntry, ev Event, final bool) []TranslationEntry {
	if strings.TrimSpace(ev.Text) == "" {
		return entries
	}

	id := TranslationID(ev.Speaker, ev.StartTime)
	next := append([]TranslationEntry(nil), entries...)

	if final {
		for i := range next {
			if next[i].ID == id && next[i].IsPartial {
				next[i].Content = ev.Text
				next[i].IsPartial = false
				return next
			}
		}
		return append(next, TranslationEntry{
			ID: id, Speaker: ev.Speaker, StartTime: ev.StartTime, Content: ev.Text,
		})
	}

	for i := range next {
		if next[i].IsPartial {
			next[i] = TranslationEntry{
				ID: id, Speaker: ev.Speaker, StartTime: ev.StartTime, Content: ev.Text, IsPartial: true,
			}
			return next
		}
	}
	return append(next, TranslationEntry{
		ID: id, Speaker: ev.Speaker, StartTime: ev.StartTime, Content: ev.Text, IsPartial: true,
	})
}

// takeID hands out the next paragraph ID, starting at 1.
func (t *Transcript) takeID() int {
	if t.NextID == 0 {
		t.NextID = 1
	}
	id := t.NextID
	t.NextID++
	return id
}

func clone(paragraphs []Paragraph) []Paragraph {
	return append([]Paragraph(nil), paragraphs...)
}
