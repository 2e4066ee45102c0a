// Package transcript merges the stream of partial and final recognition
// results into stable per-speaker paragraphs, and maintains the parallel
// list of translation entries. All operations are pure: they take the
// current collection and an event and return the next collection, so the
// caller (the session event loop) is the only owner of state.
package transcript

import (
	"fmt"
	"strings"
)

// ParagraphGapSeconds is the silence gap, per speaker, treated as a
// paragraph boundary. A final or partial result arriving more than this
// many seconds after the speaker's last confirmed segment starts a new
// paragraph instead of extending the old one.
const ParagraphGapSeconds = 2.0

// Segment is one confirmed recognition result. Immutable once created.
type Segment struct {
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// Paragraph is a contiguous run of one speaker's speech, bounded by
// silence gaps. Segments are append-only; PartialText is replace-only.
type Paragraph struct {
	ID       int       `json:"id"`
	Speaker  string    `json:"speaker"`
	Segments []Segment `json:"segments"`

	// PartialText holds the latest provisional hypothesis for this
	// paragraph. Cleared whenever a final segment is accepted, since the
	// confirmed text supersedes it.
	PartialText string `json:"partial_text"`

	// LastSegmentEndTime anchors the gap rule. Updated to the event's end
	// time on every accepted final. Before any final arrives it tracks the
	// most recent partial's start time so the paragraph has a usable time
	// anchor from the first event on.
	LastSegmentEndTime float64 `json:"last_segment_end_time"`
}

// ConfirmedText returns the paragraph's confirmed text: segment texts
// concatenated with no separator (segments carry their own spacing).
func (p Paragraph) ConfirmedText() string {
	var b strings.Builder
	for _, s := range p.Segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

// VisiblePartial returns the portion of the partial hypothesis that should
// be displayed after the confirmed text. When the partial extends the
// confirmed text, only the unconfirmed tail is visible (leading whitespace
// trimmed). When it doesn't — out-of-order delivery, engine revision — the
// whole partial is shown rather than guessing at an overlap.
func (p Paragraph) VisiblePartial() string {
	confirmed := p.ConfirmedText()
	if confirmed != "" && strings.HasPrefix(p.PartialText, confirmed) {
		return strings.TrimLeft(p.PartialText[len(confirmed):], " \t")
	}
	return p.PartialText
}

// Transcript is the ordered, append-only sequence of paragraphs across all
// speakers. Display order is arrival order; paragraphs are never reordered
// or merged after creation.
type Transcript struct {
	Paragraphs []Paragraph `json:"paragraphs"`
	NextID     int         `json:"next_id"`
}

// TranslationEntry is one translated utterance, keyed by speaker and
// source start time.
type TranslationEntry struct {
	ID        string  `json:"id"`
	Speaker   string  `json:"speaker"`
	StartTime float64 `json:"start_time"`
	Content   string  `json:"content"`
	IsPartial bool    `json:"is_partial"`
}

// TranslationID builds the stable entry key for a speaker/start-time pair.
func TranslationID(speaker string, startTime float64) string {
	return fmt.Sprintf("%s-%g", speaker, startTime)
}

// Render formats the transcript for export: one "Speaker: text" line per
// paragraph, blank-line separated. Partial text is not included.
func (t Transcript) Render() string {
	var b strings.Builder
	for i, p := range t.Paragraphs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p.Speaker)
		b.WriteString(": ")
		b.WriteString(p.ConfirmedText())
	}
	return b.String()
}
