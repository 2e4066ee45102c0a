// Package diff computes the edit script that turns one displayed string
// into another. Hypothesis revisions from the recognition engine are
// overwhelmingly prefix-stable with a short mutable tail, so a common
// prefix/suffix trim captures almost every revision with a single delete
// and a single insert. A full Myers diff would be overkill here and would
// produce visually scattered edits instead of the delete-then-retype
// motion a reader expects.
package diff

// OpKind discriminates edit operations.
type OpKind int

const (
	// Delete removes the Count runes starting at the cursor.
	Delete OpKind = iota
	// Insert places Text at the cursor.
	Insert
)

// Op is a single edit operation.
type Op struct {
	Kind  OpKind
	Count int
	Text  []rune // set for Insert only
}

// Script is the edit sequence transforming an old string into a new one.
// Cursor is the rune offset where editing begins (end of common prefix).
type Script struct {
	Cursor int
	Ops    []Op
}

// Empty reports whether the script changes nothing.
func (s Script) Empty() bool { return len(s.Ops) == 0 }

// Compute builds the delete-then-insert script turning oldText into
// newText. It operates on runes so multi-byte text animates one character
// at a time instead of one byte at a time.
func Compute(oldText, newText string) Script {
	oldR := []rune(oldText)
	newR := []rune(newText)

	prefix := commonPrefix(oldR, newR)
	suffix := commonSuffix(oldR, newR, prefix)

	deleteCount := len(oldR) - suffix - prefix
	insertText := newR[prefix : len(newR)-suffix]

	s := Script{Cursor: prefix}
	if deleteCount > 0 {
		s.Ops = append(s.Ops, Op{Kind: Delete, Count: deleteCount})
	}
	if len(insertText) > 0 {
		s.Ops = append(s.Ops, Op{Kind: Insert, Count: len(insertText), Text: insertText})
	}
	return s
}

// Apply runs the whole script at once and returns the resulting string.
// The animation scheduler steps through the same operations incrementally;
// Apply exists for snap-commits and for verifying script correctness.
func (s Script) Apply(oldText string) string {
	r := []rune(oldText)
	cursor := s.Cursor
	for _, op := range s.Ops {
		switch op.Kind {
		case Delete:
			// Delete removes the span ahead of the cursor.
			r = append(r[:cursor], r[cursor+op.Count:]...)
		case Insert:
			tail := append([]rune(nil), r[cursor:]...)
			r = append(append(r[:cursor], op.Text...), tail...)
			cursor += op.Count
		}
	}
	return string(r)
}

func commonPrefix(a, b []rune) int {
	i := 0
	for i < len(a) && i < len(b) && a[i] == b[i] {
		i++
	}
	return i
}

// commonSuffix stops before re-consuming prefix-matched runes, so
// prefix+suffix never exceeds either string's length.
func commonSuffix(a, b []rune, prefix int) int {
	i := 0
	for i < len(a)-prefix && i < len(b)-prefix && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}
