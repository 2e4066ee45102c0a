// Package render drives the typewriter animation: each displayed text node
// owns an Animator that walks an edit script a few characters per tick, and
// a Renderer advances every animator on a shared clock, publishing frames
// to subscribers.
package render

import "github.com/snarg/lt-engine/internal/diff"

// Batch sizes per tick. These trade animation smoothness against time to
// convergence; they are presentation parameters, not correctness knobs.
const (
	DefaultDeleteBatch = 2
	DefaultInsertBatch = 3
)

// Animator converges one displayed string toward a moving target. It is
// created the first time a node renders and lives as long as the node;
// new targets re-aim it, they never replace it.
//
// Not safe for concurrent use. The Renderer serializes all access.
type Animator struct {
	displayed []rune
	target    string
	cursor    int
	ops       []diff.Op

	deleteBatch int
	insertBatch int
}

// NewAnimator creates an idle animator with the given per-tick batch sizes.
// Non-positive batches fall back to the defaults.
func NewAnimator(deleteBatch, insertBatch int) *Animator {
	if deleteBatch <= 0 {
		deleteBatch = DefaultDeleteBatch
	}
	if insertBatch <= 0 {
		insertBatch = DefaultInsertBatch
	}
	return &Animator{deleteBatch: deleteBatch, insertBatch: insertBatch}
}

// Retarget aims the animator at a new target text. The pending script is
// discarded and recomputed from the text currently on screen, never from
// the previous target — under rapid revisions the display always converges
// toward the latest truth. A complete target bypasses animation and snaps.
func (a *Animator) Retarget(text string, complete bool) {
	a.target = text
	if complete {
		a.displayed = []rune(text)
		a.ops = nil
		a.cursor = len(a.displayed)
		return
	}

	s := diff.Compute(string(a.displayed), text)
	if s.Empty() {
		// Identical up to the prefix/suffix split: commit without animating.
		a.displayed = []rune(text)
		a.ops = nil
		a.cursor = len(a.displayed)
		return
	}

	a.ops = s.Ops
	a.cursor = s.Cursor
	if s.Ops[0].Kind == diff.Delete {
		// Backspace effect: start at the end of the doomed span and eat
		// backwards to the cursor position.
		a.cursor += s.Ops[0].Count
	}
}

// Step advances the animation by one tick and reports whether the
// displayed text changed.
func (a *Animator) Step() bool {
	if len(a.ops) == 0 {
		return false
	}

	op := &a.ops[0]
	switch op.Kind {
	case diff.Delete:
		n := min(a.deleteBatch, op.Count)
		a.displayed = append(a.displayed[:a.cursor-n], a.displayed[a.cursor:]...)
		a.cursor -= n
		op.Count -= n
	case diff.Insert:
		n := min(a.insertBatch, op.Count)
		tail := append([]rune(nil), a.displayed[a.cursor:]...)
		a.displayed = append(append(a.displayed[:a.cursor], op.Text[:n]...), tail...)
		a.cursor += n
		op.Text = op.Text[n:]
		op.Count -= n
	}
	if op.Count == 0 {
		a.ops = a.ops[1:]
	}
	return true
}

// Displayed returns the text currently on screen.
func (a *Animator) Displayed() string { return string(a.displayed) }

// Target returns the text the animator is converging toward.
func (a *Animator) Target() string { return a.target }

// Idle reports whether the animation has converged: displayed equals the
// target and no operations are pending.
func (a *Animator) Idle() bool {
	return len(a.ops) == 0 && string(a.displayed) == a.target
}
