package render

import (
	"testing"
)

// drain steps the animator to convergence, guarding against runaway loops.
func drain(t *testing.T, a *Animator) int {
	t.Helper()
	steps := 0
	for !a.Idle() {
		if !a.Step() {
			t.Fatalf("animator stalled: displayed=%q target=%q", a.Displayed(), a.Target())
		}
		steps++
		if steps > 10000 {
			t.Fatal("animator did not converge")
		}
	}
	return steps
}

func TestAnimator(t *testing.T) {
	t.Run("converges_to_target", func(t *testing.T) {
		a := NewAnimator(2, 3)
		a.Retarget("hello world", false)
		drain(t, a)
		if got := a.Displayed(); got != "hello world" {
			t.Errorf("displayed = %q, want %q", got, "hello world")
		}
	})

	t.Run("step_moves_in_batches", func(t *testing.T) {
		a := NewAnimator(2, 3)
		a.Retarget("abcdef", false)
		a.Step()
		if got := a.Displayed(); got != "abc" {
			t.Errorf("after one tick = %q, want %q (insert batch 3)", got, "abc")
		}
	})

	t.Run("delete_runs_before_insert", func(t *testing.T) {
		a := NewAnimator(2, 3)
		a.Retarget("how are yo", true)
		a.Retarget("how is it", false)

		// First ticks must shrink the mutable tail before retyping.
		before := len([]rune(a.Displayed()))
		a.Step()
		after := len([]rune(a.Displayed()))
		if after >= before {
			t.Errorf("first tick grew text: %d -> %d", before, after)
		}
		drain(t, a)
		if got := a.Displayed(); got != "how is it" {
			t.Errorf("displayed = %q, want %q", got, "how is it")
		}
	})

	t.Run("complete_target_snaps_immediately", func(t *testing.T) {
		a := NewAnimator(2, 3)
		a.Retarget("partial text in flight", false)
		a.Step()
		a.Retarget("final translation", true)

		if !a.Idle() {
			t.Error("animator not idle after complete target")
		}
		if got := a.Displayed(); got != "final translation" {
			t.Errorf("displayed = %q, want %q", got, "final translation")
		}
	})

	t.Run("retarget_mid_flight_converges_to_latest", func(t *testing.T) {
		a := NewAnimator(2, 3)
		a.Retarget("the quick brown fox", false)
		a.Step()
		a.Step()
		// Re-aim while animating; script must be computed from what is on
		// screen now, not from the abandoned target.
		a.Retarget("the slow green turtle", false)
		drain(t, a)
		if got := a.Displayed(); got != "the slow green turtle" {
			t.Errorf("displayed = %q, want %q", got, "the slow green turtle")
		}
	})

	t.Run("identical_retarget_is_idle_noop", func(t *testing.T) {
		a := NewAnimator(2, 3)
		a.Retarget("same", true)
		a.Retarget("same", false)
		if !a.Idle() {
			t.Error("retargeting identical text should stay idle")
		}
		if a.Step() {
			t.Error("Step reported a change while idle")
		}
	})

	t.Run("pure_append_never_deletes", func(t *testing.T) {
		a := NewAnimator(2, 3)
		a.Retarget("hello", true)
		a.Retarget("hello there", false)

		prev := "hello"
		for !a.Idle() {
			a.Step()
			cur := a.Displayed()
			if len(cur) < len(prev) {
				t.Fatalf("append animation shrank text: %q -> %q", prev, cur)
			}
			prev = cur
		}
	})

	t.Run("multibyte_text_steps_whole_runes", func(t *testing.T) {
		a := NewAnimator(2, 3)
		a.Retarget("你好", true)
		a.Retarget("你好世界你好", false)
		for !a.Idle() {
			a.Step()
			for _, r := range a.Displayed() {
				if r == '�' {
					t.Fatalf("torn rune in %q", a.Displayed())
				}
			}
		}
	})
}
