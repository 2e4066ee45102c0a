package diff

import "testing"

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		oldText string
		newText string
	}{
		{"identical", "hello world", "hello world"},
		{"pure_append", "hello", "hello world"},
		{"pure_truncate", "hello world", "hello"},
		{"tail_revision", "how are yo", "how are you doing"},
		{"middle_replace", "the cat sat", "the dog sat"},
		{"full_replace", "abc", "xyz"},
		{"empty_to_text", "", "hello"},
		{"text_to_empty", "hello", ""},
		{"both_empty", "", ""},
		{"repeated_runs", "aaaa", "aa"},
		{"suffix_cannot_reuse_prefix", "aba", "ababa"},
		{"multibyte_runes", "你好", "你好世界"},
		{"multibyte_revision", "你好世界", "你好朋友"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Compute(tt.oldText, tt.newText)
			if got := s.Apply(tt.oldText); got != tt.newText {
				t.Errorf("Apply(%q) = %q, want %q", tt.oldText, got, tt.newText)
			}
			if len(s.Ops) > 2 {
				t.Errorf("script has %d ops, want at most 2", len(s.Ops))
			}
		})
	}
}

func TestComputePureAppendHasNoDeletes(t *testing.T) {
	s := Compute("hello", "hello there")
	for _, op := range s.Ops {
		if op.Kind == Delete {
			t.Fatal("pure append produced a delete op")
		}
	}
	if len(s.Ops) != 1 || s.Ops[0].Kind != Insert {
		t.Fatalf("ops = %+v, want single insert", s.Ops)
	}
}

func TestComputeIdenticalIsEmpty(t *testing.T) {
	if s := Compute("same", "same"); !s.Empty() {
		t.Errorf("script for identical texts = %+v, want empty", s.Ops)
	}
}

func TestComputeCursorAtPrefixEnd(t *testing.T) {
	s := Compute("hello world", "hello there")
	if s.Cursor != 6 {
		t.Errorf("cursor = %d, want 6 (end of common prefix)", s.Cursor)
	}
}

func TestComputeCountsRunesNotBytes(t *testing.T) {
	s := Compute("你好", "你坏")
	if s.Cursor != 1 {
		t.Errorf("cursor = %d, want 1 rune", s.Cursor)
	}
	if len(s.Ops) != 2 || s.Ops[0].Count != 1 || s.Ops[1].Count != 1 {
		t.Errorf("ops = %+v, want delete 1 rune then insert 1 rune", s.Ops)
	}
}
