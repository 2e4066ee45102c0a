package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeRemote is an in-memory BlobStore standing in for S3.
type fakeRemote struct {
	blobs   map[string][]byte
	saveErr error
	saves   int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{blobs: make(map[string][]byte)}
}

func (f *fakeRemote) Save(ctx context.Context, key string, data []byte, ct string) error {
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeRemote) LocalPath(key string) string { return "" }

func (f *fakeRemote) URL(ctx context.Context, key string) (string, error) {
	return "https://remote.example/" + key, nil
}

func (f *fakeRemote) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.blobs[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeRemote) Exists(ctx context.Context, key string) bool {
	_, ok := f.blobs[key]
	return ok
}

func (f *fakeRemote) Type() string { return "fake" }

func readAll(t *testing.T, r io.ReadCloser) []byte {
	t.Helper()
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

func TestLocalStore(t *testing.T) {
	t.Run("save_then_open_roundtrip", func(t *testing.T) {
		s := NewLocalStore(t.TempDir())
		key := SessionAudioKey("sess-1", time.Now())
		if err := s.Save(context.Background(), key, []byte("pcm"), "application/octet-stream"); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
		r, err := s.Open(context.Background(), key)
		if err != nil {
			t.Fatalf("Open() error: %v", err)
		}
		if got := readAll(t, r); string(got) != "pcm" {
			t.Errorf("Open() = %q, want %q", got, "pcm")
		}
	})

	t.Run("save_creates_nested_dirs", func(t *testing.T) {
		dir := t.TempDir()
		s := NewLocalStore(dir)
		if err := s.Save(context.Background(), "a/b/c.raw", []byte("x"), ""); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "a", "b", "c.raw")); err != nil {
			t.Errorf("nested path not created: %v", err)
		}
	})

	t.Run("save_leaves_no_temp_files", func(t *testing.T) {
		dir := t.TempDir()
		s := NewLocalStore(dir)
		if err := s.Save(context.Background(), "x.raw", []byte("x"), ""); err != nil {
			t.Fatal(err)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 || entries[0].Name() != "x.raw" {
			t.Errorf("dir entries = %v, want only x.raw", entries)
		}
	})

	t.Run("local_path_and_exists", func(t *testing.T) {
		s := NewLocalStore(t.TempDir())
		if s.LocalPath("missing") != "" {
			t.Error("LocalPath() for missing blob should be empty")
		}
		if s.Exists(context.Background(), "missing") {
			t.Error("Exists() for missing blob should be false")
		}
		if err := s.Save(context.Background(), "x.raw", []byte("x"), ""); err != nil {
			t.Fatal(err)
		}
		if s.LocalPath("x.raw") == "" {
			t.Error("LocalPath() for saved blob should be non-empty")
		}
		if !s.Exists(context.Background(), "x.raw") {
			t.Error("Exists() for saved blob should be true")
		}
	})

	t.Run("url_is_empty", func(t *testing.T) {
		s := NewLocalStore(t.TempDir())
		url, err := s.URL(context.Background(), "x.raw")
		if err != nil || url != "" {
			t.Errorf("URL() = %q, %v, want empty", url, err)
		}
	})
}

func TestTieredStore(t *testing.T) {
	t.Run("save_writes_both_tiers", func(t *testing.T) {
		remote := newFakeRemote()
		local := NewLocalStore(t.TempDir())
		ts := NewTieredStore(remote, local, zerolog.Nop())
		if err := ts.Save(context.Background(), "x.raw", []byte("x"), ""); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
		if !local.Exists(context.Background(), "x.raw") {
			t.Error("local tier missing blob")
		}
		if !remote.Exists(context.Background(), "x.raw") {
			t.Error("remote tier missing blob")
		}
	})

	t.Run("remote_failure_is_non_fatal", func(t *testing.T) {
		remote := newFakeRemote()
		remote.saveErr = errors.New("remote down")
		local := NewLocalStore(t.TempDir())
		ts := NewTieredStore(remote, local, zerolog.Nop())
		if err := ts.Save(context.Background(), "x.raw", []byte("x"), ""); err != nil {
			t.Fatalf("Save() error despite local success: %v", err)
		}
		if !local.Exists(context.Background(), "x.raw") {
			t.Error("local tier missing blob")
		}
	})

	t.Run("open_falls_back_and_caches", func(t *testing.T) {
		remote := newFakeRemote()
		remote.blobs["x.raw"] = []byte("remote-bytes")
		local := NewLocalStore(t.TempDir())
		ts := NewTieredStore(remote, local, zerolog.Nop())

		r, err := ts.Open(context.Background(), "x.raw")
		if err != nil {
			t.Fatalf("Open() error: %v", err)
		}
		if got := readAll(t, r); string(got) != "remote-bytes" {
			t.Errorf("Open() = %q", got)
		}
		if !local.Exists(context.Background(), "x.raw") {
			t.Error("remote read did not cache locally")
		}
	})

	t.Run("exists_checks_both_tiers", func(t *testing.T) {
		remote := newFakeRemote()
		remote.blobs["r.raw"] = []byte("r")
		local := NewLocalStore(t.TempDir())
		ts := NewTieredStore(remote, local, zerolog.Nop())
		if !ts.Exists(context.Background(), "r.raw") {
			t.Error("remote-only blob should exist")
		}
		if ts.Exists(context.Background(), "missing") {
			t.Error("missing blob should not exist")
		}
	})
}

func TestNew(t *testing.T) {
	t.Run("local_when_s3_disabled", func(t *testing.T) {
		s, err := New(S3Options{}, t.TempDir(), zerolog.Nop())
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}
		if s.Type() != "local" {
			t.Errorf("Type() = %q, want local", s.Type())
		}
	})
}

func TestSessionAudioKey(t *testing.T) {
	when := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	if got := SessionAudioKey("abc", when); got != "abc/2026-03-14/audio.raw" {
		t.Errorf("SessionAudioKey() = %q", got)
	}
}
