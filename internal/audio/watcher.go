package audio

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DirWatcher ingests pcm_f32le chunk files dropped into a directory by an
// external recorder. Files are emitted in name order; the recorder is
// expected to use sortable names (sequence numbers or timestamps). This is
// the capture path for deployments where lt-engine has no direct line to
// the microphone.
type DirWatcher struct {
	dir string
	ext string
	log zerolog.Logger

	watcher *fsnotify.Watcher
	emit    FrameFunc

	// Debounce: coalesce rapid Create+Write events on the same file so a
	// chunk is read once, after the recorder is done writing it.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	seenMu sync.Mutex
	seen   map[string]bool

	stop chan struct{}
	done chan struct{}
}

// NewDirWatcher creates a watcher for chunk files with the given extension
// (default ".pcm") under dir.
func NewDirWatcher(dir, ext string, log zerolog.Logger) *DirWatcher {
	if ext == "" {
		ext = ".pcm"
	}
	return &DirWatcher{
		dir:            dir,
		ext:            ext,
		log:            log.With().Str("component", "audio-watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
		seen:           make(map[string]bool),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start begins watching. Chunk files already present are ingested first,
// in name order, so a watcher attached after the recorder started doesn't
// lose the session head.
func (w *DirWatcher) Start(emit FrameFunc) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		close(w.done)
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		close(w.done)
		return err
	}
	w.watcher = fw
	w.emit = emit

	w.backfill()

	go w.run()
	w.log.Info().Str("dir", w.dir).Str("ext", w.ext).Msg("watching for audio chunks")
	return nil
}

// Stop halts watching and cancels pending debounce timers.
func (w *DirWatcher) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done

	w.debounceMu.Lock()
	for path, t := range w.debounceTimers {
		t.Stop()
		delete(w.debounceTimers, path)
	}
	w.debounceMu.Unlock()
}

func (w *DirWatcher) run() {
	defer close(w.done)
	defer w.watcher.Close()

	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(ev.Name, w.ext) {
				continue
			}
			w.debounce(ev.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

// debounce schedules ingestion of a file once events for it quiet down.
func (w *DirWatcher) debounce(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Stop()
	}
	w.debounceTimers[path] = time.AfterFunc(200*time.Millisecond, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		select {
		case <-w.stop:
			return
		default:
		}
		w.ingest(path)
	})
}

// backfill ingests chunk files already in the directory, name-ordered.
func (w *DirWatcher) backfill() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn().Err(err).Msg("backfill scan failed")
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), w.ext) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		w.ingest(filepath.Join(w.dir, name))
	}
}

func (w *DirWatcher) ingest(path string) {
	w.seenMu.Lock()
	if w.seen[path] {
		w.seenMu.Unlock()
		return
	}
	w.seen[path] = true
	w.seenMu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("chunk read failed")
		return
	}
	if err := ValidateFrame(data); err != nil {
		w.log.Error().Err(err).Str("path", path).Msg("chunk rejected")
		return
	}
	if len(data) == 0 {
		return
	}
	w.emit(data)
	w.log.Debug().Str("path", path).Int("bytes", len(data)).Msg("chunk ingested")
}
