package audio

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// FileSource replays a raw pcm_f32le file at real-time pace, as if a
// microphone were producing it. Useful for the CLI and for soak testing
// against recorded sessions.
type FileSource struct {
	path       string
	sampleRate int
	chunk      int // samples per emitted frame
	log        zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewFileSource creates a file replay source. chunkMs controls the frame
// size in milliseconds of audio (default 100ms).
func NewFileSource(path string, sampleRate, chunkMs int, log zerolog.Logger) *FileSource {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if chunkMs <= 0 {
		chunkMs = 100
	}
	return &FileSource{
		path:       path,
		sampleRate: sampleRate,
		chunk:      sampleRate * chunkMs / 1000,
		log:        log.With().Str("component", "audio-file").Logger(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (s *FileSource) Start(emit FrameFunc) error {
	f, err := os.Open(s.path)
	if err != nil {
		close(s.done)
		return fmt.Errorf("audio: open %s: %w", s.path, err)
	}

	go func() {
		defer close(s.done)
		defer f.Close()

		interval := time.Duration(s.chunk) * time.Second / time.Duration(s.sampleRate)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		buf := make([]byte, s.chunk*BytesPerSample)
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				n, err := io.ReadFull(f, buf)
				if n > 0 {
					frame := make([]byte, n)
					copy(frame, buf[:n])
					if verr := ValidateFrame(frame); verr != nil {
						s.log.Error().Err(verr).Msg("skipping misaligned frame")
						continue
					}
					emit(frame)
				}
				if err != nil {
					if err != io.ErrUnexpectedEOF && err != io.EOF {
						s.log.Error().Err(err).Msg("read failed")
					}
					s.log.Info().Str("path", s.path).Msg("file replay finished")
					return
				}
			}
		}
	}()
	return nil
}

func (s *FileSource) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}
