// Package audio feeds raw pcm_f32le frames into a session. It performs no
// decoding — the only validation is frame alignment, everything else is
// the recognition service's problem.
package audio

import "fmt"

// BytesPerSample for pcm_f32le.
const BytesPerSample = 4

// ValidateFrame checks that a frame holds whole 32-bit float samples.
// Misaligned frames are rejected before they can corrupt the stream.
func ValidateFrame(frame []byte) error {
	if len(frame)%BytesPerSample != 0 {
		return fmt.Errorf("audio: frame length %d is not a multiple of %d bytes", len(frame), BytesPerSample)
	}
	return nil
}

// FrameFunc receives validated audio frames.
type FrameFunc func(frame []byte)

// Source is a capture collaborator delivering pcm_f32le frames. Start
// launches delivery and returns; Stop halts it and releases resources.
// After Stop returns no further frames are emitted.
type Source interface {
	Start(emit FrameFunc) error
	Stop()
}
