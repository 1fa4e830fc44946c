package audio

import (
	"context"
	"errors"

	"sonix.click/internal/decode"
)

// Common errors for AudioBackend implementations
var (
	ErrBackendNotAvailable = errors.New("audio backend not available")
	ErrBackendClosed       = errors.New("audio backend is closed")
)

// PCMStream carries decoded audio from a session to a playback backend.
// Chunks arrive in stream order; the channel closing marks end of stream.
type PCMStream struct {
	SampleRate uint32
	Channels   uint32
	Chunks     <-chan decode.AudioChunk
}

// AudioBackend plays interleaved float32 PCM streamed from a decode
// session. Implementations handle the actual playback mechanism.
type AudioBackend interface {
	// Lifecycle management
	Start() error
	Stop() error
	Close() error

	// State management
	SetVolume(volume float32) error
	GetVolume() float32

	// Play blocks until the stream is exhausted or ctx is cancelled.
	Play(ctx context.Context, stream *PCMStream) error
}
