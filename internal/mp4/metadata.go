package mp4

import (
	"errors"
	"time"
)

// Parsing errors surfaced to the decode controller. ErrMissingSampleTable is
// the recoverable case: the controller falls back to an estimated index.
var (
	ErrInvalidContainer   = errors.New("invalid MP4 container")
	ErrNoAudioTrack       = errors.New("no audio track found in container")
	ErrUnsupportedCodec   = errors.New("unsupported codec in audio track")
	ErrMissingSampleTable = errors.New("required sample table missing or empty")
)

// SampleIndexEntry maps one sample to its byte range and timestamp.
type SampleIndexEntry struct {
	ByteOffset uint64        // Absolute file offset of the sample
	ByteSize   uint32        // Size of the sample in bytes
	Timestamp  time.Duration // Presentation time of the sample
	IsKeyUnit  bool          // True when the sample is independently decodable
}

// ContainerMetadata holds track metadata and the flat sample index extracted
// from the container. Created once per decode session and owned by the
// session for its lifetime.
type ContainerMetadata struct {
	SampleRate   uint32
	ChannelCount uint32
	Duration     time.Duration
	Bitrate      uint32 // Average bitrate in bits per second, 0 if unknown
	CodecName    string
	SampleIndex  []SampleIndexEntry
}

// SampleCount returns the number of entries in the sample index.
func (m *ContainerMetadata) SampleCount() int {
	return len(m.SampleIndex)
}
