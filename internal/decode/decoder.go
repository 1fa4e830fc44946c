package decode

import "errors"

// Common decode errors
var (
	ErrInvalidData       = errors.New("invalid audio data")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrSessionState      = errors.New("operation not valid in current session state")
	ErrSessionCleaned    = errors.New("session has been cleaned up")
)

// DecodeStatus tags the outcome of one decode attempt. The retry loop in
// the session is an ordinary state transition on this tag, not
// exception-driven control flow.
type DecodeStatus int

const (
	// StatusDecoded means at least one complete frame was decoded.
	StatusDecoded DecodeStatus = iota
	// StatusNeedMoreData means the buffer holds no complete frame yet;
	// the caller should retry with more bytes appended.
	StatusNeedMoreData
	// StatusFatal means the data can never decode (corrupt or wrong format).
	StatusFatal
)

func (s DecodeStatus) String() string {
	switch s {
	case StatusDecoded:
		return "decoded"
	case StatusNeedMoreData:
		return "need_more_data"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// DecodeResult is the outcome of decoding a byte buffer. BytesConsumed
// reports how many leading bytes formed complete frames; the unconsumed
// tail is re-buffered by the session so no audio is lost across chunk
// boundaries.
type DecodeResult struct {
	Status        DecodeStatus
	Samples       []float32 // Interleaved PCM, all channels
	SampleRate    uint32
	Channels      uint32
	BytesConsumed int
	Err           error
}

// FrameCount returns the number of PCM frames (samples per channel) in the
// result.
func (r *DecodeResult) FrameCount() uint64 {
	if r.Channels == 0 {
		return 0
	}
	return uint64(len(r.Samples)) / uint64(r.Channels)
}

// FrameDecoder decodes all complete frames found in a byte buffer. It must
// be safe to call repeatedly with overlapping or growing byte ranges: it
// holds no state across calls.
type FrameDecoder interface {
	// DecodeAll decodes every complete frame in data and reports the
	// consumed byte count.
	DecodeAll(data []byte) DecodeResult

	// CanDecode checks if this decoder can handle the given filename.
	CanDecode(filename string) bool

	// FormatName returns the name of the format this decoder handles.
	FormatName() string
}

// AudioChunk is a run of decoded samples emitted by a session.
// StartSample is the PCM frame position of the first sample and is
// monotonically non-decreasing across chunks from one session.
type AudioChunk struct {
	Samples     []float32
	StartSample uint64
	IsLast      bool
}
