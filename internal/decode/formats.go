package decode

import "fmt"

// FormatConfig parameterizes the generic session for one codec. The three
// buffering constants plus the decode function are all that distinguishes
// one format's controller from another's.
type FormatConfig struct {
	FormatName string

	// DecodeThreshold is the live-buffer size at which a failed decode
	// escalates to the retained-buffer retry.
	DecodeThreshold int

	// MaxRetainedBuffer bounds the bytes kept across failed decode
	// attempts. When exceeded, the oldest bytes are dropped: bounded
	// memory wins over correctness for that stretch.
	MaxRetainedBuffer int

	// TypicalFrameSize is the codec's typical compressed frame size,
	// used by the estimated sample index.
	TypicalFrameSize uint32

	// SamplesPerFrame is the PCM frames one compressed frame produces.
	SamplesPerFrame uint32

	// HeaderAnchored marks container formats (RIFF, FORM) whose decoder
	// needs the stream header at the front of every buffer it sees. The
	// session keeps the buffer anchored at the stream origin for these
	// instead of trimming consumed bytes.
	HeaderAnchored bool

	// DefaultSampleRate is assumed when the stream itself cannot tell us.
	DefaultSampleRate uint32

	// Chunk size policy bounds (see OptimalChunkSize)
	MediumChunkSize int
	MediumMinChunk  int
	MediumMaxChunk  int
	LargeChunkSize  int
	LargeMinChunk   int
	LargeMaxChunk   int
}

// Per-format configurations. These are configuration, not behavior: one
// generic session serves every codec.
var formatConfigs = map[string]FormatConfig{
	"MP3": {
		FormatName:        "MP3",
		DecodeThreshold:   64 * 1024,
		MaxRetainedBuffer: 1024 * 1024,
		TypicalFrameSize:  417, // 128kbps at 44.1kHz
		SamplesPerFrame:   1152,
		DefaultSampleRate: 44100,
		MediumChunkSize:   1024 * 1024,
		MediumMinChunk:    512 * 1024,
		MediumMaxChunk:    2 * 1024 * 1024,
		LargeChunkSize:    4 * 1024 * 1024,
		LargeMinChunk:     2 * 1024 * 1024,
		LargeMaxChunk:     8 * 1024 * 1024,
	},
	"WAV": {
		FormatName:        "WAV",
		DecodeThreshold:   32 * 1024,
		MaxRetainedBuffer: 2 * 1024 * 1024,
		HeaderAnchored:    true,
		TypicalFrameSize:  4096,
		SamplesPerFrame:   1024,
		DefaultSampleRate: 44100,
		MediumChunkSize:   2 * 1024 * 1024,
		MediumMinChunk:    512 * 1024,
		MediumMaxChunk:    4 * 1024 * 1024,
		LargeChunkSize:    8 * 1024 * 1024,
		LargeMinChunk:     4 * 1024 * 1024,
		LargeMaxChunk:     16 * 1024 * 1024,
	},
	"AIFF": {
		FormatName:        "AIFF",
		DecodeThreshold:   32 * 1024,
		MaxRetainedBuffer: 2 * 1024 * 1024,
		HeaderAnchored:    true,
		TypicalFrameSize:  4096,
		SamplesPerFrame:   1024,
		DefaultSampleRate: 44100,
		MediumChunkSize:   2 * 1024 * 1024,
		MediumMinChunk:    512 * 1024,
		MediumMaxChunk:    4 * 1024 * 1024,
		LargeChunkSize:    8 * 1024 * 1024,
		LargeMinChunk:     4 * 1024 * 1024,
		LargeMaxChunk:     16 * 1024 * 1024,
	},
	"MP4": {
		FormatName:        "MP4",
		DecodeThreshold:   64 * 1024,
		MaxRetainedBuffer: 1024 * 1024,
		TypicalFrameSize:  768, // typical AAC frame
		SamplesPerFrame:   1024,
		DefaultSampleRate: 44100,
		MediumChunkSize:   1024 * 1024,
		MediumMinChunk:    512 * 1024,
		MediumMaxChunk:    2 * 1024 * 1024,
		LargeChunkSize:    4 * 1024 * 1024,
		LargeMinChunk:     2 * 1024 * 1024,
		LargeMaxChunk:     8 * 1024 * 1024,
	},
}

// ConfigForFormat returns the buffering configuration for a format name.
func ConfigForFormat(name string) (FormatConfig, error) {
	config, ok := formatConfigs[name]
	if !ok {
		return FormatConfig{}, fmt.Errorf("%w: no config for %q", ErrUnsupportedFormat, name)
	}
	return config, nil
}

// Chunk size policy tiers
const (
	smallFileLimit  = 2 * 1024 * 1024
	mediumFileLimit = 100 * 1024 * 1024

	smallChunkMin = 8 * 1024
	smallChunkMax = 512 * 1024
)

// ChunkSizeRecommendation is the outcome of the chunk size policy, with the
// bounds and rationale included for observability.
type ChunkSizeRecommendation struct {
	Size      int
	MinSize   int
	MaxSize   int
	Rationale string
}

// OptimalChunkSize recommends a read chunk size for a file of the given
// size under this format's policy: small files use 40% of the file size
// clamped to [8KB, 512KB]; medium and large files use fixed sizes within
// format-specific bounds.
func (c FormatConfig) OptimalChunkSize(fileSize uint64) ChunkSizeRecommendation {
	switch {
	case fileSize < smallFileLimit:
		size := int(fileSize * 40 / 100)
		if size < smallChunkMin {
			size = smallChunkMin
		}
		if size > smallChunkMax {
			size = smallChunkMax
		}
		return ChunkSizeRecommendation{
			Size:    size,
			MinSize: smallChunkMin,
			MaxSize: smallChunkMax,
			Rationale: fmt.Sprintf("small file (%d bytes): 40%% of file size clamped to [%d, %d]",
				fileSize, smallChunkMin, smallChunkMax),
		}
	case fileSize < mediumFileLimit:
		return ChunkSizeRecommendation{
			Size:    c.MediumChunkSize,
			MinSize: c.MediumMinChunk,
			MaxSize: c.MediumMaxChunk,
			Rationale: fmt.Sprintf("medium file (%d bytes): fixed %s chunk size",
				fileSize, c.FormatName),
		}
	default:
		return ChunkSizeRecommendation{
			Size:    c.LargeChunkSize,
			MinSize: c.LargeMinChunk,
			MaxSize: c.LargeMaxChunk,
			Rationale: fmt.Sprintf("large file (%d bytes): wide %s chunk size",
				fileSize, c.FormatName),
		}
	}
}
