package mp4

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrEstimationFailed means even the coarse fallback index could not be
// built, which is fatal for the session.
var ErrEstimationFailed = errors.New("cannot build estimated sample index")

// maxAssumedHeader caps the header region skipped before estimated frames.
const maxAssumedHeader = 32 * 1024

// EstimateParams configures the fallback index built when precise sample
// tables are unavailable.
type EstimateParams struct {
	SampleRate      uint32 // Track sample rate; required
	ChannelCount    uint32
	FrameSize       uint32 // Typical compressed frame size in bytes
	SamplesPerFrame uint32 // PCM frames produced per compressed frame
	CodecName       string
}

// EstimateSampleIndex builds a coarse sample index by walking the file in
// fixed strides of the codec's typical frame size, after skipping an assumed
// header region. Seek results produced from this index are inexact; the
// caller must flag them as such.
func EstimateSampleIndex(fileSize uint64, params EstimateParams) (*ContainerMetadata, error) {
	if params.SampleRate == 0 {
		return nil, fmt.Errorf("%w: unknown sample rate", ErrEstimationFailed)
	}
	if params.FrameSize == 0 || params.SamplesPerFrame == 0 {
		return nil, fmt.Errorf("%w: frame size %d, samples per frame %d",
			ErrEstimationFailed, params.FrameSize, params.SamplesPerFrame)
	}

	headerSkip := fileSize / 10
	if headerSkip > maxAssumedHeader {
		headerSkip = maxAssumedHeader
	}
	if headerSkip >= fileSize {
		return nil, fmt.Errorf("%w: file too small (%d bytes)", ErrEstimationFailed, fileSize)
	}

	payloadBytes := fileSize - headerSkip
	frameCount := payloadBytes / uint64(params.FrameSize)
	if frameCount == 0 {
		frameCount = 1
	}

	index := make([]SampleIndexEntry, 0, frameCount)
	for i := uint64(0); i < frameCount; i++ {
		byteOffset := headerSkip + i*uint64(params.FrameSize)
		size := params.FrameSize
		if byteOffset+uint64(size) > fileSize {
			size = uint32(fileSize - byteOffset)
		}

		timestamp := time.Duration(i * uint64(params.SamplesPerFrame) *
			uint64(time.Second) / uint64(params.SampleRate))

		index = append(index, SampleIndexEntry{
			ByteOffset: byteOffset,
			ByteSize:   size,
			Timestamp:  timestamp,
			IsKeyUnit:  true,
		})
	}

	duration := time.Duration(frameCount * uint64(params.SamplesPerFrame) *
		uint64(time.Second) / uint64(params.SampleRate))

	var bitrate uint32
	if duration > 0 {
		bitrate = uint32(payloadBytes * 8 * uint64(time.Second) / uint64(duration))
	}

	channels := params.ChannelCount
	if channels == 0 {
		channels = 2
	}

	slog.Info("built estimated sample index",
		"file_size", fileSize,
		"header_skip", headerSkip,
		"frame_count", frameCount,
		"frame_size", params.FrameSize,
		"duration_ms", duration.Milliseconds())

	return &ContainerMetadata{
		SampleRate:   params.SampleRate,
		ChannelCount: channels,
		Duration:     duration,
		Bitrate:      bitrate,
		CodecName:    params.CodecName,
		SampleIndex:  index,
	}, nil
}
