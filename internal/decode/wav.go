package decode

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"strings"

	"github.com/youpy/go-wav"
)

// WavFrameDecoder decodes WAV (RIFF) data. The header must be present at
// the start of the buffer on every call: the session keeps WAV buffers
// anchored at the stream origin and re-decodes them in full as they grow.
type WavFrameDecoder struct{}

// NewWavFrameDecoder creates a new WAV frame decoder instance.
func NewWavFrameDecoder() *WavFrameDecoder {
	slog.Debug("creating new WAV frame decoder instance")
	return &WavFrameDecoder{}
}

// DecodeAll decodes every complete PCM frame in data. The consumed count
// covers the header plus whole frames only; a trailing partial frame stays
// unconsumed.
func (d *WavFrameDecoder) DecodeAll(data []byte) DecodeResult {
	if len(data) < 44 { // canonical RIFF header size
		return DecodeResult{Status: StatusNeedMoreData}
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		return DecodeResult{Status: StatusNeedMoreData}
	}

	reader := wav.NewReader(bytes.NewReader(data))
	format, err := reader.Format()
	if err != nil {
		slog.Debug("WAV format read failed", "error", err)
		return DecodeResult{Status: StatusNeedMoreData}
	}

	channels := uint32(format.NumChannels)
	blockAlign := int(format.BlockAlign)
	if channels == 0 || blockAlign == 0 {
		return DecodeResult{Status: StatusFatal, Err: ErrInvalidData}
	}

	dataOffset := findRiffDataChunk(data)
	if dataOffset < 0 {
		return DecodeResult{Status: StatusNeedMoreData}
	}

	available := len(data) - dataOffset
	wholeFrames := available / blockAlign
	if wholeFrames == 0 {
		return DecodeResult{Status: StatusNeedMoreData}
	}

	samples := make([]float32, 0, wholeFrames*int(channels))
	framesRead := 0
	for framesRead < wholeFrames {
		batch, err := reader.ReadSamples(uint32(wholeFrames - framesRead))
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Debug("WAV sample read failed", "error", err)
			break
		}
		for _, sample := range batch {
			for ch := uint(0); ch < uint(channels); ch++ {
				samples = append(samples, float32(reader.FloatValue(sample, ch)))
			}
		}
		framesRead += len(batch)
	}

	if framesRead == 0 {
		return DecodeResult{Status: StatusNeedMoreData}
	}

	return DecodeResult{
		Status:        StatusDecoded,
		Samples:       samples,
		SampleRate:    format.SampleRate,
		Channels:      channels,
		BytesConsumed: dataOffset + framesRead*blockAlign,
	}
}

// CanDecode checks if this decoder can handle the given filename.
func (d *WavFrameDecoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".wav") || strings.HasSuffix(lower, ".wave")
}

// FormatName returns the name of the format this decoder handles.
func (d *WavFrameDecoder) FormatName() string {
	return "WAV"
}

// findRiffDataChunk walks the RIFF chunk list and returns the byte offset
// of the data chunk's payload, or -1 when it is not yet in the buffer.
func findRiffDataChunk(data []byte) int {
	offset := 12 // past RIFF size and WAVE tag
	for offset+8 <= len(data) {
		chunkID := data[offset : offset+4]
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		if bytes.Equal(chunkID, []byte("data")) {
			return offset + 8
		}
		// Chunks are word-aligned
		offset += 8 + chunkSize + chunkSize%2
	}
	return -1
}
