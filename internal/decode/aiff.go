package decode

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"strings"

	"github.com/go-audio/aiff"
	"github.com/go-audio/audio"
)

// AiffFrameDecoder decodes AIFF (FORM) data. Like WAV, the header must be
// at the start of the buffer on every call, so the session keeps AIFF
// buffers anchored at the stream origin. Decoding is all-or-nothing per
// buffer since the SSND chunk carries one contiguous PCM run.
type AiffFrameDecoder struct{}

// NewAiffFrameDecoder creates a new AIFF frame decoder instance.
func NewAiffFrameDecoder() *AiffFrameDecoder {
	slog.Debug("creating new AIFF frame decoder instance")
	return &AiffFrameDecoder{}
}

// DecodeAll decodes the PCM content of the buffer.
func (d *AiffFrameDecoder) DecodeAll(data []byte) DecodeResult {
	if len(data) < 12 || !bytes.HasPrefix(data, []byte("FORM")) {
		return DecodeResult{Status: StatusNeedMoreData}
	}

	decoder := aiff.NewDecoder(bytes.NewReader(data))
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		slog.Debug("AIFF header not yet valid", "buffer_size", len(data))
		return DecodeResult{Status: StatusNeedMoreData}
	}

	bitDepth := decoder.SampleBitDepth()
	if bitDepth == 0 || decoder.NumChans == 0 || decoder.SampleRate == 0 {
		return DecodeResult{Status: StatusFatal, Err: ErrInvalidData}
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		slog.Debug("AIFF PCM decode failed", "error", err)
		return DecodeResult{Status: StatusNeedMoreData}
	}
	if buf == nil || len(buf.Data) == 0 {
		return DecodeResult{Status: StatusNeedMoreData}
	}

	maxValue := float32(audio.IntMaxSignedValue(int(bitDepth)))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / maxValue
	}

	return DecodeResult{
		Status:        StatusDecoded,
		Samples:       samples,
		SampleRate:    uint32(decoder.SampleRate),
		Channels:      uint32(decoder.NumChans),
		BytesConsumed: len(data),
	}
}

// CanDecode checks if this decoder can handle the given filename.
func (d *AiffFrameDecoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".aiff") || strings.HasSuffix(lower, ".aif")
}

// FormatName returns the name of the format this decoder handles.
func (d *AiffFrameDecoder) FormatName() string {
	return "AIFF"
}

// findAiffSoundStart walks the FORM chunk list and returns the byte offset
// of the SSND sample data, or -1 when the chunk is not yet in the buffer.
func findAiffSoundStart(data []byte) int {
	offset := 12 // past FORM size and AIFF tag
	for offset+8 <= len(data) {
		chunkID := data[offset : offset+4]
		chunkSize := int(binary.BigEndian.Uint32(data[offset+4 : offset+8]))
		if bytes.Equal(chunkID, []byte("SSND")) {
			if offset+16 > len(data) {
				return -1
			}
			// The SSND payload opens with offset and block size fields
			// before the samples themselves
			dataOffset := int(binary.BigEndian.Uint32(data[offset+8 : offset+12]))
			return offset + 16 + dataOffset
		}
		// Chunks are word-aligned
		offset += 8 + chunkSize + chunkSize%2
	}
	return -1
}
