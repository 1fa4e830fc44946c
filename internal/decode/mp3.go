package decode

import (
	"bytes"
	"io"
	"log/slog"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

// MP3 bitrate tables in kbps, indexed by the 4-bit bitrate field.
// Index 0 (free) and 15 (bad) are unusable.
var (
	mp3BitratesV1L3 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	mp3BitratesV2L3 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
	mp3SampleRates  = [4]int{44100, 48000, 32000, 0}
)

// Mp3FrameDecoder decodes MP3 data, scanning frame headers to report how
// many leading bytes form complete frames so partial trailing frames are
// never silently dropped.
type Mp3FrameDecoder struct{}

// NewMp3FrameDecoder creates a new MP3 frame decoder instance.
func NewMp3FrameDecoder() *Mp3FrameDecoder {
	slog.Debug("creating new MP3 frame decoder instance")
	return &Mp3FrameDecoder{}
}

// DecodeAll decodes every complete MP3 frame in data. ID3v2 tags are
// skipped. A buffer holding no complete frame reports StatusNeedMoreData.
func (d *Mp3FrameDecoder) DecodeAll(data []byte) DecodeResult {
	if len(data) == 0 {
		return DecodeResult{Status: StatusNeedMoreData}
	}

	complete := completeFramesPrefix(data)
	if complete == 0 {
		slog.Debug("no complete MP3 frame in buffer", "buffer_size", len(data))
		return DecodeResult{Status: StatusNeedMoreData}
	}

	decoder, err := mp3.NewDecoder(bytes.NewReader(data[:complete]))
	if err != nil {
		slog.Debug("MP3 decoder rejected frame prefix",
			"prefix_bytes", complete,
			"error", err)
		return DecodeResult{Status: StatusNeedMoreData}
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		slog.Debug("MP3 PCM read failed", "error", err)
		return DecodeResult{Status: StatusNeedMoreData}
	}
	if len(pcm) == 0 {
		return DecodeResult{Status: StatusNeedMoreData}
	}

	// go-mp3 outputs 16-bit little-endian stereo
	samples := pcm16ToFloat32(pcm)

	return DecodeResult{
		Status:        StatusDecoded,
		Samples:       samples,
		SampleRate:    uint32(decoder.SampleRate()),
		Channels:      2,
		BytesConsumed: complete,
	}
}

// CanDecode checks if this decoder can handle the given filename.
func (d *Mp3FrameDecoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".mp3") || strings.HasSuffix(lower, ".mpeg")
}

// FormatName returns the name of the format this decoder handles.
func (d *Mp3FrameDecoder) FormatName() string {
	return "MP3"
}

// completeFramesPrefix scans MP3 frame headers and returns the byte length
// of the prefix made of complete frames (plus any leading ID3v2 tag). A
// trailing partial frame is excluded.
func completeFramesPrefix(data []byte) int {
	offset := skipID3v2(data)
	if offset > len(data) {
		// The ID3 tag itself is still incomplete
		return 0
	}

	end := offset
	sawFrame := false

	for offset+4 <= len(data) {
		frameLen := mp3FrameLength(data[offset:])
		if frameLen == 0 {
			// Not a frame header here; scan forward for the next sync word
			offset++
			continue
		}
		if offset+frameLen > len(data) {
			break // trailing partial frame
		}
		offset += frameLen
		end = offset
		sawFrame = true
	}

	if !sawFrame {
		return 0
	}
	return end
}

// skipID3v2 returns the offset past a leading ID3v2 tag, or 0 when there is
// none. The tag size is a synchsafe integer in bytes 6-9.
func skipID3v2(data []byte) int {
	if len(data) < 10 || !bytes.HasPrefix(data, []byte("ID3")) {
		if bytes.HasPrefix(data, []byte("ID3")) {
			return len(data) + 1 // tag header itself incomplete
		}
		return 0
	}
	tagSize := int(data[6]&0x7F)<<21 | int(data[7]&0x7F)<<14 |
		int(data[8]&0x7F)<<7 | int(data[9]&0x7F)
	return 10 + tagSize
}

// mp3FrameLength parses a frame header at the start of data and returns the
// whole frame's byte length, or 0 when the bytes are not a valid Layer III
// frame header.
func mp3FrameLength(data []byte) int {
	if len(data) < 4 {
		return 0
	}
	if data[0] != 0xFF || data[1]&0xE0 != 0xE0 {
		return 0
	}

	version := (data[1] >> 3) & 0x03 // 3 = MPEG1, 2 = MPEG2, 0 = MPEG2.5
	layer := (data[1] >> 1) & 0x03   // 1 = Layer III
	if version == 1 || layer != 1 {
		return 0
	}

	bitrateIdx := (data[2] >> 4) & 0x0F
	rateIdx := (data[2] >> 2) & 0x03
	padding := int((data[2] >> 1) & 0x01)

	sampleRate := mp3SampleRates[rateIdx]
	if sampleRate == 0 {
		return 0
	}

	var bitrate, scale int
	if version == 3 {
		bitrate = mp3BitratesV1L3[bitrateIdx]
		scale = 144
	} else {
		bitrate = mp3BitratesV2L3[bitrateIdx]
		scale = 72
		sampleRate /= 2 // MPEG2 halves the sample rate
		if version == 0 {
			sampleRate /= 2 // MPEG2.5 quarters it
		}
	}
	if bitrate == 0 {
		return 0
	}

	return scale*bitrate*1000/sampleRate + padding
}

// pcm16ToFloat32 converts interleaved 16-bit little-endian PCM to float32
// in [-1, 1).
func pcm16ToFloat32(pcm []byte) []float32 {
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		samples[i] = float32(v) / 32768.0
	}
	return samples
}
