package decode

import "testing"

// frame header bytes: 0xFF 0xFB is MPEG1 Layer III no CRC.
func mp3Header(bitrateIdx, rateIdx, padding byte) []byte {
	return []byte{0xFF, 0xFB, bitrateIdx<<4 | rateIdx<<2 | padding<<1, 0x00}
}

func TestMp3FrameLength(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		want   int
	}{
		{
			// 144 * 128000 / 44100 = 417
			name:   "128kbps 44.1kHz no padding",
			header: mp3Header(9, 0, 0),
			want:   417,
		},
		{
			name:   "128kbps 44.1kHz padded",
			header: mp3Header(9, 0, 1),
			want:   418,
		},
		{
			// 144 * 320000 / 48000 = 960
			name:   "320kbps 48kHz",
			header: mp3Header(14, 1, 0),
			want:   960,
		},
		{
			name:   "free bitrate is invalid",
			header: mp3Header(0, 0, 0),
			want:   0,
		},
		{
			name:   "reserved sample rate is invalid",
			header: mp3Header(9, 3, 0),
			want:   0,
		},
		{
			name:   "no sync word",
			header: []byte{0x00, 0x00, 0x90, 0x00},
			want:   0,
		},
		{
			name:   "too short",
			header: []byte{0xFF, 0xFB},
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mp3FrameLength(tt.header); got != tt.want {
				t.Errorf("mp3FrameLength() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSkipID3v2(t *testing.T) {
	tag := []byte{'I', 'D', '3', 4, 0, 0, 0, 0, 0x02, 0x01}
	// synchsafe 0x02 0x01 = 2*128 + 1 = 257
	if got := skipID3v2(append(tag, make([]byte, 300)...)); got != 10+257 {
		t.Errorf("skipID3v2() = %d, want %d", got, 267)
	}

	if got := skipID3v2([]byte{0xFF, 0xFB, 0x90, 0x00}); got != 0 {
		t.Errorf("expected 0 for untagged data, got %d", got)
	}
}

func TestCompleteFramesPrefix(t *testing.T) {
	frame := make([]byte, 417)
	copy(frame, mp3Header(9, 0, 0))

	t.Run("two complete frames", func(t *testing.T) {
		data := append(append([]byte{}, frame...), frame...)
		if got := completeFramesPrefix(data); got != 834 {
			t.Errorf("prefix = %d, want 834", got)
		}
	})

	t.Run("trailing partial frame excluded", func(t *testing.T) {
		data := append(append([]byte{}, frame...), frame[:100]...)
		if got := completeFramesPrefix(data); got != 417 {
			t.Errorf("prefix = %d, want 417", got)
		}
	})

	t.Run("lone partial frame", func(t *testing.T) {
		if got := completeFramesPrefix(frame[:200]); got != 0 {
			t.Errorf("prefix = %d, want 0", got)
		}
	})

	t.Run("incomplete id3 tag", func(t *testing.T) {
		if got := completeFramesPrefix([]byte("ID3\x04\x00")); got != 0 {
			t.Errorf("prefix = %d, want 0", got)
		}
	})
}

func TestMp3DecodeAllNeedsMoreData(t *testing.T) {
	decoder := NewMp3FrameDecoder()

	result := decoder.DecodeAll(nil)
	if result.Status != StatusNeedMoreData {
		t.Errorf("empty buffer: status = %s, want need_more_data", result.Status)
	}

	partial := make([]byte, 200)
	copy(partial, mp3Header(9, 0, 0))
	result = decoder.DecodeAll(partial)
	if result.Status != StatusNeedMoreData {
		t.Errorf("partial frame: status = %s, want need_more_data", result.Status)
	}
}
