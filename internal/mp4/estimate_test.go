package mp4

import (
	"errors"
	"testing"
	"time"
)

func mp3EstimateParams() EstimateParams {
	return EstimateParams{
		SampleRate:      44100,
		ChannelCount:    2,
		FrameSize:       417, // typical 128kbps MP3 frame
		SamplesPerFrame: 1152,
		CodecName:       "mp3",
	}
}

func TestEstimateSampleIndex(t *testing.T) {
	fileSize := uint64(1024 * 1024)
	metadata, err := EstimateSampleIndex(fileSize, mp3EstimateParams())
	if err != nil {
		t.Fatalf("EstimateSampleIndex failed: %v", err)
	}

	if len(metadata.SampleIndex) == 0 {
		t.Fatal("estimated index is empty")
	}

	// Header skip is min(32KB, fileSize/10); 1MB/10 > 32KB so 32KB wins
	first := metadata.SampleIndex[0]
	if first.ByteOffset != 32*1024 {
		t.Errorf("first offset = %d, want %d", first.ByteOffset, 32*1024)
	}
	if first.Timestamp != 0 {
		t.Errorf("first timestamp = %v, want 0", first.Timestamp)
	}

	// Fixed strides and monotone invariants
	for i := 1; i < len(metadata.SampleIndex); i++ {
		prev, cur := metadata.SampleIndex[i-1], metadata.SampleIndex[i]
		if cur.ByteOffset != prev.ByteOffset+417 {
			t.Fatalf("stride broken at %d: %d -> %d", i, prev.ByteOffset, cur.ByteOffset)
		}
		if cur.Timestamp < prev.Timestamp {
			t.Fatalf("timestamps decreasing at %d", i)
		}
	}

	// Second frame timestamp is samplesPerFrame/sampleRate
	want := time.Duration(1152 * uint64(time.Second) / 44100)
	if metadata.SampleIndex[1].Timestamp != want {
		t.Errorf("second timestamp = %v, want %v", metadata.SampleIndex[1].Timestamp, want)
	}
}

func TestEstimateSampleIndexSmallFileHeaderSkip(t *testing.T) {
	// For small files the skip is fileSize/10, not 32KB
	fileSize := uint64(10000)
	metadata, err := EstimateSampleIndex(fileSize, mp3EstimateParams())
	if err != nil {
		t.Fatalf("EstimateSampleIndex failed: %v", err)
	}
	if metadata.SampleIndex[0].ByteOffset != 1000 {
		t.Errorf("first offset = %d, want 1000", metadata.SampleIndex[0].ByteOffset)
	}
}

func TestEstimateSampleIndexRequiresSampleRate(t *testing.T) {
	params := mp3EstimateParams()
	params.SampleRate = 0

	_, err := EstimateSampleIndex(1024*1024, params)
	if !errors.Is(err, ErrEstimationFailed) {
		t.Errorf("expected ErrEstimationFailed without sample rate, got %v", err)
	}
}

func TestEstimateSampleIndexTinyFile(t *testing.T) {
	_, err := EstimateSampleIndex(0, mp3EstimateParams())
	if !errors.Is(err, ErrEstimationFailed) {
		t.Errorf("expected ErrEstimationFailed for empty file, got %v", err)
	}
}
