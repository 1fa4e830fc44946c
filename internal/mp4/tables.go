package mp4

import (
	"fmt"
	"log/slog"
	"time"
)

// sampleTables holds the four raw index tables extracted from an stbl box.
// They are combined into the flat sample index by buildSampleIndex.
type sampleTables struct {
	timeToSample  []sttsEntry // sample-duration runs
	sampleToChunk []stscEntry // chunk-group mapping
	sampleSizes   []uint32    // per-sample byte sizes (expanded)
	chunkOffsets  []uint64    // absolute chunk byte offsets
}

type sttsEntry struct {
	SampleCount uint32
	SampleDelta uint32 // duration of each sample in timescale units
}

type stscEntry struct {
	FirstChunk      uint32 // 1-based index of the first chunk this entry covers
	SamplesPerChunk uint32
}

// parseStts parses the decoding-time-to-sample box payload.
func parseStts(data []byte) ([]sttsEntry, error) {
	// version+flags (4) then entry count
	count, err := readBE32(data, 4)
	if err != nil {
		return nil, fmt.Errorf("stts entry count: %w", err)
	}

	entries := make([]sttsEntry, 0, count)
	offset := 8
	for i := uint32(0); i < count; i++ {
		sampleCount, err := readBE32(data, offset)
		if err != nil {
			return nil, fmt.Errorf("stts entry %d: %w", i, err)
		}
		sampleDelta, err := readBE32(data, offset+4)
		if err != nil {
			return nil, fmt.Errorf("stts entry %d: %w", i, err)
		}
		entries = append(entries, sttsEntry{SampleCount: sampleCount, SampleDelta: sampleDelta})
		offset += 8
	}

	return entries, nil
}

// parseStsc parses the sample-to-chunk box payload.
func parseStsc(data []byte) ([]stscEntry, error) {
	count, err := readBE32(data, 4)
	if err != nil {
		return nil, fmt.Errorf("stsc entry count: %w", err)
	}

	entries := make([]stscEntry, 0, count)
	offset := 8
	for i := uint32(0); i < count; i++ {
		firstChunk, err := readBE32(data, offset)
		if err != nil {
			return nil, fmt.Errorf("stsc entry %d: %w", i, err)
		}
		samplesPerChunk, err := readBE32(data, offset+4)
		if err != nil {
			return nil, fmt.Errorf("stsc entry %d: %w", i, err)
		}
		// sample description index (4 bytes) is not needed for indexing
		entries = append(entries, stscEntry{FirstChunk: firstChunk, SamplesPerChunk: samplesPerChunk})
		offset += 12
	}

	return entries, nil
}

// parseStsz parses the sample-size box payload into one size per sample.
// A non-zero default size applies to every sample; otherwise the per-sample
// table follows.
func parseStsz(data []byte) ([]uint32, error) {
	defaultSize, err := readBE32(data, 4)
	if err != nil {
		return nil, fmt.Errorf("stsz default size: %w", err)
	}
	sampleCount, err := readBE32(data, 8)
	if err != nil {
		return nil, fmt.Errorf("stsz sample count: %w", err)
	}

	sizes := make([]uint32, 0, sampleCount)
	if defaultSize != 0 {
		for i := uint32(0); i < sampleCount; i++ {
			sizes = append(sizes, defaultSize)
		}
		return sizes, nil
	}

	offset := 12
	for i := uint32(0); i < sampleCount; i++ {
		size, err := readBE32(data, offset)
		if err != nil {
			return nil, fmt.Errorf("stsz entry %d: %w", i, err)
		}
		sizes = append(sizes, size)
		offset += 4
	}

	return sizes, nil
}

// parseStco parses chunk offsets from an stco (32-bit) or co64 (64-bit)
// box payload.
func parseStco(data []byte, wide bool) ([]uint64, error) {
	count, err := readBE32(data, 4)
	if err != nil {
		return nil, fmt.Errorf("chunk offset count: %w", err)
	}

	offsets := make([]uint64, 0, count)
	offset := 8
	for i := uint32(0); i < count; i++ {
		if wide {
			v, err := readBE64(data, offset)
			if err != nil {
				return nil, fmt.Errorf("co64 entry %d: %w", i, err)
			}
			offsets = append(offsets, v)
			offset += 8
		} else {
			v, err := readBE32(data, offset)
			if err != nil {
				return nil, fmt.Errorf("stco entry %d: %w", i, err)
			}
			offsets = append(offsets, uint64(v))
			offset += 4
		}
	}

	return offsets, nil
}

// buildSampleIndex flattens the four sample tables into one entry per
// sample. Each chunk group expands into its constituent samples: byte
// offsets accumulate by summing sample sizes within a chunk and taking
// chunk offsets across chunks; timestamps accumulate from the duration
// runs scaled by the track timescale.
func buildSampleIndex(tables *sampleTables, timescale uint32) ([]SampleIndexEntry, error) {
	if len(tables.timeToSample) == 0 || len(tables.sampleToChunk) == 0 ||
		len(tables.sampleSizes) == 0 || len(tables.chunkOffsets) == 0 {
		return nil, fmt.Errorf("%w: stts=%d stsc=%d stsz=%d stco=%d",
			ErrMissingSampleTable,
			len(tables.timeToSample), len(tables.sampleToChunk),
			len(tables.sampleSizes), len(tables.chunkOffsets))
	}
	if timescale == 0 {
		return nil, fmt.Errorf("%w: zero timescale", ErrInvalidContainer)
	}

	totalSamples := len(tables.sampleSizes)
	index := make([]SampleIndexEntry, 0, totalSamples)

	// Precompute per-sample timestamps from the duration runs.
	timestamps := make([]time.Duration, 0, totalSamples)
	var elapsedUnits uint64
	for _, run := range tables.timeToSample {
		for i := uint32(0); i < run.SampleCount && len(timestamps) < totalSamples; i++ {
			ts := time.Duration(elapsedUnits * uint64(time.Second) / uint64(timescale))
			timestamps = append(timestamps, ts)
			elapsedUnits += uint64(run.SampleDelta)
		}
	}
	// Short stts tables repeat the final delta rather than failing the index.
	for len(timestamps) < totalSamples {
		lastRun := tables.timeToSample[len(tables.timeToSample)-1]
		ts := time.Duration(elapsedUnits * uint64(time.Second) / uint64(timescale))
		timestamps = append(timestamps, ts)
		elapsedUnits += uint64(lastRun.SampleDelta)
	}

	// Walk chunks, expanding each chunk group into its samples.
	sampleNum := 0
	for chunkIdx, chunkOffset := range tables.chunkOffsets {
		samplesInChunk := samplesForChunk(tables.sampleToChunk, uint32(chunkIdx+1))

		byteOffset := chunkOffset
		for i := uint32(0); i < samplesInChunk && sampleNum < totalSamples; i++ {
			size := tables.sampleSizes[sampleNum]
			index = append(index, SampleIndexEntry{
				ByteOffset: byteOffset,
				ByteSize:   size,
				Timestamp:  timestamps[sampleNum],
				IsKeyUnit:  true, // audio samples are independently decodable
			})
			byteOffset += uint64(size)
			sampleNum++
		}

		if sampleNum >= totalSamples {
			break
		}
	}

	if sampleNum < totalSamples {
		slog.Warn("sample index shorter than declared sample count",
			"indexed", sampleNum,
			"declared", totalSamples)
	}

	return index, nil
}

// samplesForChunk resolves the samples-per-chunk for a 1-based chunk number
// from the stsc run table: an entry applies from its FirstChunk until the
// next entry's FirstChunk.
func samplesForChunk(entries []stscEntry, chunkNum uint32) uint32 {
	samples := uint32(0)
	for _, entry := range entries {
		if entry.FirstChunk > chunkNum {
			break
		}
		samples = entry.SamplesPerChunk
	}
	return samples
}
