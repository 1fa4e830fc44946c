package mp4

import (
	"fmt"
	"log/slog"
	"time"
)

// Accepted major brands for the ftyp box
var supportedBrands = map[uint32]bool{
	0x69736F6D: true, // 'isom'
	0x6D703431: true, // 'mp41'
	0x6D703432: true, // 'mp42'
	0x4D344120: true, // 'M4A '
	0x4D344220: true, // 'M4B '
}

// mediaHeader carries timing extracted from an mdhd box.
type mediaHeader struct {
	Timescale uint32
	Duration  uint64
}

// sampleDescription carries the audio description extracted from an stsd box.
type sampleDescription struct {
	CodecType  uint32
	Channels   uint16
	SampleSize uint16
	SampleRate uint32
	Supported  bool
}

// ValidateContainer checks that header bytes look like a supported MP4
// audio container: a recognized ftyp brand, a moov box, and an audio track
// with a supported codec.
func ValidateContainer(data []byte) error {
	if len(data) < 32 {
		return fmt.Errorf("%w: header too small (%d bytes)", ErrInvalidContainer, len(data))
	}

	ftyp := FindBox(data, BoxTypeFtyp)
	if ftyp == nil {
		return fmt.Errorf("%w: no ftyp box", ErrInvalidContainer)
	}
	if err := validateFtyp(ftyp); err != nil {
		return err
	}

	moov := FindBox(data, BoxTypeMoov)
	if moov == nil {
		return fmt.Errorf("%w: no moov box", ErrInvalidContainer)
	}

	_, err := ParseContainer(data)
	return err
}

// validateFtyp checks the major brand of an ftyp box against the supported
// set.
func validateFtyp(box []byte) error {
	header, err := ParseBoxHeader(box)
	if err != nil {
		return err
	}

	brand, err := readBE32(box, header.HeaderSize)
	if err != nil {
		return err
	}

	if !supportedBrands[brand] {
		return fmt.Errorf("%w: unknown major brand %08x", ErrUnsupportedCodec, brand)
	}
	return nil
}

// ParseContainer walks the box structure in the header bytes and extracts
// track metadata plus the flat sample index for the first audio track.
// A missing or empty required sample table returns ErrMissingSampleTable so
// the caller can fall back to an estimated index; this is distinct from
// skipping unknown boxes, which is silent.
func ParseContainer(data []byte) (*ContainerMetadata, error) {
	slog.Debug("parsing MP4 container", "header_bytes", len(data))

	moov := FindBox(data, BoxTypeMoov)
	if moov == nil {
		return nil, fmt.Errorf("%w: no moov box in header", ErrInvalidContainer)
	}

	moovHeader, err := ParseBoxHeader(moov)
	if err != nil {
		return nil, err
	}

	metadata, err := findAudioTrack(payload(moov, moovHeader))
	if err != nil {
		return nil, err
	}

	slog.Info("MP4 container parsed",
		"codec", metadata.CodecName,
		"sample_rate", metadata.SampleRate,
		"channels", metadata.ChannelCount,
		"duration_ms", metadata.Duration.Milliseconds(),
		"sample_count", metadata.SampleCount())

	return metadata, nil
}

// findAudioTrack scans the trak boxes inside a moov payload for the first
// audio track and assembles its metadata. Non-audio tracks are skipped;
// an audio track with broken tables fails loudly rather than silently
// scanning on.
func findAudioTrack(moovPayload []byte) (*ContainerMetadata, error) {
	remaining := moovPayload

	for len(remaining) >= 8 {
		header, err := ParseBoxHeader(remaining)
		if err != nil {
			break
		}

		if header.Type == BoxTypeTrak {
			metadata, err := parseTrack(payload(remaining[:header.Size], header))
			if err == nil {
				return metadata, nil
			}
			if err != errNotAudioTrack {
				return nil, err
			}
		}

		remaining = remaining[header.Size:]
	}

	return nil, ErrNoAudioTrack
}

// errNotAudioTrack is internal: the trak box walked was not an audio track.
var errNotAudioTrack = fmt.Errorf("not an audio track")

// parseTrack extracts audio metadata from one trak payload, or
// errNotAudioTrack when the handler is not 'soun'.
func parseTrack(trakPayload []byte) (*ContainerMetadata, error) {
	mdia := FindBox(trakPayload, BoxTypeMdia)
	if mdia == nil {
		return nil, errNotAudioTrack
	}
	mdiaHeader, err := ParseBoxHeader(mdia)
	if err != nil {
		return nil, errNotAudioTrack
	}
	mdiaPayload := payload(mdia, mdiaHeader)

	hdlr := FindBox(mdiaPayload, BoxTypeHdlr)
	if hdlr == nil || !isAudioHandler(hdlr) {
		return nil, errNotAudioTrack
	}

	mdhd, err := parseMdhd(FindBox(mdiaPayload, BoxTypeMdhd))
	if err != nil {
		return nil, err
	}

	minf := FindBox(mdiaPayload, BoxTypeMinf)
	if minf == nil {
		return nil, fmt.Errorf("%w: audio track has no minf box", ErrInvalidContainer)
	}
	minfHeader, err := ParseBoxHeader(minf)
	if err != nil {
		return nil, err
	}

	stbl := FindBox(payload(minf, minfHeader), BoxTypeStbl)
	if stbl == nil {
		return nil, fmt.Errorf("%w: audio track has no stbl box", ErrInvalidContainer)
	}
	stblHeader, err := ParseBoxHeader(stbl)
	if err != nil {
		return nil, err
	}
	stblPayload := payload(stbl, stblHeader)

	stsd, err := parseStsd(FindBox(stblPayload, BoxTypeStsd))
	if err != nil {
		return nil, err
	}
	if !stsd.Supported {
		return nil, fmt.Errorf("%w: codec tag %08x", ErrUnsupportedCodec, stsd.CodecType)
	}

	tables, err := parseSampleTables(stblPayload)
	if err != nil {
		return nil, err
	}

	sampleIndex, err := buildSampleIndex(tables, mdhd.Timescale)
	if err != nil {
		return nil, err
	}

	duration := time.Duration(mdhd.Duration * uint64(time.Second) / uint64(mdhd.Timescale))

	var totalBytes uint64
	for _, entry := range sampleIndex {
		totalBytes += uint64(entry.ByteSize)
	}
	var bitrate uint32
	if duration > 0 {
		bitrate = uint32(totalBytes * 8 * uint64(time.Second) / uint64(duration))
	}

	return &ContainerMetadata{
		SampleRate:   stsd.SampleRate,
		ChannelCount: uint32(stsd.Channels),
		Duration:     duration,
		Bitrate:      bitrate,
		CodecName:    "aac",
		SampleIndex:  sampleIndex,
	}, nil
}

// isAudioHandler checks the hdlr box handler type for 'soun'.
func isAudioHandler(box []byte) bool {
	header, err := ParseBoxHeader(box)
	if err != nil {
		return false
	}
	// version+flags (4) and pre_defined (4) precede the handler type
	handlerType, err := readBE32(box, header.HeaderSize+8)
	if err != nil {
		return false
	}
	return handlerType == HandlerTypeSoun
}

// parseMdhd extracts timescale and duration from an mdhd box, handling both
// the 32-bit (version 0) and 64-bit (version 1) layouts.
func parseMdhd(box []byte) (*mediaHeader, error) {
	if box == nil {
		return nil, fmt.Errorf("%w: audio track has no mdhd box", ErrInvalidContainer)
	}

	header, err := ParseBoxHeader(box)
	if err != nil {
		return nil, err
	}
	content := payload(box, header)
	if len(content) < 1 {
		return nil, fmt.Errorf("%w: empty mdhd box", ErrInvalidContainer)
	}

	var mdhd mediaHeader
	switch version := content[0]; version {
	case 0:
		timescale, err := readBE32(content, 12)
		if err != nil {
			return nil, err
		}
		duration, err := readBE32(content, 16)
		if err != nil {
			return nil, err
		}
		mdhd.Timescale = timescale
		mdhd.Duration = uint64(duration)
	case 1:
		timescale, err := readBE32(content, 20)
		if err != nil {
			return nil, err
		}
		duration, err := readBE64(content, 24)
		if err != nil {
			return nil, err
		}
		mdhd.Timescale = timescale
		mdhd.Duration = duration
	default:
		return nil, fmt.Errorf("%w: unknown mdhd version %d", ErrInvalidContainer, version)
	}

	return &mdhd, nil
}

// parseStsd extracts the first audio sample entry from an stsd box.
func parseStsd(box []byte) (*sampleDescription, error) {
	if box == nil {
		return nil, fmt.Errorf("%w: audio track has no stsd box", ErrInvalidContainer)
	}

	header, err := ParseBoxHeader(box)
	if err != nil {
		return nil, err
	}
	content := payload(box, header)

	entryCount, err := readBE32(content, 4)
	if err != nil {
		return nil, err
	}
	if entryCount == 0 {
		return nil, ErrNoAudioTrack
	}

	// First sample entry starts after version+flags and entry count
	const entryStart = 8
	codecType, err := readBE32(content, entryStart+4)
	if err != nil {
		return nil, err
	}

	desc := &sampleDescription{
		CodecType: codecType,
		Supported: codecType == CodecTypeMp4a,
	}

	if desc.Supported {
		// Audio sample entry layout: 6 reserved bytes, data reference index,
		// 8 reserved bytes, then channel count / sample size / fixed-point rate.
		channels, err := readBE16(content, entryStart+24)
		if err != nil {
			return nil, err
		}
		sampleSize, err := readBE16(content, entryStart+26)
		if err != nil {
			return nil, err
		}
		rateFixed, err := readBE32(content, entryStart+32)
		if err != nil {
			return nil, err
		}
		desc.Channels = channels
		desc.SampleSize = sampleSize
		desc.SampleRate = rateFixed >> 16 // 16.16 fixed point
	}

	return desc, nil
}

// parseSampleTables collects the four index tables from an stbl payload.
// Absent boxes leave the corresponding table empty; buildSampleIndex decides
// whether that is fatal.
func parseSampleTables(stblPayload []byte) (*sampleTables, error) {
	tables := &sampleTables{}

	if box := FindBox(stblPayload, BoxTypeStts); box != nil {
		header, err := ParseBoxHeader(box)
		if err == nil {
			tables.timeToSample, err = parseStts(payload(box, header))
			if err != nil {
				return nil, err
			}
		}
	}

	if box := FindBox(stblPayload, BoxTypeStsc); box != nil {
		header, err := ParseBoxHeader(box)
		if err == nil {
			tables.sampleToChunk, err = parseStsc(payload(box, header))
			if err != nil {
				return nil, err
			}
		}
	}

	if box := FindBox(stblPayload, BoxTypeStsz); box != nil {
		header, err := ParseBoxHeader(box)
		if err == nil {
			tables.sampleSizes, err = parseStsz(payload(box, header))
			if err != nil {
				return nil, err
			}
		}
	}

	wide := false
	box := FindBox(stblPayload, BoxTypeStco)
	if box == nil {
		box = FindBox(stblPayload, BoxTypeCo64)
		wide = true
	}
	if box != nil {
		header, err := ParseBoxHeader(box)
		if err == nil {
			tables.chunkOffsets, err = parseStco(payload(box, header), wide)
			if err != nil {
				return nil, err
			}
		}
	}

	return tables, nil
}
