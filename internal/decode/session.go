package decode

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"sonix.click/internal/chunkio"
	"sonix.click/internal/memgov"
	"sonix.click/internal/mp4"
)

// SessionState tracks the decode session lifecycle.
type SessionState int

const (
	StateUninitialized SessionState = iota
	StateInitialized
	StateProcessing
	StateCleaned
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateProcessing:
		return "processing"
	case StateCleaned:
		return "cleaned"
	default:
		return "unknown"
	}
}

// headerReadSize is the region read at the front of the file for container
// parsing and format probing.
const headerReadSize = 256 * 1024

// seekExactWindow is the time difference under which a seek result counts
// as exact.
const seekExactWindow = 25 * time.Millisecond

// SeekResult reports where a seek actually landed.
type SeekResult struct {
	ActualPosition time.Duration
	ByteOffset     uint64
	IsExact        bool
	Warning        string
}

// SessionMetadata is the typed view of session metadata. Extra carries
// open-ended diagnostic values only.
type SessionMetadata struct {
	SampleRate      uint32
	ChannelCount    uint32
	Duration        time.Duration
	Bitrate         uint32
	CodecName       string
	SampleCount     int
	HasPreciseIndex bool
	Extra           map[string]any
}

// Options configures session construction.
type Options struct {
	Fs       afero.Fs         // defaults to the OS filesystem
	Decoder  FrameDecoder     // overrides the decoder chosen by detection
	Governor *memgov.Governor // optional memory governor
	Logger   *slog.Logger     // defaults to slog.Default()
}

// Session is the chunked decode controller for one file. It consumes
// FileChunks, accumulates partial codec frames across arbitrary chunk
// boundaries, and emits AudioChunks in non-decreasing StartSample order.
// A session is not safe for concurrent use: chunk processing is strictly
// sequential because the buffer state is not reusable concurrently.
type Session struct {
	fs       afero.Fs
	logger   *slog.Logger
	governor *memgov.Governor

	state   SessionState
	format  string
	config  FormatConfig
	decoder FrameDecoder

	reader   *chunkio.Reader
	metadata *mp4.ContainerMetadata
	precise  bool

	// liveBuffer holds bytes received since the last successful decode;
	// retainedBuffer holds undecoded bytes kept across failed attempts.
	// Header-anchored formats use only retainedBuffer, grown from the
	// stream origin so the container header stays visible to the decoder.
	liveBuffer     []byte
	retainedBuffer []byte
	originHeader   []byte // header prefix kept for post-seek decodes (anchored formats)

	sampleCursor  uint64 // PCM frame position of the next emitted sample
	emittedFrames uint64 // frames already emitted on the anchored path
	governorBytes uint64 // bytes currently accounted to the governor
	truncations   int    // retained-buffer overflow events (soft warnings)
}

// NewSession creates an uninitialized decode session.
func NewSession(opts Options) *Session {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		fs:       fs,
		logger:   logger,
		governor: opts.Governor,
		decoder:  opts.Decoder,
		state:    StateUninitialized,
	}
}

// Initialize opens the file, detects its format, parses container metadata
// (falling back to an estimated sample index when precise tables are
// unavailable), and optionally performs an initial seek. On failure the
// session stays Uninitialized.
func (s *Session) Initialize(path string, seekTo *time.Duration) error {
	if s.state == StateCleaned {
		return ErrSessionCleaned
	}
	if s.state != StateUninitialized {
		return fmt.Errorf("%w: initialize in state %s", ErrSessionState, s.state)
	}

	s.logger.Debug("initializing decode session", "path", path)

	reader, err := chunkio.Open(s.fs, path)
	if err != nil {
		return err
	}

	header, err := reader.ReadRange(0, headerReadSize)
	if err != nil {
		reader.Close()
		return fmt.Errorf("failed to read header region: %w", err)
	}

	format := DetectFormat(path, header)
	if format == "" {
		reader.Close()
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	config, err := ConfigForFormat(format)
	if err != nil {
		reader.Close()
		return err
	}

	if s.decoder == nil {
		if decoder, err := DecoderForFormat(format); err == nil {
			s.decoder = decoder
		} else {
			// Metadata, chunk sizing and seeking still work without a
			// decoder; the gap surfaces on the first ProcessChunk.
			s.logger.Debug("no built-in decoder for format",
				"format", format, "error", err)
		}
	}

	metadata, precise := s.buildMetadata(format, config, header, reader.FileSize())
	if metadata == nil {
		reader.Close()
		return fmt.Errorf("%w: cannot determine stream parameters for %s", ErrInvalidData, path)
	}

	if config.HeaderAnchored {
		s.originHeader = streamHeaderPrefix(format, header)
	}

	s.reader = reader
	s.format = format
	s.config = config
	s.metadata = metadata
	s.precise = precise
	s.state = StateInitialized

	if seekTo != nil {
		if _, err := s.SeekToTime(*seekTo); err != nil {
			s.logger.Warn("initial seek failed", "target_ms", seekTo.Milliseconds(), "error", err)
		}
	}

	s.logger.Info("decode session initialized",
		"path", path,
		"format", format,
		"sample_rate", metadata.SampleRate,
		"channels", metadata.ChannelCount,
		"precise_index", precise)

	return nil
}

// buildMetadata parses the container for MP4 input and falls back to the
// estimated index for everything else or when precise tables are missing.
// Returns nil metadata only when even estimation cannot proceed.
func (s *Session) buildMetadata(format string, config FormatConfig, header []byte, fileSize uint64) (*mp4.ContainerMetadata, bool) {
	if format == "MP4" {
		metadata, err := mp4.ParseContainer(header)
		if err == nil {
			return metadata, true
		}
		if !errors.Is(err, mp4.ErrMissingSampleTable) && !errors.Is(err, mp4.ErrInvalidContainer) {
			s.logger.Warn("container parse failed", "error", err)
		} else {
			s.logger.Warn("container tables unavailable, using estimated index", "error", err)
		}
	}

	params := mp4.EstimateParams{
		SampleRate:      config.DefaultSampleRate,
		FrameSize:       config.TypicalFrameSize,
		SamplesPerFrame: config.SamplesPerFrame,
		CodecName:       format,
	}

	// A quick probe of the header refines the estimate's stream parameters.
	if s.decoder != nil {
		if probe := s.decoder.DecodeAll(header); probe.Status == StatusDecoded {
			params.SampleRate = probe.SampleRate
			params.ChannelCount = probe.Channels
		}
	}

	metadata, err := mp4.EstimateSampleIndex(fileSize, params)
	if err != nil {
		s.logger.Error("estimated index failed", "error", err)
		return nil, false
	}
	return metadata, false
}

// ProcessChunk feeds one FileChunk through the decode state machine and
// returns any AudioChunks it produced. Zero chunks returned is normal when
// a codec frame straddles the chunk boundary; the bytes are buffered and
// retried with the next chunk.
func (s *Session) ProcessChunk(chunk *chunkio.FileChunk) ([]AudioChunk, error) {
	if s.state == StateCleaned {
		return nil, ErrSessionCleaned
	}
	if s.state != StateInitialized && s.state != StateProcessing {
		return nil, fmt.Errorf("%w: process chunk in state %s", ErrSessionState, s.state)
	}
	if err := chunk.Validate(); err != nil {
		return nil, err
	}
	if s.decoder == nil {
		return nil, fmt.Errorf("%w: no decoder available for %s", ErrUnsupportedFormat, s.format)
	}
	s.state = StateProcessing

	if err := s.accountBuffer(uint64(len(chunk.Data))); err != nil {
		return nil, err
	}

	s.liveBuffer = append(s.liveBuffer, chunk.Data...)

	if s.config.HeaderAnchored {
		return s.decodeAnchored(chunk.IsLast)
	}

	// When the retained buffer is empty the live buffer starts at a known
	// frame boundary and can decode alone.
	if len(s.retainedBuffer) == 0 {
		result := s.decoder.DecodeAll(s.liveBuffer)
		switch result.Status {
		case StatusDecoded:
			return s.emitLive(result, chunk.IsLast), nil
		case StatusFatal:
			return nil, fmt.Errorf("decode failed: %w", result.Err)
		}
		// NeedMoreData falls through to the retained path
	}

	if len(s.liveBuffer) < s.config.DecodeThreshold && !chunk.IsLast {
		// Not worth a retained retry yet; keep accumulating
		return nil, nil
	}

	return s.retryRetained(chunk.IsLast)
}

// emitLive emits a successful live-buffer decode and re-buffers the
// unconsumed tail.
func (s *Session) emitLive(result DecodeResult, isLast bool) []AudioChunk {
	tail := s.liveBuffer[result.BytesConsumed:]
	s.liveBuffer = append([]byte(nil), tail...)
	s.releaseBuffer(uint64(result.BytesConsumed))

	if isLast && len(s.liveBuffer) > 0 {
		// A partial frame at end of stream can never complete
		s.logger.Warn("undecoded bytes remain at end of stream",
			"tail_bytes", len(s.liveBuffer))
		s.releaseBuffer(uint64(len(s.liveBuffer)))
		s.liveBuffer = nil
	}

	chunk := AudioChunk{
		Samples:     result.Samples,
		StartSample: s.sampleCursor,
		IsLast:      isLast,
	}
	s.sampleCursor += result.FrameCount()

	s.logger.Debug("live buffer decoded",
		"frames", result.FrameCount(),
		"consumed", result.BytesConsumed,
		"tail_bytes", len(s.liveBuffer))

	return []AudioChunk{chunk}
}

// retryRetained appends the live buffer to the retained bytes and retries
// the decode from the last known frame boundary. Failure keeps the bytes,
// capped at MaxRetainedBuffer by dropping the oldest excess.
func (s *Session) retryRetained(isLast bool) ([]AudioChunk, error) {
	s.retainedBuffer = append(s.retainedBuffer, s.liveBuffer...)
	s.liveBuffer = nil

	result := s.decoder.DecodeAll(s.retainedBuffer)
	switch result.Status {
	case StatusDecoded:
		tail := s.retainedBuffer[result.BytesConsumed:]
		if isLast {
			s.releaseBuffer(uint64(len(s.retainedBuffer)))
			s.retainedBuffer = nil
		} else {
			s.retainedBuffer = append([]byte(nil), tail...)
			s.releaseBuffer(uint64(result.BytesConsumed))
		}

		chunk := AudioChunk{
			Samples:     result.Samples,
			StartSample: s.sampleCursor,
			IsLast:      isLast,
		}
		s.sampleCursor += result.FrameCount()

		s.logger.Debug("retained buffer decoded",
			"frames", result.FrameCount(),
			"consumed", result.BytesConsumed,
			"retained_bytes", len(s.retainedBuffer))

		return []AudioChunk{chunk}, nil

	case StatusFatal:
		return nil, fmt.Errorf("decode failed: %w", result.Err)

	default:
		if len(s.retainedBuffer) > s.config.MaxRetainedBuffer {
			// Bounded memory wins over correctness for this stretch: drop
			// the oldest bytes and report a soft warning.
			excess := len(s.retainedBuffer) - s.config.MaxRetainedBuffer
			s.retainedBuffer = append([]byte(nil), s.retainedBuffer[excess:]...)
			s.releaseBuffer(uint64(excess))
			s.truncations++
			s.logger.Warn("retained buffer truncated, samples lost for this stretch",
				"dropped_bytes", excess,
				"cap_bytes", s.config.MaxRetainedBuffer,
				"truncation_count", s.truncations)
		}
		if isLast {
			// End of stream with undecodable leftovers: soft warning only
			s.logger.Warn("undecoded bytes remain at end of stream",
				"retained_bytes", len(s.retainedBuffer))
			s.releaseBuffer(uint64(len(s.retainedBuffer)))
			s.retainedBuffer = nil
		}
		return nil, nil
	}
}

// decodeAnchored handles formats whose container header must stay at the
// front of the buffer (RIFF, FORM). The retained buffer grows from the
// stream origin and every attempt re-decodes it in full; only frames past
// the previous attempt are emitted, so each sample goes out exactly once.
// Trimming consumed bytes would discard the header and stall every later
// decode, so the retained cap does not apply here; the governor still
// accounts every buffered byte.
func (s *Session) decodeAnchored(isLast bool) ([]AudioChunk, error) {
	s.retainedBuffer = append(s.retainedBuffer, s.liveBuffer...)
	s.liveBuffer = nil

	result := s.decoder.DecodeAll(s.retainedBuffer)
	switch result.Status {
	case StatusFatal:
		return nil, fmt.Errorf("decode failed: %w", result.Err)
	case StatusNeedMoreData:
		if isLast {
			s.logger.Warn("undecoded bytes remain at end of stream",
				"retained_bytes", len(s.retainedBuffer))
			s.releaseBuffer(uint64(len(s.retainedBuffer)))
			s.retainedBuffer = nil
		}
		return nil, nil
	}

	total := result.FrameCount()
	if total <= s.emittedFrames {
		if isLast {
			s.releaseBuffer(uint64(len(s.retainedBuffer)))
			s.retainedBuffer = nil
		}
		return nil, nil
	}
	newFrames := total - s.emittedFrames

	chunk := AudioChunk{
		Samples:     result.Samples[s.emittedFrames*uint64(result.Channels):],
		StartSample: s.sampleCursor,
		IsLast:      isLast,
	}
	s.sampleCursor += newFrames
	s.emittedFrames = total

	s.logger.Debug("anchored buffer decoded",
		"total_frames", total,
		"new_frames", newFrames,
		"buffered_bytes", len(s.retainedBuffer))

	if isLast {
		if tail := len(s.retainedBuffer) - result.BytesConsumed; tail > 0 {
			s.logger.Warn("undecoded bytes remain at end of stream",
				"tail_bytes", tail)
		}
		s.releaseBuffer(uint64(len(s.retainedBuffer)))
		s.retainedBuffer = nil
	}

	return []AudioChunk{chunk}, nil
}

// SeekToTime finds the sample index entry nearest the target time (first
// match wins on ties) and resets the decode buffers and cursor to that
// position. Seeking the same target twice yields identical results.
func (s *Session) SeekToTime(target time.Duration) (*SeekResult, error) {
	if s.state == StateCleaned {
		return nil, ErrSessionCleaned
	}
	if s.state != StateInitialized && s.state != StateProcessing {
		return nil, fmt.Errorf("%w: seek in state %s", ErrSessionState, s.state)
	}
	if len(s.metadata.SampleIndex) == 0 {
		return nil, fmt.Errorf("%w: empty sample index", ErrInvalidData)
	}

	best := 0
	bestDiff := absDuration(s.metadata.SampleIndex[0].Timestamp - target)
	for i, entry := range s.metadata.SampleIndex {
		diff := absDuration(entry.Timestamp - target)
		if diff < bestDiff {
			best = i
			bestDiff = diff
		}
	}

	entry := s.metadata.SampleIndex[best]
	result := &SeekResult{
		ActualPosition: entry.Timestamp,
		ByteOffset:     entry.ByteOffset,
		IsExact:        bestDiff < seekExactWindow,
	}
	if !s.precise {
		result.Warning = "seek position estimated: container sample tables unavailable"
		result.IsExact = false
	}

	// Seeking resets the buffers and cursor to the matched position
	s.releaseBuffer(uint64(len(s.liveBuffer) + len(s.retainedBuffer)))
	s.liveBuffer = nil
	s.retainedBuffer = nil
	s.emittedFrames = 0
	s.sampleCursor = uint64(entry.Timestamp * time.Duration(s.metadata.SampleRate) / time.Second)
	s.reader.SetPosition(entry.ByteOffset)

	// Anchored formats need the container header back in front of the
	// post-seek bytes. An offset inside the header region restarts the
	// read at the origin instead, where the real header is.
	if s.config.HeaderAnchored {
		if entry.ByteOffset <= uint64(len(s.originHeader)) {
			s.reader.SetPosition(0)
		} else if len(s.originHeader) > 0 {
			if err := s.accountBuffer(uint64(len(s.originHeader))); err != nil {
				return nil, err
			}
			s.retainedBuffer = append([]byte(nil), s.originHeader...)
		}
	}

	s.logger.Debug("seek completed",
		"target_ms", target.Milliseconds(),
		"actual_ms", result.ActualPosition.Milliseconds(),
		"byte_offset", result.ByteOffset,
		"is_exact", result.IsExact)

	return result, nil
}

// Reader exposes the session's chunk reader for the chunk feed loop.
func (s *Session) Reader() *chunkio.Reader {
	return s.reader
}

// OptimalChunkSize recommends a chunk size for the session's file under
// the format's chunk size policy.
func (s *Session) OptimalChunkSize() (ChunkSizeRecommendation, error) {
	if s.state == StateCleaned {
		return ChunkSizeRecommendation{}, ErrSessionCleaned
	}
	if s.state == StateUninitialized {
		return ChunkSizeRecommendation{}, fmt.Errorf("%w: chunk size in state %s", ErrSessionState, s.state)
	}
	return s.config.OptimalChunkSize(s.reader.FileSize()), nil
}

// Metadata returns the typed session metadata.
func (s *Session) Metadata() (*SessionMetadata, error) {
	if s.state == StateCleaned {
		return nil, ErrSessionCleaned
	}
	if s.state == StateUninitialized {
		return nil, fmt.Errorf("%w: metadata in state %s", ErrSessionState, s.state)
	}
	return &SessionMetadata{
		SampleRate:      s.metadata.SampleRate,
		ChannelCount:    s.metadata.ChannelCount,
		Duration:        s.metadata.Duration,
		Bitrate:         s.metadata.Bitrate,
		CodecName:       s.metadata.CodecName,
		SampleCount:     s.metadata.SampleCount(),
		HasPreciseIndex: s.precise,
		Extra: map[string]any{
			"format":           s.format,
			"truncation_count": s.truncations,
		},
	}, nil
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return s.state
}

// Cleanup releases the reader and buffers. Cleanup is idempotent and valid
// in any state; all later calls on the session fail with ErrSessionCleaned.
func (s *Session) Cleanup() error {
	if s.state == StateCleaned {
		return nil
	}

	s.releaseBuffer(uint64(len(s.liveBuffer) + len(s.retainedBuffer)))
	s.liveBuffer = nil
	s.retainedBuffer = nil
	s.originHeader = nil
	s.metadata = nil
	s.state = StateCleaned

	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			return err
		}
	}

	s.logger.Debug("decode session cleaned up")
	return nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// accountBuffer records buffer growth with the governor when one is
// attached.
func (s *Session) accountBuffer(bytes uint64) error {
	if s.governor == nil {
		return nil
	}
	if err := s.governor.Allocate(bytes); err != nil {
		return err
	}
	s.governorBytes += bytes
	return nil
}

// releaseBuffer returns buffer bytes to the governor.
func (s *Session) releaseBuffer(bytes uint64) {
	if s.governor == nil || bytes == 0 {
		return
	}
	if bytes > s.governorBytes {
		bytes = s.governorBytes
	}
	s.governor.Deallocate(bytes)
	s.governorBytes -= bytes
}
