package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"sonix.click/internal/decode"
)

// minReducedChunk floors chunk shrinking under memory pressure.
const minReducedChunk = 8 * 1024

// runTask drives one decode request end-to-end: open a session, feed it
// chunks, stream progress, and emit exactly one terminal response.
// Cancellation and health probes are checked at chunk boundaries only.
func (p *Pool) runTask(w *workerHandle, t *task) {
	logger := p.logger.With("worker_id", w.id, "request_id", t.requestID)
	logger.Info("task started", "path", t.req.FilePath, "stream", t.req.StreamResults)

	session := decode.NewSession(decode.Options{
		Fs:       p.opts.Fs,
		Decoder:  p.opts.Decoder,
		Governor: p.opts.Governor,
		Logger:   logger,
	})
	defer session.Cleanup()

	if err := session.Initialize(t.req.FilePath, t.req.SeekTo); err != nil {
		logger.Error("session initialization failed", "error", err)
		p.respond(t, nil, err)
		return
	}

	chunkSize := t.req.ChunkSize
	if chunkSize <= 0 {
		rec, err := session.OptimalChunkSize()
		if err != nil {
			p.respond(t, nil, err)
			return
		}
		chunkSize = rec.Size
		logger.Debug("using recommended chunk size", "size", chunkSize, "rationale", rec.Rationale)
	}

	reader := session.Reader()
	fileSize := reader.FileSize()
	result := &TaskResult{}
	streamed := t.req.StreamResults

	for {
		select {
		case <-t.ctx.Done():
			logger.Info("task cancelled at chunk boundary", "chunks_read", result.ChunksRead)
			p.respond(t, nil, ErrCancelled)
			return
		case <-p.shutdownCh:
			return
		case probe := <-w.health:
			probe.reply <- p.healthResponse(w, 1)
			continue
		default:
		}

		chunkSize = p.applyPressure(chunkSize, logger)

		if p.opts.Governor != nil {
			if err := p.opts.Governor.WaitForCapacity(t.ctx, uint64(chunkSize)); err != nil {
				if errors.Is(err, context.Canceled) {
					p.respond(t, nil, ErrCancelled)
					return
				}
				p.respond(t, nil, err)
				return
			}
			// The session records the real allocation itself; this was
			// only a capacity gate
			p.opts.Governor.Deallocate(uint64(chunkSize))
		}

		chunk, err := reader.ReadNextChunk(chunkSize)
		if err == io.EOF {
			break
		}
		if err != nil {
			p.respond(t, nil, fmt.Errorf("chunk read failed: %w", err))
			return
		}

		audio, err := session.ProcessChunk(chunk)
		if err != nil {
			p.respond(t, nil, fmt.Errorf("chunk decode failed: %w", err))
			return
		}
		result.ChunksRead++

		progress := float64(reader.Position()) / float64(fileSize)
		for i := range audio {
			result.ChunksAudio++
			if streamed {
				chunkCopy := audio[i]
				p.emitProgress(t.requestID, progress, "", &chunkCopy)
			} else {
				result.Samples = append(result.Samples, audio[i].Samples...)
			}
		}
		if !streamed || len(audio) == 0 {
			p.emitProgress(t.requestID, progress,
				fmt.Sprintf("processed %d chunks", result.ChunksRead), nil)
		}

		if chunk.IsLast {
			break
		}
	}

	if meta, err := session.Metadata(); err == nil {
		result.Metadata = meta
		result.SampleRate = meta.SampleRate
		result.Channels = meta.ChannelCount
		result.Duration = meta.Duration
	}

	logger.Info("task completed",
		"chunks_read", result.ChunksRead,
		"audio_chunks", result.ChunksAudio,
		"samples", len(result.Samples))
	p.respond(t, result, nil)
}

// applyPressure shrinks the chunk size by the governor's suggested
// resolution factor when memory pressure is high.
func (p *Pool) applyPressure(chunkSize int, logger *slog.Logger) int {
	if p.opts.Governor == nil {
		return chunkSize
	}
	reduction := p.opts.Governor.GetSuggestedQualityReduction()
	if !reduction.ShouldReduce {
		return chunkSize
	}
	reduced := int(float64(chunkSize) * reduction.ResolutionFactor)
	if reduced < minReducedChunk {
		reduced = minReducedChunk
	}
	if reduced < chunkSize {
		logger.Debug("shrinking chunk size under memory pressure",
			"from", chunkSize,
			"to", reduced,
			"reason", reduction.Reason)
		return reduced
	}
	return chunkSize
}
