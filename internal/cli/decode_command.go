package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"sonix.click/internal/tracking"
	"sonix.click/internal/worker"
)

// newDecodeCommand creates the decode subcommand
func newDecodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode [files...]",
		Short: "Decode audio files through the worker pool",
		Long:  "Decode one or more audio files in bounded-memory chunks and report per-file results. Ctrl-C cancels in-flight work at the next chunk boundary.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDecodeE,
	}

	cmd.Flags().Duration("seek", 0, "Start decoding from this position (e.g. 1m30s)")
	cmd.Flags().Bool("stream", false, "Stream decoded chunks instead of accumulating samples")

	return cmd
}

// decodeJob tracks one submitted file while its messages arrive
type decodeJob struct {
	path    string
	started time.Time
	chunks  int
}

func runDecodeE(cmd *cobra.Command, args []string) error {
	cli := cliFromContext(cmd.Context())
	if cli == nil {
		slog.Error("CLI instance not found in context")
		return fmt.Errorf("CLI instance not found in context")
	}

	cfg, err := loadAndValidateConfig(cmd, cli)
	if err != nil {
		return err
	}

	setupLogging(cfg, cmd.ErrOrStderr())
	cli.initializeTracking(cfg)

	seek, _ := cmd.Flags().GetDuration("seek")
	stream, _ := cmd.Flags().GetBool("stream")

	var seekTo *time.Duration
	if seek > 0 {
		seekTo = &seek
	}

	governor := newGovernor(cfg)
	pool := cli.newWorkerPool(cfg, governor)
	defer pool.Shutdown()

	// Ctrl-C cancels every in-flight request; workers stop at the next
	// chunk boundary and report a cancelled outcome.
	sigCtx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	jobs := make(map[uuid.UUID]*decodeJob, len(args))
	for _, path := range args {
		requestID, err := pool.Submit(worker.ProcessingRequest{
			FilePath:      path,
			ChunkSize:     cfg.ChunkSizeBytes(),
			SeekTo:        seekTo,
			StreamResults: stream,
		})
		if err != nil {
			cmd.PrintErrf("Error submitting %s: %v\n", path, err)
			slog.Error("submit failed", "file", path, "error", err)
			return fmt.Errorf("error submitting %s: %w", path, err)
		}
		jobs[requestID] = &decodeJob{path: path, started: time.Now()}
		slog.Info("decode request submitted", "file", path, "request_id", requestID)
	}

	go func() {
		<-sigCtx.Done()
		for requestID := range jobs {
			if err := pool.Cancel(requestID); err != nil {
				slog.Debug("cancel after signal", "request_id", requestID, "error", err)
			}
		}
	}()

	showProgress := cli.isInteractiveTerminal(int(os.Stderr.Fd()))
	failures := 0

	for remaining := len(jobs); remaining > 0; {
		msg, ok := <-pool.Messages()
		if !ok {
			return fmt.Errorf("worker pool closed with %d files outstanding", remaining)
		}

		job := jobs[msg.Request()]
		if job == nil {
			slog.Warn("message for unknown request", "request_id", msg.Request())
			continue
		}

		switch m := msg.(type) {
		case worker.ProgressUpdate:
			if m.PartialData != nil {
				job.chunks++
			}
			if showProgress {
				fmt.Fprintf(cmd.ErrOrStderr(), "\r%s: %3.0f%%", filepath.Base(job.path), m.Progress*100)
			}

		case worker.ProcessingResponse:
			remaining--
			if showProgress {
				fmt.Fprint(cmd.ErrOrStderr(), "\r\033[K")
			}

			elapsed := time.Since(job.started)
			if m.Err != nil {
				failures++
				cmd.PrintErrf("%s: %v\n", job.path, m.Err)
				cli.recordSession(failedRecord(job, m.Err, elapsed))
				continue
			}

			printDecodeResult(cmd, job, m.Result, stream, elapsed)
			cli.recordSession(completedRecord(job, m.Result, elapsed))
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d files failed", failures, len(jobs))
	}
	return nil
}

// printDecodeResult writes the per-file summary line
func printDecodeResult(cmd *cobra.Command, job *decodeJob, result *worker.TaskResult, streamed bool, elapsed time.Duration) {
	index := "precise"
	format := ""
	if result.Metadata != nil {
		if !result.Metadata.HasPreciseIndex {
			index = "estimated"
		}
		format, _ = result.Metadata.Extra["format"].(string)
	}

	chunks := result.ChunksAudio
	if streamed {
		chunks = job.chunks
	}

	cmd.Printf("%s: %s %s, %d Hz, %d ch, %d chunks, %s index, %s\n",
		job.path, format, result.Duration.Round(time.Millisecond),
		result.SampleRate, result.Channels, chunks, index,
		elapsed.Round(time.Millisecond))
}

// completedRecord builds the tracking record for a successful decode
func completedRecord(job *decodeJob, result *worker.TaskResult, elapsed time.Duration) *tracking.SessionRecord {
	record := &tracking.SessionRecord{
		FilePath:    job.path,
		SampleRate:  result.SampleRate,
		Channels:    result.Channels,
		Duration:    result.Duration,
		ChunksRead:  result.ChunksRead,
		AudioChunks: result.ChunksAudio,
		Outcome:     tracking.OutcomeCompleted,
		Elapsed:     elapsed,
	}
	if meta := result.Metadata; meta != nil {
		record.Codec = meta.CodecName
		record.PreciseIndex = meta.HasPreciseIndex
		record.Format, _ = meta.Extra["format"].(string)
		if truncations, ok := meta.Extra["truncation_count"].(int); ok {
			record.Truncations = truncations
		}
	}
	return record
}

// failedRecord builds the tracking record for a failed or cancelled decode
func failedRecord(job *decodeJob, taskErr error, elapsed time.Duration) *tracking.SessionRecord {
	outcome := tracking.OutcomeFailed
	if errorIsCancellation(taskErr) {
		outcome = tracking.OutcomeCancelled
	}
	return &tracking.SessionRecord{
		FilePath: job.path,
		Outcome:  outcome,
		Error:    taskErr.Error(),
		Elapsed:  elapsed,
	}
}

func errorIsCancellation(err error) bool {
	return errors.Is(err, worker.ErrCancelled)
}
