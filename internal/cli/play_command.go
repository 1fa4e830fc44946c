package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sonix.click/internal/audio"
	"sonix.click/internal/config"
	"sonix.click/internal/decode"
	"sonix.click/internal/worker"
)

// newPlayCommand creates the play subcommand
func newPlayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <file>",
		Short: "Play an audio file",
		Long:  "Play decodes the file in chunks and streams the samples to the system audio device. Playback starts before the file is fully decoded.",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlayE,
	}

	cmd.Flags().Float32("volume", 1.0, "Playback volume (0.0 to 1.0)")
	cmd.Flags().Duration("seek", 0, "Start playback from this position (e.g. 1m30s)")

	return cmd
}

func runPlayE(cmd *cobra.Command, args []string) error {
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

	volume, _ := cmd.Flags().GetFloat32("volume")
	seek, _ := cmd.Flags().GetDuration("seek")

	var seekTo *time.Duration
	if seek > 0 {
		seekTo = &seek
	}

	path := args[0]

	// The device needs the stream format before the first chunk arrives,
	// so probe the header up front.
	metadata, err := probeStreamFormat(cli, cfg, path)
	if err != nil {
		cmd.PrintErrf("Error opening %s: %v\n", path, err)
		return fmt.Errorf("error opening %s: %w", path, err)
	}

	backend, err := audio.NewBackend()
	if err != nil {
		cmd.PrintErrf("Error initializing audio: %v\n", err)
		slog.Error("audio backend unavailable", "error", err)
		return fmt.Errorf("error initializing audio: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Error("error closing audio backend", "error", err)
		}
	}()

	if err := backend.Start(); err != nil {
		return fmt.Errorf("error starting audio backend: %w", err)
	}
	if err := backend.SetVolume(volume); err != nil {
		cmd.PrintErrf("Error: %v\n", err)
		return err
	}

	governor := newGovernor(cfg)
	pool := cli.newWorkerPool(cfg, governor)
	defer pool.Shutdown()

	sigCtx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	requestID, err := pool.Submit(worker.ProcessingRequest{
		FilePath:      path,
		ChunkSize:     cfg.ChunkSizeBytes(),
		SeekTo:        seekTo,
		StreamResults: true,
	})
	if err != nil {
		return fmt.Errorf("error submitting %s: %w", path, err)
	}

	slog.Info("playback started",
		"file", path,
		"sample_rate", metadata.SampleRate,
		"channels", metadata.ChannelCount)

	group, ctx := errgroup.WithContext(sigCtx)
	chunks := make(chan decode.AudioChunk, 16)

	group.Go(func() error {
		defer close(chunks)
		for {
			select {
			case <-ctx.Done():
				if err := pool.Cancel(requestID); err != nil {
					slog.Debug("cancel on shutdown", "request_id", requestID, "error", err)
				}
				return ctx.Err()
			case msg, ok := <-pool.Messages():
				if !ok {
					return fmt.Errorf("worker pool closed during playback")
				}
				switch m := msg.(type) {
				case worker.ProgressUpdate:
					if m.PartialData == nil {
						continue
					}
					select {
					case chunks <- *m.PartialData:
					case <-ctx.Done():
						return ctx.Err()
					}
				case worker.ProcessingResponse:
					return m.Err
				}
			}
		}
	})

	group.Go(func() error {
		return backend.Play(ctx, &audio.PCMStream{
			SampleRate: metadata.SampleRate,
			Channels:   metadata.ChannelCount,
			Chunks:     chunks,
		})
	})

	err = group.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, worker.ErrCancelled) {
		slog.Info("playback interrupted", "file", path)
		return nil
	}
	if err != nil {
		cmd.PrintErrf("Playback error: %v\n", err)
		slog.Error("playback failed", "file", path, "error", err)
		return fmt.Errorf("playback failed: %w", err)
	}

	slog.Info("playback finished", "file", path)
	return nil
}

// probeStreamFormat reads just enough of the file to learn its PCM format
func probeStreamFormat(cli *CLI, cfg *config.Config, path string) (*decode.SessionMetadata, error) {
	session := decode.NewSession(decode.Options{
		Fs:       cli.fsFactory.Production(),
		Governor: newGovernor(cfg),
	})
	defer session.Cleanup()

	if err := session.Initialize(path, nil); err != nil {
		return nil, err
	}
	return session.Metadata()
}
