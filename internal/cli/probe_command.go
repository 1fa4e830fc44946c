package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"sonix.click/internal/decode"
)

// newProbeCommand creates the probe subcommand
func newProbeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <file>",
		Short: "Show audio metadata without decoding the whole file",
		Long:  "Probe reads the file header, parses the container when possible, and prints the resulting metadata. When container tables are unavailable the reported index is an estimate.",
		Args:  cobra.ExactArgs(1),
		RunE:  runProbeE,
	}

	cmd.Flags().Bool("json", false, "Print metadata as JSON")

	return cmd
}

// probeOutput is the JSON shape of probe results
type probeOutput struct {
	File            string `json:"file"`
	MimeType        string `json:"mime_type"`
	Format          string `json:"format"`
	Codec           string `json:"codec,omitempty"`
	SampleRate      uint32 `json:"sample_rate"`
	Channels        uint32 `json:"channels"`
	DurationMs      int64  `json:"duration_ms"`
	Bitrate         uint32 `json:"bitrate,omitempty"`
	SampleCount     int    `json:"sample_count"`
	HasPreciseIndex bool   `json:"has_precise_index"`
}

func runProbeE(cmd *cobra.Command, args []string) error {
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

	asJSON, _ := cmd.Flags().GetBool("json")
	path := args[0]

	session := decode.NewSession(decode.Options{
		Fs:       cli.fsFactory.Production(),
		Governor: newGovernor(cfg),
	})
	defer session.Cleanup()

	if err := session.Initialize(path, nil); err != nil {
		cmd.PrintErrf("Error probing %s: %v\n", path, err)
		slog.Error("probe failed", "file", path, "error", err)
		return fmt.Errorf("error probing %s: %w", path, err)
	}

	metadata, err := session.Metadata()
	if err != nil {
		return fmt.Errorf("error reading metadata for %s: %w", path, err)
	}

	// MIME detection is advisory only; decoding trusts the byte signature
	mime := ""
	if detected, err := mimetype.DetectFile(path); err == nil {
		mime = detected.String()
	} else {
		slog.Debug("mime detection failed", "file", path, "error", err)
	}

	format, _ := metadata.Extra["format"].(string)

	if asJSON {
		output := probeOutput{
			File:            path,
			MimeType:        mime,
			Format:          format,
			Codec:           metadata.CodecName,
			SampleRate:      metadata.SampleRate,
			Channels:        metadata.ChannelCount,
			DurationMs:      metadata.Duration.Milliseconds(),
			Bitrate:         metadata.Bitrate,
			SampleCount:     metadata.SampleCount,
			HasPreciseIndex: metadata.HasPreciseIndex,
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(output)
	}

	index := "precise"
	if !metadata.HasPreciseIndex {
		index = "estimated"
	}

	cmd.Printf("File:        %s\n", path)
	cmd.Printf("MIME type:   %s\n", mime)
	cmd.Printf("Format:      %s\n", format)
	if metadata.CodecName != "" {
		cmd.Printf("Codec:       %s\n", metadata.CodecName)
	}
	cmd.Printf("Sample rate: %d Hz\n", metadata.SampleRate)
	cmd.Printf("Channels:    %d\n", metadata.ChannelCount)
	cmd.Printf("Duration:    %s\n", metadata.Duration.Round(time.Millisecond))
	if metadata.Bitrate > 0 {
		cmd.Printf("Bitrate:     %d bps\n", metadata.Bitrate)
	}
	cmd.Printf("Samples:     %d\n", metadata.SampleCount)
	cmd.Printf("Index:       %s\n", index)

	return nil
}
