package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"sonix.click/internal/decode"
)

// newChunkSizeCommand creates the chunk-size subcommand
func newChunkSizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chunk-size <file>",
		Short: "Recommend a read chunk size for a file",
		Long:  "Chunk-size applies the per-format sizing policy to the file and prints the recommended read chunk size with its bounds and rationale.",
		Args:  cobra.ExactArgs(1),
		RunE:  runChunkSizeE,
	}
}

func runChunkSizeE(cmd *cobra.Command, args []string) error {
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

	path := args[0]

	session := decode.NewSession(decode.Options{
		Fs:       cli.fsFactory.Production(),
		Governor: newGovernor(cfg),
	})
	defer session.Cleanup()

	if err := session.Initialize(path, nil); err != nil {
		cmd.PrintErrf("Error opening %s: %v\n", path, err)
		slog.Error("chunk-size probe failed", "file", path, "error", err)
		return fmt.Errorf("error opening %s: %w", path, err)
	}

	recommendation, err := session.OptimalChunkSize()
	if err != nil {
		return fmt.Errorf("error computing chunk size for %s: %w", path, err)
	}

	cmd.Printf("File:        %s\n", path)
	cmd.Printf("Recommended: %d bytes\n", recommendation.Size)
	cmd.Printf("Bounds:      [%d, %d]\n", recommendation.MinSize, recommendation.MaxSize)
	cmd.Printf("Rationale:   %s\n", recommendation.Rationale)

	return nil
}
