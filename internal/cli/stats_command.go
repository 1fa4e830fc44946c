package cli

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"sonix.click/internal/tracking"
)

// newStatsCommand creates the stats subcommand
func newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show decode session statistics",
		Long:  "Stats aggregates tracked decode sessions: outcomes, formats, chunk counts, and truncation events. Use --sessions to list individual sessions instead.",
		RunE:  runStatsE,
	}

	cmd.Flags().String("since", "", "Natural language start time (e.g. '2 days ago')")
	cmd.Flags().String("preset", "", "Date preset (today/yesterday/week/month/all)")
	cmd.Flags().Int("days", 0, "Limit to the last N days")
	cmd.Flags().String("format", "", "Filter by container format (MP3/WAV/AIFF/MP4)")
	cmd.Flags().String("outcome", "", "Filter by outcome (completed/cancelled/failed)")
	cmd.Flags().String("path", "", "Filter by file path substring")
	cmd.Flags().Int("limit", 0, "Maximum sessions to list")
	cmd.Flags().Bool("sessions", false, "List individual sessions instead of aggregates")

	return cmd
}

func runStatsE(cmd *cobra.Command, args []string) error {
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

	if cli.recorder == nil {
		cmd.PrintErrln("Error: session tracking is disabled or unavailable")
		return fmt.Errorf("session tracking is disabled or unavailable")
	}

	filter, err := buildStatsFilter(cmd)
	if err != nil {
		cmd.PrintErrf("Error: %v\n", err)
		return err
	}

	listSessions, _ := cmd.Flags().GetBool("sessions")
	if listSessions {
		return printSessionList(cmd, cli.recorder, filter)
	}
	return printStats(cmd, cli.recorder, filter)
}

// buildStatsFilter converts command flags into a query filter
func buildStatsFilter(cmd *cobra.Command) (*tracking.QueryFilter, error) {
	since, _ := cmd.Flags().GetString("since")
	preset, _ := cmd.Flags().GetString("preset")
	days, _ := cmd.Flags().GetInt("days")
	format, _ := cmd.Flags().GetString("format")
	outcome, _ := cmd.Flags().GetString("outcome")
	pathContains, _ := cmd.Flags().GetString("path")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := &tracking.QueryFilter{
		DatePreset:   preset,
		Days:         days,
		Format:       format,
		Outcome:      outcome,
		PathContains: pathContains,
		Limit:        limit,
	}

	if since != "" {
		startTime, err := tracking.ParseNaturalDate(since)
		if err != nil {
			return nil, fmt.Errorf("invalid --since value: %w", err)
		}
		filter.StartTime = &startTime
	}

	return filter, nil
}

// printStats renders the aggregate view
func printStats(cmd *cobra.Command, recorder *tracking.Recorder, filter *tracking.QueryFilter) error {
	stats, err := recorder.Stats(filter)
	if err != nil {
		cmd.PrintErrf("Error computing stats: %v\n", err)
		return fmt.Errorf("error computing stats: %w", err)
	}

	cmd.Printf("Sessions:      %d (%d completed, %d cancelled, %d failed)\n",
		stats.TotalSessions, stats.Completed, stats.Cancelled, stats.Failed)
	cmd.Printf("Audio chunks:  %d\n", stats.TotalAudioChunks)
	cmd.Printf("Decoded audio: %s\n", stats.TotalDecodedAudio.Round(time.Second))
	cmd.Printf("Truncations:   %d\n", stats.TotalTruncations)
	cmd.Printf("Estimated idx: %d\n", stats.EstimatedIndexes)

	if len(stats.SessionsByFormat) > 0 {
		formats := make([]string, 0, len(stats.SessionsByFormat))
		for format := range stats.SessionsByFormat {
			formats = append(formats, format)
		}
		sort.Strings(formats)

		cmd.Println("By format:")
		for _, format := range formats {
			cmd.Printf("  %-5s %d\n", format, stats.SessionsByFormat[format])
		}
	}

	return nil
}

// printSessionList renders individual session rows
func printSessionList(cmd *cobra.Command, recorder *tracking.Recorder, filter *tracking.QueryFilter) error {
	records, err := recorder.QuerySessions(filter)
	if err != nil {
		cmd.PrintErrf("Error listing sessions: %v\n", err)
		return fmt.Errorf("error listing sessions: %w", err)
	}

	if len(records) == 0 {
		cmd.Println("No sessions match the filter")
		return nil
	}

	for _, rec := range records {
		line := fmt.Sprintf("%s  %-9s %-5s %s",
			rec.Timestamp.Format("2006-01-02 15:04:05"),
			rec.Outcome, rec.Format, rec.FilePath)
		if rec.Outcome == tracking.OutcomeCompleted {
			line += fmt.Sprintf("  (%s in %s)",
				rec.Duration.Round(time.Millisecond),
				rec.Elapsed.Round(time.Millisecond))
		} else if rec.Error != "" {
			line += fmt.Sprintf("  (%s)", rec.Error)
		}
		cmd.Println(line)
	}

	return nil
}
