package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/eventmerge/internal/cli"
)

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	day := fs.String("day", defaultUTCDayString(), "UTC day for throughput counters (YYYY-MM-DD)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "stats does not accept positional arguments")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	dayValue, err := parseUTCDate(*day)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --day: %v\n", err)
		return 2
	}
	dayStart, dayEnd := utcDayBounds(dayValue)

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	stats, err := pool.QueryMergeStats(ctx, dayStart, dayEnd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query merge stats: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(stats); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	sourceRows := make([][]string, 0, len(stats.Sources)+1)
	for _, row := range stats.Sources {
		sourceRows = append(sourceRows, []string{
			row.SourceID,
			fmt.Sprintf("%d", row.Events),
			fmt.Sprintf("%d", row.PrimaryEvents),
		})
	}
	sourceRows = append(sourceRows, []string{
		"TOTAL",
		fmt.Sprintf("%d", stats.Totals.Contributions),
		fmt.Sprintf("%d", stats.Totals.Events),
	})

	if err := writeTable([]string{"source", "events", "primary"}, sourceRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render source table: %v\n", err)
		return 1
	}

	fmt.Println()
	metricRows := [][]string{
		{"events", fmt.Sprintf("%d", stats.Totals.Events)},
		{"multi_source_events", fmt.Sprintf("%d", stats.Totals.MultiSource)},
		{"mean_quality", formatScore(stats.MeanQuality)},
		{"runs", fmt.Sprintf("%d", stats.Totals.Runs)},
		{"events_inserted_" + stats.Day, fmt.Sprintf("%d", stats.Throughput.EventsInsertedToday)},
		{"events_merged_" + stats.Day, fmt.Sprintf("%d", stats.Throughput.EventsMergedToday)},
		{"runs_" + stats.Day, fmt.Sprintf("%d", stats.Throughput.RunsToday)},
	}
	if err := writeTable([]string{"metric", "value"}, metricRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render metrics table: %v\n", err)
		return 1
	}

	return 0
}
