package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/eventmerge/internal/cli"
	"horse.fit/eventmerge/internal/db"
	"horse.fit/eventmerge/internal/events"
	"horse.fit/eventmerge/internal/rules"
)

type eventDetailOutput struct {
	Event         events.StoredEvent `json:"event"`
	Contributions []db.EventSource   `json:"contributions"`
}

func runEventDetail(args []string) int {
	fs := flag.NewFlagSet("event", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: eventmerge event [flags] <event_id>")
		return 2
	}
	eventID := strings.TrimSpace(fs.Arg(0))

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	store := db.NewEventStore(pool, rules.Default(), zerolog.Nop())
	event, err := store.GetEvent(ctx, eventID)
	if err != nil {
		if db.IsNoRows(err) {
			fmt.Fprintf(os.Stderr, "Event %s not found\n", eventID)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to load event: %v\n", err)
		return 1
	}
	contributions, err := store.ListContributions(ctx, eventID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load contributions: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(eventDetailOutput{Event: event, Contributions: contributions}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	fieldRows := [][]string{
		{"id", event.ID},
		{"title", truncateForTable(event.Title, 80)},
		{"start_date", event.StartDate.String()},
		{"end_date", event.EndDate.String()},
		{"time", strings.Trim(event.StartTime+"-"+event.EndTime, "-")},
		{"city", event.City},
		{"venue", truncateForTable(event.VenueName, 80)},
		{"categories", strings.Join(event.CategorySlugs, ",")},
		{"sources", strings.Join(event.ContributingSources, ",")},
		{"quality", formatScore(event.QualityScore)},
		{"revision", fmt.Sprintf("%d", event.Revision)},
		{"last_merged_at", formatUTCTimestamp(event.LastMergedAt)},
	}
	if err := writeTable([]string{"field", "value"}, fieldRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render event: %v\n", err)
		return 1
	}

	fmt.Println()
	contributionRows := make([][]string, 0, len(contributions))
	for _, row := range contributions {
		contributionRows = append(contributionRows, []string{
			row.SourceID,
			truncateForTable(row.ExternalID, 24),
			fmt.Sprintf("%t", row.IsPrimary),
			row.LastAction,
			formatScore(row.QualityScore),
			truncateForTable(strings.Join(row.FieldsContributed, ","), 60),
			formatUTCTimestamp(row.UpdatedAt),
		})
	}
	if err := writeTable([]string{"source", "external_id", "primary", "last_action", "quality", "fields", "updated_at"}, contributionRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render contributions: %v\n", err)
		return 1
	}
	return 0
}
