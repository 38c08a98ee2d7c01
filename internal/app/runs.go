package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/eventmerge/internal/cli"
)

func runRuns(args []string) int {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	limit := fs.Int("limit", 20, "Maximum runs to list")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

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

	runs, err := pool.ListRuns(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(runs); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		errText := ""
		if run.ErrorMessage != nil {
			errText = *run.ErrorMessage
		}
		rows = append(rows, []string{
			run.RunID,
			run.Trigger,
			fmt.Sprintf("%t", run.DryRun),
			fmt.Sprintf("%d", run.Received),
			fmt.Sprintf("%d/%d/%d", run.Inserted, run.Updated, run.Skipped),
			fmt.Sprintf("%d", run.Invalid+run.Rejected),
			fmt.Sprintf("%d", run.ApplyFailures),
			formatUTCTimestamp(run.StartedAt),
			formatUTCTimestampPtr(run.FinishedAt),
			truncateForTable(errText, 40),
		})
	}
	if err := writeTable([]string{"run_id", "trigger", "dry_run", "received", "ins/upd/skip", "invalid", "apply_failures", "started_at", "finished_at", "error"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render runs: %v\n", err)
		return 1
	}
	return 0
}
