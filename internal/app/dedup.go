package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/eventmerge/internal/cli"
	"horse.fit/eventmerge/internal/pipeline"
)

func runDedup(args []string) int {
	fs := flag.NewFlagSet("dedup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	input := fs.String("input", "", "Candidate JSON file, directory, or - for stdin")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories when --input is a directory")
	dryRun := fs.Bool("dry-run", false, "Compute decisions without writing merged events")
	rulesFile := fs.String("rules", "", "Rules YAML file overriding RULES_FILE")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*input) == "" {
		fmt.Fprintln(os.Stderr, "--input is required")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	payloads, err := collectPayloads(*input, *recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read input: %v\n", err)
		return 1
	}

	rt, err := loadRuntime(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	source, _, err := rt.rulesSource(strings.TrimSpace(*rulesFile))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if *timeout <= 0 {
		*timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := rt.connect(ctx)
	if err != nil {
		rt.logger.Error().Err(err).Msg("dedup failed to connect to database")
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer pool.Close()

	svc := pipeline.NewService(pool, source, nil, rt.logger)
	report, runErr := svc.RunPayloads(ctx, payloads, pipeline.RunOptions{
		Trigger: pipeline.TriggerCLI,
		DryRun:  *dryRun,
	})

	if outputFormat == outputFormatJSON {
		if err := printJSON(report); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
	} else if err := writeOutcomeTable(report); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render outcomes: %v\n", err)
		return 1
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Dedup failed: %v\n", runErr)
		return 1
	}
	if report.ApplyFailures > 0 {
		return 1
	}
	return 0
}

func writeOutcomeTable(report pipeline.RunReport) error {
	rows := make([][]string, 0, len(report.Outcomes))
	for _, outcome := range report.Outcomes {
		action := string(outcome.Kind)
		target := ""
		confidence := ""
		reason := outcome.Error
		if outcome.Decision != nil {
			action = string(outcome.Decision.Action)
			target = outcome.Decision.TargetID
			confidence = formatScore(outcome.Decision.Confidence)
			if reason == "" {
				reason = outcome.Decision.Reason
			}
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", outcome.Index),
			outcome.SourceID,
			truncateForTable(outcome.ExternalID, 24),
			action,
			target,
			confidence,
			fmt.Sprintf("%t", outcome.Applied),
			truncateForTable(reason, 60),
		})
	}
	if err := writeTable([]string{"#", "source", "external_id", "action", "target", "confidence", "applied", "reason"}, rows); err != nil {
		return err
	}

	fmt.Printf(
		"\nrun=%s dry_run=%t received=%d rejected=%d inserted=%d updated=%d skipped=%d invalid=%d lookup_failures=%d applied=%d apply_failures=%d\n",
		report.RunID,
		report.DryRun,
		report.Received,
		report.Rejected,
		report.Stats.Inserted,
		report.Stats.Updated,
		report.Stats.Skipped,
		report.Stats.Invalid,
		report.Stats.LookupFailures,
		report.Applied,
		report.ApplyFailures,
	)
	return nil
}
