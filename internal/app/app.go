package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "dedup":
		return runDedup(args[1:])
	case "event":
		return runEventDetail(args[1:])
	case "runs":
		return runRuns(args[1:])
	case "stats":
		return runStats(args[1:])
	case "rules":
		return runRules(args[1:])
	case "rekey":
		return runRekey(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "eventmerge CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  eventmerge <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  validate  Validate candidate event JSON files against the v1 schema")
	fmt.Fprintln(os.Stderr, "  dedup     Deduplicate and merge a batch of candidate events")
	fmt.Fprintln(os.Stderr, "  event     Show one merged event and its contributions")
	fmt.Fprintln(os.Stderr, "  runs      List recent dedup runs")
	fmt.Fprintln(os.Stderr, "  stats     Show merge statistics for a day")
	fmt.Fprintln(os.Stderr, "  rules     Print or check dedup rules")
	fmt.Fprintln(os.Stderr, "  rekey     Recompute stored city keys after a rules change")
	fmt.Fprintln(os.Stderr, "  serve     Start Echo API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"eventmerge <command> -h\" for command-specific flags.")
}
