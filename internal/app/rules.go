package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"horse.fit/eventmerge/internal/rules"
)

func runRules(args []string) int {
	if len(args) == 0 {
		printRulesUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "show":
		return runRulesShow(args[1:])
	case "check":
		return runRulesCheck(args[1:])
	case "help", "--help", "-h":
		printRulesUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown rules subcommand: %s\n\n", args[0])
		printRulesUsage()
		return 2
	}
}

func printRulesUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  eventmerge rules show [--file rules.yaml]")
	fmt.Fprintln(os.Stderr, "  eventmerge rules check --file rules.yaml")
}

// runRulesShow prints the effective rules: the defaults overlaid by --file.
func runRulesShow(args []string) int {
	fs := flag.NewFlagSet("rules show", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	file := fs.String("file", "", "Rules YAML file; defaults are printed when empty")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	effective, err := rules.LoadOrDefault(strings.TrimSpace(*file))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load rules: %v\n", err)
		return 1
	}
	out, err := rules.Marshal(effective)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode rules: %v\n", err)
		return 1
	}
	fmt.Print(string(out))
	return 0
}

func runRulesCheck(args []string) int {
	fs := flag.NewFlagSet("rules check", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	file := fs.String("file", "", "Rules YAML file to check")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	path := strings.TrimSpace(*file)
	if path == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		return 2
	}

	if _, err := rules.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, err)
		return 1
	}
	fmt.Printf("rules ok file=%s\n", path)
	return 0
}
