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
	"horse.fit/eventmerge/internal/db"
)

// runRekey recomputes stored city keys so events written under older city
// rules stay reachable by the shortlist.
func runRekey(args []string) int {
	fs := flag.NewFlagSet("rekey", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	rulesFile := fs.String("rules", "", "Rules YAML file overriding RULES_FILE")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
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
		*timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := rt.connect(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer pool.Close()

	store := db.NewEventStore(pool, source.Current(), rt.logger)
	changed, err := store.RekeyCities(ctx)
	if err != nil {
		rt.logger.Error().Err(err).Int("changed", changed).Msg("rekey failed")
		fmt.Fprintf(os.Stderr, "Rekey failed after %d changes: %v\n", changed, err)
		return 1
	}
	fmt.Printf("rekey changed=%d\n", changed)
	return 0
}
