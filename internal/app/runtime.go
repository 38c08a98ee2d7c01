package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/eventmerge/internal/cli"
	"horse.fit/eventmerge/internal/config"
	"horse.fit/eventmerge/internal/db"
	"horse.fit/eventmerge/internal/logging"
	"horse.fit/eventmerge/internal/rules"
)

type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func loadRuntime(envLoader *cli.EnvLoader) (*runtime, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return &runtime{cfg: cfg, logger: logger}, nil
}

func (r *runtime) connect(ctx context.Context) (*db.Pool, error) {
	pool, err := db.NewPool(ctx, r.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

// rulesSource returns a watcher when a rules file is configured, or the
// built-in defaults otherwise. override replaces RULES_FILE when set.
func (r *runtime) rulesSource(override string) (rules.Source, *rules.Watcher, error) {
	path := r.cfg.RulesFile
	if override != "" {
		path = override
	}
	if path == "" {
		return rules.Static(rules.Default()), nil, nil
	}
	w, err := rules.NewWatcher(path, r.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("load rules: %w", err)
	}
	return w, w, nil
}

func connectReadPool(timeout time.Duration, envLoader *cli.EnvLoader) (context.Context, context.CancelFunc, *db.Pool, error) {
	rt, err := loadRuntime(envLoader)
	if err != nil {
		return nil, nil, nil, err
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	pool, err := rt.connect(ctx)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}

	return ctx, cancel, pool, nil
}
