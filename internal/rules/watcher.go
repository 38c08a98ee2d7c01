package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher keeps the rules loaded from a file current. A reload that fails to
// parse or validate leaves the previous rules in place.
type Watcher struct {
	path    string
	logger  zerolog.Logger
	current atomic.Pointer[Rules]
	reloads atomic.Int64
	hook    func(reloads int64)
}

func NewWatcher(path string, logger zerolog.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve rules path: %w", err)
	}
	initial, err := Load(absPath)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:   absPath,
		logger: logger.With().Str("component", "rules_watcher").Str("path", absPath).Logger(),
	}
	w.current.Store(&initial)
	return w, nil
}

// OnReload registers fn to run after each successful reload. Call it before Run.
func (w *Watcher) OnReload(fn func(reloads int64)) {
	w.hook = fn
}

func (w *Watcher) Current() Rules {
	return *w.current.Load()
}

// Reloads counts successful reloads since start.
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

func (w *Watcher) Reload() error {
	next, err := Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Msg("rules reload rejected; keeping previous rules")
		return err
	}
	w.current.Store(&next)
	n := w.reloads.Add(1)
	w.logger.Info().Int64("reloads", n).Msg("rules reloaded")
	if w.hook != nil {
		w.hook(n)
	}
	return nil
}

// Run watches the rules file until ctx is cancelled. The parent directory is
// watched so editors that replace the file by rename are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info().Msg("watching rules file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			_ = w.Reload()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("rules watcher error")
		}
	}
}
