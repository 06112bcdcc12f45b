package config

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a configuration file when it changes on disk. Used
// by the dev command so threshold and telemetry tweaks apply without
// restarting the demo loop.
type Watcher struct {
	logger  zerolog.Logger
	loader  *Loader
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher that parses with loader.
func NewWatcher(logger zerolog.Logger, loader *Loader) *Watcher {
	return &Watcher{
		logger: logger.With().Str("component", "config-watcher").Logger(),
		loader: loader,
	}
}

// Watch begins watching path and invokes onChange with each
// successfully reloaded configuration until ctx is done. Parse
// failures are logged and skipped.
func (w *Watcher) Watch(ctx context.Context, path string, onChange func(*EngineConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go w.processEvents(ctx, path, onChange)
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, path string, onChange func(*EngineConfig)) {
	defer func() { _ = w.watcher.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := w.loader.Load(path)
			if err != nil {
				w.logger.Warn().Err(err).Str("path", path).Msg("Reload failed; keeping previous config")
				continue
			}
			w.logger.Info().Str("path", path).Msg("Configuration reloaded")
			onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}
