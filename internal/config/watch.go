package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/islandhamstar/covid-impact/internal/domain"
)

// WatchScoreConfig reloads the score configuration at path each time the file
// is written and passes it to onChange. It runs until ctx is cancelled.
//
// The parent directory is watched rather than the file, so saves that write a
// temporary file and rename it over path are picked up too.
//
// A reload that fails to parse or validate is logged and skipped, so the
// previously applied configuration stays in effect.
func WatchScoreConfig(ctx context.Context, path string, logger *slog.Logger, onChange func(domain.ScoreConfig)) error {
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("watch score config: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch score config dir: %w", err)
	}
	logger.Info("watching score config", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			cfg, err := LoadScoreConfig(path)
			if err != nil {
				logger.Error("score config reload failed, keeping previous", "path", path, "error", err)
				continue
			}
			logger.Info("score config reloaded", "path", path, "method", cfg.Method, "weights", len(cfg.Weights))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("score config watcher error", "error", err)
		}
	}
}
