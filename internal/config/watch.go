package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file at path whenever it is written and passes
// each successfully loaded config to onChange. It blocks until ctx is done.
// When the file does not exist there is nothing to watch and Watch returns
// nil immediately.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// editors replace files by rename, so watch the directory
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	target := filepath.Clean(path)

	logger.Info("watching config file for changes", slog.String("path", path))

	for {
		select {
		case <-ctx.Done():
			logger.Debug("config watch stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}

			logger.Info("config file changed, reloading", slog.String("path", event.Name))
			cfg, err := Load(path)
			if err != nil {
				logger.Error("failed to reload config",
					slog.String("error", err.Error()),
					slog.String("path", path))
				continue
			}
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watch error", slog.String("error", err.Error()))
		}
	}
}
