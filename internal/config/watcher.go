package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reloads the config file whenever it changes and passes the new,
// validated configuration to onChange. Invalid files are logged and skipped.
// Only settings that are safe to change at runtime should be applied by the
// callback; the cipher password in particular is fixed after first use.
func Watch(ctx context.Context, path string, logger *logrus.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Watch the directory so editors that replace the file are still seen.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := LoadConfig(path)
				if err != nil {
					logger.WithError(err).WithField("path", path).Warn("Ignoring invalid config change")
					continue
				}
				logger.WithField("path", path).Info("Config reloaded")
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Config watcher error")
			}
		}
	}()

	return nil
}
