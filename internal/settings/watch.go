package settings

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/leighmacdonald/pfp/pkg/util"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Watch reloads the settings file whenever it changes on disk until ctx is cancelled. Files
// that fail to parse or validate are ignored and the previous config stays active.
func (s *Settings) Watch(ctx context.Context, logger *zap.Logger) error {
	configPath := s.ConfigPath()
	if configPath == "" {
		return ErrConfigNotFound
	}

	watcher, errWatcher := fsnotify.NewWatcher()
	if errWatcher != nil {
		return errors.Wrap(errWatcher, "Failed to create settings watcher")
	}

	defer util.LogClose(logger, watcher)

	// Editors commonly replace the file instead of writing in place, so watch the parent.
	if errAdd := watcher.Add(filepath.Dir(configPath)); errAdd != nil {
		return errors.Wrap(errAdd, "Failed to watch settings dir")
	}

	log := logger.Named("settings")
	target := filepath.Clean(configPath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != target {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if errRead := s.ReadFilePath(configPath); errRead != nil {
				log.Warn("Ignoring invalid settings change", zap.Error(errRead))

				continue
			}

			log.Info("Reloaded settings", zap.String("path", configPath))
		case errWatch, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			log.Error("Settings watcher error", zap.Error(errWatch))
		}
	}
}
