package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/spetersoncode/hanabi/internal/logging"
)

// Watch reloads the configuration whenever one of the files changes and
// passes the result to fn. Reload failures are logged and skipped. Watch
// blocks until ctx is done.
func (p Paths) Watch(ctx context.Context, fn func(*Config)) error {
	log := logging.Component("config")

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	defer w.Close()

	// Directories are watched instead of files so editors that replace the
	// file on save keep being tracked.
	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, path := range []string{p.Local, p.User} {
		if path == "" {
			continue
		}
		files[filepath.Clean(path)] = true
		dir := filepath.Dir(path)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := w.Add(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("cannot watch config directory")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !files[filepath.Clean(ev.Name)] {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			cfg, err := p.Load()
			if err != nil {
				log.Warn().Err(err).Str("file", ev.Name).Msg("config reload failed")
				continue
			}
			log.Info().Str("file", ev.Name).Msg("config reloaded")
			fn(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("config watcher error")
		}
	}
}
