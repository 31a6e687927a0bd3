package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads path whenever it changes and hands the new Config to fn.
// The parent directory is watched so editors that replace the file are seen.
// Invalid configurations are logged and ignored. Watch returns once the watcher
// is installed; it stops when ctx is done.
func Watch(ctx context.Context, path string, fn func(Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(abs)
				if err != nil {
					slog.WarnContext(ctx, "Ignoring config change", "path", abs, "err", err)
					continue
				}
				slog.InfoContext(ctx, "Config reloaded", "path", abs)
				fn(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching config", "err", err)
			}
		}
	}()
	return nil
}
