package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes to a single configuration file. The parent
// directory is watched rather than the file itself so that editors that
// replace the file on save are still observed.
type Watcher struct {
	logger   *slog.Logger
	path     string
	onChange func()
	fw       *fsnotify.Watcher
}

// NewWatcher creates a watcher for path. onChange is invoked from the
// watcher goroutine for every write to the file; the callback should hand
// off to the host event loop rather than do work itself.
func NewWatcher(logger *slog.Logger, path string, onChange func()) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{logger: logger, path: path, onChange: onChange, fw: fw}, nil
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
				w.logger.Debug("Configuration file changed.", "path", w.path)
				w.onChange()
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Configuration watcher error.", "error", err)
		}
	}
}
