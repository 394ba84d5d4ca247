package config

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads the configuration file on write events. It backs
// `validate-config --watch` and `status --watch`; the export path itself
// never hot-reloads mid-run (a run's config is fixed at coordinator
// start).
type Watcher struct {
	path   string
	fsw    *fsnotify.Watcher
	log    *logrus.Entry
	onLoad func(Config, error)
}

// NewWatcher opens an fsnotify watch on path's containing directory
// (watching the directory, not the file, survives editors that replace
// the file via rename-on-save instead of in-place write).
func NewWatcher(path string, log *logrus.Entry, onLoad func(Config, error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dirOf(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{path: path, fsw: fsw, log: log, onLoad: onLoad}, nil
}

// Run blocks, reloading and invoking onLoad on every write/create/rename
// event that touches the watched path, until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.WithError(err).Warn("config reload failed, keeping previous config")
			}
			w.onLoad(cfg, err)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config watcher error")
		}
	}
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
