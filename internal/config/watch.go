package config

import (
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/ehrlich-b/agentctl/internal/agentlog"
)

// Watcher hot-reloads a Config from disk whenever the backing file changes;
// Get always returns the most recently loaded snapshot. The daemon applies
// only the watchdog thresholds and alert cooldown from a reload; other
// settings take effect on the next restart.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads path once and starts watching its parent directory
// (editors replace-by-rename, which a direct file watch would miss).
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{path: path, watcher: fw, done: make(chan struct{})}
	w.current.Store(cfg)
	go w.loop()
	return w, nil
}

func (w *Watcher) Get() *Config {
	return w.current.Load()
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				agentlog.Warn("config: reload failed", "path", w.path, "error", err)
				continue
			}
			w.current.Store(cfg)
			agentlog.Info("config: reloaded", "path", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			agentlog.Warn("config: watch error", "error", err)
		}
	}
}
