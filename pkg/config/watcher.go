package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ReloadWatcher watches the global config file and reloads it on
// change. Some editors replace the file on save, so the parent
// directory is watched and events are filtered by name.
type ReloadWatcher struct {
	path    string
	loader  *Loader
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	done    chan struct{}

	mu       sync.Mutex
	onReload func(*GlobalConfig)
}

// NewReloadWatcher starts watching the config file at path
func NewReloadWatcher(path string, loader *Loader, logger *slog.Logger) (*ReloadWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	w := &ReloadWatcher{
		path:    absPath,
		loader:  loader,
		watcher: watcher,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go w.processEvents()
	return w, nil
}

// OnReload registers the callback invoked with each successfully
// reloaded config
func (w *ReloadWatcher) OnReload(callback func(*GlobalConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = callback
}

// Close stops the watcher
func (w *ReloadWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *ReloadWatcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

func (w *ReloadWatcher) reload() {
	config, err := w.loader.LoadFromPath(w.path)
	if err != nil {
		// Keep the previous config, a half-written file is expected
		// mid-save
		w.logger.Warn("config reload failed", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	callback := w.onReload
	w.mu.Unlock()

	if callback != nil {
		callback(config)
	}
	w.logger.Info("config reloaded", "path", w.path, "profile", config.ActiveProfile)
}
