package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wudi/routeplane/internal/logging"
)

// Watcher watches the resource manifest and reports every successful
// reload. A manifest that fails to parse is logged and skipped; the last
// good content stays in effect.
type Watcher struct {
	watcher  *fsnotify.Watcher
	loader   *Loader
	path     string
	debounce time.Duration

	mu        sync.RWMutex
	callbacks []func(*Manifest)
	last      *Manifest
}

// NewWatcher creates a manifest watcher and performs the initial load.
func NewWatcher(path string, debounce time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	w := &Watcher{
		watcher:  fsWatcher,
		loader:   NewLoader(),
		path:     path,
		debounce: debounce,
	}

	m, err := w.loader.LoadManifest(path)
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}
	w.last = m
	return w, nil
}

// OnChange registers a callback for manifest changes.
func (w *Watcher) OnChange(callback func(*Manifest)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Manifest returns the last successfully loaded manifest.
func (w *Watcher) Manifest() *Manifest {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}

// Run watches the manifest directory until ctx is done. The directory is
// watched rather than the file so atomic renames (editors, ConfigMap
// symlink swaps) are seen.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	defer w.watcher.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	base := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base && filepath.Base(event.Name) != "..data" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error("manifest watcher error", zap.Error(err))
		}
	}
}

// reload loads the manifest and notifies callbacks
func (w *Watcher) reload() {
	m, err := w.loader.LoadManifest(w.path)
	if err != nil {
		logging.Error("failed to reload manifest", zap.String("path", w.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.last = m
	callbacks := make([]func(*Manifest), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	logging.Info("manifest reloaded",
		zap.String("path", w.path),
		zap.Int("gateways", len(m.Gateways)),
		zap.Int("routes", len(m.Routes)),
	)
	for _, cb := range callbacks {
		cb(m)
	}
}
