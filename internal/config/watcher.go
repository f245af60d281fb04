// watcher.go implements fsnotify-driven hot reload for the configuration file.
// Editors commonly replace files atomically (write to temp, rename over), so
// both Write and Create events trigger a debounced reload.
package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDebounce coalesces the burst of events a single save produces.
const reloadDebounce = 150 * time.Millisecond

// Watcher watches the configuration file and reloads it on change.
type Watcher struct {
	cfg      *Config
	watcher  *fsnotify.Watcher
	onReload func(*Config)

	timerMu sync.Mutex
	timer   *time.Timer
}

// NewWatcher creates a watcher for the given configuration. The optional
// callback runs after each successful reload.
func NewWatcher(cfg *Config, onReload func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{cfg: cfg, watcher: fsWatcher, onReload: onReload}, nil
}

// Start begins watching until the context is cancelled. The parent directory
// is watched rather than the file itself so rename-based saves keep working.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.cfg.Path())
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	go func() {
		defer func() {
			_ = w.watcher.Close()
		}()
		target := filepath.Clean(w.cfg.Path())
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.scheduleReload()
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("config watcher error: %v", err)
			}
		}
	}()
	return nil
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, func() {
		if err := w.cfg.Reload(); err != nil {
			log.Errorf("failed to reload config: %v", err)
			return
		}
		log.Infof("configuration reloaded from %s", w.cfg.Path())
		if w.onReload != nil {
			w.onReload(w.cfg)
		}
	})
}
