package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/holdover-sh/holdover/internal/logger"
)

// Watcher delivers reloaded configuration snapshots whenever the config
// file changes on disk. The daemon uses this to pick up keybinding and TTL
// changes without a restart.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	updates chan *Config
	done    chan struct{}
}

// Watch starts watching the config file that cfg was loaded from. The
// parent directory is watched rather than the file itself so that editors
// which replace the file (rename-over-write) are still observed.
func Watch(cfg *Config) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(cfg.path)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	w := &Watcher{
		watcher: fsWatcher,
		path:    cfg.path,
		updates: make(chan *Config, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Updates returns the channel on which reloaded snapshots arrive.
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	// Editors tend to fire several events per save; coalesce them with a
	// short settle timer before reloading.
	var settle *time.Timer
	settled := make(chan struct{}, 1)

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if settle != nil {
				settle.Stop()
			}
			settle = time.AfterFunc(100*time.Millisecond, func() {
				select {
				case settled <- struct{}{}:
				default:
				}
			})
		case <-settled:
			cfg, err := Load(w.path)
			if err != nil {
				logger.Warnf("config reload failed, keeping previous snapshot: %v", err)
				continue
			}
			logger.Infof("config reloaded from %s", w.path)
			// Drop a stale pending snapshot so the latest always wins.
			select {
			case <-w.updates:
			default:
			}
			w.updates <- cfg
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}
