package board

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
)

// ConfigFile is the board config file from -config or MR_BOARD_CONFIG.
func ConfigFile() string {
	return configFile
}

// DefaultDebounce coalesces the burst of events from a single save.
const DefaultDebounce = 200 * time.Millisecond

// ConfigWatcher calls Changed after the file at Path is written, created,
// renamed or removed. The directory is watched so editors replacing the
// file are seen too.
type ConfigWatcher struct {
	Path     string
	Debounce time.Duration
	Changed  func()
}

// Name implements Named.
func (w *ConfigWatcher) Name() string {
	return "watch:" + w.Path
}

// Run implements Runnable.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(w.Path)); err != nil {
		return err
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	base := filepath.Base(w.Path)
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				glog.V(2).Infof("config %s: %s", w.Path, ev.Op)
				fire = time.After(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			glog.Warningf("config %s: watch: %v", w.Path, err)
		case <-fire:
			fire = nil
			if w.Changed != nil {
				w.Changed()
			}
		}
	}
}
