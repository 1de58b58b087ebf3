package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives a freshly loaded configuration, or the error that
// prevented loading it.
type ReloadFunc func(cfg *Config, err error)

// Watcher reloads a configuration file when it changes on disk.
type Watcher struct {
	path     string
	debounce time.Duration
	onReload ReloadFunc
	watcher  *fsnotify.Watcher
}

// NewWatcher watches path. The parent directory is watched so that editors
// replacing the file atomically are noticed.
func NewWatcher(path string, onReload ReloadFunc) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	if err := fw.Add(filepath.Dir(absPath)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return &Watcher{
		path:     absPath,
		debounce: 250 * time.Millisecond,
		onReload: onReload,
		watcher:  fw,
	}, nil
}

// Path returns the watched configuration file.
func (w *Watcher) Path() string {
	return w.path
}

// Run delivers reloads until ctx is cancelled. Bursts of events within the
// debounce window produce a single reload. A file that was moved away or
// deleted is reported as a reload error.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.onReload(nil, fmt.Errorf("config watcher: %w", err))
		case <-timerCh:
			timerCh = nil
			cfg, err := LoadConfig(w.path)
			w.onReload(cfg, err)
		}
	}
}
