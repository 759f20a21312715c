package config

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher reloads the config file when it changes and hands every valid
// result to the subscribers. Invalid edits are logged and skipped.
type Watcher struct {
	loader   *Loader
	logger   *zap.Logger
	debounce time.Duration

	mu   sync.Mutex
	subs []func(*Config)
}

// WatcherOption customizes a Watcher.
type WatcherOption func(*Watcher)

// WithWatchLogger sets the watcher logger.
func WithWatchLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDebounce coalesces bursts of file events.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher watches the file behind loader.
func NewWatcher(loader *Loader, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		loader:   loader,
		logger:   zap.NewNop(),
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Subscribe registers fn for every successful reload.
func (w *Watcher) Subscribe(fn func(*Config)) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.subs = append(w.subs, fn)
	w.mu.Unlock()
}

// Run blocks until ctx is done. It watches the parent directory so that
// editors replacing the file atomically are still observed.
func (w *Watcher) Run(ctx context.Context) error {
	last, ok := w.loader.Last()
	if !ok || last.SourcePath == "" {
		return errors.New("config: nothing to watch, no config file was loaded")
	}
	target := filepath.Clean(last.SourcePath)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return err
	}
	w.logger.Info("watching config", zap.String("path", target))

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watch error", zap.Error(err))
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn("config reload rejected, keeping previous", zap.Error(err))
		return
	}
	w.logger.Info("config reloaded", zap.String("path", cfg.SourcePath))
	w.mu.Lock()
	subs := append([]func(*Config){}, w.subs...)
	w.mu.Unlock()
	for _, fn := range subs {
		fn(cfg)
	}
}
