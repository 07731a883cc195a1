package outclip

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ConfigWatcher invalidates the provider whenever the file backing the synced
// configuration store changes. Editors and atomic writers replace the file
// rather than writing in place, so the parent directory is watched and events
// are filtered by name.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	provider *ConfigProvider
	path     string
	logger   *zap.Logger
	done     chan struct{}
}

func NewConfigWatcher(path string, provider *ConfigProvider, logger *zap.Logger) (*ConfigWatcher, error) {
	path = strings.TrimSpace(path)
	if path == "" || provider == nil {
		return nil, ErrInvalidInput
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	w := &ConfigWatcher{
		watcher:  watcher,
		provider: provider,
		path:     filepath.Clean(path),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *ConfigWatcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.logger.Info("configuration store changed, invalidating caches",
				zap.String("path", w.path),
				zap.String("op", event.Op.String()))
			w.provider.Invalidate(context.Background())
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("configuration watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

func (w *ConfigWatcher) Close() error {
	if w == nil {
		return nil
	}
	close(w.done)
	return w.watcher.Close()
}
