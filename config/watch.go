package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

const reloadDebounce = 50 * time.Millisecond

// Watcher watches a config file for changes and re-runs Load on every
// write, handing the freshly loaded Config to a callback. An AuthHandler
// keeps the Config it was built with; a rotated secret reaches outbound
// requests only through what onChange does with the new Config.
type Watcher struct {
	path   string
	opts   []Option
	cancel context.CancelFunc
}

// WatchFile starts watching path (previously passed to WithFile) and
// invokes onChange with each successfully reloaded Config. The returned
// Watcher must be stopped with Close when no longer needed.
func WatchFile(ctx context.Context, path string, onChange func(*Config), opts ...Option) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create config file watcher")
	}
	if err := fsWatcher.Add(path); err != nil {
		fsWatcher.Close()
		return nil, errors.Wrapf(err, "failed to watch config file %s", path)
	}

	w := &Watcher{path: path, opts: opts}
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(watchCtx, fsWatcher, onChange)
	return w, nil
}

func (w *Watcher) run(ctx context.Context, fsWatcher *fsnotify.Watcher, onChange func(*Config)) {
	defer fsWatcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Str("path", w.path).Msg("config file watcher error")
		case ev, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			// Editors and k8s configmap updates tend to fire a burst of
			// events (create+write+chmod) for one logical change; a short
			// debounce collapses the burst into a single reload.
			select {
			case <-time.After(reloadDebounce):
			case <-ctx.Done():
				return
			}
			cfg, err := Load(append(w.opts, WithFile(w.path))...)
			if err != nil {
				logger.Error().Err(err).Str("path", w.path).Msg("failed to reload configuration after file change")
				continue
			}
			logger.Info().Str("path", w.path).Msg("configuration reloaded")
			onChange(cfg)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() {
	if w.cancel != nil {
		w.cancel()
	}
}
