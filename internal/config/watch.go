package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"

	"github.com/DmNote-App/DmNote/internal/logging"
)

const reloadDebounce = 150 * time.Millisecond

// Watcher reloads a config file when it changes on disk. Editors often
// replace files instead of writing them, so the parent directory is watched
// and events are filtered by name. Bursts of events collapse into one reload.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	debounce func(func())
	onChange func(Config)
	logger   *slog.Logger
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// Watch starts watching path. onChange runs on a watcher goroutine with
// every successfully parsed revision; a revision that fails to parse is
// logged and the caller keeps its previous config.
func Watch(path string, onChange func(Config), logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	w := &Watcher{
		path:     abs,
		fsw:      fsw,
		debounce: debounce.New(reloadDebounce),
		onChange: onChange,
		logger:   logging.OrDefault(logger),
	}
	w.wg.Add(1)
	go w.run()
	w.logger.Info("config: watching", "path", abs)
	return w, nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("config: change detected", "op", ev.Op.String())
			w.debounce(w.reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config: watcher error", "err", err)
		}
	}
}

func (w *Watcher) reload() {
	if w.closed.Load() {
		return
	}
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config: reload failed, keeping previous", "err", err)
		return
	}
	w.logger.Info("config: reloaded", "tracks", len(cfg.Tracks), "speed", cfg.Notes.Speed)
	w.onChange(cfg)
}

// Close stops watching. A reload already in flight may still complete.
func (w *Watcher) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}
