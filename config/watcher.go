package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports edits to a config file. Monitor configuration is immutable
// for a running process, so a change is only announced; applying it takes a
// restart.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	watcher *fsnotify.Watcher
	changes chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewWatcher creates a watcher for path. debounce coalesces bursts of events
// such as editors writing in several steps.
func NewWatcher(path string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		logger:   logger.With("component", "config-watcher", "path", path),
		watcher:  fw,
		changes:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start watches the file's directory so atomic rename-on-save is seen. The
// returned channel receives one value per settled change and is closed on Stop.
func (w *Watcher) Start(ctx context.Context) (<-chan struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil, fmt.Errorf("watcher already running")
	}

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	w.running = true
	go w.processEvents(ctx)
	return w.changes, nil
}

// Stop ends watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	<-w.done
	_ = w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	defer close(w.changes)

	var timer *time.Timer
	var timerCh <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.isConfigEvent(event) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)

		case <-timerCh:
			timerCh = nil
			select {
			case w.changes <- struct{}{}:
			default:
			}
		}
	}
}

func (w *Watcher) isConfigEvent(event fsnotify.Event) bool {
	name := filepath.Clean(event.Name)
	if name == w.path {
		return true
	}
	// Kubernetes ConfigMap mounts swap a ..data symlink
	return filepath.Base(name) == "..data" && filepath.Dir(name) == filepath.Dir(w.path)
}

// WatchAndWarn logs a restart notice for every change until ctx ends.
func (w *Watcher) WatchAndWarn(ctx context.Context) error {
	changes, err := w.Start(ctx)
	if err != nil {
		return err
	}
	go func() {
		for range changes {
			w.logger.Warn("configuration file changed; restart growctl to apply it")
		}
	}()
	return nil
}
