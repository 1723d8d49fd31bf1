package confdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDelay is how long the watcher waits for further events before
// reloading.
const DefaultReloadDelay = 500 * time.Millisecond

// Watcher reloads configuration sources when their files change. The reload
// function normally decodes the sources and calls DB.Load, which in turn
// fires the invalidation hooks of every subscriber.
type Watcher struct {
	logger  zerolog.Logger
	delay   time.Duration
	reload  func(ctx context.Context) error
	watcher *fsnotify.Watcher
	exts    map[string]bool

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

// NewWatcher creates a watcher calling reload after changes to files with one
// of the given extensions.
func NewWatcher(logger zerolog.Logger, exts []string, reload func(ctx context.Context) error) *Watcher {
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		m[e] = true
	}
	return &Watcher{
		logger: logger.With().Str("component", "confdb-watcher").Logger(),
		delay:  DefaultReloadDelay,
		reload: reload,
		exts:   m,
		done:   make(chan struct{}),
	}
}

// SetDelay overrides the debounce delay.
func (w *Watcher) SetDelay(d time.Duration) { w.delay = d }

// Start watches the given files and directories until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context, paths []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}
		target := path
		if !info.IsDir() {
			// editors replace files on save; watch the directory instead
			target = filepath.Dir(path)
		}
		if err := watcher.Add(target); err != nil {
			w.logger.Warn().Err(err).Str("path", target).Msg("Failed to watch path")
		}
	}

	go w.processEvents(ctx)

	w.logger.Info().Int("paths", len(paths)).Msg("Started watching configuration sources")
	return nil
}

// Done is closed once the watcher has stopped.
func (w *Watcher) Done() <-chan struct{} { return w.done }

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if len(w.exts) > 0 && !w.exts[filepath.Ext(event.Name)] {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Configuration file changed")
			w.schedule(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := w.reload(ctx); err != nil {
			w.logger.Error().Err(err).Msg("Failed to reload configuration")
			return
		}
		w.logger.Info().Msg("Configuration reloaded")
	})
}
