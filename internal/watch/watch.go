// Package watch re-runs a script document whenever it changes on disk.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tether/internal/logger"
	"github.com/ternarybob/tether/pkg/script"
)

// DefaultDebounce is how long a document must be quiet before a re-run.
const DefaultDebounce = 300 * time.Millisecond

// RunFunc executes a freshly loaded document.
type RunFunc func(ctx context.Context, doc *script.Document) error

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the watcher logger.
func WithLogger(l arbor.ILogger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher monitors one script document. The parent directory is watched so
// editors that replace the file by rename are still seen.
type Watcher struct {
	path     string
	run      RunFunc
	debounce time.Duration
	logger   arbor.ILogger
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	pending time.Time
}

// New creates a watcher for the document at path.
func New(path string, run RunFunc, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		run:      run,
		debounce: DefaultDebounce,
		logger:   logger.GetLogger(),
		watcher:  fsWatcher,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run executes the document once, then again after every debounced change,
// until ctx is cancelled. Load and run errors are logged and do not stop
// the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	w.trigger(ctx)

	tick := w.debounce / 3
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Str("path", w.path).Msg("Watcher error")

		case <-ticker.C:
			if w.due() {
				w.trigger(ctx)
			}
		}
	}
}

// due reports whether a pending change has been quiet long enough.
func (w *Watcher) due() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounce {
		return false
	}
	w.pending = time.Time{}
	return true
}

func (w *Watcher) trigger(ctx context.Context) {
	doc, err := script.LoadDocument(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Failed to load script")
		return
	}

	w.logger.Info().Str("path", w.path).Msg("Running script")
	if err := w.run(ctx, doc); err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Script failed")
	}
}
