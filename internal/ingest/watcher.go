package ingest

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow coalesces editor-style write bursts so a file
// being copied in triggers one ingest, not dozens.
const DefaultDebounceWindow = 500 * time.Millisecond

// Watcher observes the extracted directory and emits debounced batches
// of changed .txt paths.
type Watcher struct {
	dir    string
	window time.Duration
	logger *slog.Logger

	fsw    *fsnotify.Watcher
	out    chan []string
	errs   chan error

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	stopped bool
}

// NewWatcher builds a watcher over the extracted directory.
func NewWatcher(dir string, window time.Duration, logger *slog.Logger) (*Watcher, error) {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return &Watcher{
		dir:     dir,
		window:  window,
		logger:  logger,
		fsw:     fsw,
		out:     make(chan []string, 16),
		errs:    make(chan error, 4),
		pending: make(map[string]struct{}),
	}, nil
}

// Start runs the event loop until the context is cancelled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				w.Stop()
				return
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				w.handle(event)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				select {
				case w.errs <- err:
				default:
				}
			}
		}
	}()
}

// handle records one raw event and (re)schedules the flush.
func (w *Watcher) handle(event fsnotify.Event) {
	if !strings.EqualFold(filepath.Ext(event.Name), ".txt") {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	w.pending[event.Name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.window, w.flush)
}

// flush emits the coalesced batch.
func (w *Watcher) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped || len(w.pending) == 0 {
		return
	}
	batch := make([]string, 0, len(w.pending))
	for path := range w.pending {
		batch = append(batch, path)
	}
	w.pending = make(map[string]struct{})

	select {
	case w.out <- batch:
	default:
		w.logger.Warn("watcher_batch_dropped", slog.Int("batch_size", len(batch)))
	}
}

// Events returns debounced batches of changed .txt paths.
func (w *Watcher) Events() <-chan []string { return w.out }

// Errors returns non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Stop stops watching. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	_ = w.fsw.Close()
	close(w.out)
	close(w.errs)
}
