package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FolderWatcher watches one folder with fsnotify, falling back to polling,
// and emits debounced batches.
type FolderWatcher struct {
	opts      Options
	fsWatcher *fsnotify.Watcher
	poller    *PollingWatcher
	debouncer *Debouncer
	events    chan []FileEvent
	errors    chan error
	stopCh    chan struct{}

	mu      sync.RWMutex
	folder  string
	stopped bool
	dropped atomic.Uint64
}

var _ Watcher = (*FolderWatcher)(nil)

// NewFolderWatcher creates a watcher. fsnotify initialisation failure is not
// an error: the watcher polls instead.
func NewFolderWatcher(opts Options) (*FolderWatcher, error) {
	opts = opts.WithDefaults()
	w := &FolderWatcher{
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			w.fsWatcher = fsw
			return w, nil
		}
		slog.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
	}
	w.poller = NewPollingWatcher(opts)
	return w, nil
}

// Mode reports "fsnotify" or "polling".
func (w *FolderWatcher) Mode() string {
	if w.fsWatcher != nil {
		return "fsnotify"
	}
	return "polling"
}

// Start watches folder and blocks until Stop or ctx is done.
func (w *FolderWatcher) Start(ctx context.Context, folder string) error {
	abs, err := filepath.Abs(folder)
	if err != nil {
		return fmt.Errorf("resolve folder: %w", err)
	}
	w.mu.Lock()
	w.folder = abs
	w.mu.Unlock()

	go w.forward(ctx)

	slog.Info("watch_started", slog.String("folder", abs), slog.String("mode", w.Mode()))
	if w.fsWatcher != nil {
		return w.runFsnotify(ctx, abs)
	}
	return w.runPolling(ctx, abs)
}

func (w *FolderWatcher) runFsnotify(ctx context.Context, folder string) error {
	if err := w.fsWatcher.Add(folder); err != nil {
		return fmt.Errorf("watch %s: %w", folder, err)
	}
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handle(folder, ev)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *FolderWatcher) runPolling(ctx context.Context, folder string) error {
	go func() {
		for {
			select {
			case <-w.stopCh:
				return
			case ev, ok := <-w.poller.Events():
				if !ok {
					return
				}
				w.debouncer.Add(ev)
			case err, ok := <-w.poller.Errors():
				if !ok {
					return
				}
				w.emitError(err)
			}
		}
	}()
	err := w.poller.Start(ctx, folder)
	if ctx.Err() != nil {
		_ = w.Stop()
	}
	return err
}

func (w *FolderWatcher) handle(folder string, ev fsnotify.Event) {
	name, err := filepath.Rel(folder, ev.Name)
	if err != nil {
		return
	}
	relevant, config := w.opts.classify(name)
	if !relevant {
		return
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}
	if config {
		op = OpConfigChange
	}
	w.debouncer.Add(FileEvent{Name: name, Operation: op, Timestamp: time.Now()})
}

func (w *FolderWatcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			w.emit(batch)
		}
	}
}

func (w *FolderWatcher) emit(batch []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.events <- batch:
	default:
		n := w.dropped.Add(1)
		slog.Warn("watch_batch_dropped",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("total_dropped", n))
	}
}

func (w *FolderWatcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// DroppedBatches reports batches lost to a full event buffer.
func (w *FolderWatcher) DroppedBatches() uint64 {
	return w.dropped.Load()
}

// Stop releases resources and closes the channels. Safe to call more than once.
func (w *FolderWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fsWatcher != nil {
		_ = w.fsWatcher.Close()
	}
	if w.poller != nil {
		_ = w.poller.Stop()
	}
	close(w.events)
	close(w.errors)
	return nil
}

// Events returns debounced batches.
func (w *FolderWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns non-fatal watcher errors.
func (w *FolderWatcher) Errors() <-chan error {
	return w.errors
}
