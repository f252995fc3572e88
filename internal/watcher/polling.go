package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher detects changes by rescanning the folder every interval.
// It reports raw, undebounced events.
type PollingWatcher struct {
	interval time.Duration
	opts     Options
	events   chan FileEvent
	errors   chan error
	stopCh   chan struct{}

	mu      sync.RWMutex
	state   map[string]fileSnapshot
	stopped bool
	folder  string
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// NewPollingWatcher creates a poller filtering names with opts.
func NewPollingWatcher(opts Options) *PollingWatcher {
	opts = opts.WithDefaults()
	return &PollingWatcher{
		interval: opts.PollInterval,
		opts:     opts,
		events:   make(chan FileEvent, 100),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
		state:    make(map[string]fileSnapshot),
	}
}

// Start records a baseline and polls until Stop or ctx is done.
func (p *PollingWatcher) Start(ctx context.Context, folder string) error {
	abs, err := filepath.Abs(folder)
	if err != nil {
		return fmt.Errorf("resolve folder: %w", err)
	}
	current, err := p.snapshot(abs)
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	p.mu.Lock()
	p.folder = abs
	p.state = current
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.Poll(); err != nil {
				p.emitError(err)
			}
		}
	}
}

// Poll compares the folder with the last scan and emits the differences.
func (p *PollingWatcher) Poll() error {
	p.mu.RLock()
	folder := p.folder
	p.mu.RUnlock()
	if folder == "" {
		return fmt.Errorf("polling watcher not started")
	}

	current, err := p.snapshot(folder)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for name, snap := range current {
		prev, seen := p.state[name]
		switch {
		case !seen:
			p.emit(FileEvent{Name: name, Operation: p.op(name, OpCreate), Timestamp: now})
		case prev != snap:
			p.emit(FileEvent{Name: name, Operation: p.op(name, OpModify), Timestamp: now})
		}
	}
	for name := range p.state {
		if _, ok := current[name]; !ok {
			p.emit(FileEvent{Name: name, Operation: p.op(name, OpDelete), Timestamp: now})
		}
	}
	p.state = current
	return nil
}

func (p *PollingWatcher) op(name string, op Operation) Operation {
	if _, config := p.opts.classify(name); config {
		return OpConfigChange
	}
	return op
}

func (p *PollingWatcher) snapshot(folder string) (map[string]fileSnapshot, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("read folder: %w", err)
	}
	out := make(map[string]fileSnapshot, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if relevant, _ := p.opts.classify(e.Name()); !relevant {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[e.Name()] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
	}
	return out, nil
}

// emit must be called with p.mu held.
func (p *PollingWatcher) emit(e FileEvent) {
	if p.stopped {
		return
	}
	select {
	case p.events <- e:
	default:
		slog.Warn("poll_event_dropped",
			slog.String("file", e.Name),
			slog.String("op", e.Operation.String()))
	}
}

func (p *PollingWatcher) emitError(err error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return
	}
	select {
	case p.errors <- err:
	default:
	}
}

// Stop ends polling and closes the channels. Safe to call more than once.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns raw events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns poll errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}
