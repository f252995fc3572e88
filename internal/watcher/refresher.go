package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// RefreshFunc brings the folder's collections up to date.
type RefreshFunc func(ctx context.Context) error

// AutoRefresher runs a refresh after every debounced batch. Batches that
// queue up while a refresh runs are merged into the next one.
type AutoRefresher struct {
	watcher Watcher
	refresh RefreshFunc

	refreshes atomic.Int64
	failures  atomic.Int64
}

// NewAutoRefresher pairs a watcher with a refresh function.
func NewAutoRefresher(w Watcher, refresh RefreshFunc) *AutoRefresher {
	return &AutoRefresher{watcher: w, refresh: refresh}
}

// Run watches folder until ctx is done or the watcher stops. Refresh
// failures are logged and do not stop watching.
func (a *AutoRefresher) Run(ctx context.Context, folder string) error {
	startErr := make(chan error, 1)
	go func() { startErr <- a.watcher.Start(ctx, folder) }()

	events, errs := a.watcher.Events(), a.watcher.Errors()
	for {
		select {
		case <-ctx.Done():
			_ = a.watcher.Stop()
			return ctx.Err()
		case err := <-startErr:
			_ = a.watcher.Stop()
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return err
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			a.handle(ctx, drain(events, batch))
		}
	}
}

// drain merges batches already waiting behind first.
func drain(events <-chan []FileEvent, first []FileEvent) []FileEvent {
	batch := first
	for {
		select {
		case more, ok := <-events:
			if !ok {
				return batch
			}
			batch = append(batch, more...)
		default:
			return batch
		}
	}
}

func (a *AutoRefresher) handle(ctx context.Context, batch []FileEvent) {
	for _, e := range batch {
		if e.Operation == OpConfigChange {
			slog.Warn("watch_config_changed",
				slog.String("file", e.Name),
				slog.String("hint", "restart to apply configuration changes"))
		}
	}

	slog.Info("watch_refresh", slog.Int("events", len(batch)))
	a.refreshes.Add(1)
	if err := a.refresh(ctx); err != nil {
		a.failures.Add(1)
		slog.Error("watch_refresh_failed", slog.String("error", err.Error()))
	}
}

// Refreshes reports refreshes started.
func (a *AutoRefresher) Refreshes() int64 { return a.refreshes.Load() }

// Failures reports refreshes that returned an error.
func (a *AutoRefresher) Failures() int64 { return a.failures.Load() }
