package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/amanrag/internal/index"
)

// RefreshFunc refreshes one folder.
type RefreshFunc func(ctx context.Context) (*index.RefreshResult, error)

// PublishFunc receives every successful refresh result, typically to hand
// the new collections to the question pipeline.
type PublishFunc func(res *index.RefreshResult)

// Refresher serializes refreshes within the process and remembers the
// outcome of the last one. Callers arriving while a refresh runs wait for
// their turn.
type Refresher struct {
	fn      RefreshFunc
	publish PublishFunc

	run sync.Mutex // held for the duration of a refresh

	mu    sync.RWMutex
	state Snapshot
	bg    chan struct{} // closed when the background refresh ends
	bgErr error
}

// NewRefresher creates a refresher. publish may be nil.
func NewRefresher(fn RefreshFunc, publish PublishFunc) *Refresher {
	return &Refresher{
		fn:      fn,
		publish: publish,
		state:   Snapshot{Status: StatusIdle},
	}
}

// Refresh runs one refresh and publishes its result.
func (r *Refresher) Refresh(ctx context.Context) (*index.RefreshResult, error) {
	r.run.Lock()
	defer r.run.Unlock()

	r.mu.Lock()
	r.state.Status = StatusRefreshing
	r.state.StartedAt = time.Now()
	r.state.Error = ""
	r.mu.Unlock()

	res, err := r.fn(ctx)

	r.mu.Lock()
	r.state.Refreshes++
	r.state.FinishedAt = time.Now()
	if err != nil {
		r.state.Status = StatusError
		r.state.Error = err.Error()
		r.mu.Unlock()
		slog.Error("background_refresh_failed", slog.String("error", err.Error()))
		return nil, err
	}
	r.state.Status = StatusReady
	r.state.apply(res)
	r.mu.Unlock()

	if r.publish != nil {
		r.publish(res)
	}
	return res, nil
}

// Start runs a refresh in a background goroutine and returns immediately.
// Only one background refresh is tracked; Start while one runs is a no-op.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	if r.bg != nil {
		select {
		case <-r.bg:
		default:
			r.mu.Unlock()
			return
		}
	}
	done := make(chan struct{})
	r.bg = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		_, err := r.Refresh(ctx)
		r.mu.Lock()
		r.bgErr = err
		r.mu.Unlock()
	}()
}

// Wait blocks until the background refresh started by Start ends and
// returns its error. Without a background refresh it returns nil at once.
func (r *Refresher) Wait(ctx context.Context) error {
	r.mu.RLock()
	done := r.bg
	r.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bgErr
}

// Snapshot returns the current state.
func (r *Refresher) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.clone()
}

// RefreshFor adapts Refresh to the watcher's refresh signature.
func (r *Refresher) RefreshFor(ctx context.Context) error {
	_, err := r.Refresh(ctx)
	return err
}
