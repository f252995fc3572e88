package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/index"
)

func result(files ...string) *index.RefreshResult {
	res := &index.RefreshResult{
		RunID:       "run-1",
		Collections: make(map[string]string),
		Failed:      map[string]error{"bad.pdf": errors.New("corrupt")},
		Chunks:      7,
		Duration:    1500 * time.Millisecond,
	}
	for _, f := range files {
		res.Collections[f] = index.CollectionName(f)
		res.Built = append(res.Built, f)
	}
	return res
}

func TestRefresher_InitialSnapshotIsIdle(t *testing.T) {
	r := NewRefresher(func(context.Context) (*index.RefreshResult, error) { return result(), nil }, nil)

	s := r.Snapshot()
	assert.Equal(t, StatusIdle, s.Status)
	assert.False(t, s.Busy())
	assert.NoError(t, r.Wait(context.Background()))
}

func TestRefresher_Refresh_PublishesAndRecords(t *testing.T) {
	// Given: a refresher publishing to a recorder
	var published *index.RefreshResult
	r := NewRefresher(func(context.Context) (*index.RefreshResult, error) {
		return result("b.txt", "a.txt"), nil
	}, func(res *index.RefreshResult) { published = res })

	// When: refreshing
	res, err := r.Refresh(context.Background())

	// Then: the result is published and summarized
	require.NoError(t, err)
	assert.Same(t, res, published)
	s := r.Snapshot()
	assert.Equal(t, StatusReady, s.Status)
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, []string{"a.txt", "b.txt"}, s.Files)
	assert.Equal(t, map[string]string{"bad.pdf": "corrupt"}, s.Failed)
	assert.Equal(t, 7, s.Chunks)
	assert.Equal(t, int64(1500), s.DurationMS)
	assert.Equal(t, 1, s.Refreshes)
}

func TestRefresher_Refresh_ErrorKeepsPreviousFiles(t *testing.T) {
	fail := false
	published := 0
	r := NewRefresher(func(context.Context) (*index.RefreshResult, error) {
		if fail {
			return nil, errors.New("folder missing")
		}
		return result("a.txt"), nil
	}, func(*index.RefreshResult) { published++ })

	_, err := r.Refresh(context.Background())
	require.NoError(t, err)
	fail = true
	_, err = r.Refresh(context.Background())

	require.Error(t, err)
	s := r.Snapshot()
	assert.Equal(t, StatusError, s.Status)
	assert.Equal(t, "folder missing", s.Error)
	assert.Equal(t, []string{"a.txt"}, s.Files)
	assert.Equal(t, 1, published)
	assert.Equal(t, 2, s.Refreshes)
}

func TestRefresher_SerializesConcurrentRefreshes(t *testing.T) {
	// Given: a slow refresh function tracking overlap
	var active, peak atomic.Int64
	r := NewRefresher(func(context.Context) (*index.RefreshResult, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return result("a.txt"), nil
	}, nil)

	// When: five callers refresh at once
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Refresh(context.Background())
		}()
	}
	wg.Wait()

	// Then: they ran one at a time
	assert.Equal(t, int64(1), peak.Load())
	assert.Equal(t, 5, r.Snapshot().Refreshes)
}

func TestRefresher_StartRunsInBackground(t *testing.T) {
	// Given: a refresh blocked until released
	release := make(chan struct{})
	var calls atomic.Int64
	r := NewRefresher(func(context.Context) (*index.RefreshResult, error) {
		calls.Add(1)
		<-release
		return result("a.txt"), nil
	}, nil)

	// When: starting twice while the first is blocked
	r.Start(context.Background())
	require.Eventually(t, func() bool { return r.Snapshot().Busy() }, time.Second, 5*time.Millisecond)
	r.Start(context.Background())
	close(release)

	// Then: one refresh ran and Wait reports success
	require.NoError(t, r.Wait(context.Background()))
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, StatusReady, r.Snapshot().Status)
}

func TestRefresher_WaitReturnsBackgroundError(t *testing.T) {
	r := NewRefresher(func(context.Context) (*index.RefreshResult, error) {
		return nil, errors.New("boom")
	}, nil)

	r.Start(context.Background())

	assert.EqualError(t, r.Wait(context.Background()), "boom")
}

func TestRefresher_WaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	r := NewRefresher(func(context.Context) (*index.RefreshResult, error) {
		<-release
		return result(), nil
	}, nil)
	r.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)
}
