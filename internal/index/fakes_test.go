package index

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// memTracking is an in-memory TrackingStore.
type memTracking struct {
	mu      sync.Mutex
	records map[string]store.FileRecord
	upserts atomic.Int64
}

func newMemTracking() *memTracking {
	return &memTracking{records: make(map[string]store.FileRecord)}
}

func (m *memTracking) Get(_ context.Context, filename string) (store.FileRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[filename]
	return rec, ok, nil
}

func (m *memTracking) Upsert(_ context.Context, rec store.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts.Add(1)
	m.records[rec.Filename] = rec
	return nil
}

func (m *memTracking) List(context.Context) ([]store.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.FileRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (m *memTracking) Delete(_ context.Context, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, filename)
	return nil
}

// memIndex is an in-memory VectorIndex that can inject conflicts and
// failures, and tracks concurrent CreateOrReplace calls.
type memIndex struct {
	mu          sync.Mutex
	collections map[string][]chunk.Chunk
	conflicts   map[string]int // remaining conflicts per collection
	fail        map[string]error
	deletes     []string
	hold        time.Duration

	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

func newMemIndex() *memIndex {
	return &memIndex{
		collections: make(map[string][]chunk.Chunk),
		conflicts:   make(map[string]int),
		fail:        make(map[string]error),
	}
}

func (m *memIndex) CreateOrReplace(_ context.Context, name string, chunks []chunk.Chunk, _ [][]float32) error {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.maxSeen.Load()
		if n <= p || m.maxSeen.CompareAndSwap(p, n) {
			break
		}
	}
	if m.hold > 0 {
		time.Sleep(m.hold)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[name]; err != nil {
		return err
	}
	if m.conflicts[name] > 0 {
		m.conflicts[name]--
		return amerrors.New(amerrors.ErrCodeBuildConflict, "conflict on "+name, nil)
	}
	m.collections[name] = chunks
	return nil
}

func (m *memIndex) Query(_ context.Context, name string, _ []float32, k int) ([]store.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunks, ok := m.collections[name]
	if !ok {
		return nil, amerrors.ErrCollectionNotFound
	}
	var hits []store.Hit
	for i, c := range chunks {
		if i == k {
			break
		}
		hits = append(hits, store.Hit{Chunk: c, Similarity: 1 - float64(i)*0.1})
	}
	return hits, nil
}

func (m *memIndex) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, name)
	delete(m.collections, name)
	return nil
}

func (m *memIndex) Exists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.collections[name]
	return ok, nil
}

func (m *memIndex) Load(ctx context.Context, name string) error {
	ok, _ := m.Exists(ctx, name)
	if !ok {
		return amerrors.ErrCollectionNotFound
	}
	return nil
}

func (m *memIndex) Close() error { return nil }

func (m *memIndex) chunks(name string) []chunk.Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collections[name]
}
