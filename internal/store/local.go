package store

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

const (
	stateBuilding = "building"
	stateReady    = "ready"

	// ExactScanLimit is the collection size up to which queries scan every
	// vector instead of searching the graph.
	ExactScanLimit = 256

	graphExt = ".hnsw"
)

// LocalIndex implements VectorIndex with chunk rows and embeddings in SQLite
// and one coder/hnsw graph file per collection under dir. Writes and loads
// of one collection are serialized; different collections proceed in
// parallel.
type LocalIndex struct {
	db  *sql.DB
	dir string

	names sync.Map // collection name -> *sync.Mutex

	mu     sync.RWMutex // guards loaded and closed
	loaded map[string]*collection
	closed bool
}

type collection struct {
	dims    int
	chunks  []chunk.Chunk
	vectors [][]float32
	graph   *hnsw.Graph[uint64]
}

// NewLocalIndex creates an index storing graphs in dir.
func NewLocalIndex(db *sql.DB, dir string) (*LocalIndex, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vectors directory: %w", err)
	}
	return &LocalIndex{db: db, dir: dir, loaded: make(map[string]*collection)}, nil
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	return g
}

// lockName serializes work on one collection.
func (x *LocalIndex) lockName(name string) func() {
	m, _ := x.names.LoadOrStore(name, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (x *LocalIndex) isClosed() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.closed
}

// publish installs c as the loaded form of name.
func (x *LocalIndex) publish(name string, c *collection) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return fmt.Errorf("index is closed")
	}
	x.loaded[name] = c
	return nil
}

func (x *LocalIndex) graphPath(name string) string {
	return filepath.Join(x.dir, name+graphExt)
}

// CreateOrReplace implements VectorIndex. The collection row stays in the
// building state until both rows and graph file are written, so a crash
// mid-build surfaces as ErrBuildConflict on the next attempt.
func (x *LocalIndex) CreateOrReplace(ctx context.Context, name string, chunks []chunk.Chunk, embeddings [][]float32) error {
	dims, err := validateEmbeddings(chunks, embeddings)
	if err != nil {
		return err
	}

	unlock := x.lockName(name)
	defer unlock()
	if x.isClosed() {
		return fmt.Errorf("index is closed")
	}

	state, oldDims, found, err := x.collectionRow(ctx, name)
	if err != nil {
		return err
	}
	switch {
	case found && state != stateReady:
		return buildConflict(name, "collection left in state "+state)
	case found && oldDims != dims:
		return buildConflict(name, fmt.Sprintf("dimensions %d != %d", oldDims, dims))
	case !found && fileExists(x.graphPath(name)):
		return buildConflict(name, "orphan graph file")
	}

	if err := x.writeRows(ctx, name, dims, chunks, embeddings); err != nil {
		return err
	}

	c := &collection{dims: dims, chunks: chunks, vectors: normalizedCopy(embeddings)}
	c.graph = buildGraph(c.vectors)
	if err := exportGraph(c.graph, x.graphPath(name)); err != nil {
		return err
	}

	if _, err := x.db.ExecContext(ctx,
		`UPDATE collections SET state = ?, updated_at = ? WHERE name = ?`,
		stateReady, time.Now().UTC().Format(time.RFC3339Nano), name); err != nil {
		return fmt.Errorf("mark collection ready: %w", err)
	}

	if err := x.publish(name, c); err != nil {
		return err
	}
	slog.Debug("collection_written",
		slog.String("collection", name),
		slog.Int("chunks", len(chunks)),
		slog.Int("dimensions", dims))
	return nil
}

func (x *LocalIndex) writeRows(ctx context.Context, name string, dims int, chunks []chunk.Chunk, embeddings [][]float32) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM collection_chunks WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("clear collection: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO collections (name, state, dimensions, chunk_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			state = excluded.state,
			dimensions = excluded.dimensions,
			chunk_count = excluded.chunk_count,
			updated_at = excluded.updated_at`,
		name, stateBuilding, dims, len(chunks), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("write collection row: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO collection_chunks (collection, ordinal, chunk_id, source, text, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for chunk %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, name, i, c.ID, c.Source, c.Text, string(meta), encodeVector(embeddings[i])); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Query implements VectorIndex, loading the collection on first use.
func (x *LocalIndex) Query(ctx context.Context, name string, query []float32, k int) ([]Hit, error) {
	c, err := x.get(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(query) != c.dims {
		return nil, ErrDimensionMismatch{Expected: c.dims, Got: len(query)}
	}
	if k <= 0 || len(c.chunks) == 0 {
		return []Hit{}, nil
	}
	k = min(k, len(c.chunks))

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	var hits []Hit
	if len(c.chunks) <= ExactScanLimit {
		hits = make([]Hit, len(c.vectors))
		for i, v := range c.vectors {
			hits[i] = Hit{Chunk: c.chunks[i], Similarity: cosineSimilarity(q, v)}
		}
	} else {
		for _, node := range c.graph.Search(q, k) {
			if int(node.Key) >= len(c.chunks) {
				continue
			}
			hits = append(hits, Hit{Chunk: c.chunks[node.Key], Similarity: cosineSimilarity(q, node.Value)})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (x *LocalIndex) get(ctx context.Context, name string) (*collection, error) {
	x.mu.RLock()
	c, ok := x.loaded[name]
	closed := x.closed
	x.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("index is closed")
	}
	if ok {
		return c, nil
	}
	if err := x.Load(ctx, name); err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if c, ok := x.loaded[name]; ok {
		return c, nil
	}
	return nil, collectionNotFound(name)
}

// Load implements VectorIndex. A missing or stale graph file is rebuilt from
// the stored embeddings.
func (x *LocalIndex) Load(ctx context.Context, name string) error {
	unlock := x.lockName(name)
	defer unlock()

	x.mu.RLock()
	_, ok := x.loaded[name]
	closed := x.closed
	x.mu.RUnlock()
	if closed {
		return fmt.Errorf("index is closed")
	}
	if ok {
		return nil
	}

	state, dims, found, err := x.collectionRow(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		return collectionNotFound(name)
	}
	if state != stateReady {
		return amerrors.New(amerrors.ErrCodeCorruptCollection,
			fmt.Sprintf("collection %s was left in state %q", name, state), nil).
			WithSuggestion("Re-run indexing to rebuild it")
	}

	c, err := x.readRows(ctx, name, dims)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeCorruptCollection, "failed to read collection "+name, err)
	}

	path := x.graphPath(name)
	g, err := importGraph(path)
	if err != nil || g.Len() != len(c.vectors) {
		slog.Warn("collection_graph_rebuilt",
			slog.String("collection", name),
			slog.Any("import_error", err))
		g = buildGraph(c.vectors)
		if err := exportGraph(g, path); err != nil {
			return err
		}
	}
	c.graph = g

	return x.publish(name, c)
}

func (x *LocalIndex) readRows(ctx context.Context, name string, dims int) (*collection, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT ordinal, chunk_id, source, text, metadata, embedding
		FROM collection_chunks WHERE collection = ? ORDER BY ordinal`, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	c := &collection{dims: dims}
	for rows.Next() {
		var (
			ch   chunk.Chunk
			meta string
			blob []byte
		)
		if err := rows.Scan(&ch.Ordinal, &ch.ID, &ch.Source, &ch.Text, &meta, &blob); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &ch.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of chunk %d: %w", ch.Ordinal, err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("decode embedding of chunk %d: %w", ch.Ordinal, err)
		}
		if len(vec) != dims {
			return nil, ErrDimensionMismatch{Expected: dims, Got: len(vec)}
		}
		normalizeVectorInPlace(vec)
		c.chunks = append(c.chunks, ch)
		c.vectors = append(c.vectors, vec)
	}
	return c, rows.Err()
}

// Delete implements VectorIndex.
func (x *LocalIndex) Delete(ctx context.Context, name string) error {
	unlock := x.lockName(name)
	defer unlock()

	x.mu.Lock()
	delete(x.loaded, name)
	x.mu.Unlock()

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM collection_chunks WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if err := os.Remove(x.graphPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove graph file: %w", err)
	}
	return nil
}

// Exists implements VectorIndex. Only ready collections count.
func (x *LocalIndex) Exists(ctx context.Context, name string) (bool, error) {
	state, _, found, err := x.collectionRow(ctx, name)
	if err != nil {
		return false, err
	}
	return found && state == stateReady, nil
}

// Close drops loaded graphs. The database is owned by the caller.
func (x *LocalIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	x.loaded = nil
	return nil
}

func (x *LocalIndex) collectionRow(ctx context.Context, name string) (state string, dims int, found bool, err error) {
	err = x.db.QueryRowContext(ctx,
		`SELECT state, dimensions FROM collections WHERE name = ?`, name).Scan(&state, &dims)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("read collection %s: %w", name, err)
	}
	return state, dims, true, nil
}

// buildGraph keys nodes by ordinal.
func buildGraph(vectors [][]float32) *hnsw.Graph[uint64] {
	g := newGraph()
	for i, v := range vectors {
		g.Add(hnsw.MakeNode(uint64(i), v))
	}
	return g
}

// exportGraph writes atomically via a temp file and rename.
func exportGraph(g *hnsw.Graph[uint64], path string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create graph file: %w", err)
	}
	if err := g.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close graph file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename graph file: %w", err)
	}
	return nil
}

func importGraph(path string) (*hnsw.Graph[uint64], error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	g := newGraph()
	// Import requires an io.ByteReader
	if err := g.Import(bufio.NewReader(file)); err != nil {
		return nil, err
	}
	return g, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func normalizedCopy(vectors [][]float32) [][]float32 {
	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		out[i] = make([]float32, len(v))
		copy(out[i], v)
		normalizeVectorInPlace(out[i])
	}
	return out
}

func normalizeVectorInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// cosineSimilarity expects normalized inputs. Zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func buildConflict(name, reason string) error {
	return amerrors.New(amerrors.ErrCodeBuildConflict,
		fmt.Sprintf("collection %s: %s", name, reason), nil).WithDetail("collection", name)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var _ VectorIndex = (*LocalIndex)(nil)
