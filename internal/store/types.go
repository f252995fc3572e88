// Package store persists file tracking records and per-file vector
// collections. SQLite (modernc.org/sqlite) holds durable state; collections
// are served from in-memory HNSW graphs or from a Qdrant server.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Aman-CERP/amanrag/internal/chunk"
)

// FileRecord is the tracking row for one source file. A record whose hash
// equals the file's current hash means the file's collection is current.
type FileRecord struct {
	Filename    string
	ContentHash string
	ChunkCount  int
	ProcessedAt time.Time
}

// TrackingStore is durable filename → FileRecord storage.
type TrackingStore interface {
	// Get returns the record and true, or false when none exists.
	Get(ctx context.Context, filename string) (FileRecord, bool, error)
	// Upsert inserts or replaces the record keyed by filename.
	Upsert(ctx context.Context, rec FileRecord) error
	// List returns all records ordered by filename.
	List(ctx context.Context) ([]FileRecord, error)
	// Delete removes a record. Never called automatically.
	Delete(ctx context.Context, filename string) error
}

// Hit is one similarity search result.
type Hit struct {
	Chunk      chunk.Chunk
	Similarity float64
}

// VectorIndex manages isolated, named collections of embedded chunks.
type VectorIndex interface {
	// CreateOrReplace atomically replaces the collection's contents. It
	// returns ErrBuildConflict when the collection exists in a state it
	// cannot safely replace.
	CreateOrReplace(ctx context.Context, name string, chunks []chunk.Chunk, embeddings [][]float32) error
	// Query returns at most k nearest chunks, best first.
	Query(ctx context.Context, name string, query []float32, k int) ([]Hit, error)
	// Delete drops the collection. Deleting a missing collection is not an error.
	Delete(ctx context.Context, name string) error
	// Exists reports whether a complete collection is stored under name.
	Exists(ctx context.Context, name string) (bool, error)
	// Load makes an existing collection ready for queries. It fails with
	// ErrCollectionNotFound or a corrupt-collection error.
	Load(ctx context.Context, name string) error
	// Close releases resources.
	Close() error
}

// ErrDimensionMismatch indicates a vector of the wrong length.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// validateEmbeddings checks counts and that every vector has the same
// non-zero length, returning that length.
func validateEmbeddings(chunks []chunk.Chunk, embeddings [][]float32) (int, error) {
	if len(chunks) != len(embeddings) {
		return 0, fmt.Errorf("chunks and embeddings length mismatch: %d vs %d", len(chunks), len(embeddings))
	}
	if len(embeddings) == 0 {
		return 0, fmt.Errorf("no chunks to store")
	}
	dims := len(embeddings[0])
	if dims == 0 {
		return 0, fmt.Errorf("empty embedding")
	}
	for _, v := range embeddings {
		if len(v) != dims {
			return 0, ErrDimensionMismatch{Expected: dims, Got: len(v)}
		}
	}
	return dims, nil
}
