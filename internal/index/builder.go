package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// DefaultBuildConcurrency bounds simultaneous collection builds.
const DefaultBuildConcurrency = 3

// FileResult is the outcome of building one file's collection.
type FileResult struct {
	Filename   string
	Collection string
	Chunks     int
	Duration   time.Duration
	Err        error
}

// BuildReport holds per-file results sorted by filename.
type BuildReport struct {
	Results []FileResult
}

// Built maps each successfully built filename to its collection.
func (r BuildReport) Built() map[string]string {
	out := make(map[string]string)
	for _, res := range r.Results {
		if res.Err == nil {
			out[res.Filename] = res.Collection
		}
	}
	return out
}

// Failed returns the results that carry an error.
func (r BuildReport) Failed() []FileResult {
	var out []FileResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	Index       store.VectorIndex
	Tracking    store.TrackingStore
	Embedder    embed.Embedder
	Concurrency int
}

// Builder creates or replaces one isolated collection per file. At most
// Concurrency builds run at once across every Build call on the same
// Builder; further requests wait.
type Builder struct {
	index    store.VectorIndex
	tracking store.TrackingStore
	embedder embed.Embedder

	sem   *semaphore.Weighted
	limit int64
	locks *keyLock

	active atomic.Int64
	peak   atomic.Int64
}

// NewBuilder creates a Builder.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Index == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if cfg.Tracking == nil {
		return nil, fmt.Errorf("tracking store is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	n := cfg.Concurrency
	if n <= 0 {
		n = DefaultBuildConcurrency
	}
	return &Builder{
		index:    cfg.Index,
		tracking: cfg.Tracking,
		embedder: cfg.Embedder,
		sem:      semaphore.NewWeighted(int64(n)),
		limit:    int64(n),
		locks:    newKeyLock(),
	}, nil
}

// Build builds a collection for every file with a non-empty chunk list.
// Files with no chunks are considered current and skipped. A file's failure
// never affects its siblings or its previous tracking record.
func (b *Builder) Build(ctx context.Context, folder string, chunksByFile map[string][]chunk.Chunk) BuildReport {
	names := make([]string, 0, len(chunksByFile))
	for name, chunks := range chunksByFile {
		if len(chunks) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	results := make([]FileResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = b.buildFile(ctx, folder, name, chunksByFile[name])
		}()
	}
	wg.Wait()
	return BuildReport{Results: results}
}

func (b *Builder) buildFile(ctx context.Context, folder, filename string, chunks []chunk.Chunk) FileResult {
	res := FileResult{Filename: filename, Collection: CollectionName(filename), Chunks: len(chunks)}

	if err := b.sem.Acquire(ctx, 1); err != nil {
		res.Err = amerrors.BuildFailed(filename, err)
		return res
	}
	defer b.sem.Release(1)
	b.enter()
	defer b.active.Add(-1)

	unlock := b.locks.Lock(filename)
	defer unlock()

	start := time.Now()
	err := b.build(ctx, folder, filename, res.Collection, chunks)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = amerrors.BuildFailed(filename, err)
		slog.Error("file_build_failed",
			slog.String("file", filename),
			slog.String("collection", res.Collection),
			slog.String("error", err.Error()))
		return res
	}

	slog.Info("file_build_complete",
		slog.String("file", filename),
		slog.String("collection", res.Collection),
		slog.Int("chunks", len(chunks)),
		slog.Int64("duration_ms", res.Duration.Milliseconds()))
	return res
}

func (b *Builder) enter() {
	n := b.active.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (b *Builder) build(ctx context.Context, folder, filename, collection string, chunks []chunk.Chunk) error {
	tagged := tagChunks(filename, chunks)

	texts := make([]string, len(tagged))
	for i, c := range tagged {
		texts[i] = c.Text
	}
	vectors, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	err = b.index.CreateOrReplace(ctx, collection, tagged, vectors)
	if errors.Is(err, amerrors.ErrBuildConflict) {
		slog.Warn("collection_conflict_retry",
			slog.String("file", filename),
			slog.String("collection", collection),
			slog.String("error", err.Error()))
		if derr := b.index.Delete(ctx, collection); derr != nil {
			return fmt.Errorf("delete stale collection: %w", derr)
		}
		err = b.index.CreateOrReplace(ctx, collection, tagged, vectors)
	}
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	// The hash is read after the build. An edit made while the file was
	// loading is recorded as indexed, so it goes undetected until the next
	// change.
	hash, err := Fingerprint(filepath.Join(folder, filename))
	if err != nil {
		return fmt.Errorf("fingerprint: %w", err)
	}
	return b.tracking.Upsert(ctx, store.FileRecord{
		Filename:    filename,
		ContentHash: hash,
		ChunkCount:  len(tagged),
		ProcessedAt: time.Now(),
	})
}

// tagChunks copies chunks with metadata source set to filename.
func tagChunks(filename string, chunks []chunk.Chunk) []chunk.Chunk {
	out := make([]chunk.Chunk, len(chunks))
	for i, c := range chunks {
		meta := make(map[string]string, len(c.Metadata)+1)
		maps.Copy(meta, c.Metadata)
		meta[chunk.MetaSource] = filename
		c.Metadata = meta
		out[i] = c
	}
	return out
}

// LoadExisting loads the collections of unchanged files. Failures are
// logged and the file is left out of the returned filename → collection map.
func (b *Builder) LoadExisting(ctx context.Context, filenames []string) map[string]string {
	out := make(map[string]string, len(filenames))
	for _, name := range filenames {
		collection := CollectionName(name)
		if err := b.index.Load(ctx, collection); err != nil {
			slog.Warn("collection_load_failed",
				slog.String("file", name),
				slog.String("collection", collection),
				slog.String("error", err.Error()))
			continue
		}
		out[name] = collection
	}
	return out
}

// ActiveBuilds reports builds currently holding the semaphore.
func (b *Builder) ActiveBuilds() int { return int(b.active.Load()) }

// PeakBuilds reports the highest ActiveBuilds observed.
func (b *Builder) PeakBuilds() int { return int(b.peak.Load()) }

// Limit reports the build concurrency bound.
func (b *Builder) Limit() int { return int(b.limit) }
