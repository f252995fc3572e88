package index

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

func chunksFor(source string, texts ...string) []chunk.Chunk {
	out := make([]chunk.Chunk, len(texts))
	for i, t := range texts {
		out[i] = chunk.Chunk{ID: chunk.ChunkID(source, i), Source: source, Ordinal: i, Text: t}
	}
	return out
}

func newTestBuilder(t *testing.T, idx *memIndex, tracking *memTracking, n int) *Builder {
	t.Helper()
	b, err := NewBuilder(BuilderConfig{
		Index:       idx,
		Tracking:    tracking,
		Embedder:    embed.NewStaticEmbedder(),
		Concurrency: n,
	})
	require.NoError(t, err)
	return b
}

func TestNewBuilder_RequiresDependencies(t *testing.T) {
	_, err := NewBuilder(BuilderConfig{Tracking: newMemTracking(), Embedder: embed.NewStaticEmbedder()})
	assert.Error(t, err)

	b, err := NewBuilder(BuilderConfig{Index: newMemIndex(), Tracking: newMemTracking(), Embedder: embed.NewStaticEmbedder()})
	require.NoError(t, err)
	assert.Equal(t, DefaultBuildConcurrency, b.Limit())
}

func TestBuilder_Build_TagsSourceAndRecordsHash(t *testing.T) {
	// Given: one file on disk with two chunks
	ctx := context.Background()
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", "alpha beta")
	idx, tracking := newMemIndex(), newMemTracking()
	b := newTestBuilder(t, idx, tracking, 2)

	// When: building
	report := b.Build(ctx, dir, map[string][]chunk.Chunk{
		"notes.txt": chunksFor("notes.txt", "alpha", "beta"),
	})

	// Then: the collection holds source-tagged chunks and the record matches
	require.Empty(t, report.Failed())
	collection := CollectionName("notes.txt")
	assert.Equal(t, map[string]string{"notes.txt": collection}, report.Built())

	stored := idx.chunks(collection)
	require.Len(t, stored, 2)
	for _, c := range stored {
		assert.Equal(t, "notes.txt", c.Metadata[chunk.MetaSource])
	}

	hash, _ := Fingerprint(path)
	rec, found, _ := tracking.Get(ctx, "notes.txt")
	require.True(t, found)
	assert.Equal(t, hash, rec.ContentHash)
	assert.Equal(t, 2, rec.ChunkCount)
	assert.False(t, rec.ProcessedAt.IsZero())
}

func TestBuilder_Build_RecordsBytesOnDiskAfterBuild(t *testing.T) {
	// Given: chunks produced from an older version of the file
	ctx := context.Background()
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", "edited while loading")
	idx, tracking := newMemIndex(), newMemTracking()
	b := newTestBuilder(t, idx, tracking, 1)

	// When: building from the stale chunks
	report := b.Build(ctx, dir, map[string][]chunk.Chunk{
		"notes.txt": chunksFor("notes.txt", "original text"),
	})

	// Then: the record carries the current bytes, so the edit reads as unchanged
	require.Empty(t, report.Failed())
	want, err := Fingerprint(path)
	require.NoError(t, err)
	rec, ok, err := tracking.Get(ctx, "notes.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, rec.ContentHash)

	update, _, err := NewChangeCoordinator(tracking).NeedsUpdate(ctx, path, "notes.txt")
	require.NoError(t, err)
	assert.False(t, update)
}

func TestBuilder_Build_SkipsEmptyChunkLists(t *testing.T) {
	idx, tracking := newMemIndex(), newMemTracking()
	b := newTestBuilder(t, idx, tracking, 1)

	report := b.Build(context.Background(), t.TempDir(), map[string][]chunk.Chunk{"empty.txt": nil})

	assert.Empty(t, report.Results)
	assert.Zero(t, tracking.upserts.Load())
}

func TestBuilder_Build_RetriesOnceAfterConflict(t *testing.T) {
	// Given: the first create reports a conflict
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	idx, tracking := newMemIndex(), newMemTracking()
	collection := CollectionName("a.txt")
	idx.conflicts[collection] = 1
	b := newTestBuilder(t, idx, tracking, 1)

	// When: building
	report := b.Build(context.Background(), dir, map[string][]chunk.Chunk{"a.txt": chunksFor("a.txt", "a")})

	// Then: the stale collection was deleted and the retry succeeded
	assert.Empty(t, report.Failed())
	assert.Equal(t, []string{collection}, idx.deletes)
	assert.Len(t, idx.chunks(collection), 1)
}

func TestBuilder_Build_SecondConflictFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	idx, tracking := newMemIndex(), newMemTracking()
	idx.conflicts[CollectionName("a.txt")] = 2
	b := newTestBuilder(t, idx, tracking, 1)

	report := b.Build(context.Background(), dir, map[string][]chunk.Chunk{"a.txt": chunksFor("a.txt", "a")})

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.True(t, errors.Is(failed[0].Err, amerrors.ErrBuildFailed))
	assert.True(t, errors.Is(failed[0].Err, amerrors.ErrBuildConflict))
	assert.Zero(t, tracking.upserts.Load())
}

func TestBuilder_Build_FailureIsIsolated(t *testing.T) {
	// Given: two files with previous records, one whose build will fail
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "good.txt", "good v2")
	writeFile(t, dir, "bad.txt", "bad v2")
	idx, tracking := newMemIndex(), newMemTracking()
	previous := store.FileRecord{Filename: "bad.txt", ContentHash: "v1", ChunkCount: 7}
	require.NoError(t, tracking.Upsert(ctx, previous))
	idx.fail[CollectionName("bad.txt")] = fmt.Errorf("disk full")
	b := newTestBuilder(t, idx, tracking, 2)

	// When: building both
	report := b.Build(ctx, dir, map[string][]chunk.Chunk{
		"good.txt": chunksFor("good.txt", "good"),
		"bad.txt":  chunksFor("bad.txt", "bad"),
	})

	// Then: the sibling succeeds and the failed file's record is untouched
	require.Len(t, report.Results, 2)
	assert.Equal(t, "bad.txt", report.Results[0].Filename)
	assert.Error(t, report.Results[0].Err)
	assert.NoError(t, report.Results[1].Err)

	rec, _, _ := tracking.Get(ctx, "bad.txt")
	assert.Equal(t, previous.ContentHash, rec.ContentHash)
	assert.Equal(t, 7, rec.ChunkCount)
	_, found, _ := tracking.Get(ctx, "good.txt")
	assert.True(t, found)
}

// ============================================================================
// Concurrency bound
// ============================================================================

func TestBuilder_Build_NeverExceedsConcurrency(t *testing.T) {
	// Given: twenty files, builds that take a while, and a limit of 3
	dir := t.TempDir()
	idx, tracking := newMemIndex(), newMemTracking()
	idx.hold = 20 * time.Millisecond
	b := newTestBuilder(t, idx, tracking, 3)

	files := make(map[string][]chunk.Chunk)
	for i := range 20 {
		name := fmt.Sprintf("file%02d.txt", i)
		writeFile(t, dir, name, name)
		files[name] = chunksFor(name, "text for "+name)
	}

	// When: building them all at once
	report := b.Build(context.Background(), dir, files)

	// Then: every file built and at most 3 ran together
	assert.Empty(t, report.Failed())
	assert.Len(t, report.Built(), 20)
	assert.LessOrEqual(t, b.PeakBuilds(), 3)
	assert.LessOrEqual(t, idx.maxSeen.Load(), int64(3))
	assert.Greater(t, idx.maxSeen.Load(), int64(1))
	assert.Zero(t, b.ActiveBuilds())
}

func TestBuilder_Build_BoundIsSharedAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	idx, tracking := newMemIndex(), newMemTracking()
	idx.hold = 10 * time.Millisecond
	b := newTestBuilder(t, idx, tracking, 2)

	batch := func(prefix string) map[string][]chunk.Chunk {
		m := make(map[string][]chunk.Chunk)
		for i := range 5 {
			name := fmt.Sprintf("%s%d.txt", prefix, i)
			writeFile(t, dir, name, name)
			m[name] = chunksFor(name, name)
		}
		return m
	}
	first, second := batch("a"), batch("b")

	done := make(chan BuildReport)
	go func() { done <- b.Build(context.Background(), dir, first) }()
	r2 := b.Build(context.Background(), dir, second)
	r1 := <-done

	assert.Empty(t, r1.Failed())
	assert.Empty(t, r2.Failed())
	assert.LessOrEqual(t, idx.maxSeen.Load(), int64(2))
}

func TestBuilder_Build_CancelledContextFailsFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := newTestBuilder(t, newMemIndex(), newMemTracking(), 1)

	report := b.Build(ctx, dir, map[string][]chunk.Chunk{"a.txt": chunksFor("a.txt", "a")})

	require.Len(t, report.Failed(), 1)
	assert.True(t, errors.Is(report.Failed()[0].Err, context.Canceled))
}

func TestBuilder_LoadExisting_SkipsMissing(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex()
	require.NoError(t, idx.CreateOrReplace(ctx, CollectionName("a.txt"), chunksFor("a.txt", "a"), nil))
	b := newTestBuilder(t, idx, newMemTracking(), 1)

	got := b.LoadExisting(ctx, []string{"a.txt", "b.txt"})

	assert.Equal(t, map[string]string{"a.txt": CollectionName("a.txt")}, got)
}
