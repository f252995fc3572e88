package index

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/ingest"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/ui"
)

// fakeTranscriber returns fixed text and counts calls.
type fakeTranscriber struct {
	text  string
	calls atomic.Int64
}

func (f *fakeTranscriber) Transcribe(context.Context, string) (string, error) {
	f.calls.Add(1)
	if strings.TrimSpace(f.text) == "" {
		return "", amerrors.ErrNoSpeech
	}
	return f.text, nil
}

type runnerFixture struct {
	folder   string
	dataDir  string
	runner   *Runner
	tracking *store.SQLiteTrackingStore
	index    *store.LocalIndex
	trans    *fakeTranscriber
	out      *bytes.Buffer
}

// newRunnerFixture wires a Runner over real SQLite and the local index. PDF
// parsing is replaced by a loader that reads the file as plain text pages.
func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	folder := t.TempDir()
	dataDir := filepath.Join(folder, ".amanrag")

	db, err := store.OpenDB(filepath.Join(dataDir, store.DatabaseName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	idx, err := store.NewLocalIndex(db, filepath.Join(dataDir, "vectors"))
	require.NoError(t, err)
	tracking := store.NewSQLiteTrackingStore(db)

	trans := &fakeTranscriber{text: "The meeting decided to hire two engineers next quarter."}
	registry := ingest.NewRegistry(trans)
	registry.Register(ingest.LoaderFunc(func(_ context.Context, path string) ([]chunk.Document, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var docs []chunk.Document
		for i, page := range strings.Split(string(data), "\f") {
			docs = append(docs, chunk.Document{Text: page, Metadata: map[string]string{ingest.MetaPage: string(rune('1' + i))}})
		}
		return docs, nil
	}), ".pdf")

	splitter, err := chunk.NewRecursiveSplitter(200, 50)
	require.NoError(t, err)
	builder, err := NewBuilder(BuilderConfig{
		Index: idx, Tracking: tracking, Embedder: embed.NewStaticEmbedder(), Concurrency: 3,
	})
	require.NoError(t, err)

	out := &bytes.Buffer{}
	runner, err := NewRunner(RunnerDependencies{
		Registry:    registry,
		Splitter:    splitter,
		Coordinator: NewChangeCoordinator(tracking),
		Builder:     builder,
		Renderer:    ui.NewPlainRenderer(ui.NewConfig(out, ui.WithForcePlain(true))),
	})
	require.NoError(t, err)

	return &runnerFixture{
		folder: folder, dataDir: dataDir, runner: runner,
		tracking: tracking, index: idx, trans: trans, out: out,
	}
}

func TestNewRunner_RequiresDependencies(t *testing.T) {
	_, err := NewRunner(RunnerDependencies{})
	assert.Error(t, err)
}

func TestRunner_Refresh_BuildsThenSkipsUnchanged(t *testing.T) {
	// Given: a folder with a report and a recording
	f := newRunnerFixture(t)
	ctx := context.Background()
	writeFile(t, f.folder, "report.pdf", "Revenue grew twelve percent.\fCosts fell in the third quarter.")
	writeFile(t, f.folder, "meeting.mp3", "ID3 fake audio")

	// When: refreshing the first time
	first, err := f.runner.Refresh(ctx, f.folder, f.dataDir)

	// Then: both files are built and queryable
	require.NoError(t, err)
	assert.NotEmpty(t, first.RunID)
	assert.Equal(t, []string{"meeting.mp3", "report.pdf"}, first.Built)
	assert.Empty(t, first.Unchanged)
	assert.Empty(t, first.Failed)
	assert.Equal(t, []string{"meeting.mp3", "report.pdf"}, first.Files())
	assert.Equal(t, CollectionName("report.pdf"), first.Collections["report.pdf"])
	assert.Greater(t, first.Chunks, 0)
	assert.Equal(t, int64(1), f.trans.calls.Load())

	records, err := f.tracking.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Contains(t, f.out.String(), "Complete: 2 files (2 built, 0 unchanged, 0 failed)")

	// When: refreshing again without changes
	second, err := f.runner.Refresh(ctx, f.folder, f.dataDir)

	// Then: nothing is rebuilt or transcribed, yet both stay queryable
	require.NoError(t, err)
	assert.Empty(t, second.Built)
	assert.Equal(t, []string{"meeting.mp3", "report.pdf"}, second.Unchanged)
	assert.Equal(t, first.Collections, second.Collections)
	assert.Equal(t, int64(1), f.trans.calls.Load())
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRunner_Refresh_RebuildsModifiedOnly(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	writeFile(t, f.folder, "a.txt", "first version")
	writeFile(t, f.folder, "b.txt", "stays the same")
	_, err := f.runner.Refresh(ctx, f.folder, f.dataDir)
	require.NoError(t, err)

	writeFile(t, f.folder, "a.txt", "second version with more words")
	res, err := f.runner.Refresh(ctx, f.folder, f.dataDir)

	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, res.Built)
	assert.Equal(t, []string{"b.txt"}, res.Unchanged)

	hits, err := f.index.Query(ctx, CollectionName("a.txt"), mustEmbed(t, "second version"), 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Chunk.Text, "second version")
}

func TestRunner_Refresh_FailureDoesNotBlockSiblings(t *testing.T) {
	// Given: a blank recording beside a good text file
	f := newRunnerFixture(t)
	f.trans.text = "  "
	writeFile(t, f.folder, "silence.wav", "RIFF")
	writeFile(t, f.folder, "notes.txt", "Action items for Monday.")

	res, err := f.runner.Refresh(context.Background(), f.folder, f.dataDir)

	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt"}, res.Built)
	require.Contains(t, res.Failed, "silence.wav")
	assert.True(t, errors.Is(res.Failed["silence.wav"], amerrors.ErrNoSpeech))
	assert.NotContains(t, res.Collections, "silence.wav")

	_, found, _ := f.tracking.Get(context.Background(), "silence.wav")
	assert.False(t, found)
}

func TestRunner_Refresh_NoSupportedFiles(t *testing.T) {
	f := newRunnerFixture(t)
	writeFile(t, f.folder, "image.png", "png")

	_, err := f.runner.Refresh(context.Background(), f.folder, f.dataDir)

	assert.Equal(t, amerrors.ErrCodeNoSupportedFiles, amerrors.GetCode(err))
}

func TestRunner_Refresh_LockedByAnotherProcess(t *testing.T) {
	// Given: the refresh lock held elsewhere
	f := newRunnerFixture(t)
	writeFile(t, f.folder, "a.txt", "a")
	require.NoError(t, os.MkdirAll(f.dataDir, 0o755))
	other := flock.New(filepath.Join(f.dataDir, LockFileName))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	// When: refreshing
	_, err = f.runner.Refresh(context.Background(), f.folder, f.dataDir)

	// Then: the refresh is refused, and succeeds once released
	assert.True(t, errors.Is(err, amerrors.ErrRefreshLocked))
	require.NoError(t, other.Unlock())
	_, err = f.runner.Refresh(context.Background(), f.folder, f.dataDir)
	assert.NoError(t, err)
}

func TestRefreshLock_UnlockIsIdempotent(t *testing.T) {
	l := NewRefreshLock(t.TempDir())
	require.NoError(t, l.TryLock())
	assert.NoError(t, l.Unlock())
	assert.NoError(t, l.Unlock())
	assert.Equal(t, LockFileName, filepath.Base(l.Path()))
}

func mustEmbed(t *testing.T, text string) []float32 {
	t.Helper()
	v, err := embed.NewStaticEmbedder().Embed(context.Background(), text)
	require.NoError(t, err)
	return v
}

// ============================================================================
// Consistency
// ============================================================================

func TestConsistencyChecker_Check(t *testing.T) {
	// Given: a refreshed folder, then one file edited and one deleted
	f := newRunnerFixture(t)
	ctx := context.Background()
	writeFile(t, f.folder, "edited.txt", "v1")
	writeFile(t, f.folder, "removed.txt", "bye")
	writeFile(t, f.folder, "same.txt", "same")
	_, err := f.runner.Refresh(ctx, f.folder, f.dataDir)
	require.NoError(t, err)

	writeFile(t, f.folder, "edited.txt", "v2")
	require.NoError(t, os.Remove(filepath.Join(f.folder, "removed.txt")))
	require.NoError(t, f.index.Delete(ctx, CollectionName("same.txt")))

	// When: checking
	res, err := NewConsistencyChecker(f.tracking, f.index).Check(ctx, f.folder)

	// Then: each problem is reported once
	require.NoError(t, err)
	assert.Len(t, res.Records, 3)
	got := make(map[string]InconsistencyType)
	for _, inc := range res.Inconsistencies {
		got[inc.Filename] = inc.Type
	}
	assert.Equal(t, map[string]InconsistencyType{
		"edited.txt":  InconsistencyStale,
		"removed.txt": InconsistencyMissingFile,
		"same.txt":    InconsistencyMissingCollection,
	}, got)
}
