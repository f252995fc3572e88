// Package integration exercises refresh, routing, reranking, caching and
// watching together over real SQLite and the local vector index.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/cache"
	"github.com/Aman-CERP/amanrag/internal/chunk"
	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/generate"
	"github.com/Aman-CERP/amanrag/internal/index"
	"github.com/Aman-CERP/amanrag/internal/ingest"
	"github.com/Aman-CERP/amanrag/internal/pipeline"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// recordingGenerator answers with a fixed text and keeps every prompt.
type recordingGenerator struct {
	mu      sync.Mutex
	answer  string
	prompts []generate.Prompt
}

func (g *recordingGenerator) Generate(_ context.Context, p generate.Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, p)
	return g.answer, nil
}

func (g *recordingGenerator) Stream(ctx context.Context, p generate.Prompt, fn func(string) error) error {
	text, err := g.Generate(ctx, p)
	if err != nil {
		return err
	}
	for _, word := range strings.SplitAfter(text, " ") {
		if err := fn(word); err != nil {
			return err
		}
	}
	return nil
}

func (g *recordingGenerator) lastContext() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1].Context
}

func (g *recordingGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// env is a folder wired end to end.
type env struct {
	folder   string
	dataDir  string
	index    *store.LocalIndex
	tracking *store.SQLiteTrackingStore
	runner   *index.Runner
	pipeline *pipeline.Pipeline
	gen      *recordingGenerator
}

func newEnv(t *testing.T, files map[string]string) *env {
	t.Helper()
	folder := t.TempDir()
	for name, content := range files {
		writeFile(t, folder, name, content)
	}
	dataDir := filepath.Join(folder, ".amanrag")

	db, err := store.OpenDB(filepath.Join(dataDir, store.DatabaseName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	idx, err := store.NewLocalIndex(db, filepath.Join(dataDir, "vectors"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	tracking := store.NewSQLiteTrackingStore(db)
	embedder := embed.NewStaticEmbedder()

	splitter, err := chunk.NewRecursiveSplitter(200, 40)
	require.NoError(t, err)
	builder, err := index.NewBuilder(index.BuilderConfig{
		Index: idx, Tracking: tracking, Embedder: embedder, Concurrency: 2,
	})
	require.NoError(t, err)
	runner, err := index.NewRunner(index.RunnerDependencies{
		Registry:    ingest.NewRegistry(nil),
		Splitter:    splitter,
		Coordinator: index.NewChangeCoordinator(tracking),
		Builder:     builder,
	})
	require.NoError(t, err)

	semantic, err := cache.New(embedder, cache.Config{Threshold: 0.95, MaxEntries: 16})
	require.NoError(t, err)
	gen := &recordingGenerator{answer: "See the documents."}
	p, err := pipeline.New(pipeline.Dependencies{
		Router:    search.NewRouter(idx, embedder, search.RouterConfig{}),
		Reranker:  search.NewReranker(search.NewOverlapScorer()),
		Generator: gen,
		Cache:     semantic,
		TopK:      3,
	})
	require.NoError(t, err)

	return &env{
		folder:   folder,
		dataDir:  dataDir,
		index:    idx,
		tracking: tracking,
		runner:   runner,
		pipeline: p,
		gen:      gen,
	}
}

// refresh runs one refresh and publishes it to the pipeline.
func (e *env) refresh(t *testing.T) *index.RefreshResult {
	t.Helper()
	res, err := e.runner.Refresh(context.Background(), e.folder, e.dataDir)
	require.NoError(t, err)
	e.pipeline.Publish(res.Collections, res.Built)
	return res
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

var notes = map[string]string{
	"budget.txt": "The marketing budget for next year is forty thousand euros, split evenly across four quarters.",
	"meeting.md": "# Planning meeting\n\nAlice opened the meeting. The team agreed to ship the mobile app in March.",
	"hiring.md":  "# Hiring\n\nWe will hire two backend engineers and one designer before the summer.",
}
