package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/cache"
	"github.com/Aman-CERP/amanrag/internal/chunk"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/generate"
	"github.com/Aman-CERP/amanrag/internal/index"
	"github.com/Aman-CERP/amanrag/internal/ingest"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// countingGenerator echoes the context it was given and counts calls.
type countingGenerator struct {
	mu        sync.Mutex
	calls     atomic.Int64
	prompts   []generate.Prompt
	fragments []string
	err       error
}

func (g *countingGenerator) Generate(_ context.Context, p generate.Prompt) (string, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return "answer from: " + p.Context, nil
}

func (g *countingGenerator) Stream(ctx context.Context, p generate.Prompt, fn func(string) error) error {
	g.calls.Add(1)
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	g.mu.Unlock()
	for _, f := range g.fragments {
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (g *countingGenerator) lastPrompt() generate.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[len(g.prompts)-1]
}

type fixedTranscriber string

func (f fixedTranscriber) Transcribe(context.Context, string) (string, error) {
	return string(f), nil
}

type fixture struct {
	pipeline *Pipeline
	gen      *countingGenerator
	cache    *cache.SemanticCache
	metrics  *telemetry.AskMetrics
}

// newFixture refreshes a folder holding report.pdf and meeting.mp3 through
// the real index runner, then wires a pipeline over the result.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	folder := t.TempDir()
	dataDir := filepath.Join(folder, ".amanrag")
	require.NoError(t, os.WriteFile(filepath.Join(folder, "report.pdf"),
		[]byte("Quarterly revenue grew twelve percent. Operating costs were flat."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "meeting.mp3"), []byte("ID3"), 0o644))

	db, err := store.OpenDB(filepath.Join(dataDir, store.DatabaseName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	idx, err := store.NewLocalIndex(db, filepath.Join(dataDir, "vectors"))
	require.NoError(t, err)
	tracking := store.NewSQLiteTrackingStore(db)
	embedder := embed.NewStaticEmbedder()

	registry := ingest.NewRegistry(fixedTranscriber("The team decided to hire two engineers and delay the launch."))
	registry.Register(ingest.LoaderFunc(func(_ context.Context, path string) ([]chunk.Document, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return []chunk.Document{{Text: string(data), Metadata: map[string]string{ingest.MetaPage: "1"}}}, nil
	}), ".pdf")
	splitter, err := chunk.NewRecursiveSplitter(200, 50)
	require.NoError(t, err)
	builder, err := index.NewBuilder(index.BuilderConfig{Index: idx, Tracking: tracking, Embedder: embedder})
	require.NoError(t, err)
	runner, err := index.NewRunner(index.RunnerDependencies{
		Registry:    registry,
		Splitter:    splitter,
		Coordinator: index.NewChangeCoordinator(tracking),
		Builder:     builder,
	})
	require.NoError(t, err)
	res, err := runner.Refresh(ctx, folder, dataDir)
	require.NoError(t, err)
	require.Len(t, res.Collections, 2)

	semantic, err := cache.New(embedder, cache.Config{})
	require.NoError(t, err)
	metrics := telemetry.NewAskMetrics(nil, telemetry.AskMetricsConfig{})
	gen := &countingGenerator{fragments: []string{"The team ", "will hire ", "two engineers."}}

	p, err := New(Dependencies{
		Router:    search.NewRouter(idx, embedder, search.RouterConfig{RetrieveK: 10}),
		Reranker:  search.NewReranker(search.NewOverlapScorer()),
		Generator: gen,
		Cache:     semantic,
		Metrics:   metrics,
		TopK:      5,
	})
	require.NoError(t, err)
	p.SetCollections(res.Collections)

	return &fixture{pipeline: p, gen: gen, cache: semantic, metrics: metrics}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Dependencies{})
	assert.Error(t, err)
}

func TestPipeline_Ask_MentionRestrictsSources(t *testing.T) {
	// Given: both files indexed
	f := newFixture(t)
	assert.Equal(t, []string{"meeting.mp3", "report.pdf"}, f.pipeline.Files())

	// When: asking about the meeting
	ans, err := f.pipeline.Ask(context.Background(), Request{Question: "What was decided in the meeting?"})

	// Then: only the recording is used
	require.NoError(t, err)
	assert.False(t, ans.Cached)
	assert.Equal(t, []string{"meeting.mp3"}, ans.Scope.Files)
	assert.Equal(t, []string{"meeting.mp3"}, ans.Sources)
	assert.Contains(t, f.gen.lastPrompt().Context, "hire two engineers")
	assert.NotContains(t, f.gen.lastPrompt().Context, "revenue")
}

func TestPipeline_Ask_IdenticalQuestionIsCached(t *testing.T) {
	// Given: one answered question
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.pipeline.Ask(ctx, Request{Question: "How much did revenue grow?"})
	require.NoError(t, err)

	// When: asking it again
	second, err := f.pipeline.Ask(ctx, Request{Question: "How much did revenue grow?"})

	// Then: the cache answers without the generator
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, int64(1), f.gen.calls.Load())

	s := f.metrics.Snapshot()
	assert.Equal(t, int64(1), s.OutcomeCounts[telemetry.OutcomeCached])
	assert.Equal(t, int64(1), s.OutcomeCounts[telemetry.OutcomeAnswered])
}

func TestPipeline_Ask_PassesHistoryAndJoinsContext(t *testing.T) {
	f := newFixture(t)
	history := []generate.Message{{Role: generate.RoleUser, Content: "hi"}, {Role: generate.RoleAssistant, Content: "hello"}}

	_, err := f.pipeline.Ask(context.Background(), Request{Question: "Summarize everything", History: history})

	require.NoError(t, err)
	p := f.gen.lastPrompt()
	assert.Equal(t, history, p.History)
	assert.Equal(t, "Summarize everything", p.Question)
	assert.Len(t, strings.Split(p.Context, ContextSeparator), 2)
}

func TestPipeline_Ask_EmptyQuestion(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Ask(context.Background(), Request{Question: "   "})

	assert.Equal(t, amerrors.ErrCodeQuestionEmpty, amerrors.GetCode(err))
	assert.Zero(t, f.gen.calls.Load())
	assert.Equal(t, int64(1), f.metrics.Snapshot().OutcomeCounts[telemetry.OutcomeFailed])
}

func TestPipeline_Ask_GeneratorErrorNotCached(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("model offline")

	_, err := f.pipeline.Ask(context.Background(), Request{Question: "revenue?"})

	assert.Error(t, err)
	assert.Zero(t, f.cache.Len())
}

func TestPipeline_Ask_NoCollections(t *testing.T) {
	f := newFixture(t)
	f.pipeline.SetCollections(nil)

	ans, err := f.pipeline.Ask(context.Background(), Request{Question: "anything?"})

	require.NoError(t, err)
	assert.Empty(t, ans.Sources)
	assert.Equal(t, "", f.gen.lastPrompt().Context)
	assert.Equal(t, int64(1), f.metrics.Snapshot().OutcomeCounts[telemetry.OutcomeNoContext])
}

// ============================================================================
// Streaming
// ============================================================================

func TestPipeline_AskStream_DeliversFragmentsAndCaches(t *testing.T) {
	// Given: a streaming generator
	f := newFixture(t)
	var got []string

	// When: streaming an answer
	ans, err := f.pipeline.AskStream(context.Background(), Request{Question: "What will the team do?"}, func(s string) error {
		got = append(got, s)
		return nil
	})

	// Then: fragments arrive in order and the full text is cached
	require.NoError(t, err)
	assert.Equal(t, []string{"The team ", "will hire ", "two engineers."}, got)
	assert.Equal(t, "The team will hire two engineers.", ans.Text)
	assert.Equal(t, 1, f.cache.Len())

	// When: streaming the same question again
	got = nil
	ans, err = f.pipeline.AskStream(context.Background(), Request{Question: "What will the team do?"}, func(s string) error {
		got = append(got, s)
		return nil
	})

	// Then: the cached answer comes as one fragment
	require.NoError(t, err)
	assert.True(t, ans.Cached)
	assert.Equal(t, []string{"The team will hire two engineers."}, got)
}

func TestPipeline_AskStream_CancelledIsNotCached(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	var got []string
	_, err := f.pipeline.AskStream(ctx, Request{Question: "What will the team do?"}, func(s string) error {
		got = append(got, s)
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"The team "}, got)
	assert.Zero(t, f.cache.Len())
}

func TestPipeline_AskStream_CallbackErrorStops(t *testing.T) {
	f := newFixture(t)
	stop := errors.New("closed")

	_, err := f.pipeline.AskStream(context.Background(), Request{Question: "team?"}, func(string) error { return stop })

	assert.ErrorIs(t, err, stop)
	assert.Zero(t, f.cache.Len())
}

func TestContextSummary(t *testing.T) {
	assert.Equal(t, "a.txt,b.pdf", ContextSummary([]string{"a.txt", "b.pdf"}))
	assert.Equal(t, "", ContextSummary(nil))
}

// ============================================================================
// Publish
// ============================================================================

func TestPipeline_Publish_UnchangedRefreshKeepsCache(t *testing.T) {
	// Given: one cached answer
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.pipeline.Ask(ctx, Request{Question: "How much did revenue grow?"})
	require.NoError(t, err)
	_, collections := f.pipeline.snapshot()

	// When: a refresh rebuilt nothing
	f.pipeline.Publish(collections, nil)

	// Then: the repeat question is still served from the cache
	again, err := f.pipeline.Ask(ctx, Request{Question: "How much did revenue grow?"})
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, int64(1), f.gen.calls.Load())
}

func TestPipeline_Publish_RebuiltFileDropsCachedAnswers(t *testing.T) {
	// Given: one cached answer
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.pipeline.Ask(ctx, Request{Question: "How much did revenue grow?"})
	require.NoError(t, err)
	require.Equal(t, 1, f.cache.Len())
	_, collections := f.pipeline.snapshot()

	// When: a refresh rebuilt a file under the same name
	f.pipeline.Publish(collections, []string{"report.pdf"})

	// Then: the answer is generated again from the new content
	assert.Zero(t, f.cache.Len())
	again, err := f.pipeline.Ask(ctx, Request{Question: "How much did revenue grow?"})
	require.NoError(t, err)
	assert.False(t, again.Cached)
	assert.Equal(t, int64(2), f.gen.calls.Load())
	assert.Equal(t, []string{"meeting.mp3", "report.pdf"}, f.pipeline.Files())
}
