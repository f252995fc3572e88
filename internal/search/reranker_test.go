package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

func candidates(texts ...string) []Candidate {
	out := make([]Candidate, len(texts))
	for i, t := range texts {
		out[i] = Candidate{Chunk: chunk.Chunk{Text: t}, Similarity: 0.5, Source: "f.txt"}
	}
	return out
}

// scoreByLength scores each text by its length and counts calls.
type scoreByLength struct{ calls atomic.Int64 }

func (s *scoreByLength) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	s.calls.Add(1)
	out := make([]float64, len(texts))
	for i, t := range texts {
		out[i] = float64(len(t))
	}
	return out, nil
}

func TestReranker_FastPathSkipsScorer(t *testing.T) {
	// Given: fewer candidates than topK
	s := &scoreByLength{}
	r := NewReranker(s)

	// When: reranking
	got, err := r.Rerank(context.Background(), "q", candidates("bb", "a"), 5)

	// Then: input order, similarity as score, no scorer call
	require.NoError(t, err)
	assert.Equal(t, []string{"bb", "a"}, Texts(got))
	assert.Equal(t, 0.5, got[0].RerankScore)
	assert.Zero(t, s.calls.Load())
}

func TestReranker_SortsDescendingAndTruncates(t *testing.T) {
	s := &scoreByLength{}
	r := NewReranker(s)

	got, err := r.Rerank(context.Background(), "q", candidates("a", "ccc", "bb", "dddd"), 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"dddd", "ccc"}, Texts(got))
	assert.Equal(t, 4.0, got[0].RerankScore)
	assert.Equal(t, int64(1), s.calls.Load())
}

func TestReranker_TiesKeepInputOrder(t *testing.T) {
	r := NewReranker(&scoreByLength{})

	got, err := r.Rerank(context.Background(), "q", candidates("x1", "y", "x2", "x3"), 3)

	require.NoError(t, err)
	assert.Equal(t, []string{"x1", "x2", "x3"}, Texts(got))
}

func TestReranker_ScoreCountMismatch(t *testing.T) {
	r := NewReranker(ScorerFunc(func(context.Context, string, []string) ([]float64, error) {
		return []float64{1}, nil
	}))

	_, err := r.Rerank(context.Background(), "q", candidates("a", "b", "c"), 1)

	assert.Equal(t, amerrors.ErrCodeRerankFailed, amerrors.GetCode(err))
}

func TestReranker_NilScorerRanksBySimilarity(t *testing.T) {
	cs := candidates("low", "high", "mid")
	cs[0].Similarity, cs[1].Similarity, cs[2].Similarity = 0.1, 0.9, 0.5

	got, err := NewReranker(nil).Rerank(context.Background(), "q", cs, 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"high", "mid"}, Texts(got))
}

func TestReranker_Empty(t *testing.T) {
	got, err := NewReranker(&scoreByLength{}).Rerank(context.Background(), "q", nil, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLazyScorer_CreatesOnce(t *testing.T) {
	// Given: a factory that counts calls
	var created atomic.Int64
	inner := &scoreByLength{}
	lazy := NewLazyScorer(func(context.Context) (Scorer, error) {
		created.Add(1)
		return inner, nil
	})
	r := NewReranker(lazy)

	// When: reranking twice
	for range 2 {
		_, err := r.Rerank(context.Background(), "q", candidates("a", "bb", "ccc"), 1)
		require.NoError(t, err)
	}

	// Then: the scorer was built once and used twice
	assert.Equal(t, int64(1), created.Load())
	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestLazyScorer_ErrorReturnedToEveryCaller(t *testing.T) {
	boom := errors.New("model missing")
	var created atomic.Int64
	lazy := NewLazyScorer(func(context.Context) (Scorer, error) {
		created.Add(1)
		return nil, boom
	})

	_, err1 := lazy.Score(context.Background(), "q", []string{"a"})
	_, err2 := lazy.Score(context.Background(), "q", []string{"a"})

	assert.ErrorIs(t, err1, boom)
	assert.ErrorIs(t, err2, boom)
	assert.Equal(t, int64(1), created.Load())
}

// ============================================================================
// OverlapScorer
// ============================================================================

func TestOverlapScorer_Score(t *testing.T) {
	texts := []string{
		"The weather was pleasant.",
		"Revenue grew while expenses fell.",
		"Revenue grew by twelve percent.",
	}

	scores, err := NewOverlapScorer().Score(context.Background(), "Revenue and cost?", texts)

	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Zero(t, scores[0])
	assert.InDelta(t, 1.0, scores[1], 1e-9)
	assert.InDelta(t, 0.5, scores[2], 1e-9)
}

func TestOverlapScorer_StopWordOnlyQuestion(t *testing.T) {
	scores, err := NewOverlapScorer().Score(context.Background(), "what is the", []string{"the answer"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, scores)
}

func TestGetSynonyms(t *testing.T) {
	assert.Contains(t, GetSynonyms("Cost"), "expense")
	assert.Nil(t, GetSynonyms("zebra"))
}
