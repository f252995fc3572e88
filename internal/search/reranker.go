package search

import (
	"context"
	"fmt"
	"sort"
	"sync"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Scorer assigns a relevance score to each text for a question. Higher is
// more relevant. It must return exactly one score per text.
type Scorer interface {
	Score(ctx context.Context, question string, texts []string) ([]float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, question string, texts []string) ([]float64, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, question string, texts []string) ([]float64, error) {
	return f(ctx, question, texts)
}

// LazyScorer creates its Scorer on first use and reuses it. A creation
// error is returned to every caller.
type LazyScorer struct {
	factory func(ctx context.Context) (Scorer, error)

	once   sync.Once
	scorer Scorer
	err    error
}

// NewLazyScorer wraps factory.
func NewLazyScorer(factory func(ctx context.Context) (Scorer, error)) *LazyScorer {
	return &LazyScorer{factory: factory}
}

// Score implements Scorer.
func (l *LazyScorer) Score(ctx context.Context, question string, texts []string) ([]float64, error) {
	l.once.Do(func() {
		l.scorer, l.err = l.factory(ctx)
	})
	if l.err != nil {
		return nil, l.err
	}
	return l.scorer.Score(ctx, question, texts)
}

// Reranker orders candidates by a Scorer and keeps the best topK.
type Reranker struct {
	scorer Scorer
}

// NewReranker creates a Reranker. A nil scorer ranks by retrieval
// similarity.
func NewReranker(scorer Scorer) *Reranker {
	return &Reranker{scorer: scorer}
}

// Rerank returns at most topK candidates ordered by score descending, ties
// keeping input order. When there are no more than topK candidates they are
// returned as given without scoring. topK <= 0 keeps every candidate.
func (r *Reranker) Rerank(ctx context.Context, question string, candidates []Candidate, topK int) ([]RankedCandidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if topK > 0 && len(candidates) <= topK {
		return asRanked(candidates, nil), nil
	}

	var scores []float64
	if r.scorer != nil {
		texts := make([]string, len(candidates))
		for i, c := range candidates {
			texts[i] = c.Chunk.Text
		}
		var err error
		scores, err = r.scorer.Score(ctx, question, texts)
		if err != nil {
			return nil, amerrors.New(amerrors.ErrCodeRerankFailed, "score candidates", err)
		}
		if len(scores) != len(candidates) {
			return nil, amerrors.New(amerrors.ErrCodeRerankFailed,
				fmt.Sprintf("scorer returned %d scores for %d candidates", len(scores), len(candidates)), nil)
		}
	}

	ranked := asRanked(candidates, scores)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RerankScore > ranked[j].RerankScore
	})
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// asRanked pairs candidates with scores, defaulting to similarity.
func asRanked(candidates []Candidate, scores []float64) []RankedCandidate {
	out := make([]RankedCandidate, len(candidates))
	for i, c := range candidates {
		score := c.Similarity
		if scores != nil {
			score = scores[i]
		}
		out[i] = RankedCandidate{Candidate: c, RerankScore: score}
	}
	return out
}
