// Package cache provides an approximate question → answer cache keyed by
// embedding similarity.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/amanrag/internal/embed"
)

// Defaults.
const (
	DefaultThreshold  = 0.85
	DefaultMaxEntries = 1024
)

// Entry is one cached answer.
type Entry struct {
	KeyText   string
	Embedding []float32
	Answer    string
}

// Matcher finds the entry nearest to an embedding. LinearMatcher scans every
// entry; an indexed structure can replace it without changing the cache.
type Matcher interface {
	Nearest(query []float32, entries []*Entry) (*Entry, float64)
}

// LinearMatcher compares the query against every entry by cosine similarity.
type LinearMatcher struct{}

// Nearest implements Matcher. Earlier entries win ties.
func (LinearMatcher) Nearest(query []float32, entries []*Entry) (*Entry, float64) {
	var (
		best      *Entry
		bestScore = math.Inf(-1)
	)
	for _, e := range entries {
		if s := CosineSimilarity(query, e.Embedding); s > bestScore {
			best, bestScore = e, s
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, bestScore
}

// CosineSimilarity is dot(a,b)/(|a||b|). Zero-norm or mismatched vectors
// score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// KeyText is the text embedded for a question asked against a set of files.
func KeyText(question, contextSummary string) string {
	return question + "|" + contextSummary
}

// Config configures a SemanticCache.
type Config struct {
	// Threshold is the minimum similarity for a hit. Zero means the default.
	Threshold float64
	// MaxEntries bounds the cache; the least recently used entry is evicted.
	// Zero means the default.
	MaxEntries int
}

// Option configures a SemanticCache.
type Option func(*SemanticCache)

// WithMatcher replaces the LinearMatcher.
func WithMatcher(m Matcher) Option {
	return func(c *SemanticCache) { c.matcher = m }
}

// Stats reports cache activity.
type Stats struct {
	Entries int
	Hits    int64
	Misses  int64
}

// SemanticCache returns a stored answer when a new question is close enough
// to one already answered against the same files. Safe for concurrent use.
type SemanticCache struct {
	mu        sync.RWMutex
	embedder  embed.Embedder
	matcher   Matcher
	threshold float64
	entries   *lru.Cache[string, *Entry]

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a SemanticCache.
func New(embedder embed.Embedder, cfg Config, opts ...Option) (*SemanticCache, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	entries, err := lru.New[string, *Entry](cfg.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	c := &SemanticCache{
		embedder:  embedder,
		matcher:   LinearMatcher{},
		threshold: cfg.Threshold,
		entries:   entries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the answer of the most similar entry when its similarity
// reaches the threshold. An empty cache misses without embedding; an
// embedding failure is logged and treated as a miss.
func (c *SemanticCache) Get(ctx context.Context, question, contextSummary string) (string, bool) {
	if c.entries.Len() == 0 {
		c.misses.Add(1)
		return "", false
	}

	vec, err := c.embedder.Embed(ctx, KeyText(question, contextSummary))
	if err != nil {
		slog.Warn("cache_embed_failed", slog.String("error", err.Error()))
		c.misses.Add(1)
		return "", false
	}

	c.mu.RLock()
	best, score := c.matcher.Nearest(vec, c.entries.Values())
	c.mu.RUnlock()
	if best == nil || score < c.threshold {
		c.misses.Add(1)
		slog.Debug("cache_miss", slog.Float64("best_similarity", score))
		return "", false
	}

	c.entries.Get(best.KeyText)
	c.hits.Add(1)
	slog.Debug("cache_hit", slog.Float64("similarity", score))
	return best.Answer, true
}

// Set stores answer under the key text. The same key text replaces its
// entry; near-duplicates get entries of their own.
func (c *SemanticCache) Set(ctx context.Context, question, answer, contextSummary string) error {
	key := KeyText(question, contextSummary)
	vec, err := c.embedder.Embed(ctx, key)
	if err != nil {
		return fmt.Errorf("embed cache key: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, &Entry{KeyText: key, Embedding: vec, Answer: answer})
	return nil
}

// Len reports stored entries.
func (c *SemanticCache) Len() int {
	return c.entries.Len()
}

// Purge removes every entry.
func (c *SemanticCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Stats returns entry count and hit/miss totals.
func (c *SemanticCache) Stats() Stats {
	return Stats{Entries: c.entries.Len(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}
