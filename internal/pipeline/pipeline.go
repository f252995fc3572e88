// Package pipeline answers questions over a refreshed folder: semantic
// cache, routing, retrieval, reranking, then generation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/amanrag/internal/cache"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/generate"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// DefaultTopK is the number of passages handed to generation.
const DefaultTopK = 5

// ContextSeparator joins passages in the generation context.
const ContextSeparator = "\n\n"

// Request is one question with optional conversation history.
type Request struct {
	Question string
	History  []generate.Message
}

// Answer is the outcome of a question.
type Answer struct {
	Text string
	// Sources are the files whose passages were used, best first. Empty for
	// cached answers.
	Sources []string
	Cached  bool
	Scope   search.Scope
}

// Dependencies are the Pipeline's collaborators.
type Dependencies struct {
	Router    *search.Router        // required
	Reranker  *search.Reranker      // required
	Generator generate.Generator    // required
	Cache     *cache.SemanticCache  // nil disables caching
	Metrics   *telemetry.AskMetrics // nil disables telemetry
	TopK      int                   // zero means DefaultTopK
}

// Pipeline answers questions against the collections of the last refresh.
// Safe for concurrent use.
type Pipeline struct {
	router    *search.Router
	reranker  *search.Reranker
	generator generate.Generator
	cache     *cache.SemanticCache
	metrics   *telemetry.AskMetrics
	topK      int

	mu          sync.RWMutex
	collections map[string]string
}

// New creates a Pipeline with no collections.
func New(deps Dependencies) (*Pipeline, error) {
	if deps.Router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if deps.Reranker == nil {
		return nil, fmt.Errorf("reranker is required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	topK := deps.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Pipeline{
		router:      deps.Router,
		reranker:    deps.Reranker,
		generator:   deps.Generator,
		cache:       deps.Cache,
		metrics:     deps.Metrics,
		topK:        topK,
		collections: make(map[string]string),
	}, nil
}

// SetCollections replaces the queryable filename → collection map, usually
// with a refresh result.
func (p *Pipeline) SetCollections(collections map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collections = maps.Clone(collections)
	if p.collections == nil {
		p.collections = make(map[string]string)
	}
}

// Publish installs the collections of a refresh. Cache keys carry filenames
// only, so any rebuilt file drops every cached answer.
func (p *Pipeline) Publish(collections map[string]string, rebuilt []string) {
	p.SetCollections(collections)
	if len(rebuilt) == 0 || p.cache == nil {
		return
	}
	p.cache.Purge()
	slog.Info("answer_cache_purged", slog.Int("rebuilt", len(rebuilt)))
}

// Files returns the queryable filenames in sorted order.
func (p *Pipeline) Files() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Sorted(maps.Keys(p.collections))
}

func (p *Pipeline) snapshot() ([]string, map[string]string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Sorted(maps.Keys(p.collections)), p.collections
}

// ContextSummary identifies the set of files for cache keys.
func ContextSummary(files []string) string {
	return strings.Join(files, ",")
}

// Ask answers req.
func (p *Pipeline) Ask(ctx context.Context, req Request) (Answer, error) {
	return p.run(ctx, req, nil)
}

// AskStream answers req, delivering the answer to fn in order as fragments
// arrive. A cached answer is delivered as one fragment. An error from fn or
// a cancelled ctx stops delivery, and the partial answer is not cached.
func (p *Pipeline) AskStream(ctx context.Context, req Request, fn func(fragment string) error) (Answer, error) {
	if fn == nil {
		return Answer{}, fmt.Errorf("fragment callback is required")
	}
	return p.run(ctx, req, fn)
}

func (p *Pipeline) run(ctx context.Context, req Request, fn func(string) error) (ans Answer, err error) {
	start := time.Now()
	event := telemetry.AskEvent{Question: req.Question, Outcome: telemetry.OutcomeFailed}
	defer func() {
		event.Latency = time.Since(start)
		if err == nil {
			switch {
			case ans.Cached:
				event.Outcome = telemetry.OutcomeCached
			case len(ans.Sources) == 0:
				event.Outcome = telemetry.OutcomeNoContext
			default:
				event.Outcome = telemetry.OutcomeAnswered
			}
		}
		if p.metrics != nil {
			p.metrics.Record(event)
		}
	}()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Answer{}, amerrors.New(amerrors.ErrCodeQuestionEmpty, "question is empty", nil)
	}

	files, collections := p.snapshot()
	summary := ContextSummary(files)

	if p.cache != nil {
		if text, ok := p.cache.Get(ctx, question, summary); ok {
			if fn != nil {
				if err := fn(text); err != nil {
					return Answer{}, err
				}
			}
			slog.Debug("ask_cache_hit", slog.Int("files", len(files)))
			return Answer{Text: text, Cached: true}, nil
		}
	}

	scope := p.router.Route(question, files)
	event.Files, event.Targeted = len(scope.Files), !scope.All

	candidates, err := p.router.Retrieve(ctx, question, scope, collections)
	if err != nil {
		return Answer{}, err
	}
	event.Candidates = len(candidates)

	ranked, err := p.reranker.Rerank(ctx, question, candidates, p.topK)
	if err != nil {
		return Answer{}, err
	}

	prompt := generate.Prompt{
		Question: question,
		Context:  strings.Join(search.Texts(ranked), ContextSeparator),
		History:  req.History,
	}

	var text string
	if fn == nil {
		text, err = p.generator.Generate(ctx, prompt)
	} else {
		text, err = p.stream(ctx, prompt, fn)
	}
	if err != nil {
		return Answer{}, err
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, question, text, summary); err != nil {
			slog.Warn("cache_set_failed", slog.String("error", err.Error()))
		}
	}

	ans = Answer{Text: text, Sources: search.Sources(ranked), Scope: scope}
	slog.Info("ask_complete",
		slog.Int("files_in_scope", len(scope.Files)),
		slog.Bool("targeted", !scope.All),
		slog.Int("candidates", len(candidates)),
		slog.Int("passages", len(ranked)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return ans, nil
}

// stream forwards fragments to fn, checking ctx between fragments, and
// returns the full text.
func (p *Pipeline) stream(ctx context.Context, prompt generate.Prompt, fn func(string) error) (string, error) {
	var b strings.Builder
	err := p.generator.Stream(ctx, prompt, func(fragment string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.WriteString(fragment)
		return fn(fragment)
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
