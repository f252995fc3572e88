package search

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrag/internal/embed"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Default retrieval budgets.
const (
	DefaultRetrieveK  = 10
	DefaultMinPerFile = 2
)

// RouterConfig configures retrieval budgets.
type RouterConfig struct {
	RetrieveK  int
	MinPerFile int
}

// Router selects the files a question targets and fans retrieval out to
// their collections.
type Router struct {
	index      store.VectorIndex
	embedder   embed.Embedder
	retrieveK  int
	minPerFile int
}

// NewRouter creates a Router. Zero budgets take the defaults.
func NewRouter(index store.VectorIndex, embedder embed.Embedder, cfg RouterConfig) *Router {
	if cfg.RetrieveK <= 0 {
		cfg.RetrieveK = DefaultRetrieveK
	}
	if cfg.MinPerFile <= 0 {
		cfg.MinPerFile = DefaultMinPerFile
	}
	return &Router{
		index:      index,
		embedder:   embedder,
		retrieveK:  cfg.RetrieveK,
		minPerFile: cfg.MinPerFile,
	}
}

// Route picks the scope for question. Files named in the question win; then
// file-type words ("audio", "pdf", ...); otherwise every file shares the
// retrieval budget with a per-file floor.
func (r *Router) Route(question string, available []string) Scope {
	files := mentionedFiles(question, available)
	if len(files) == 0 {
		files = filesByType(question, available)
	}
	if len(files) > 0 {
		return Scope{Files: files, PerFileK: r.retrieveK}
	}

	scope := Scope{Files: append([]string(nil), available...), All: true, PerFileK: r.retrieveK}
	if n := len(available); n > 0 {
		scope.PerFileK = max(r.minPerFile, r.retrieveK/n)
	}
	return scope
}

// Retrieve queries the collection of every file in scope and returns the
// unranked union, ordered by scope file order then per-collection rank.
// collections maps filename to collection name; files missing from it are
// skipped. No candidates is not an error.
func (r *Router) Retrieve(ctx context.Context, question string, scope Scope, collections map[string]string) ([]Candidate, error) {
	type target struct{ file, collection string }
	var targets []target
	for _, f := range scope.Files {
		c, ok := collections[f]
		if !ok {
			slog.Debug("retrieve_skip_unloaded", slog.String("file", f))
			continue
		}
		targets = append(targets, target{f, c})
	}
	if len(targets) == 0 || scope.PerFileK <= 0 {
		return nil, nil
	}

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeEmbeddingFailed, "embed question", err)
	}

	perFile := make([][]store.Hit, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		g.Go(func() error {
			hits, err := r.index.Query(gctx, t.collection, vec, scope.PerFileK)
			if err != nil {
				return amerrors.New(amerrors.ErrCodeRetrievalFailed, "query "+t.file, err).
					WithDetail("file", t.file).
					WithDetail("collection", t.collection)
			}
			perFile[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Candidate
	for i, hits := range perFile {
		for _, h := range hits {
			out = append(out, Candidate{Chunk: h.Chunk, Similarity: h.Similarity, Source: targets[i].file})
		}
	}
	slog.Debug("retrieve_complete",
		slog.Int("files", len(targets)),
		slog.Int("per_file_k", scope.PerFileK),
		slog.Int("candidates", len(out)))
	return out, nil
}
