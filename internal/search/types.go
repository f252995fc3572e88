// Package search routes questions to per-file collections, retrieves
// candidates from them, and reranks the union for generation.
package search

import (
	"github.com/Aman-CERP/amanrag/internal/chunk"
)

// Scope is the set of files a question is answered from.
type Scope struct {
	// Files are the selected filenames, in available order.
	Files []string

	// All is true when no file was singled out by the question.
	All bool

	// PerFileK is the candidate budget for each file's collection.
	PerFileK int
}

// Candidate is one retrieved chunk before reranking.
type Candidate struct {
	Chunk      chunk.Chunk
	Similarity float64
	// Source is the filename whose collection produced the chunk.
	Source string
}

// RankedCandidate is a Candidate with its rerank score. Callers receive them
// ordered by RerankScore descending.
type RankedCandidate struct {
	Candidate
	RerankScore float64
}

// Texts returns the chunk texts of cs in order.
func Texts(cs []RankedCandidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Chunk.Text
	}
	return out
}

// Sources returns the distinct sources of cs in first-seen order.
func Sources(cs []RankedCandidate) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range cs {
		if !seen[c.Source] {
			seen[c.Source] = true
			out = append(out, c.Source)
		}
	}
	return out
}
