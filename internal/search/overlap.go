package search

import (
	"context"
	"strings"
	"unicode"
)

// Synonyms expands question terms when scoring by overlap, so "cost" also
// matches passages that say "expense". Terms are lowercase.
var Synonyms = map[string][]string{
	// Money
	"cost":    {"costs", "expense", "expenses", "spend", "spending"},
	"revenue": {"income", "sales", "turnover"},
	"profit":  {"margin", "earnings"},
	"budget":  {"allocation", "forecast"},
	"price":   {"pricing", "cost"},

	// Meetings and decisions
	"decide":   {"decided", "decision", "agreed", "resolved"},
	"decision": {"decided", "agreed", "resolved"},
	"meeting":  {"call", "discussion", "sync"},
	"action":   {"todo", "task", "follow-up"},
	"deadline": {"due", "date", "timeline"},

	// People
	"hire":   {"hiring", "recruit", "headcount"},
	"team":   {"staff", "group", "people"},
	"client": {"customer", "customers", "account"},

	// Documents
	"summary": {"overview", "summarize", "conclusion"},
	"risk":    {"risks", "issue", "concern"},
	"goal":    {"goals", "objective", "target"},
}

// GetSynonyms returns the synonyms for term, or nil.
func GetSynonyms(term string) []string {
	return Synonyms[strings.ToLower(term)]
}

var overlapStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "at": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "it": true, "this": true,
	"that": true, "for": true, "with": true, "what": true, "does": true,
	"do": true, "did": true, "about": true, "how": true, "which": true,
	"who": true, "when": true, "where": true, "why": true, "say": true,
}

// OverlapScorer scores a passage by the fraction of question terms it
// contains, counting a term present if any of its synonyms is. It needs no
// model and is deterministic.
type OverlapScorer struct{}

var _ Scorer = OverlapScorer{}

// NewOverlapScorer creates an OverlapScorer.
func NewOverlapScorer() OverlapScorer { return OverlapScorer{} }

// Score implements Scorer.
func (OverlapScorer) Score(_ context.Context, question string, texts []string) ([]float64, error) {
	terms := overlapTerms(question)
	scores := make([]float64, len(texts))
	if len(terms) == 0 {
		return scores, nil
	}

	for i, text := range texts {
		words := make(map[string]bool)
		for _, w := range overlapTerms(text) {
			words[w] = true
		}
		hit := 0
		for _, term := range terms {
			if words[term] {
				hit++
				continue
			}
			for _, syn := range Synonyms[term] {
				if words[syn] {
					hit++
					break
				}
			}
		}
		scores[i] = float64(hit) / float64(len(terms))
	}
	return scores, nil
}

// overlapTerms lowercases, splits on non-alphanumerics (keeping '-') and
// drops stop words and duplicates.
func overlapTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if f == "" || overlapStopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
