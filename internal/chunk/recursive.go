package chunk

import (
	"fmt"
	"maps"
	"strings"
	"unicode/utf8"
)

// RecursiveSplitter splits on the coarsest separator present, recursing into
// pieces that are still too long, then greedily merges small pieces back up
// to Size with Overlap characters carried between neighbours.
type RecursiveSplitter struct {
	size       int
	overlap    int
	separators []string
}

// NewRecursiveSplitter validates sizes. With no separators given,
// DefaultSeparators are used.
func NewRecursiveSplitter(size, overlap int, separators ...string) (*RecursiveSplitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	return &RecursiveSplitter{size: size, overlap: overlap, separators: separators}, nil
}

// Split implements Splitter. Ordinals run across all documents of the file.
func (s *RecursiveSplitter) Split(source string, docs []Document) []Chunk {
	var out []Chunk
	for _, doc := range docs {
		for _, text := range s.SplitText(doc.Text) {
			meta := make(map[string]string, len(doc.Metadata)+1)
			maps.Copy(meta, doc.Metadata)
			meta[MetaSource] = source

			ordinal := len(out)
			out = append(out, Chunk{
				ID:       ChunkID(source, ordinal),
				Source:   source,
				Ordinal:  ordinal,
				Text:     text,
				Metadata: meta,
			})
		}
	}
	return out
}

// SplitText splits a single text.
func (s *RecursiveSplitter) SplitText(text string) []string {
	return s.split(text, s.separators)
}

func (s *RecursiveSplitter) split(text string, separators []string) []string {
	sep, rest := "", []string(nil)
	for i, candidate := range separators {
		if strings.Contains(text, candidate) {
			sep, rest = candidate, separators[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = []string{text}
	} else {
		pieces = splitKeepingSeparator(text, sep)
	}

	var out, small []string
	for _, p := range pieces {
		if runeLen(p) < s.size {
			small = append(small, p)
			continue
		}
		if len(small) > 0 {
			out = append(out, s.merge(small)...)
			small = nil
		}
		if len(rest) > 0 {
			out = append(out, s.split(p, rest)...)
		} else {
			out = append(out, s.window(p)...)
		}
	}
	if len(small) > 0 {
		out = append(out, s.merge(small)...)
	}
	return out
}

// merge joins pieces into chunks of at most size runes, keeping a tail of up
// to overlap runes from the previous chunk.
func (s *RecursiveSplitter) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				out = append(out, doc)
			}
			for total > s.overlap || (total+n > s.size && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		out = append(out, doc)
	}
	return out
}

// window hard-splits text with no separator left to try.
func (s *RecursiveSplitter) window(text string) []string {
	runes := []rune(text)
	step := s.size - s.overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+s.size, len(runes))
		if doc := strings.TrimSpace(string(runes[start:end])); doc != "" {
			out = append(out, doc)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// splitKeepingSeparator splits text on sep, attaching each separator to the
// start of the piece that follows it.
func splitKeepingSeparator(text, sep string) []string {
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
