// Package chunk splits extracted document text into retrievable chunks.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Default sizes, in characters.
const (
	DefaultChunkSize    = 200
	DefaultChunkOverlap = 50
)

// DefaultSeparators are tried in order; the first one present in the text wins.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", "!", "?"}

// MetaSource is the metadata key naming the file a chunk belongs to.
const MetaSource = "source"

// Document is one unit of extracted text (a page, a transcript, a file).
type Document struct {
	Text     string
	Metadata map[string]string
}

// Chunk is a retrievable unit of text owned by exactly one source file.
type Chunk struct {
	ID       string // SHA256(source + ordinal)[:16]
	Source   string // owning filename
	Ordinal  int    // position within the file, 0-indexed
	Text     string
	Metadata map[string]string
}

// Splitter turns a file's documents into chunks. Output must be
// deterministic for the same input.
type Splitter interface {
	Split(source string, docs []Document) []Chunk
}

// ChunkID derives a stable chunk identifier.
func ChunkID(source string, ordinal int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d", source, ordinal)))
	return hex.EncodeToString(sum[:])[:16]
}
