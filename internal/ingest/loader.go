// Package ingest extracts text documents from files on disk: plain text,
// PDF, DOCX and audio (through a Transcriber).
package ingest

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Metadata keys set by loaders.
const (
	MetaPage  = "page"
	MetaKind  = "kind"
	MetaTotal = "total_pages"
)

// Kinds of loaded content.
const (
	KindText  = "text"
	KindPDF   = "pdf"
	KindDOCX  = "docx"
	KindAudio = "audio"
)

// AudioExts are the extensions handed to the Transcriber.
var AudioExts = []string{".mp3", ".wav", ".m4a", ".flac", ".ogg"}

// Loader extracts documents from one file.
type Loader interface {
	Load(ctx context.Context, path string) ([]chunk.Document, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, path string) ([]chunk.Document, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, path string) ([]chunk.Document, error) {
	return f(ctx, path)
}

// Registry dispatches to a Loader by lowercase file extension.
type Registry struct {
	loaders map[string]Loader
}

// NewRegistry registers the document loaders and, when t is non-nil, the
// audio loader for AudioExts.
func NewRegistry(t Transcriber) *Registry {
	r := &Registry{loaders: make(map[string]Loader)}
	r.Register(TextLoader{}, ".txt", ".md")
	r.Register(PDFLoader{}, ".pdf")
	r.Register(DOCXLoader{}, ".docx")
	if t != nil {
		r.Register(&AudioLoader{Transcriber: t}, AudioExts...)
	}
	return r
}

// Register binds l to each extension, replacing any previous binding.
func (r *Registry) Register(l Loader, exts ...string) {
	for _, ext := range exts {
		r.loaders[strings.ToLower(ext)] = l
	}
}

// Only drops loaders whose extension is not in exts. An empty exts keeps
// every loader.
func (r *Registry) Only(exts ...string) {
	if len(exts) == 0 {
		return
	}
	keep := make(map[string]bool, len(exts))
	for _, ext := range exts {
		keep[strings.ToLower(ext)] = true
	}
	for ext := range r.loaders {
		if !keep[ext] {
			delete(r.loaders, ext)
		}
	}
}

// Supports reports whether a loader exists for path's extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.loaders[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions lists the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Load extracts documents from path. It fails with ErrNotFound for a
// missing file, ErrUnsupportedType for an unknown extension and
// ErrEmptyContent when every document is blank.
func (r *Registry) Load(ctx context.Context, path string) ([]chunk.Document, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, amerrors.NotFound(path, err)
		}
		return nil, amerrors.New(amerrors.ErrCodeFilePermission, "stat "+path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	l, ok := r.loaders[ext]
	if !ok {
		return nil, amerrors.UnsupportedType(ext)
	}

	docs, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	kept := docs[:0]
	for _, d := range docs {
		if strings.TrimSpace(d.Text) != "" {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		return nil, amerrors.EmptyContent(path)
	}
	return kept, nil
}
