package ingest

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ledongthuc/pdf"

	"github.com/Aman-CERP/amanrag/internal/chunk"
)

// PDFLoader extracts one document per page with the page number in metadata.
type PDFLoader struct{}

// Load implements Loader. The parser panics on some malformed files; that is
// returned as an error.
func (PDFLoader) Load(ctx context.Context, path string) (docs []chunk.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, fmt.Errorf("parse pdf %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	total := r.NumPage()
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("pdf %s page %d: %w", path, i, err)
		}
		docs = append(docs, chunk.Document{
			Text: text,
			Metadata: map[string]string{
				MetaKind:  KindPDF,
				MetaPage:  strconv.Itoa(i),
				MetaTotal: strconv.Itoa(total),
			},
		})
	}
	return docs, nil
}
