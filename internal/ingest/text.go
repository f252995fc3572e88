package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/Aman-CERP/amanrag/internal/chunk"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TextLoader reads a UTF-8 text file as one document.
type TextLoader struct{}

// Load implements Loader.
func (TextLoader) Load(_ context.Context, path string) ([]chunk.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, []byte("�"))
	}
	return []chunk.Document{{
		Text:     string(data),
		Metadata: map[string]string{MetaKind: KindText},
	}}, nil
}
