package ingest

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/chunk"
)

const docxBody = "word/document.xml"

// DOCXLoader extracts paragraph text from word/document.xml.
type DOCXLoader struct{}

// Load implements Loader.
func (DOCXLoader) Load(_ context.Context, path string) ([]chunk.Document, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open docx %s: %w", path, err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		if f.Name != docxBody {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s in %s: %w", docxBody, path, err)
		}
		defer func() { _ = rc.Close() }()

		text, err := docxText(rc)
		if err != nil {
			return nil, fmt.Errorf("parse docx %s: %w", path, err)
		}
		return []chunk.Document{{
			Text:     text,
			Metadata: map[string]string{MetaKind: KindDOCX},
		}}, nil
	}
	return nil, fmt.Errorf("docx %s: missing %s", path, docxBody)
}

// docxText walks WordprocessingML. Text lives in w:t inside runs; a run's
// w:tab and w:br become whitespace and each w:p ends a line. Tab stops in
// paragraph properties sit outside runs and are ignored.
func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		b      strings.Builder
		inRun  bool
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "r":
				inRun = true
			case "t":
				inText = true
			case "tab":
				if inRun {
					b.WriteByte('\t')
				}
			case "br", "cr":
				if inRun {
					b.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "r":
				inRun = false
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
