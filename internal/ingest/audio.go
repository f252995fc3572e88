package ingest

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/chunk"
)

// Transcriber converts an audio file to text.
type Transcriber interface {
	// Transcribe fails with ErrNoSpeech when the trimmed transcript is
	// empty and ErrTranscriptionFailed when the service cannot be reached.
	Transcribe(ctx context.Context, path string) (string, error)
}

// AudioLoader wraps a Transcriber as a Loader producing one document.
type AudioLoader struct {
	Transcriber Transcriber
}

// Load implements Loader.
func (a *AudioLoader) Load(ctx context.Context, path string) ([]chunk.Document, error) {
	text, err := a.Transcriber.Transcribe(ctx, path)
	if err != nil {
		return nil, err
	}
	return []chunk.Document{{
		Text: text,
		Metadata: map[string]string{
			MetaKind: KindAudio,
			"format": strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		},
	}}, nil
}
