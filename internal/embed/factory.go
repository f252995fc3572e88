package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/config"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderAuto tries Ollama and falls back to static embeddings.
	ProviderAuto ProviderType = ""

	// ProviderOllama uses the Ollama API for embeddings.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings.
	ProviderStatic ProviderType = "static"
)

// NewFromConfig creates the configured embedder wrapped in a CachedEmbedder.
// An explicit "ollama" provider fails when Ollama is unreachable; auto
// detection falls back to static embeddings with a warning.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)

	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderStatic:
		inner = NewStaticEmbedder()
	case ProviderOllama:
		inner, err = newOllama(ctx, cfg)
		if err != nil {
			return nil, err
		}
	case ProviderAuto:
		inner, err = newOllama(ctx, cfg)
		if err != nil {
			slog.Warn("embedder_fallback_static",
				slog.String("reason", err.Error()),
				slog.String("host", cfg.OllamaHost))
			inner = NewStaticEmbedder()
		}
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}

	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}

func newOllama(ctx context.Context, cfg config.EmbeddingsConfig) (*OllamaEmbedder, error) {
	oc := DefaultOllamaConfig()
	if cfg.OllamaHost != "" {
		oc.Host = cfg.OllamaHost
	}
	if cfg.Model != "" {
		oc.Model = cfg.Model
	}
	oc.Dimensions = cfg.Dimensions
	if cfg.BatchSize > 0 {
		oc.BatchSize = cfg.BatchSize
	}
	oc.RequestsPerSecond = cfg.RequestsPerSecond
	return NewOllamaEmbedder(ctx, oc)
}
