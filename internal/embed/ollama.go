package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
	"golang.org/x/time/rate"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Ollama API constants
const (
	// DefaultOllamaHost is the default Ollama API endpoint
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a general purpose text embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaConnectTimeout for initial health check
	OllamaConnectTimeout = 5 * time.Second

	// OllamaPoolSize for connection pool
	OllamaPoolSize = 4
)

// FallbackOllamaModels are tried in order if the primary model is not pulled.
var FallbackOllamaModels = []string{
	"mxbai-embed-large",
	"all-minilm",
}

// OllamaConfig configures the Ollama embedder
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434)
	Host string

	Model          string
	FallbackModels []string

	// Dimensions overrides auto-detection (0 = auto-detect)
	Dimensions int

	BatchSize      int
	Timeout        time.Duration
	ConnectTimeout time.Duration
	MaxRetries     int
	PoolSize       int

	// RequestsPerSecond throttles /api/embed calls. 0 disables throttling.
	RequestsPerSecond float64

	// SkipHealthCheck skips the model lookup and dimension probe (for testing)
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns sensible defaults
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:           DefaultOllamaHost,
		Model:          DefaultOllamaModel,
		FallbackModels: FallbackOllamaModels,
		BatchSize:      DefaultBatchSize,
		Timeout:        DefaultTimeout,
		ConnectTimeout: OllamaConnectTimeout,
		MaxRetries:     DefaultMaxRetries,
		PoolSize:       OllamaPoolSize,
	}
}

// OllamaEmbedder calls a local Ollama server's /api/embed endpoint.
type OllamaEmbedder struct {
	config     OllamaConfig
	client     *api.Client
	httpClient *http.Client
	modelName  string
	dims       int
	limiter    *rate.Limiter
	breaker    *amerrors.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

// NewOllamaEmbedder creates an embedder, resolving the model against the
// server's installed models and probing the vector dimension.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	def := DefaultOllamaConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	base, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, amerrors.ConfigError("invalid embeddings.ollama_host "+cfg.Host, err)
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.FallbackModels == nil {
		cfg.FallbackModels = def.FallbackModels
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}

	// Timeouts are per request through contexts; the client has none.
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		IdleConnTimeout:     10 * time.Second,
	}

	httpClient := &http.Client{Transport: transport}
	e := &OllamaEmbedder{
		config:     cfg,
		client:     api.NewClient(base, httpClient),
		httpClient: httpClient,
		modelName:  cfg.Model,
		dims:       cfg.Dimensions,
		breaker:    amerrors.NewCircuitBreaker("ollama-embed"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := max(1, int(cfg.RequestsPerSecond))
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	if cfg.SkipHealthCheck {
		if e.dims == 0 {
			e.dims = DefaultDimensions
		}
		return e, nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	model, err := e.findAvailableModel(checkCtx)
	if err != nil {
		return nil, amerrors.NetworkError("ollama embedding model unavailable", err).
			WithSuggestion(fmt.Sprintf("Start Ollama and run: ollama pull %s", cfg.Model))
	}
	e.modelName = model

	if e.dims == 0 {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		vecs, err := e.doEmbed(probeCtx, []string{"dimension probe"})
		if err != nil {
			return nil, fmt.Errorf("failed to detect embedding dimensions: %w", err)
		}
		e.dims = len(vecs[0])
	}

	slog.Debug("ollama_embedder_ready", slog.String("model", e.modelName), slog.Int("dims", e.dims))
	return e, nil
}

func (e *OllamaEmbedder) listModels(ctx context.Context) ([]string, error) {
	resp, err := e.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list Ollama models: %w", err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// findAvailableModel matches the configured model, then the fallbacks,
// against installed models by full name or by name without tag.
func (e *OllamaEmbedder) findAvailableModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	available := make(map[string]string)
	for _, m := range models {
		name := strings.ToLower(m)
		available[name] = m
		base := strings.Split(name, ":")[0]
		if _, exists := available[base]; !exists {
			available[base] = m
		}
	}

	candidates := append([]string{e.config.Model}, e.config.FallbackModels...)
	for _, c := range candidates {
		name := strings.ToLower(c)
		if actual, ok := available[name]; ok {
			return actual, nil
		}
		if actual, ok := available[strings.Split(name, ":")[0]]; ok {
			return actual, nil
		}
	}

	return "", fmt.Errorf("no embedding model available (tried %v)", candidates)
}

// Embed generates embedding for a single text
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in batches of BatchSize. Blank texts map to zero
// vectors without a server call.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, len(texts))
	var (
		pending []string
		indices []int
	)
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			results[i] = make([]float32, e.dims)
			continue
		}
		pending = append(pending, t)
		indices = append(indices, i)
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.config.BatchSize, len(pending))

		vecs, err := e.doEmbedWithRetry(ctx, pending[start:end])
		if err != nil {
			return nil, amerrors.New(amerrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("embed batch %d-%d", start, end), err)
		}
		for j, v := range vecs {
			results[indices[start+j]] = v
		}
	}
	return results, nil
}

func (e *OllamaEmbedder) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	cfg := amerrors.DefaultRetryConfig()
	cfg.MaxRetries = e.config.MaxRetries
	cfg.ShouldRetry = func(err error) bool {
		return amerrors.IsRetryable(err) && ctx.Err() == nil
	}

	return amerrors.RetryWithResult(ctx, cfg, func() ([][]float32, error) {
		return amerrors.CircuitExecute(e.breaker, func() ([][]float32, error) {
			reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
			defer cancel()
			return e.doEmbed(reqCtx, texts)
		})
	})
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.modelName, Input: input})
	if err != nil {
		return nil, embedError(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if len(emb) == 0 {
			return nil, fmt.Errorf("empty embedding returned for input %d", i)
		}
		out[i] = normalizeVector(append([]float32(nil), emb...))
	}
	return out, nil
}

// embedError maps server errors to retryable network errors; client errors
// such as a missing model are not retried.
func embedError(err error) error {
	var status api.StatusError
	if errors.As(err, &status) {
		msg := fmt.Sprintf("embedding failed with status %d: %s", status.StatusCode, status.ErrorMessage)
		if status.StatusCode >= http.StatusInternalServerError {
			return amerrors.NetworkError(msg, err)
		}
		return amerrors.New(amerrors.ErrCodeEmbeddingFailed, msg, err)
	}
	return amerrors.NetworkError("ollama embed request failed", err)
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the resolved model name.
func (e *OllamaEmbedder) ModelName() string {
	return e.modelName
}

// Available reports whether the server answers and the breaker is closed.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed || !e.breaker.Allow() {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.ConnectTimeout)
	defer cancel()
	_, err := e.listModels(ctx)
	return err == nil
}

// Close releases pooled connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.httpClient.CloseIdleConnections()
	return nil
}
