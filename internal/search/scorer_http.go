package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/amanrag/internal/config"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// HTTP scorer defaults.
const (
	DefaultScorerEndpoint = "http://localhost:8787"
	DefaultScorerModel    = "cross-encoder/ms-marco-MiniLM-L-6-v2"
	DefaultScorerTimeout  = 30 * time.Second
)

// HTTPScorerConfig configures an HTTPScorer.
type HTTPScorerConfig struct {
	Endpoint string
	Model    string
	Timeout  time.Duration

	// SkipHealthCheck skips the /health probe on creation (for testing).
	SkipHealthCheck bool
}

// HTTPScorer scores passages with a cross-encoder served over HTTP:
// POST /rerank {query, documents, model} → {results: [{index, score}]}.
type HTTPScorer struct {
	client   *http.Client
	cfg      HTTPScorerConfig
	breaker  *amerrors.CircuitBreaker
	mu       sync.RWMutex
	closed   bool
	endpoint string
}

var _ Scorer = (*HTTPScorer)(nil)

// NewHTTPScorer creates a scorer client and, unless skipped, checks the
// server is healthy.
func NewHTTPScorer(ctx context.Context, cfg HTTPScorerConfig) (*HTTPScorer, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultScorerEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultScorerModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultScorerTimeout
	}

	s := &HTTPScorer{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		cfg:      cfg,
		breaker:  amerrors.NewCircuitBreaker("reranker", amerrors.WithMaxFailures(3)),
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.healthCheck(checkCtx); err != nil {
			return nil, amerrors.NetworkError("reranker health check failed", err).
				WithDetail("endpoint", s.endpoint).
				WithSuggestion("Start the reranker service or set reranker.provider to 'overlap'")
		}
	}

	slog.Debug("http_scorer_created",
		slog.String("endpoint", s.endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout))
	return s, nil
}

func (s *HTTPScorer) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to reranker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("reranker unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// Score implements Scorer. The server may return results in any order; each
// input index must appear exactly once.
func (s *HTTPScorer) Score(ctx context.Context, question string, texts []string) ([]float64, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("scorer is closed")
	}
	if len(texts) == 0 {
		return []float64{}, nil
	}

	scores, err := amerrors.CircuitExecute(s.breaker, func() ([]float64, error) {
		return s.post(ctx, question, texts)
	})
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeRerankFailed, "rerank request", err).
			WithDetail("endpoint", s.endpoint)
	}
	return scores, nil
}

func (s *HTTPScorer) post(ctx context.Context, question string, texts []string) ([]float64, error) {
	start := time.Now()
	body, err := json.Marshal(rerankRequest{Query: question, Documents: texts, Model: s.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, string(msg))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(texts) || seen[r.Index] {
			return nil, fmt.Errorf("rerank response has bad index %d", r.Index)
		}
		seen[r.Index] = true
		scores[r.Index] = r.Score
	}
	if len(result.Results) != len(texts) {
		return nil, fmt.Errorf("rerank response has %d results for %d documents", len(result.Results), len(texts))
	}

	slog.Debug("rerank_http_timing",
		slog.String("query", truncateQuery(question, 50)),
		slog.Int("doc_count", len(texts)),
		slog.Int("payload_bytes", len(body)),
		slog.Duration("total", time.Since(start)),
		slog.Float64("server_time_ms", result.ProcessingTimeMs))
	return scores, nil
}

// Close releases idle connections. Later Score calls fail.
func (s *HTTPScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if transport, ok := s.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

// NewScorer returns the Scorer for cfg.Provider: a lazily connected
// HTTPScorer for "http", an OverlapScorer for "overlap", and nil (rank by
// similarity) for "none".
func NewScorer(cfg config.RerankerConfig) (Scorer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "http":
		hc := HTTPScorerConfig{
			Endpoint: cfg.Endpoint,
			Model:    cfg.Model,
			Timeout:  config.Duration(cfg.Timeout, DefaultScorerTimeout),
		}
		return NewLazyScorer(func(ctx context.Context) (Scorer, error) {
			return NewHTTPScorer(ctx, hc)
		}), nil
	case "", "overlap":
		return NewOverlapScorer(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown reranker provider %q", cfg.Provider)
	}
}

func truncateQuery(q string, maxLen int) string {
	if len(q) <= maxLen {
		return q
	}
	return q[:maxLen] + "..."
}
