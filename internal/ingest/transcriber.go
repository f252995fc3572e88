package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/amanrag/internal/config"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Transcription defaults.
const (
	DefaultTranscriptionEndpoint = "http://localhost:9000"
	DefaultTranscriptionModel    = "whisper-base"
	DefaultTranscriptionTimeout  = 10 * time.Minute

	transcriptionPath = "/v1/audio/transcriptions"
	healthTimeout     = 5 * time.Second
)

// HTTPTranscriber posts audio to a whisper-compatible
// /v1/audio/transcriptions endpoint.
type HTTPTranscriber struct {
	endpoint string
	model    string
	timeout  time.Duration
	client   *http.Client
	breaker  *amerrors.CircuitBreaker
	retry    amerrors.RetryConfig

	// The service is probed on first use until a probe succeeds.
	mu      sync.Mutex
	healthy bool
}

// NewHTTPTranscriber builds a transcriber from configuration.
func NewHTTPTranscriber(cfg config.TranscriptionConfig) *HTTPTranscriber {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultTranscriptionEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = DefaultTranscriptionModel
	}
	retry := amerrors.DefaultRetryConfig()
	retry.MaxRetries = 2
	retry.ShouldRetry = amerrors.IsRetryable

	return &HTTPTranscriber{
		endpoint: endpoint,
		model:    model,
		timeout:  config.Duration(cfg.Timeout, DefaultTranscriptionTimeout),
		client: &http.Client{Transport: &http.Transport{
			MaxIdleConns:    2,
			IdleConnTimeout: 30 * time.Second,
		}},
		breaker: amerrors.NewCircuitBreaker("transcription",
			amerrors.WithMaxFailures(3), amerrors.WithResetTimeout(time.Minute)),
		retry: retry,
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe implements Transcriber.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	if err := t.ensureHealthy(ctx); err != nil {
		return "", err
	}

	start := time.Now()
	slog.Info("transcription_started", slog.String("file", filepath.Base(path)))

	text, err := amerrors.RetryWithResult(ctx, t.retry, func() (string, error) {
		return amerrors.CircuitExecute(t.breaker, func() (string, error) {
			return t.post(ctx, path)
		})
	})
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", amerrors.New(amerrors.ErrCodeNoSpeech,
			fmt.Sprintf("no speech could be transcribed from %s", filepath.Base(path)), nil).
			WithDetail("path", path)
	}
	slog.Info("transcription_complete",
		slog.String("file", filepath.Base(path)),
		slog.Int("chars", len(text)),
		slog.Duration("duration", time.Since(start)))
	return text, nil
}

func (t *HTTPTranscriber) ensureHealthy(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.healthy {
		return nil
	}
	if err := t.checkHealth(ctx); err != nil {
		return err
	}
	t.healthy = true
	return nil
}

// checkHealth confirms something answers at the endpoint root. Any HTTP
// response counts; only transport failures are fatal.
func (t *HTTPTranscriber) checkHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"/", nil)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeTranscriptionFailed, "bad transcription endpoint", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeTranscriptionFailed,
			"transcription service unreachable at "+t.endpoint, err).
			WithSuggestion("Start a whisper-compatible server or set AMANRAG_TRANSCRIPTION_ENDPOINT")
	}
	_ = resp.Body.Close()
	return nil
}

func (t *HTTPTranscriber) post(ctx context.Context, path string) (string, error) {
	body, contentType, err := multipartAudio(path, t.model)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+transcriptionPath, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", amerrors.New(amerrors.ErrCodeTranscriptionFailed, "transcription request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		e := amerrors.New(amerrors.ErrCodeTranscriptionFailed,
			fmt.Sprintf("transcription failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
		if resp.StatusCode < 500 {
			e.Retryable = false
		}
		return "", e
	}

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", amerrors.New(amerrors.ErrCodeTranscriptionFailed, "decode transcription response", err)
	}
	return out.Text, nil
}

func multipartAudio(path, model string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open audio %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read audio %s: %w", path, err)
	}
	for k, v := range map[string]string{"model": model, "response_format": "json"} {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
