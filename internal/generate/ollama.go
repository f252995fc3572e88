package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/Aman-CERP/amanrag/internal/config"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Defaults for the Ollama generator.
const (
	DefaultHost        = "http://localhost:11434"
	DefaultModel       = "llama3.2"
	DefaultTemperature = 0.2
	DefaultTimeout     = 2 * time.Minute
)

// OllamaGenerator answers through Ollama's /api/chat.
type OllamaGenerator struct {
	client      *api.Client
	model       string
	temperature float64
	breaker     *amerrors.CircuitBreaker
}

var _ Generator = (*OllamaGenerator)(nil)

// NewOllamaGenerator creates a generator for cfg. It does not contact the
// server.
func NewOllamaGenerator(cfg config.GenerationConfig) (*OllamaGenerator, error) {
	host := cfg.OllamaHost
	if host == "" {
		host = DefaultHost
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, amerrors.ConfigError("invalid generation.ollama_host "+host, err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	temp := cfg.Temperature
	if temp < 0 {
		temp = DefaultTemperature
	}

	httpClient := &http.Client{Timeout: config.Duration(cfg.Timeout, DefaultTimeout)}
	return &OllamaGenerator{
		client:      api.NewClient(base, httpClient),
		model:       model,
		temperature: temp,
		breaker:     amerrors.NewCircuitBreaker("generation", amerrors.WithMaxFailures(3)),
	}, nil
}

// Model returns the chat model name.
func (g *OllamaGenerator) Model() string { return g.model }

// Available reports whether the server answers a heartbeat.
func (g *OllamaGenerator) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return g.client.Heartbeat(ctx) == nil
}

// Generate implements Generator.
func (g *OllamaGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	var b strings.Builder
	err := g.chat(ctx, p, false, func(s string) error {
		b.WriteString(s)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// Stream implements Generator.
func (g *OllamaGenerator) Stream(ctx context.Context, p Prompt, fn func(string) error) error {
	return g.chat(ctx, p, true, fn)
}

// errCallback marks an error returned by the caller's fragment callback so
// it is passed through unwrapped.
type errCallback struct{ err error }

func (e errCallback) Error() string { return e.err.Error() }

func (g *OllamaGenerator) chat(ctx context.Context, p Prompt, stream bool, fn func(string) error) error {
	msgs := p.Messages()
	req := &api.ChatRequest{
		Model:    g.model,
		Messages: make([]api.Message, len(msgs)),
		Options: map[string]any{
			"temperature": g.temperature,
		},
		Stream: &stream,
	}
	for i, m := range msgs {
		req.Messages[i] = api.Message{Role: m.Role, Content: m.Content}
	}

	if !g.breaker.Allow() {
		return generationError(g.model, amerrors.ErrCircuitOpen)
	}

	start := time.Now()
	fragments := 0
	err := g.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if resp.Message.Content == "" {
			return nil
		}
		fragments++
		if err := fn(resp.Message.Content); err != nil {
			return errCallback{err}
		}
		return nil
	})

	var cbErr errCallback
	switch {
	case errors.As(err, &cbErr):
		return cbErr.err
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		g.breaker.RecordFailure()
		return generationError(g.model, err)
	}
	g.breaker.RecordSuccess()

	slog.Debug("generation_complete",
		slog.String("model", g.model),
		slog.Bool("stream", stream),
		slog.Int("fragments", fragments),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}

func generationError(model string, err error) error {
	ae := amerrors.New(amerrors.ErrCodeGenerationFailed, fmt.Sprintf("generate with %s", model), err).
		WithDetail("model", model)
	var status api.StatusError
	if (errors.As(err, &status) && status.StatusCode == http.StatusNotFound) ||
		strings.Contains(err.Error(), "not found") {
		ae = ae.WithSuggestion("Run: ollama pull " + model)
	}
	return ae
}
