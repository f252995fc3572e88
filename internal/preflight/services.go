package preflight

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// CheckOllama lists the models on each configured Ollama host and reports
// whether the embedding and generation models are installed. The embedding
// check is optional because indexing falls back to static embeddings unless
// the provider is pinned to ollama.
func (c *Checker) CheckOllama(ctx context.Context) []CheckResult {
	emb := c.cfg.Embeddings
	gen := c.cfg.Generation

	var results []CheckResult
	if !strings.EqualFold(emb.Provider, "static") {
		results = append(results, c.checkModel(ctx, "embedding_model", emb.OllamaHost, emb.Model,
			strings.EqualFold(emb.Provider, "ollama")))
	}
	results = append(results, c.checkModel(ctx, "generation_model", gen.OllamaHost, gen.Model, false))
	return results
}

func (c *Checker) checkModel(ctx context.Context, name, host, model string, required bool) CheckResult {
	result := CheckResult{Name: name, Required: required}

	models, err := c.listModels(ctx, host)
	if err != nil {
		result.Status = c.missing(required)
		result.Message = "Ollama not reachable at " + host
		result.Details = err.Error()
		return result
	}
	if !hasModel(models, model) {
		result.Status = c.missing(required)
		result.Message = fmt.Sprintf("model %s not installed", model)
		result.Details = "Run 'ollama pull " + model + "'"
		return result
	}

	result.Status = StatusPass
	result.Message = model + " ready"
	result.Details = host
	return result
}

func (c *Checker) missing(required bool) CheckStatus {
	if required {
		return StatusFail
	}
	return StatusWarn
}

func (c *Checker) listModels(ctx context.Context, host string) ([]string, error) {
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid host %q: %w", host, err)
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultServiceTimeout)
	defer cancel()

	resp, err := api.NewClient(base, c.client).List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// hasModel matches want against installed names, treating an untagged name
// as ":latest".
func hasModel(installed []string, want string) bool {
	if want == "" {
		return false
	}
	if !strings.Contains(want, ":") {
		want += ":latest"
	}
	for _, name := range installed {
		if !strings.Contains(name, ":") {
			name += ":latest"
		}
		if name == want {
			return true
		}
	}
	return false
}

// CheckTranscription probes the speech-to-text endpoint. Audio files fail
// to load without it, documents do not.
func (c *Checker) CheckTranscription(ctx context.Context) CheckResult {
	return c.probe(ctx, "transcription", c.cfg.Transcription.Endpoint+"/")
}

// CheckReranker probes the rerank service when the http provider is
// configured.
func (c *Checker) CheckReranker(ctx context.Context) CheckResult {
	rc := c.cfg.Reranker
	if !strings.EqualFold(rc.Provider, "http") {
		provider := rc.Provider
		if provider == "" {
			provider = "overlap"
		}
		return CheckResult{Name: "reranker", Status: StatusPass, Message: provider + " (local)"}
	}
	return c.probe(ctx, "reranker", rc.Endpoint+"/health")
}

// probe treats any HTTP response as reachable; only transport errors warn.
func (c *Checker) probe(ctx context.Context, name, endpoint string) CheckResult {
	result := CheckResult{Name: name}

	ctx, cancel := context.WithTimeout(ctx, DefaultServiceTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("invalid endpoint %q", endpoint)
		return result
	}
	resp, err := c.client.Do(req)
	if err != nil {
		result.Status = StatusWarn
		result.Message = "not reachable at " + endpoint
		result.Details = err.Error()
		return result
	}
	_ = resp.Body.Close()

	result.Status = StatusPass
	result.Message = "reachable"
	result.Details = endpoint
	return result
}
