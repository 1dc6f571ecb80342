package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/retailkiosk/retail-kiosk/engine/domain"
	"golang.org/x/time/rate"
)

// OllamaClient implements Embedder against Ollama's HTTP embeddings API.
// The model is warmed up once per process; concurrent first use shares the
// same guarded initialization.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
	limiter *rate.Limiter

	warmOnce sync.Once
	warmErr  error
}

// OllamaOption configures an OllamaClient.
type OllamaOption func(*OllamaClient)

// WithHTTPClient overrides the HTTP client (for testing and timeouts).
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(o *OllamaClient) { o.client = c }
}

// WithRateLimit throttles embedding calls to r per second with the given
// burst.
func WithRateLimit(r float64, burst int) OllamaOption {
	return func(o *OllamaClient) { o.limiter = rate.NewLimiter(rate.Limit(r), burst) }
}

// NewOllamaClient creates an Ollama-backed embedder for the given model.
func NewOllamaClient(baseURL, model string, opts ...OllamaOption) *OllamaClient {
	c := &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Warmup loads the model by running one throwaway encoding. The first
// failure is sticky: the model either initializes once for the process
// lifetime or stays unavailable.
func (c *OllamaClient) Warmup(ctx context.Context) error {
	c.warmOnce.Do(func() {
		if _, err := c.encode(ctx, "warmup"); err != nil {
			c.warmErr = err
		}
	})
	return c.warmErr
}

// Embed encodes one text. Empty input (after trimming) fails with
// ErrInvalidInput before any backend call.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewValidationError("text", text, domain.ErrInvalidInput)
	}
	if err := c.Warmup(ctx); err != nil {
		return nil, err
	}
	return c.encode(ctx, text)
}

// EmbedBatch encodes texts one by one, preserving input order. Ollama's
// embeddings endpoint is single-text, so batching is iteration.
func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d]: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

func (c *OllamaClient) encode(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, modelErr(err)
	}

	body, _ := json.Marshal(ollamaEmbedReq{Model: c.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, modelErr(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, modelErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, modelErr(fmt.Errorf("status %d", resp.StatusCode))
	}

	var result ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, modelErr(fmt.Errorf("decode: %w", err))
	}
	if len(result.Embedding) != Dimensions {
		return nil, modelErr(fmt.Errorf("got %d dimensions, want %d", len(result.Embedding), Dimensions))
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

func modelErr(err error) error {
	return fmt.Errorf("ollama embed: %w", errors.Join(domain.ErrModelUnavailable, err))
}
