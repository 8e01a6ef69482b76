// Package openai implements lore.EmbeddingProvider on the OpenAI
// embeddings API, and a vision-based lore.MediaAnalyzer. Any
// OpenAI-compatible endpoint works via WithBaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	lore "github.com/halvard/lore"
)

// modelDimensions maps known embedding models to their vector widths.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL points the client at an OpenAI-compatible endpoint
// (e.g. "http://localhost:11434/v1" for Ollama).
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client (timeouts, proxies).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithDimensions overrides the model dimension table. Required for
// models the table does not know.
func WithDimensions(dims int) Option {
	return func(p *Provider) { p.dims = dims }
}

// WithLogger sets a structured logger. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// Provider implements lore.EmbeddingProvider backed by the OpenAI
// embeddings API.
type Provider struct {
	client     *openai.Client
	model      string
	dims       int
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ lore.EmbeddingProvider = (*Provider)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates an embedding provider for model (e.g.
// "text-embedding-3-small"). Unknown models need WithDimensions.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	p := &Provider{
		model:      model,
		dims:       modelDimensions[model],
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     nopLogger,
	}
	for _, o := range opts {
		o(p)
	}
	if p.dims <= 0 {
		return nil, fmt.Errorf("openai: unknown model %q, set WithDimensions", model)
	}

	cfg := openai.DefaultConfig(apiKey)
	if p.baseURL != "" {
		cfg.BaseURL = p.baseURL
	}
	cfg.HTTPClient = p.httpClient
	p.client = openai.NewClientWithConfig(cfg)
	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return "openai" }

// Dimensions returns the vector width produced by the configured model.
func (p *Provider) Dimensions() int { return p.dims }

// EmbedDocuments embeds a batch of document texts in one API call.
// The result preserves input order.
func (p *Provider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("openai: empty text at index %d", i)
		}
	}
	start := time.Now()
	p.logger.Debug("openai: embed documents", "model", p.model, "count", len(texts))

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		p.logger.Error("openai: embed documents failed", "error", err, "duration", time.Since(start))
		return nil, wrapAPIError("embed documents", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	// The API documents result order by Index, not slice position.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	p.logger.Debug("openai: embed documents ok", "count", len(out), "duration", time.Since(start))
	return out, nil
}

// EmbedQuery embeds a single search query. Kept separate from
// EmbedDocuments so asymmetric models can treat queries differently.
func (p *Provider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if query == "" {
		return nil, errors.New("openai: empty query")
	}
	start := time.Now()
	p.logger.Debug("openai: embed query", "model", p.model)

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{query},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		p.logger.Error("openai: embed query failed", "error", err, "duration", time.Since(start))
		return nil, wrapAPIError("embed query", err)
	}
	if len(resp.Data) != 1 {
		return nil, fmt.Errorf("openai: got %d embeddings for one query", len(resp.Data))
	}
	p.logger.Debug("openai: embed query ok", "duration", time.Since(start))
	return resp.Data[0].Embedding, nil
}

// wrapAPIError surfaces HTTP-level failures as lore.ErrHTTP so callers
// can branch on status without importing the client library.
func wrapAPIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("openai: %s: %w", op, &lore.ErrHTTP{Status: apiErr.HTTPStatusCode, Body: apiErr.Message})
	}
	return fmt.Errorf("openai: %s: %w", op, err)
}
