// Package embedding wraps the external embedding provider behind a narrow
// interface. The provider is the engine's only blocking I/O dependency, so
// every call is timeout-bounded and rate-limited here.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrProvider marks a failure of the external embedding provider. The caller
// treats it as recoverable: the session escalates, the process stays up.
var ErrProvider = errors.New("embedding provider failure")

// Provider generates vector embeddings for text.
type Provider interface {
	// Embed generates a vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension.
	Dimensions() int
}

// Config configures the OpenAI-compatible embedding provider.
// Covers openai, siliconflow and ollama via BaseURL.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	// Timeout bounds each provider call. Zero means 5s.
	Timeout time.Duration
	// RPS rate-limits provider calls. Zero disables limiting.
	RPS   float64
	Burst int
}

type openaiProvider struct {
	client     *openai.Client
	model      string
	dimensions int
	timeout    time.Duration
	limiter    *rate.Limiter
	group      singleflight.Group
}

// NewProvider creates a Provider backed by an OpenAI-compatible API.
func NewProvider(cfg Config) Provider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RPS) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &openaiProvider{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		timeout:    timeout,
		limiter:    limiter,
	}
}

// Embed generates a vector for a single text. Concurrent calls for the same
// text are collapsed into one provider request.
func (p *openaiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err, _ := p.group.Do(text, func() (any, error) {
		vectors, err := p.EmbedBatch(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return vectors[0], nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (p *openaiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts provided", ErrProvider)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", ErrProvider, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimensions,
	}
	resp, err := p.client.CreateEmbeddings(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: create embeddings: %w", ErrProvider, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProvider, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = data.Embedding
	}
	return vectors, nil
}

func (p *openaiProvider) Dimensions() int {
	return p.dimensions
}

var _ Provider = (*openaiProvider)(nil)
