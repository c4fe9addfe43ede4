package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"

	"notebook/internal/models"
)

// EmbeddingClient is the provider surface the gateway depends on.
// *ollama.LLM satisfies it.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderConfig represents the configuration for the embedding gateway.
type EmbedderConfig struct {
	Model          string
	BaseURL        string // Ollama server URL
	BatchSize      int
	MaxRetries     int
	RateLimit      float64 // provider calls per second
	RetryBaseDelay time.Duration
}

// Embedder batches texts to the embedding provider, preserving input
// order, with rate limiting and bounded retry.
type Embedder struct {
	config  EmbedderConfig
	client  EmbeddingClient
	limiter *rate.Limiter
}

func NewEmbedder(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	client, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	return NewEmbedderWithClient(config, client), nil
}

// NewEmbedderWithClient wires an explicit provider client. Used by
// NewEmbedder and by tests.
func NewEmbedderWithClient(config EmbedderConfig, client EmbeddingClient) *Embedder {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 2.0
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = 500 * time.Millisecond
	}

	return &Embedder{
		config:  config,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// Embed returns one vector per input text, in input order. Inputs larger
// than the batch size are split into multiple provider calls and the
// results concatenated. Exhausting retries on any batch aborts the whole
// call with ErrEmbeddingProvider.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts to embed", models.ErrEmbeddingProvider)
	}

	vectors := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

// EmbedQuery embeds a single question.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingProvider, err)
	}

	var lastErr error
	delay := e.config.RetryBaseDelay

	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingProvider, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		vectors, err := e.client.CreateEmbedding(ctx, texts)
		if err != nil {
			lastErr = err
			continue
		}

		// A count mismatch is a protocol violation, not a transient
		// failure; retrying cannot fix it.
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("%w: got %d vectors for %d inputs",
				models.ErrEmbeddingProvider, len(vectors), len(texts))
		}

		return vectors, nil
	}

	return nil, fmt.Errorf("%w after %d attempts: %v",
		models.ErrEmbeddingProvider, e.config.MaxRetries, lastErr)
}
