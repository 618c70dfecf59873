package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Service turns chunk texts into embedding vectors
type Service interface {
	// Embed returns one vector per text, in input order
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type client struct {
	llmClient gollem.LLMClient
	limiter   *rate.Limiter
	workers   int
	dimension int
	timeout   time.Duration
}

// Option is a functional option for client configuration
type Option func(*client)

// WithDimension overrides the embedding dimension
func WithDimension(dim int) Option {
	return func(c *client) {
		c.dimension = dim
	}
}

// New creates an embedding service. Calls to the provider are throttled by
// cfg.RatePerSecond and run on cfg.Workers goroutines.
func New(llmClient gollem.LLMClient, cfg config.EmbeddingConfig, opts ...Option) (Service, error) {
	if llmClient == nil {
		return nil, goerr.New("LLM client is required")
	}

	c := &client{
		llmClient: llmClient,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(cfg.Burst, 1)),
		workers:   max(cfg.Workers, 1),
		dimension: model.EmbeddingDimension,
		timeout:   cfg.Timeout,
	}
	if cfg.RatePerSecond <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.workers)
	for i, text := range texts {
		eg.Go(func() error {
			vec, err := c.embedOne(ctx, text)
			if err != nil {
				return goerr.Wrap(err, "failed to embed chunk", goerr.V("index", i))
			}
			results[i] = vec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (c *client) embedOne(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, goerr.Wrap(model.NewIngestError(model.CodeEmbeddingFailed, "rate limiter wait aborted"),
			"failed to wait for embedding rate limiter", goerr.V("cause", err.Error()))
	}

	callCtx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	embeddings, err := c.llmClient.GenerateEmbedding(callCtx, c.dimension, []string{text})
	if err != nil {
		reason := "provider error"
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			reason = "provider call timed out"
		}
		return nil, goerr.Wrap(model.NewIngestError(model.CodeEmbeddingFailed, reason),
			"failed to generate embedding", goerr.V("cause", err.Error()), goerr.V("timeout", c.timeout))
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, model.NewIngestError(model.CodeEmbeddingFailed, "no embedding returned")
	}

	// Convert float64 to float32
	result := make([]float32, len(embeddings[0]))
	for i, v := range embeddings[0] {
		result[i] = float32(v)
	}

	return result, nil
}

// withTimeout leaves ctx untouched when d is not positive
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
