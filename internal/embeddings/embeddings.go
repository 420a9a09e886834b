// Package embeddings provides the embedding provider abstraction and an
// instrumented client that batches, retries and measures embedding calls.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/docqa/internal/llm"
	"github.com/haasonsaas/docqa/internal/observability"
	"github.com/haasonsaas/docqa/internal/retry"
)

// Provider defines the interface for embedding providers.
//
// Documents and queries are embedded separately because some models
// (Gemini among them) use a different task type for each.
type Provider interface {
	// EmbedBatch embeds document texts, returning one vector per input in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Embed embeds a single search query.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name returns the provider name.
	Name() string

	// Model returns the embedding model identifier.
	Model() string

	// MaxBatchSize returns the maximum number of texts per request.
	MaxBatchSize() int
}

// ErrDimensionMismatch is returned when a provider returns vectors of
// inconsistent length within one build.
var ErrDimensionMismatch = errors.New("embeddings: inconsistent vector dimension")

// Client wraps a Provider with batching, retries, metrics and tracing.
// It implements Provider itself.
type Client struct {
	provider  Provider
	batchSize int
	policy    retry.Policy
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// ClientConfig configures NewClient.
type ClientConfig struct {
	// BatchSize caps texts per request; it is further capped by the
	// provider's MaxBatchSize. Default: 32
	BatchSize int
	Policy    retry.Policy
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
}

// NewClient wraps provider.
func NewClient(provider Provider, cfg ClientConfig) *Client {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	if limit := provider.MaxBatchSize(); limit > 0 && batch > limit {
		batch = limit
	}
	if cfg.Policy == (retry.Policy{}) {
		cfg.Policy = retry.DefaultPolicy()
	}
	return &Client{
		provider:  provider,
		batchSize: batch,
		policy:    cfg.Policy,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
	}
}

func (c *Client) Name() string      { return c.provider.Name() }
func (c *Client) Model() string     { return c.provider.Model() }
func (c *Client) MaxBatchSize() int { return c.batchSize }

// EmbedBatch embeds texts in batches and checks every vector has the same
// dimension.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := c.tracer.TraceEmbedding(ctx, c.provider.Name(), len(texts))
	defer span.End()

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		batch := texts[start:end]

		vectors, err := c.call(ctx, "embed.documents", func(ctx context.Context) ([][]float32, error) {
			return c.provider.EmbedBatch(ctx, batch)
		})
		if err != nil {
			c.tracer.RecordError(span, err)
			return nil, err
		}
		if len(vectors) != len(batch) {
			err := fmt.Errorf("embeddings: provider returned %d vectors for %d inputs", len(vectors), len(batch))
			c.tracer.RecordError(span, err)
			return nil, err
		}
		out = append(out, vectors...)
	}

	if err := checkDimensions(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Embed embeds one query.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := c.tracer.TraceEmbedding(ctx, c.provider.Name(), 1)
	defer span.End()

	vectors, err := c.call(ctx, "embed.query", func(ctx context.Context) ([][]float32, error) {
		v, err := c.provider.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		return [][]float32{v}, nil
	})
	if err != nil {
		c.tracer.RecordError(span, err)
		return nil, err
	}
	if len(vectors[0]) == 0 {
		return nil, errors.New("embeddings: provider returned an empty vector")
	}
	return vectors[0], nil
}

func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) ([][]float32, error)) ([][]float32, error) {
	vectors, result := retry.DoValue(ctx, c.policy, func(ctx context.Context) ([][]float32, error) {
		v, err := fn(ctx)
		c.metrics.RecordEmbedding(c.provider.Name(), observability.StatusLabel(err))
		if err != nil && !llm.IsRetryable(err) {
			return nil, retry.Permanent(err)
		}
		return v, err
	})
	c.metrics.RecordRetries(op, result.Attempts)
	if result.Err != nil {
		return nil, result.Err
	}
	return vectors, nil
}

func checkDimensions(vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d values, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}
