package llm

import (
	"context"
	"time"

	"github.com/haasonsaas/docqa/internal/observability"
	"github.com/haasonsaas/docqa/internal/retry"
)

// Client runs completions against a Provider with retries, metrics and
// tracing. Only errors classified as retryable are attempted again.
type Client struct {
	provider Provider
	policy   retry.Policy
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   *observability.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(c *Client) { c.policy = p }
}

func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

func WithTracer(t *observability.Tracer) ClientOption {
	return func(c *Client) { c.tracer = t }
}

func WithLogger(l *observability.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient wraps provider.
func NewClient(provider Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider: provider,
		policy:   retry.DefaultPolicy(),
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the wrapped provider.
func (c *Client) Provider() Provider {
	return c.provider
}

// Generate runs req to completion and returns the response text. purpose
// labels the call in metrics and traces (for example "reformulate").
func (c *Client) Generate(ctx context.Context, purpose string, req *CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.provider.Model()
	}
	name := c.provider.Name()

	ctx, span := c.tracer.TraceLLMRequest(ctx, name, model, purpose)
	defer span.End()

	text, result := retry.DoValue(ctx, c.policy, func(ctx context.Context) (string, error) {
		start := time.Now()
		text, err := Collect(ctx, c.provider, req)
		c.metrics.RecordLLMRequest(name, model, purpose, observability.StatusLabel(err), time.Since(start).Seconds())
		if err != nil {
			if !IsRetryable(err) {
				return "", retry.Permanent(err)
			}
			c.logger.Warn(ctx, "model call failed", "provider", name, "purpose", purpose, "timeout", retry.IsTimeout(err), "error", err)
			return "", err
		}
		return text, nil
	})
	c.metrics.RecordRetries("llm."+purpose, result.Attempts)
	c.tracer.SetAttributes(span, "llm.attempts", result.Attempts, "llm.retry_duration_ms", result.Duration.Milliseconds())

	if result.Err != nil {
		c.tracer.RecordError(span, result.Err)
		return "", result.Err
	}
	return text, nil
}
