package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/docqa/internal/llm"
	"github.com/haasonsaas/docqa/internal/observability"
	"github.com/haasonsaas/docqa/internal/retry"
)

type fakeProvider struct {
	batches  [][]string
	failures []error
	dims     map[string]int
	maxBatch int
}

func (f *fakeProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	f.batches = append(f.batches, texts)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		dim := 3
		if d, ok := f.dims[text]; ok {
			dim = d
		}
		out[i] = make([]float32, dim)
	}
	return out, nil
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *fakeProvider) Name() string      { return "fake" }
func (f *fakeProvider) Model() string     { return "fake-model" }
func (f *fakeProvider) MaxBatchSize() int { return f.maxBatch }

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 1}
}

func TestClientBatches(t *testing.T) {
	p := &fakeProvider{maxBatch: 2}
	c := NewClient(p, ClientConfig{BatchSize: 10, Policy: fastPolicy()})

	if c.MaxBatchSize() != 2 {
		t.Fatalf("batch size = %d, want provider cap 2", c.MaxBatchSize())
	}
	vectors, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(vectors) != 5 {
		t.Errorf("got %d vectors, want 5", len(vectors))
	}
	if len(p.batches) != 3 {
		t.Errorf("got %d requests, want 3", len(p.batches))
	}
}

func TestClientRetriesTransientFailures(t *testing.T) {
	p := &fakeProvider{failures: []error{&llm.ProviderError{Reason: llm.FailureRateLimit}}}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	c := NewClient(p, ClientConfig{Policy: fastPolicy(), Metrics: metrics})

	if _, err := c.Embed(context.Background(), "query"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if got := testutil.ToFloat64(metrics.EmbeddingRequestCounter.WithLabelValues("fake", "error")); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.RetryAttempts.WithLabelValues("embed.query")); got != 1 {
		t.Errorf("retry count = %v, want 1", got)
	}
}

func TestClientStopsOnPermanentFailure(t *testing.T) {
	auth := &llm.ProviderError{Reason: llm.FailureAuth}
	p := &fakeProvider{failures: []error{auth, auth, auth}}
	c := NewClient(p, ClientConfig{Policy: fastPolicy()})

	_, err := c.EmbedBatch(context.Background(), []string{"a"})
	if !errors.Is(err, auth) {
		t.Fatalf("err = %v, want auth error", err)
	}
	if len(p.failures) != 2 {
		t.Errorf("expected a single attempt, %d failures left", len(p.failures))
	}
}

func TestClientRejectsMixedDimensions(t *testing.T) {
	p := &fakeProvider{dims: map[string]int{"odd": 4}}
	c := NewClient(p, ClientConfig{Policy: fastPolicy()})

	_, err := c.EmbedBatch(context.Background(), []string{"a", "odd"})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}
