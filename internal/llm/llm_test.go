package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/docqa/internal/observability"
	"github.com/haasonsaas/docqa/internal/retry"
	"github.com/haasonsaas/docqa/pkg/models"
)

// scriptedProvider replays one script entry per Complete call.
type scriptedProvider struct {
	calls   atomic.Int32
	scripts [][]*CompletionChunk
	openErr error
	lastReq *CompletionRequest
}

func (p *scriptedProvider) Complete(_ context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.lastReq = req
	if p.openErr != nil {
		return nil, p.openErr
	}
	n := int(p.calls.Add(1)) - 1
	script := p.scripts[min(n, len(p.scripts)-1)]
	ch := make(chan *CompletionChunk, len(script))
	for _, c := range script {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "test-model" }

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 1}
}

func TestCollect(t *testing.T) {
	tests := []struct {
		name    string
		script  []*CompletionChunk
		want    string
		wantErr error
	}{
		{
			name:   "concatenates text",
			script: []*CompletionChunk{{Text: "Hel"}, {Text: "lo"}, {Done: true}},
			want:   "Hello",
		},
		{
			name:   "done only is empty answer",
			script: []*CompletionChunk{{Done: true}},
			want:   "",
		},
		{
			name:    "closed without chunks",
			script:  []*CompletionChunk{},
			wantErr: ErrEmptyStream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{scripts: [][]*CompletionChunk{tt.script}}
			got, err := Collect(context.Background(), p, &CompletionRequest{})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Collect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCollectStopsAtError(t *testing.T) {
	boom := errors.New("boom")
	p := &scriptedProvider{scripts: [][]*CompletionChunk{{{Text: "partial"}, {Error: boom}}}}

	got, err := Collect(context.Background(), p, &CompletionRequest{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if got != "" {
		t.Errorf("partial text leaked: %q", got)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want FailureReason
	}{
		{context.DeadlineExceeded, FailureTimeout},
		{errors.New("429 Too Many Requests"), FailureRateLimit},
		{errors.New("Error 429, RESOURCE_EXHAUSTED"), FailureRateLimit},
		{errors.New("API key not valid. Please pass a valid API key."), FailureAuth},
		{errors.New("503 Service Unavailable"), FailureServerError},
		{errors.New("dial tcp: connection refused"), FailureNetwork},
		{errors.New("response blocked for safety"), FailureContentFilter},
		{errors.New("something odd"), FailureUnknown},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%q) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestProviderErrorReclassification(t *testing.T) {
	err := NewProviderError("google", "m", errors.New("request failed")).WithStatus(429)
	if err.Reason != FailureRateLimit {
		t.Errorf("reason = %s, want rate_limit", err.Reason)
	}
	err = err.WithCode("invalid_api_key")
	if err.Reason != FailureAuth {
		t.Errorf("reason = %s, want auth", err.Reason)
	}
	if IsRetryable(err) {
		t.Error("auth errors must not be retried")
	}
	if !errors.Is(fmtWrap(err), err.Cause) {
		t.Error("cause not reachable through Unwrap")
	}
}

func fmtWrap(err error) error {
	return errors.Join(errors.New("context"), err)
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
	if IsRetryable(context.Canceled) {
		t.Error("cancellation is not retryable")
	}
	if !IsRetryable(&ProviderError{Reason: FailureServerError}) {
		t.Error("server errors are retryable")
	}
	if !IsRetryable(errors.New("502 bad gateway")) {
		t.Error("raw 502 should be retryable")
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"héllo wörld", 3},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestCachingCounter(t *testing.T) {
	var calls atomic.Int32
	inner := TokenCounterFunc(func(_ context.Context, turn models.Turn) (int, error) {
		calls.Add(1)
		return len(turn.Content), nil
	})
	counter := NewCachingCounter(inner, 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		n, err := counter.CountTokens(ctx, models.HumanTurn("hello"))
		if err != nil || n != 5 {
			t.Fatalf("CountTokens() = %d, %v", n, err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("inner called %d times, want 1", calls.Load())
	}

	// Same content under a different role is a distinct entry.
	_, _ = counter.CountTokens(ctx, models.AssistantTurn("hello"))
	if calls.Load() != 2 {
		t.Errorf("inner called %d times, want 2", calls.Load())
	}

	// Exceeding maxSize resets the cache.
	_, _ = counter.CountTokens(ctx, models.HumanTurn("third"))
	if counter.Len() != 1 {
		t.Errorf("Len() = %d after reset, want 1", counter.Len())
	}
}

func TestCachingCounterDoesNotCacheErrors(t *testing.T) {
	fail := true
	inner := TokenCounterFunc(func(_ context.Context, turn models.Turn) (int, error) {
		if fail {
			return 0, errors.New("unavailable")
		}
		return 3, nil
	})
	counter := NewCachingCounter(inner, 0)

	if _, err := counter.CountTokens(context.Background(), models.HumanTurn("x")); err == nil {
		t.Fatal("expected error")
	}
	fail = false
	n, err := counter.CountTokens(context.Background(), models.HumanTurn("x"))
	if err != nil || n != 3 {
		t.Fatalf("CountTokens() = %d, %v", n, err)
	}
}

func TestClientRetriesTransientErrors(t *testing.T) {
	transient := &ProviderError{Reason: FailureServerError, Message: "overloaded"}
	p := &scriptedProvider{scripts: [][]*CompletionChunk{
		{{Error: transient}},
		{{Text: "answer"}, {Done: true}},
	}}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	client := NewClient(p, WithRetryPolicy(fastPolicy()), WithMetrics(metrics))

	got, err := client.Generate(context.Background(), "generate", &CompletionRequest{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "answer" {
		t.Errorf("Generate() = %q", got)
	}
	if p.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", p.calls.Load())
	}
	if v := testutil.ToFloat64(metrics.RetryAttempts.WithLabelValues("llm.generate")); v != 1 {
		t.Errorf("retry metric = %v, want 1", v)
	}
	if v := testutil.ToFloat64(metrics.LLMRequestCounter.WithLabelValues("scripted", "test-model", "generate", "error")); v != 1 {
		t.Errorf("error counter = %v, want 1", v)
	}
}

func TestClientDoesNotRetryPermanentErrors(t *testing.T) {
	auth := &ProviderError{Reason: FailureAuth, Message: "bad key"}
	p := &scriptedProvider{scripts: [][]*CompletionChunk{{{Error: auth}}}}
	client := NewClient(p, WithRetryPolicy(fastPolicy()))

	_, err := client.Generate(context.Background(), "reformulate", &CompletionRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if pe, ok := GetProviderError(err); !ok || pe.Reason != FailureAuth {
		t.Errorf("expected auth ProviderError in chain, got %v", err)
	}
	if p.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", p.calls.Load())
	}
}

func TestMessagesFromTurns(t *testing.T) {
	turns := []models.Turn{models.HumanTurn("q"), models.AssistantTurn("a")}
	msgs := MessagesFromTurns(turns)
	if len(msgs) != 2 || msgs[0].Role != models.RoleHuman || msgs[1].Content != "a" {
		t.Errorf("MessagesFromTurns() = %+v", msgs)
	}
}
