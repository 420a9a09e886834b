package observability

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestNewMetrics_IsolatedRegistries(t *testing.T) {
	// Two registries must not collide on metric names.
	_ = newTestMetrics(t)
	_ = newTestMetrics(t)
}

func TestRecordAsk(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordAsk("ok")
	m.RecordAsk("ok")
	m.RecordAsk("not_ready")

	expected := `
		# HELP docqa_ask_total Total number of ask requests by outcome
		# TYPE docqa_ask_total counter
		docqa_ask_total{outcome="not_ready"} 1
		docqa_ask_total{outcome="ok"} 2
	`
	if err := testutil.CollectAndCompare(m.AskCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordHTTPRequest("POST", "/ask", "200", 0.2)
	m.RecordHTTPRequest("POST", "/ask", "503", 0.001)

	if count := testutil.CollectAndCount(m.HTTPRequestCounter); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}
	if got := testutil.ToFloat64(m.HTTPRequestCounter.WithLabelValues("POST", "/ask", "200")); got != 1 {
		t.Errorf("200 counter = %v, want 1", got)
	}
}

func TestRecordLLMRequest(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordLLMRequest("google", "gemini-2.5-flash-lite", "generate", "success", 1.2)
	m.RecordLLMRequest("google", "gemini-2.5-flash-lite", "reformulate", "error", 0.3)

	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("google", "gemini-2.5-flash-lite", "generate", "success")); got != 1 {
		t.Errorf("generate counter = %v, want 1", got)
	}
	if count := testutil.CollectAndCount(m.LLMRequestDuration); count != 1 {
		t.Errorf("expected 1 histogram series, got %d", count)
	}
}

func TestRecordRetries(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRetries("embed", 1)
	m.RecordRetries("embed", 3)

	if got := testutil.ToFloat64(m.RetryAttempts.WithLabelValues("embed")); got != 2 {
		t.Errorf("retry attempts = %v, want 2", got)
	}
}

func TestRecordIndexAndReady(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordIndex("build", "success", 12)
	m.RecordIndex("load", "error", 0)
	m.SetReady(true)

	if got := testutil.ToFloat64(m.IndexChunks); got != 12 {
		t.Errorf("index chunks = %v, want 12", got)
	}
	if got := testutil.ToFloat64(m.Ready); got != 1 {
		t.Errorf("ready = %v, want 1", got)
	}
	m.SetReady(false)
	if got := testutil.ToFloat64(m.Ready); got != 0 {
		t.Errorf("ready = %v, want 0", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordAsk("ok")
	m.RecordStage("trim", 0.1)
	m.RecordHTTPRequest("GET", "/", "200", 0.1)
	m.RecordLLMRequest("p", "m", "generate", "success", 1)
	m.RecordEmbedding("p", "success")
	m.RecordRetries("embed", 3)
	m.RecordIndex("build", "success", 1)
	m.SetReady(true)
}

func TestStatusLabel(t *testing.T) {
	if StatusLabel(nil) != "success" {
		t.Error("nil error should be success")
	}
	if StatusLabel(errors.New("x")) != "error" {
		t.Error("non-nil error should be error")
	}
}
