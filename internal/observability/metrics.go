package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the question-answering service.
//
// It tracks:
//   - HTTP request volume and latency
//   - ask outcomes and per-stage pipeline latency
//   - LLM and embedding call latency and status
//   - retry attempts against external services
//   - the size of the loaded index
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordStage("retrieve", time.Since(start).Seconds())
type Metrics struct {
	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP request latency in seconds.
	// Labels: method, path
	HTTPRequestDuration *prometheus.HistogramVec

	// AskCounter counts ask requests by outcome.
	// Labels: outcome (ok|not_ready|retrieval_failure|generation_failure|invalid_request|...)
	AskCounter *prometheus.CounterVec

	// StageDuration measures pipeline stage latency in seconds.
	// Labels: stage (trim|reformulate|retrieve|generate|record)
	StageDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: provider, model, purpose (reformulate|generate|count_tokens), status
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// EmbeddingRequestCounter counts embedding requests.
	// Labels: provider, status
	EmbeddingRequestCounter *prometheus.CounterVec

	// RetryAttempts counts attempts beyond the first against external services.
	// Labels: operation
	RetryAttempts *prometheus.CounterVec

	// IndexChunks is the number of chunks in the live index.
	IndexChunks prometheus.Gauge

	// IndexBuilds counts index builds and loads.
	// Labels: mode (build|load), status
	IndexBuilds *prometheus.CounterVec

	// Ready is 1 when the pipeline accepts questions.
	Ready prometheus.Gauge
}

// NewMetrics creates and registers all metrics on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docqa_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "path"},
		),

		AskCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_ask_total",
				Help: "Total number of ask requests by outcome",
			},
			[]string{"outcome"},
		),

		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docqa_pipeline_stage_duration_seconds",
				Help:    "Duration of conversational pipeline stages in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"stage"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, purpose, and status",
			},
			[]string{"provider", "model", "purpose", "status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docqa_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		EmbeddingRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_embedding_requests_total",
				Help: "Total number of embedding requests by provider and status",
			},
			[]string{"provider", "status"},
		),

		RetryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_retry_attempts_total",
				Help: "Attempts beyond the first made against external services",
			},
			[]string{"operation"},
		),

		IndexChunks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "docqa_index_chunks",
				Help: "Number of chunks in the live vector index",
			},
		),

		IndexBuilds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_index_builds_total",
				Help: "Index builds and loads by mode and status",
			},
			[]string{"mode", "status"},
		),

		Ready: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "docqa_ready",
				Help: "1 when the pipeline is accepting questions",
			},
		),
	}
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// RecordAsk increments the ask counter for an outcome.
func (m *Metrics) RecordAsk(outcome string) {
	if m == nil {
		return
	}
	m.AskCounter.WithLabelValues(outcome).Inc()
}

// RecordStage observes the latency of one pipeline stage.
func (m *Metrics) RecordStage(stage string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordLLMRequest records metrics for an LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, purpose, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, purpose, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordEmbedding records an embedding request.
func (m *Metrics) RecordEmbedding(provider, status string) {
	if m == nil {
		return
	}
	m.EmbeddingRequestCounter.WithLabelValues(provider, status).Inc()
}

// RecordRetries adds the attempts beyond the first for an operation.
func (m *Metrics) RecordRetries(operation string, attempts int) {
	if m == nil || attempts <= 1 {
		return
	}
	m.RetryAttempts.WithLabelValues(operation).Add(float64(attempts - 1))
}

// RecordIndex records an index build or load and the resulting size.
func (m *Metrics) RecordIndex(mode, status string, chunks int) {
	if m == nil {
		return
	}
	m.IndexBuilds.WithLabelValues(mode, status).Inc()
	if status == "success" {
		m.IndexChunks.Set(float64(chunks))
	}
}

// SetReady flips the readiness gauge.
func (m *Metrics) SetReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.Ready.Set(1)
		return
	}
	m.Ready.Set(0)
}

// StatusLabel maps an error to the status label used by counters.
func StatusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
