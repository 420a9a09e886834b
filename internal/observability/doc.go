// Package observability provides metrics, structured logging, and distributed
// tracing for docqa.
//
// # Logging
//
// Logger wraps slog with JSON or text output, pulls request_id and
// session_id from the context, and redacts API keys, tokens and DSN
// passwords from messages and arguments:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info"})
//	ctx = observability.AddRequestID(ctx, requestID)
//	logger.Info(ctx, "question answered", "chunks", 4)
//
// # Metrics
//
// Metrics are Prometheus collectors registered on an explicit Registerer so
// tests can use an isolated registry. The HTTP server exposes them on /metrics.
//
// # Tracing
//
// Tracer wraps OpenTelemetry. Without an OTLP endpoint it is a no-op. With
// one, every ask request produces a server span with a child span per
// pipeline stage and client spans for model and embedding calls.
package observability
