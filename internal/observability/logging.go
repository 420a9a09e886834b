package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger writes structured records through slog. Every record gets the
// request and session IDs found on its context, and secrets are masked in
// the message and in attribute values before the record is encoded.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	logger.Info(ctx, "answered question", "chunks", 4)
type Logger struct {
	logger   *slog.Logger
	redactor *redactor
}

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level is "debug", "info", "warn" or "error". Defaults to info.
	Level string

	// Format is "json" (default) or "text".
	Format string

	// Output defaults to os.Stderr.
	Output io.Writer

	AddSource bool

	// RedactPatterns extend DefaultRedactPatterns.
	RedactPatterns []string
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	SessionIDKey ContextKey = "session_id"
)

// DefaultRedactPatterns match credentials that may end up in provider
// errors or DSNs. Patterns with three groups keep the first and third and
// mask the second.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,
	`AIza[0-9A-Za-z_\-]{35}`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9_\-]{32,}`,
	`(?:AKIA|ASIA)[0-9A-Z]{16}`,
	`(?i)(postgres(?:ql)?://[^:/\s]+:)([^@\s]+)(@)`,
}

const redacted = "[REDACTED]"

// NewLogger builds a logger from config. Invalid redact patterns are
// skipped.
func NewLogger(config LogConfig) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}

	var base slog.Handler
	if strings.EqualFold(config.Format, "text") {
		base = slog.NewTextHandler(out, opts)
	} else {
		base = slog.NewJSONHandler(out, opts)
	}

	r := newRedactor(append(append([]string{}, DefaultRedactPatterns...), config.RedactPatterns...))
	return &Logger{
		logger:   slog.New(&contextHandler{inner: base, redactor: r}),
		redactor: r,
	}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *Logger {
	return NewLogger(LogConfig{Output: io.Discard})
}

// Slog exposes the underlying slog logger. Records logged through it are
// still redacted.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if ctx == nil {
		ctx = context.Background()
	}
	l.logger.Log(ctx, level, msg, args...)
}

// WithFields returns a logger that adds args to every record.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), redactor: l.redactor}
}

// contextHandler decorates records with context IDs and masks secrets.
type contextHandler struct {
	inner    slog.Handler
	redactor *redactor
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, h.redactor.string(rec.Message), rec.PC)
	if id := GetRequestID(ctx); id != "" {
		out.AddAttrs(slog.String(string(RequestIDKey), id))
	}
	if id := GetSessionID(ctx); id != "" {
		out.AddAttrs(slog.String(string(SessionIDKey), id))
	}
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactor.attr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = h.redactor.attr(a)
	}
	return &contextHandler{inner: h.inner.WithAttrs(masked), redactor: h.redactor}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{inner: h.inner.WithGroup(name), redactor: h.redactor}
}

type redactor struct {
	patterns []*regexp.Regexp
}

func newRedactor(patterns []string) *redactor {
	r := &redactor{}
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			r.patterns = append(r.patterns, re)
		}
	}
	return r
}

func (r *redactor) string(s string) string {
	for _, re := range r.patterns {
		if re.NumSubexp() == 3 {
			s = re.ReplaceAllString(s, "${1}"+redacted+"${3}")
		} else {
			s = re.ReplaceAllString(s, redacted)
		}
	}
	return s
}

// sensitiveKeys are masked wholesale regardless of value.
var sensitiveKeys = map[string]bool{
	"password":          true,
	"secret":            true,
	"token":             true,
	"api_key":           true,
	"apikey":            true,
	"authorization":     true,
	"dsn":               true,
	"secret_access_key": true,
	"session_token":     true,
}

func sensitive(key string) bool {
	return sensitiveKeys[strings.ToLower(strings.ReplaceAll(key, "-", "_"))]
}

func (r *redactor) attr(a slog.Attr) slog.Attr {
	if sensitive(a.Key) {
		return slog.String(a.Key, redacted)
	}
	return slog.Attr{Key: a.Key, Value: r.value(a.Value.Resolve())}
}

func (r *redactor) value(v slog.Value) slog.Value {
	switch v.Kind() {
	case slog.KindString:
		return slog.StringValue(r.string(v.String()))
	case slog.KindGroup:
		group := v.Group()
		masked := make([]slog.Attr, len(group))
		for i, a := range group {
			masked[i] = r.attr(a)
		}
		return slog.GroupValue(masked...)
	case slog.KindAny:
		switch val := v.Any().(type) {
		case error:
			return slog.StringValue(r.string(val.Error()))
		case []byte:
			return slog.StringValue(r.string(string(val)))
		case map[string]any:
			return slog.AnyValue(r.redactMap(val))
		}
	}
	return v
}

func (r *redactor) redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sensitive(k) {
			out[k] = redacted
			continue
		}
		out[k] = r.value(slog.AnyValue(v)).Any()
	}
	return out
}

func AddRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func AddSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

func GetSessionID(ctx context.Context) string {
	id, _ := ctx.Value(SessionIDKey).(string)
	return id
}

// LogLevelFromString maps a level name to a slog.Level; unknown names are
// info.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
