package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/docqa/internal/config"
	"github.com/haasonsaas/docqa/internal/conversation"
	"github.com/haasonsaas/docqa/internal/observability"
)

type fakeAssistant struct {
	ready  bool
	answer string
	err    error

	gotSession  string
	gotQuestion string
}

func (f *fakeAssistant) Ask(_ context.Context, sessionID, question string) (string, error) {
	f.gotSession, f.gotQuestion = sessionID, question
	return f.answer, f.err
}

func (f *fakeAssistant) Ready() bool { return f.ready }

func (f *fakeAssistant) Status() conversation.Status {
	if f.ready {
		return conversation.Status{State: conversation.StateReady, Chunks: 3}
	}
	return conversation.Status{State: conversation.StateInitializing}
}

func newTestServer(a Assistant, opts ...Option) http.Handler {
	cfg := config.Default().Server
	return New(cfg, a, opts...).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestRoot(t *testing.T) {
	rec := do(t, newTestServer(&fakeAssistant{}), http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["message"] != welcomeMessage {
		t.Errorf("message = %q", body["message"])
	}
}

func TestAsk(t *testing.T) {
	internal := errors.New("dial tcp: secret-host:5432 refused")

	tests := []struct {
		name       string
		assistant  *fakeAssistant
		body       string
		wantStatus int
		wantAnswer string
		wantDetail string
	}{
		{
			name:       "answers",
			assistant:  &fakeAssistant{ready: true, answer: "He is an ML engineer."},
			body:       `{"session_id":"s1","question":"What does he do?"}`,
			wantStatus: http.StatusOK,
			wantAnswer: "He is an ML engineer.",
		},
		{
			name:       "not ready",
			assistant:  &fakeAssistant{},
			body:       `{"session_id":"s1","question":"q"}`,
			wantStatus: http.StatusServiceUnavailable,
			wantDetail: notReadyDetail,
		},
		{
			name:       "malformed body",
			assistant:  &fakeAssistant{ready: true},
			body:       `{"session_id":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing question",
			assistant:  &fakeAssistant{ready: true},
			body:       `{"session_id":"s1"}`,
			wantStatus: http.StatusBadRequest,
			wantDetail: "question is required",
		},
		{
			name:       "missing session",
			assistant:  &fakeAssistant{ready: true},
			body:       `{"question":"q"}`,
			wantStatus: http.StatusBadRequest,
			wantDetail: "session_id is required",
		},
		{
			name:       "pipeline failure hides detail",
			assistant:  &fakeAssistant{ready: true, err: &conversation.Error{Kind: conversation.KindRetrievalFailure, Op: "embed question", Err: internal}},
			body:       `{"session_id":"s1","question":"q"}`,
			wantStatus: http.StatusInternalServerError,
			wantDetail: internalDetail,
		},
		{
			name:       "not ready from pipeline",
			assistant:  &fakeAssistant{ready: true, err: &conversation.Error{Kind: conversation.KindNotReady, Op: "ask"}},
			body:       `{"session_id":"s1","question":"q"}`,
			wantStatus: http.StatusServiceUnavailable,
			wantDetail: notReadyDetail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestServer(tt.assistant), http.MethodPost, "/ask", tt.body, map[string]string{"Content-Type": "application/json"})
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if strings.Contains(rec.Body.String(), "secret-host") {
				t.Fatal("response leaks internal error detail")
			}
			if tt.wantAnswer != "" {
				if got := decode[AskResponse](t, rec).Answer; got != tt.wantAnswer {
					t.Errorf("answer = %q", got)
				}
				if tt.assistant.gotSession != "s1" {
					t.Errorf("session = %q", tt.assistant.gotSession)
				}
			}
			if tt.wantDetail != "" {
				if got := decode[ErrorResponse](t, rec).Detail; got != tt.wantDetail {
					t.Errorf("detail = %q, want %q", got, tt.wantDetail)
				}
			}
		})
	}
}

func TestAskWrongMethod(t *testing.T) {
	rec := do(t, newTestServer(&fakeAssistant{ready: true}), http.MethodGet, "/ask", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	notReady := newTestServer(&fakeAssistant{})
	if rec := do(t, notReady, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	rec := do(t, notReady, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before init = %d", rec.Code)
	}
	if got := decode[conversation.Status](t, rec).State; got != conversation.StateInitializing {
		t.Errorf("state = %s", got)
	}

	rec = do(t, newTestServer(&fakeAssistant{ready: true}), http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK || decode[conversation.Status](t, rec).Chunks != 3 {
		t.Errorf("readyz after init = %d %s", rec.Code, rec.Body.String())
	}
}

func TestCORS(t *testing.T) {
	h := newTestServer(&fakeAssistant{ready: true})

	t.Run("preflight from allowed origin", func(t *testing.T) {
		rec := do(t, h, http.MethodOptions, "/ask", "", map[string]string{
			"Origin":                         "http://localhost:3000",
			"Access-Control-Request-Method":  "POST",
			"Access-Control-Request-Headers": "content-type",
		})
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
			t.Errorf("allow origin = %q", got)
		}
		if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
			t.Error("credentials not allowed")
		}
		if rec.Header().Get("Access-Control-Allow-Headers") != "content-type" {
			t.Errorf("allow headers = %q", rec.Header().Get("Access-Control-Allow-Headers"))
		}
	})

	t.Run("preflight from other origin", func(t *testing.T) {
		rec := do(t, h, http.MethodOptions, "/ask", "", map[string]string{
			"Origin":                        "https://evil.example",
			"Access-Control-Request-Method": "POST",
		})
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("origin should not be allowed")
		}
	})

	t.Run("simple request", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/", "", map[string]string{"Origin": "http://127.0.0.1:3000"})
		if rec.Header().Get("Access-Control-Allow-Origin") != "http://127.0.0.1:3000" {
			t.Error("missing allow origin on simple request")
		}
	})
}

func TestRequestID(t *testing.T) {
	h := newTestServer(&fakeAssistant{})

	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	if _, err := uuid.Parse(rec.Header().Get(requestIDHeader)); err != nil {
		t.Errorf("generated request id %q is not a uuid", rec.Header().Get(requestIDHeader))
	}

	id := uuid.NewString()
	rec = do(t, h, http.MethodGet, "/healthz", "", map[string]string{requestIDHeader: id})
	if rec.Header().Get(requestIDHeader) != id {
		t.Error("incoming request id not propagated")
	}

	rec = do(t, h, http.MethodGet, "/healthz", "", map[string]string{requestIDHeader: "not a uuid\n"})
	if rec.Header().Get(requestIDHeader) == "not a uuid\n" {
		t.Error("malformed request id echoed back")
	}
}

func TestMetricsEndpointAndHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	h := newTestServer(&fakeAssistant{ready: true, answer: "a"}, WithMetrics(metrics), WithGatherer(reg))

	do(t, h, http.MethodPost, "/ask", `{"session_id":"s","question":"q"}`, nil)
	do(t, h, http.MethodGet, "/nope", "", nil)

	if got := testutil.ToFloat64(metrics.HTTPRequestCounter.WithLabelValues("POST", "POST /ask", "200")); got != 1 {
		t.Errorf("ask requests = %v", got)
	}
	if got := testutil.ToFloat64(metrics.HTTPRequestCounter.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("unmatched requests = %v", got)
	}

	rec := do(t, h, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "docqa_http_requests_total") {
		t.Errorf("metrics endpoint = %d", rec.Code)
	}
}

func TestMetricsEndpointDisabled(t *testing.T) {
	rec := do(t, newTestServer(&fakeAssistant{}), http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 without a gatherer", rec.Code)
	}
}

type panicAssistant struct{ fakeAssistant }

func (panicAssistant) Ask(context.Context, string, string) (string, error) { panic("boom") }

func TestPanicRecovery(t *testing.T) {
	h := newTestServer(&panicAssistant{fakeAssistant{ready: true}})
	rec := do(t, h, http.MethodPost, "/ask", `{"session_id":"s","question":"q"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if decode[ErrorResponse](t, rec).Detail != internalDetail {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestStartStop(t *testing.T) {
	cfg := config.Default().Server
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	s := New(cfg, &fakeAssistant{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
