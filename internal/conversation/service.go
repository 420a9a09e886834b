package conversation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/docqa/internal/observability"
)

// State is the readiness of a Service.
type State string

const (
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateFailed       State = "failed"
)

// Status describes the live pipeline.
type Status struct {
	State       State     `json:"state"`
	Error       string    `json:"error,omitempty"`
	Chunks      int       `json:"chunks,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Service fronts the pipeline while it is built in the background.
// Questions are rejected with KindNotReady until a pipeline is installed;
// they never wait for initialization.
type Service struct {
	pipeline atomic.Pointer[Pipeline]
	metrics  *observability.Metrics

	mu     sync.RWMutex
	status Status
}

// NewService returns a Service in the initializing state.
func NewService(metrics *observability.Metrics) *Service {
	metrics.SetReady(false)
	return &Service{
		metrics: metrics,
		status:  Status{State: StateInitializing, UpdatedAt: time.Now()},
	}
}

// Install makes p the live pipeline. Requests already running on a
// previous pipeline finish on it.
func (s *Service) Install(p *Pipeline, chunks int, fingerprint string) {
	s.pipeline.Store(p)

	s.mu.Lock()
	s.status = Status{
		State:       StateReady,
		Chunks:      chunks,
		Fingerprint: fingerprint,
		UpdatedAt:   time.Now(),
	}
	s.mu.Unlock()
	s.metrics.SetReady(true)
}

// Fail records an initialization failure. Without a live pipeline the
// service stays not ready; a live pipeline keeps serving.
func (s *Service) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.Error = err.Error()
	s.status.UpdatedAt = time.Now()
	if s.pipeline.Load() == nil {
		s.status.State = StateFailed
		s.metrics.SetReady(false)
	}
}

// Ready reports whether questions are accepted.
func (s *Service) Ready() bool {
	return s.pipeline.Load() != nil
}

// Status returns a snapshot of the service state.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Ask runs question through the live pipeline.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (string, error) {
	p := s.pipeline.Load()
	if p == nil {
		s.metrics.RecordAsk(string(KindNotReady))
		return "", newError(KindNotReady, "ask", ErrNotReady)
	}
	return p.Ask(ctx, sessionID, question)
}
