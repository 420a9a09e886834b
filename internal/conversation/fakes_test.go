package conversation

import (
	"context"
	"strings"
	"sync"

	"github.com/haasonsaas/docqa/internal/llm"
	"github.com/haasonsaas/docqa/pkg/models"
)

// eventLog records the order in which collaborators are called.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// fakeModel answers by purpose and records every request.
type fakeModel struct {
	log *eventLog

	mu       sync.Mutex
	requests map[string][]*llm.CompletionRequest

	reformulate func(req *llm.CompletionRequest) (string, error)
	generate    func(req *llm.CompletionRequest) (string, error)
}

func newFakeModel(log *eventLog) *fakeModel {
	return &fakeModel{
		log:      log,
		requests: make(map[string][]*llm.CompletionRequest),
		reformulate: func(req *llm.CompletionRequest) (string, error) {
			return "standalone: " + req.Messages[len(req.Messages)-1].Content, nil
		},
		generate: func(req *llm.CompletionRequest) (string, error) {
			return "answer to " + req.Messages[len(req.Messages)-1].Content, nil
		},
	}
}

func (m *fakeModel) Generate(_ context.Context, purpose string, req *llm.CompletionRequest) (string, error) {
	m.mu.Lock()
	m.requests[purpose] = append(m.requests[purpose], req)
	m.mu.Unlock()
	m.log.add(purpose)

	switch purpose {
	case PurposeReformulate:
		return m.reformulate(req)
	default:
		return m.generate(req)
	}
}

func (m *fakeModel) calls(purpose string) []*llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*llm.CompletionRequest(nil), m.requests[purpose]...)
}

// fakeEmbedder records the texts it embeds.
type fakeEmbedder struct {
	log *eventLog
	err error

	mu    sync.Mutex
	texts []string
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.log.add("retrieve")
	e.mu.Lock()
	e.texts = append(e.texts, text)
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (e *fakeEmbedder) embedded() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

// fakeSearcher returns its chunks, at most k of them.
type fakeSearcher struct {
	chunks []models.ScoredChunk
	err    error
}

func (s *fakeSearcher) Query(_ []float32, k int) ([]models.ScoredChunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.chunks[:min(k, len(s.chunks))], nil
}

func scoredChunks(contents ...string) []models.ScoredChunk {
	out := make([]models.ScoredChunk, len(contents))
	for i, c := range contents {
		out[i] = models.ScoredChunk{
			Chunk: models.Chunk{Index: i, Content: c},
			Score: 1 - float32(i)/10,
		}
	}
	return out
}

// charCounter counts one token per byte.
var charCounter = llm.TokenCounterFunc(func(_ context.Context, t models.Turn) (int, error) {
	return len(t.Content), nil
})

// turn builds a turn of exactly size tokens under charCounter; label keeps
// turns of equal size distinguishable.
func turn(role models.Role, label string, size int) models.Turn {
	return models.Turn{Role: role, Content: label + strings.Repeat(".", size-len(label))}
}
