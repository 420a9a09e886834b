package sessions

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/haasonsaas/docqa/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for tests and
// single-process deployments. Histories live for the process lifetime.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	turns    map[string][]models.Turn
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*models.Session{},
		turns:    map[string][]models.Turn{},
	}
}

func (m *MemoryStore) GetOrCreate(_ context.Context, id string) (*models.Session, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.getOrCreateLocked(id)
	clone := *session
	return &clone, nil
}

func (m *MemoryStore) getOrCreateLocked(id string) *models.Session {
	session, ok := m.sessions[id]
	if !ok {
		now := time.Now()
		session = &models.Session{ID: id, CreatedAt: now, UpdatedAt: now}
		m.sessions[id] = session
	}
	return session
}

func (m *MemoryStore) History(_ context.Context, id string) ([]models.Turn, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.turns[id]), nil
}

func (m *MemoryStore) Append(_ context.Context, id string, turns ...models.Turn) error {
	if err := validateID(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.getOrCreateLocked(id)
	now := time.Now()
	for _, t := range turns {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		m.turns[id] = append(m.turns[id], t)
	}
	session.TurnCount = len(m.turns[id])
	session.UpdatedAt = now
	return nil
}

// Len returns the number of sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MemoryStore) Close() error { return nil }
