package repository

import (
	"context"
	"sync"

	"docsign-engine/backend/internal/audit/domain"
)

// MemoryRepository is an in-process Repository used by tests and dev mode.
type MemoryRepository struct {
	mu        sync.Mutex
	byRequest map[string][]*domain.Event
}

// NewMemoryRepository returns an empty in-memory audit store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byRequest: make(map[string][]*domain.Event)}
}

func (m *MemoryRepository) Append(ctx context.Context, e *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.byRequest[e.RequestID]
	prev := ""
	if n := len(events); n > 0 {
		prev = events[n-1].Hash
	}
	e.Seal(prev, int64(len(events)+1))
	cp := *e
	m.byRequest[e.RequestID] = append(events, &cp)
	return nil
}

func (m *MemoryRepository) ListByRequest(ctx context.Context, requestID string) ([]*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.byRequest[requestID]
	out := make([]*domain.Event, len(events))
	for i, e := range events {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}
