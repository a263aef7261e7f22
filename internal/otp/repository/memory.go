package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"docsign-engine/backend/internal/otp/domain"
)

// MemoryRepository is an in-process Repository used by tests and dev mode.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]*domain.Challenge
}

// NewMemoryRepository returns an empty in-memory challenge store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.Challenge)}
}

func (m *MemoryRepository) Create(ctx context.Context, c *domain.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.byID {
		if other.RequestID == c.RequestID && other.Active() {
			at := c.IssuedAt
			other.SupersededAt = &at
		}
	}
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *MemoryRepository) GetActive(ctx context.Context, requestID string) (*domain.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byID {
		if c.RequestID == requestID && c.Active() {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) RecordAttempt(ctx context.Context, id string, max int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok || !c.Active() {
		return 0, ErrNotActive
	}
	if c.AttemptCount >= max {
		return c.AttemptCount, ErrAttemptsExhausted
	}
	c.AttemptCount++
	return c.AttemptCount, nil
}

func (m *MemoryRepository) Consume(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok || !c.Active() {
		return ErrNotActive
	}
	c.ConsumedAt = &at
	return nil
}

func (m *MemoryRepository) ListByRequest(ctx context.Context, requestID string) ([]*domain.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Challenge
	for _, c := range m.byID {
		if c.RequestID == requestID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}
