package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"docsign-engine/backend/internal/signature/domain"
)

// MemoryRepository is an in-process Repository used by tests and by the server when no
// DATABASE_URL is configured. Rows are copied on the way in and out.
type MemoryRepository struct {
	mu      sync.Mutex
	byID    map[string]*domain.SignatureRequest
	byToken map[string]string
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*domain.SignatureRequest),
		byToken: make(map[string]string),
	}
}

func (m *MemoryRepository) Create(ctx context.Context, r *domain.SignatureRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byToken[r.PublicTokenHash]; ok {
		return ErrDuplicateToken
	}
	m.byID[r.ID] = r.Clone()
	m.byToken[r.PublicTokenHash] = r.ID
	return nil
}

func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.SignatureRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].Clone(), nil
}

func (m *MemoryRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.SignatureRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byToken[tokenHash]
	if !ok {
		return nil, nil
	}
	return m.byID[id].Clone(), nil
}

func (m *MemoryRepository) UpdateIfUnchanged(ctx context.Context, next *domain.SignatureRequest, expectedStatus domain.Status, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[next.ID]
	if !ok || cur.Status != expectedStatus || cur.Version != expectedVersion {
		return ErrConflict
	}
	stored := next.Clone()
	stored.Version = expectedVersion + 1
	// Identity and document columns are immutable after creation.
	stored.PublicTokenHash = cur.PublicTokenHash
	stored.DocumentHash = cur.DocumentHash
	stored.CreatedAt = cur.CreatedAt
	m.byID[next.ID] = stored
	next.Version = stored.Version
	return nil
}

func (m *MemoryRepository) SetDocumentHashIfEmpty(ctx context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.byID[id]; ok && cur.DocumentHash == "" {
		cur.DocumentHash = hash
	}
	return nil
}

func (m *MemoryRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.SignatureRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.SignatureRequest
	for _, r := range m.byID {
		if r.Overdue(now) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
