// Package devotp keeps the latest plaintext code per signature request so local development and
// end-to-end tests can complete a signing flow without a mail server. Never enabled in production.
package devotp

import (
	"context"
	"sync"
	"time"
)

// Store holds the latest plain code by request id for dev-only retrieval.
type Store interface {
	// Put stores code for requestID until expiresAt, replacing any previous code.
	Put(ctx context.Context, requestID, code string, expiresAt time.Time)
	// Get returns the code for requestID if present and not expired.
	Get(ctx context.Context, requestID string) (code string, ok bool)
	// Forget drops the code for requestID (after it was consumed).
	Forget(ctx context.Context, requestID string)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]entry
	nowF func() time.Time
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option { return func(s *MemoryStore) { s.nowF = now } }

// NewMemoryStore returns a new in-memory dev OTP store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		m:    make(map[string]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Put stores code for requestID until expiresAt.
func (s *MemoryStore) Put(ctx context.Context, requestID, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[requestID] = entry{code: code, expiresAt: expiresAt}
}

// Get returns the code for requestID if present and not expired. Expired entries are removed.
func (s *MemoryStore) Get(ctx context.Context, requestID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[requestID]
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		delete(s.m, requestID)
		return "", false
	}
	return e.code, true
}

// Forget removes the code for requestID.
func (s *MemoryStore) Forget(ctx context.Context, requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, requestID)
}
