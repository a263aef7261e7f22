// Package document fetches signed documents and computes their integrity hash.
package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// MaxSize bounds a fetched document.
const MaxSize = 32 << 20

var (
	// ErrNotFound is returned when the document store has no content at the URL.
	ErrNotFound = errors.New("document not found")
	// ErrTooLarge is returned when the document exceeds MaxSize.
	ErrTooLarge = errors.New("document too large")
	// ErrUnsupportedURL is returned for URLs that are not absolute http(s) URLs.
	ErrUnsupportedURL = errors.New("unsupported document url")
)

// Store is the read-only document store.
type Store interface {
	FetchContentAndHash(ctx context.Context, documentURL string) ([]byte, string, error)
}

// Hash returns the lowercase hex SHA-256 of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ValidURL reports whether raw is an absolute http or https URL.
func ValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// HTTPStore fetches documents over HTTP.
type HTTPStore struct {
	client *http.Client
}

// NewHTTPStore returns a store whose requests are bounded by timeout.
func NewHTTPStore(timeout time.Duration) *HTTPStore {
	return &HTTPStore{client: &http.Client{Timeout: timeout}}
}

func (s *HTTPStore) FetchContentAndHash(ctx context.Context, documentURL string) ([]byte, string, error) {
	if !ValidURL(documentURL) {
		return nil, "", ErrUnsupportedURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, documentURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch document: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, "", ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("fetch document: status=%d", resp.StatusCode)
	}
	content, err := io.ReadAll(io.LimitReader(resp.Body, MaxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read document: %w", err)
	}
	if len(content) > MaxSize {
		return nil, "", ErrTooLarge
	}
	return content, Hash(content), nil
}

// MemoryStore serves documents from memory. Used by tests and the development seed.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

// Put stores content under documentURL, replacing any previous content.
func (m *MemoryStore) Put(documentURL string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[documentURL] = append([]byte(nil), content...)
}

func (m *MemoryStore) FetchContentAndHash(ctx context.Context, documentURL string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.docs[documentURL]
	if !ok {
		return nil, "", ErrNotFound
	}
	return append([]byte(nil), content...), Hash(content), nil
}
