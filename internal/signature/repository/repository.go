package repository

import (
	"context"
	"errors"
	"time"

	"docsign-engine/backend/internal/signature/domain"
)

// ErrConflict is returned by UpdateIfUnchanged when the stored row no longer matches the
// expected status and version (another writer got there first).
var ErrConflict = errors.New("signature request modified concurrently")

// ErrDuplicateToken is returned by Create when the public token hash already exists.
var ErrDuplicateToken = errors.New("public token already in use")

// Repository defines persistence for signature requests.
// Getters return (nil, nil) when no row matches.
type Repository interface {
	Create(ctx context.Context, r *domain.SignatureRequest) error
	GetByID(ctx context.Context, id string) (*domain.SignatureRequest, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.SignatureRequest, error)
	// UpdateIfUnchanged persists next only if the stored row still has expectedStatus and
	// expectedVersion, bumping the version. Returns ErrConflict otherwise.
	UpdateIfUnchanged(ctx context.Context, next *domain.SignatureRequest, expectedStatus domain.Status, expectedVersion int64) error
	// SetDocumentHashIfEmpty records the integrity hash once; later calls are no-ops.
	SetDocumentHashIfEmpty(ctx context.Context, id, hash string) error
	// ListOverdue returns up to limit non-terminal requests whose deadline is at or before now.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.SignatureRequest, error)
}
