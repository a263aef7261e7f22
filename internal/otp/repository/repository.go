package repository

import (
	"context"
	"errors"
	"time"

	"docsign-engine/backend/internal/otp/domain"
)

var (
	// ErrAttemptsExhausted is returned by RecordAttempt when the attempt cap was already reached.
	ErrAttemptsExhausted = errors.New("otp attempts exhausted")
	// ErrNotActive is returned when the challenge was consumed or superseded concurrently.
	ErrNotActive = errors.New("otp challenge no longer active")
)

// Repository defines persistence for OTP challenges.
type Repository interface {
	// Create stores c and supersedes any other active challenge of the same request in one write,
	// so a request never has more than one active challenge.
	Create(ctx context.Context, c *domain.Challenge) error
	// GetActive returns the active challenge for requestID, or nil if there is none.
	GetActive(ctx context.Context, requestID string) (*domain.Challenge, error)
	// RecordAttempt atomically increments the attempt counter if it is below max and the
	// challenge is active. Returns the new count.
	RecordAttempt(ctx context.Context, id string, max int) (int, error)
	// Consume marks the challenge used. Returns ErrNotActive if it already was, or was superseded.
	Consume(ctx context.Context, id string, at time.Time) error
	// ListByRequest returns every challenge ever issued for requestID, oldest first. Challenges are
	// never deleted, so consumed and superseded ones stay available as verification history.
	ListByRequest(ctx context.Context, requestID string) ([]*domain.Challenge, error)
}
