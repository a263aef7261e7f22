package repository

import (
	"context"

	"docsign-engine/backend/internal/audit/domain"
)

// Repository defines append-only persistence for audit events. There is no update or delete.
type Repository interface {
	// Append assigns the next sequence number for e.RequestID, seals e onto the request's hash
	// chain and stores it. Appends for one request are serialized.
	Append(ctx context.Context, e *domain.Event) error
	// ListByRequest returns all events of requestID in sequence order.
	ListByRequest(ctx context.Context, requestID string) ([]*domain.Event, error)
}
