// Package signature owns signature request lookup and lifecycle transitions.
package signature

import (
	"context"
	"errors"

	"docsign-engine/backend/internal/security"
	"docsign-engine/backend/internal/signature/domain"
	"docsign-engine/backend/internal/signature/repository"
)

// ErrNotFound is returned for unknown, malformed, or mismatched public tokens and unknown ids.
// Callers must not distinguish these cases to clients.
var ErrNotFound = errors.New("signature request not found")

// unusableTokenHash is looked up for malformed tokens so they cost the same as unknown ones.
// It is not a SHA-256 output of any token (wrong length), so it never matches a row.
const unusableTokenHash = "0"

// Resolver maps an opaque public token to its signature request.
type Resolver struct {
	repo repository.Repository
}

// NewResolver returns a Resolver over repo.
func NewResolver(repo repository.Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the request for token, or ErrNotFound. Malformed tokens go through the same
// hash-and-lookup path as well-formed unknown ones.
func (r *Resolver) Resolve(ctx context.Context, token string) (*domain.SignatureRequest, error) {
	hash := security.HashPublicToken(token)
	wellFormed := security.WellFormedPublicToken(token)
	lookup := hash
	if !wellFormed {
		lookup = unusableTokenHash
	}
	req, err := r.repo.GetByTokenHash(ctx, lookup)
	if err != nil {
		return nil, err
	}
	if req == nil || !wellFormed || !security.PublicTokenHashEqual(token, req.PublicTokenHash) {
		return nil, ErrNotFound
	}
	return req, nil
}

// ByID returns the request for id, or ErrNotFound. Used by internal callers that hold ids, not tokens.
func (r *Resolver) ByID(ctx context.Context, id string) (*domain.SignatureRequest, error) {
	req, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	return req, nil
}
