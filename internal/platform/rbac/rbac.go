// Package rbac holds authorization checks for internal callers.
package rbac

import (
	"context"
	"errors"

	"docsign-engine/backend/internal/server/middleware"
)

// RoleAdmin may act on any signature request.
const RoleAdmin = "admin"

var (
	// ErrUnauthenticated is returned when the context carries no caller identity.
	ErrUnauthenticated = errors.New("caller identity required")
	// ErrForbidden is returned when the caller neither owns the resource nor is an admin.
	ErrForbidden = errors.New("requester or admin role required")
)

// Caller returns the authenticated user id and role from ctx.
func Caller(ctx context.Context) (userID, role string, err error) {
	userID, ok := middleware.GetUserID(ctx)
	if !ok || userID == "" {
		return "", "", ErrUnauthenticated
	}
	role, _ = middleware.GetRole(ctx)
	return userID, role, nil
}

// RequireRequesterOrAdmin ensures the caller created the request (requesterID) or holds RoleAdmin.
func RequireRequesterOrAdmin(ctx context.Context, requesterID string) (string, error) {
	userID, role, err := Caller(ctx)
	if err != nil {
		return "", err
	}
	if role == RoleAdmin || userID == requesterID {
		return userID, nil
	}
	return "", ErrForbidden
}
