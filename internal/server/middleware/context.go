package middleware

import (
	"context"

	"docsign-engine/backend/internal/audit/domain"
)

type contextKey struct{ name string }

var (
	userIDKey = contextKey{"user_id"}
	roleKey   = contextKey{"role"}
	clientKey = contextKey{"client"}
	systemKey = contextKey{"system"}
)

// Client is the network origin of a request.
type Client struct {
	IP        string
	UserAgent string
}

// WithIdentity returns a context carrying the authenticated internal caller.
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, roleKey, role)
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok
}

// GetRole returns the caller role from context and true if set; otherwise "", false.
func GetRole(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(roleKey).(string)
	return v, ok
}

// WithClient returns a context carrying the request's client IP and user agent.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientKey, c)
}

// ClientFrom returns the client stored by WithClient, or the zero Client.
func ClientFrom(ctx context.Context) Client {
	c, _ := ctx.Value(clientKey).(Client)
	return c
}

// WithSystemActor marks ctx as background work (the expiry sweeper) with no caller.
func WithSystemActor(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, systemKey, name)
}

// ActorFromContext builds the audit actor for ctx: the internal caller when authenticated,
// the signer otherwise.
func ActorFromContext(ctx context.Context) domain.Actor {
	if name, ok := ctx.Value(systemKey).(string); ok {
		return domain.Actor{Kind: domain.ActorSystem, ID: name}
	}
	c := ClientFrom(ctx)
	a := domain.Actor{Kind: domain.ActorSigner, IP: c.IP, UserAgent: c.UserAgent}
	if uid, ok := GetUserID(ctx); ok && uid != "" {
		a.Kind = domain.ActorInternal
		a.ID = uid
	}
	if a.IP == "" {
		a.IP = "unknown"
	}
	return a
}
