// Package server assembles the HTTP router and the gRPC server.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	healthhandler "docsign-engine/backend/internal/health/handler"
	"docsign-engine/backend/internal/metrics"
	"docsign-engine/backend/internal/ratelimit"
	"docsign-engine/backend/internal/security"
	"docsign-engine/backend/internal/server/middleware"
	signinghandler "docsign-engine/backend/internal/signing/handler"
)

// RouterDeps holds what the HTTP router serves.
type RouterDeps struct {
	// Signing serves the public and internal signing routes.
	Signing *signinghandler.Handler
	// Tokens validates access tokens on the internal routes.
	Tokens *security.TokenProvider
	// Limiter throttles the public routes per client IP. If nil, they are not limited.
	Limiter ratelimit.Limiter
	// Checker backs /readyz. If nil, readiness always succeeds.
	Checker *healthhandler.Checker
	// EnableDev mounts the development helpers. Never set in production.
	EnableDev bool
	Log       *zap.Logger
}

// NewRouter returns the HTTP handler for the service.
//
// Route groups:
//   - /healthz, /readyz, /metrics: operations, unauthenticated
//   - /sign/{token}/...: signer routes, rate limited per IP
//   - /internal/requests/...: requester routes, Bearer access token required
//   - /dev/...: development helpers, only with EnableDev
func NewRouter(d RouterDeps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	checker := d.Checker
	if checker == nil {
		checker = healthhandler.NewChecker(nil, nil)
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.ClientInfo)
	r.Use(middleware.RequestLogger(log))
	r.Use(metrics.Instrument)

	r.Get("/healthz", healthhandler.Healthz)
	r.Get("/readyz", checker.Readyz(log))
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(pub chi.Router) {
		if d.Limiter != nil {
			pub.Use(ratelimit.Middleware(d.Limiter, middleware.ClientIP, log))
		}
		d.Signing.PublicRoutes(pub)
		if d.EnableDev {
			d.Signing.DevRoutes(pub)
		}
	})
	r.Group(func(internal chi.Router) {
		internal.Use(middleware.RequireBearer(d.Tokens))
		d.Signing.InternalRoutes(internal)
	})
	return r
}
