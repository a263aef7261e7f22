// Package handler serves liveness and readiness over HTTP and keeps the gRPC health service in
// step with readiness.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"docsign-engine/backend/internal/platform/httpx"
)

// checkTimeout bounds one readiness evaluation.
const checkTimeout = 2 * time.Second

// Pinger checks database connectivity (e.g. *pgxpool.Pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker checks that the issuance policy evaluates (e.g. the OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Checker aggregates readiness checks. Nil checks are skipped.
type Checker struct {
	pinger Pinger
	policy PolicyChecker
}

// NewChecker returns a Checker. pinger is nil when running on in-memory storage; policy is nil
// when the built-in issuance rules are used.
func NewChecker(pinger Pinger, policy PolicyChecker) *Checker {
	return &Checker{pinger: pinger, policy: policy}
}

// Ready returns the first failing check.
func (c *Checker) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if c.pinger != nil {
		if err := c.pinger.Ping(ctx); err != nil {
			return errors.Join(errors.New("database unreachable"), err)
		}
	}
	if c.policy != nil {
		if err := c.policy.HealthCheck(ctx); err != nil {
			return errors.Join(errors.New("policy evaluation failed"), err)
		}
	}
	return nil
}

// Healthz reports liveness. It never touches dependencies.
func Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz returns an http.HandlerFunc reporting readiness; failures answer 503.
func (c *Checker) Readyz(log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.Ready(r.Context()); err != nil {
			log.Warn("readiness check failed", zap.Error(err))
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// Sync sets the overall serving status of srv from one readiness evaluation.
func (c *Checker) Sync(ctx context.Context, srv *health.Server) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := c.Ready(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	srv.SetServingStatus("", status)
}

// Watch calls Sync every interval until ctx is done.
func (c *Checker) Watch(ctx context.Context, srv *health.Server, interval time.Duration) {
	c.Sync(ctx, srv)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sync(ctx, srv)
		}
	}
}
