// Package sweeper expires overdue signature requests in the background. Lazy expiry on read
// keeps correctness without it; the sweeper makes EXPIRED visible (audit, notifications) for
// requests nobody opens again. OTP challenges are never touched: they are kept as history.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"docsign-engine/backend/internal/metrics"
	"docsign-engine/backend/internal/server/middleware"
	"docsign-engine/backend/internal/signature/domain"
)

// DefaultBatchSize bounds how many overdue requests one pass loads.
const DefaultBatchSize = 100

// Lister returns overdue non-terminal requests.
type Lister interface {
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.SignatureRequest, error)
}

// Expirer performs the guarded EXPIRED transition and reports whether this caller won it.
type Expirer interface {
	ExpireOverdue(ctx context.Context, req *domain.SignatureRequest) (bool, error)
}

// Sweeper runs expiry passes.
type Sweeper struct {
	lister    Lister
	expirer   Expirer
	batchSize int
	now       func() time.Time
	log       *zap.Logger
}

// New returns a Sweeper.
func New(lister Lister, expirer Expirer, batchSize int, log *zap.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		lister:    lister,
		expirer:   expirer,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

// RunOnce expires one batch of overdue requests and returns how many this pass expired. A
// request finalized concurrently by a signer is skipped. Per-request errors are logged and do
// not stop the pass.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ctx = middleware.WithSystemActor(ctx, "sweeper")
	overdue, err := s.lister.ListOverdue(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, req := range overdue {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		ok, err := s.expirer.ExpireOverdue(ctx, req)
		if err != nil {
			s.log.Warn("sweeper: expire failed", zap.String("request_id", req.ID), zap.Error(err))
			continue
		}
		if ok {
			expired++
			metrics.SweptTotal.Inc()
		}
	}
	return expired, nil
}

// Run calls RunOnce every interval until ctx is done. A full batch triggers another pass right
// away instead of waiting for the next tick.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for {
			n, err := s.RunOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Error("sweeper: pass failed", zap.Error(err))
				}
				break
			}
			if n > 0 {
				s.log.Info("sweeper: expired requests", zap.Int("count", n))
			}
			if n < s.batchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
