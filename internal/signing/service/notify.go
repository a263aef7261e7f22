package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docsign-engine/backend/internal/mail"
	"docsign-engine/backend/internal/metrics"
	"docsign-engine/backend/internal/signature/domain"
	teldomain "docsign-engine/backend/internal/telemetry/domain"
)

// finalized runs after a terminal transition took effect: it publishes the lifecycle event and
// emails the signer. Neither blocks the caller.
func (o *Orchestrator) finalized(ctx context.Context, req *domain.SignatureRequest, reason, source string) {
	metrics.TransitionsTotal.WithLabelValues(string(req.Status)).Inc()
	at := o.machine.Now()
	if req.FinalizedAt != nil {
		at = *req.FinalizedAt
	}
	if o.events != nil {
		o.events.Emit(ctx, &teldomain.LifecycleEvent{
			ID:          uuid.New().String(),
			RequestID:   req.ID,
			RequesterID: req.RequesterID,
			EventType:   "signature_request." + lifecycleName(req.Status),
			Status:      string(req.Status),
			Reason:      reason,
			Source:      source,
			OccurredAt:  at,
		})
	}
	if o.notifier == nil {
		return
	}
	notice := mail.Notice{
		RequestID:     req.ID,
		To:            req.SignerEmail,
		SignerName:    req.SignerName,
		DocumentTitle: req.DocumentTitle,
		Status:        string(req.Status),
		At:            at,
	}
	go o.sendNotice(context.WithoutCancel(ctx), notice)
}

func (o *Orchestrator) sendNotice(ctx context.Context, n mail.Notice) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.NoticeTimeout)
	defer cancel()
	if err := o.notifier.SendNotice(ctx, n); err != nil {
		o.log.Warn("lifecycle notice not delivered",
			zap.String("request_id", n.RequestID),
			zap.String("status", n.Status),
			zap.Error(err),
		)
	}
}

func lifecycleName(s domain.Status) string {
	switch s {
	case domain.StatusSigned:
		return "signed"
	case domain.StatusDeclined:
		return "declined"
	case domain.StatusExpired:
		return "expired"
	case domain.StatusCancelled:
		return "cancelled"
	}
	return "updated"
}
