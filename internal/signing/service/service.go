// Package service implements the request orchestrator: the only entry point the HTTP layer uses
// to view, sign, decline, create and cancel signature requests.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"docsign-engine/backend/internal/audit"
	auditdomain "docsign-engine/backend/internal/audit/domain"
	"docsign-engine/backend/internal/devotp"
	"docsign-engine/backend/internal/document"
	"docsign-engine/backend/internal/mail"
	"docsign-engine/backend/internal/metrics"
	"docsign-engine/backend/internal/otp"
	"docsign-engine/backend/internal/platform/rbac"
	"docsign-engine/backend/internal/security"
	"docsign-engine/backend/internal/signature"
	"docsign-engine/backend/internal/signature/domain"
	sigrepo "docsign-engine/backend/internal/signature/repository"
	"docsign-engine/backend/internal/telemetry"
)

// Sentinel errors for orchestrator operations; the handler maps them to HTTP status codes.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("signature request is no longer actionable")
	ErrInvalidCode        = errors.New("invalid or expired code")
	ErrTooManyRequests    = otp.ErrTooManyRequests
	ErrIntegrityViolation = errors.New("document changed since the request was sent")
	ErrForbidden          = rbac.ErrForbidden
	ErrUnauthenticated    = rbac.ErrUnauthenticated
	ErrValidation         = errors.New("validation failed")
)

// TransitionError reports the status that made an operation impossible.
type TransitionError struct {
	Status domain.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("signature request is %s", e.Status)
}

// Is lets errors.Is(err, ErrInvalidTransition) match.
func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ValidationError names the input field that was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Notifier sends lifecycle notices to the signer.
type Notifier interface {
	SendNotice(ctx context.Context, n mail.Notice) error
}

// Config holds orchestrator settings.
type Config struct {
	// DefaultTTL applies when Create is called without an expiry.
	DefaultTTL time.Duration
	// PublicBaseURL prefixes signing links returned by Create.
	PublicBaseURL string
	// NoticeTimeout bounds each lifecycle notice email.
	NoticeTimeout time.Duration
}

// Deps are the collaborators of an Orchestrator. DevOTP, Notifier and Events may be nil.
type Deps struct {
	Requests  sigrepo.Repository
	OTP       *otp.Manager
	Audit     *audit.Recorder
	Documents document.Store
	Tokens    *security.TokenProvider
	Notifier  Notifier
	Events    *telemetry.Async
	DevOTP    devotp.Store
	Now       func() time.Time
	Log       *zap.Logger
}

// Orchestrator coordinates the resolver, state machine, OTP manager and audit recorder.
type Orchestrator struct {
	requests  sigrepo.Repository
	resolver  *signature.Resolver
	machine   *signature.Machine
	otp       *otp.Manager
	audit     *audit.Recorder
	documents document.Store
	tokens    *security.TokenProvider
	notifier  Notifier
	events    *telemetry.Async
	dev       devotp.Store
	cfg       Config
	log       *zap.Logger
	tracer    trace.Tracer
}

// New returns an Orchestrator.
func New(d Deps, cfg Config) *Orchestrator {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 14 * 24 * time.Hour
	}
	if cfg.NoticeTimeout <= 0 {
		cfg.NoticeTimeout = 10 * time.Second
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		requests:  d.Requests,
		resolver:  signature.NewResolver(d.Requests),
		machine:   signature.NewMachine(d.Requests, d.Now),
		otp:       d.OTP,
		audit:     d.Audit,
		documents: d.Documents,
		tokens:    d.Tokens,
		notifier:  d.Notifier,
		events:    d.Events,
		dev:       d.DevOTP,
		cfg:       cfg,
		log:       log,
		tracer:    otel.Tracer("docsign/signing"),
	}
}

func (o *Orchestrator) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, "signing."+name)
}

// endSpan marks the span failed for errors other than expected client outcomes.
func endSpan(span trace.Span, err error) {
	if err != nil && !clientError(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func clientError(err error) bool {
	for _, target := range []error{ErrNotFound, ErrInvalidTransition, ErrInvalidCode, ErrTooManyRequests, ErrValidation, ErrForbidden, ErrUnauthenticated} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// record appends an audit event. A failed append is logged and counted but never fails the
// operation it describes.
func (o *Orchestrator) record(ctx context.Context, requestID string, typ auditdomain.EventType, metadata map[string]any) {
	if err := o.audit.Record(ctx, requestID, typ, metadata); err != nil {
		metrics.AuditWriteFailuresTotal.Inc()
		o.log.Error("audit write failed",
			zap.String("request_id", requestID),
			zap.String("event_type", string(typ)),
			zap.Error(err),
		)
	}
}

// resolve maps a public token to its request. Every unknown token yields the same ErrNotFound
// and a TOKEN_REJECTED event under the sentinel request id.
func (o *Orchestrator) resolve(ctx context.Context, token, operation string) (*domain.SignatureRequest, error) {
	req, err := o.resolver.Resolve(ctx, token)
	if errors.Is(err, signature.ErrNotFound) {
		o.record(ctx, "", auditdomain.EventTokenRejected, map[string]any{"operation": operation})
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("request.id", req.ID))
	return req, nil
}

// settle applies lazy expiry: an overdue request becomes EXPIRED before anything else looks at it.
func (o *Orchestrator) settle(ctx context.Context, req *domain.SignatureRequest) (*domain.SignatureRequest, error) {
	if !req.Overdue(o.machine.Now()) {
		return req, nil
	}
	if _, err := o.expire(ctx, req, "lazy"); err != nil {
		return nil, err
	}
	fresh, err := o.resolver.ByID(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("reload request: %w", err)
	}
	return fresh, nil
}

// ExpireOverdue moves req to EXPIRED if its deadline has passed. It reports true only when this
// call performed the transition, in which case EXPIRED was recorded and notifications sent.
func (o *Orchestrator) ExpireOverdue(ctx context.Context, req *domain.SignatureRequest) (bool, error) {
	ctx, span := o.startSpan(ctx, "ExpireOverdue")
	expired, err := o.expire(ctx, req, "sweeper")
	endSpan(span, err)
	return expired, err
}

func (o *Orchestrator) expire(ctx context.Context, req *domain.SignatureRequest, trigger string) (bool, error) {
	out, expired, err := o.machine.ExpireIfDue(ctx, req)
	if err != nil {
		return false, fmt.Errorf("expire request: %w", err)
	}
	if !expired {
		return false, nil
	}
	o.record(ctx, out.ID, auditdomain.EventExpired, map[string]any{
		"trigger":    trigger,
		"expires_at": out.ExpiresAt.Format(time.RFC3339),
	})
	o.finalized(ctx, out, "", trigger)
	return true, nil
}

// rejectTerminal records a write attempted on a finalized request and returns the error the
// caller reports.
func (o *Orchestrator) rejectTerminal(ctx context.Context, req *domain.SignatureRequest, operation string) error {
	o.record(ctx, req.ID, auditdomain.EventTransitionRejected, map[string]any{
		"operation": operation,
		"status":    string(req.Status),
	})
	return &TransitionError{Status: req.Status}
}

// reload fetches the current row after a lost conditional write or a failed verification.
func (o *Orchestrator) reload(ctx context.Context, id string) (*domain.SignatureRequest, error) {
	fresh, err := o.resolver.ByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload request: %w", err)
	}
	return fresh, nil
}
