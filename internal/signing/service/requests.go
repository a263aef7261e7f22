package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	auditdomain "docsign-engine/backend/internal/audit/domain"
	"docsign-engine/backend/internal/document"
	"docsign-engine/backend/internal/otp"
	"docsign-engine/backend/internal/platform/rbac"
	"docsign-engine/backend/internal/security"
	"docsign-engine/backend/internal/signature"
	"docsign-engine/backend/internal/signature/domain"
	sigrepo "docsign-engine/backend/internal/signature/repository"
)

const maxTokenAttempts = 3

// CreateInput describes a new signature request. ExpiresAt defaults to now plus the configured TTL.
type CreateInput struct {
	DocumentType  string
	DocumentTitle string
	DocumentURL   string
	SignerName    string
	SignerEmail   string
	ExpiresAt     *time.Time
}

// Created is returned once by Create. PublicToken is not stored and cannot be recovered later.
type Created struct {
	Request     *domain.SignatureRequest
	PublicToken string
	SigningURL  string
}

// Create persists a PENDING request owned by the caller, capturing the document hash at send time.
func (o *Orchestrator) Create(ctx context.Context, in CreateInput) (out *Created, err error) {
	ctx, span := o.startSpan(ctx, "Create")
	defer func() { endSpan(span, err) }()

	requesterID, _, err := rbac.Caller(ctx)
	if err != nil {
		return nil, err
	}
	now := o.machine.Now()
	expiresAt := now.Add(o.cfg.DefaultTTL)
	if in.ExpiresAt != nil {
		expiresAt = in.ExpiresAt.UTC()
	}
	if !expiresAt.After(now) {
		return nil, &ValidationError{Field: "expiresAt", Message: "must be in the future"}
	}
	if !document.ValidURL(in.DocumentURL) {
		return nil, &ValidationError{Field: "documentUrl", Message: "must be an absolute http or https url"}
	}
	for field, value := range map[string]string{
		"documentType":  in.DocumentType,
		"documentTitle": in.DocumentTitle,
		"signerName":    in.SignerName,
		"signerEmail":   in.SignerEmail,
	} {
		if strings.TrimSpace(value) == "" {
			return nil, &ValidationError{Field: field, Message: "is required"}
		}
	}

	var docHash string
	if o.documents != nil {
		_, docHash, err = o.documents.FetchContentAndHash(ctx, in.DocumentURL)
		if err != nil {
			if errors.Is(err, document.ErrNotFound) || errors.Is(err, document.ErrTooLarge) || errors.Is(err, document.ErrUnsupportedURL) {
				return nil, &ValidationError{Field: "documentUrl", Message: err.Error()}
			}
			return nil, fmt.Errorf("fetch document: %w", err)
		}
	}

	req := &domain.SignatureRequest{
		ID:            uuid.New().String(),
		DocumentType:  strings.TrimSpace(in.DocumentType),
		DocumentTitle: strings.TrimSpace(in.DocumentTitle),
		DocumentURL:   in.DocumentURL,
		DocumentHash:  docHash,
		SignerName:    strings.TrimSpace(in.SignerName),
		SignerEmail:   strings.ToLower(strings.TrimSpace(in.SignerEmail)),
		RequesterID:   requesterID,
		Status:        domain.StatusPending,
		ExpiresAt:     expiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
	token, err := o.storeWithToken(ctx, req)
	if err != nil {
		return nil, err
	}
	o.record(ctx, req.ID, auditdomain.EventCreated, map[string]any{
		"document_type": req.DocumentType,
		"document_hash": docHash,
		"signer_email":  otp.MaskEmail(req.SignerEmail),
		"expires_at":    expiresAt.Format(time.RFC3339),
		"requester_id":  requesterID,
	})
	return &Created{
		Request:     req,
		PublicToken: token,
		SigningURL:  strings.TrimRight(o.cfg.PublicBaseURL, "/") + "/sign/" + token,
	}, nil
}

// storeWithToken assigns a fresh public token to req and inserts it, retrying on a hash collision.
func (o *Orchestrator) storeWithToken(ctx context.Context, req *domain.SignatureRequest) (string, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := security.GeneratePublicToken()
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		req.PublicTokenHash = security.HashPublicToken(token)
		err = o.requests.Create(ctx, req)
		if errors.Is(err, sigrepo.ErrDuplicateToken) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("store request: %w", err)
		}
		return token, nil
	}
	return "", errors.New("store request: could not allocate a unique token")
}

// Cancel moves the request to CANCELLED. It goes through the same guarded transition as signing,
// so a concurrent sign and cancel cannot both take effect.
func (o *Orchestrator) Cancel(ctx context.Context, requestID string) (out *domain.SignatureRequest, err error) {
	ctx, span := o.startSpan(ctx, "Cancel")
	defer func() { endSpan(span, err) }()

	req, err := o.owned(ctx, requestID)
	if err != nil {
		return nil, err
	}
	userID, _, _ := rbac.Caller(ctx)
	if req, err = o.settle(ctx, req); err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, o.rejectTerminal(ctx, req, "cancel")
	}
	cancelled, err := o.machine.Fire(ctx, req, domain.EventCancel, domain.ApplyOptions{})
	if errors.Is(err, domain.ErrInvalidTransition) {
		fresh, serr := o.settle(ctx, cancelled)
		if serr != nil {
			return nil, serr
		}
		return nil, o.rejectTerminal(ctx, fresh, "cancel")
	}
	if err != nil {
		return nil, fmt.Errorf("cancel request: %w", err)
	}
	o.record(ctx, req.ID, auditdomain.EventCancelled, map[string]any{"cancelled_by": userID})
	o.finalized(ctx, cancelled, "", "requester")
	return cancelled, nil
}

// Trail is the audit trail of one request with its chain verification result.
type Trail struct {
	Events     []*auditdomain.Event
	ChainValid bool
}

// AuditTrail returns the audit events of requestID, oldest first.
func (o *Orchestrator) AuditTrail(ctx context.Context, requestID string) (out *Trail, err error) {
	ctx, span := o.startSpan(ctx, "AuditTrail")
	defer func() { endSpan(span, err) }()

	req, err := o.owned(ctx, requestID)
	if err != nil {
		return nil, err
	}
	events, ok, err := o.audit.Trail(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("load audit trail: %w", err)
	}
	if !ok {
		o.log.Error("audit chain verification failed", zap.String("request_id", req.ID))
	}
	return &Trail{Events: events, ChainValid: ok}, nil
}

// Request returns the full request row for its requester or an admin.
func (o *Orchestrator) Request(ctx context.Context, requestID string) (*domain.SignatureRequest, error) {
	req, err := o.owned(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return o.settle(ctx, req)
}

// owned loads requestID and checks the caller may act on it.
func (o *Orchestrator) owned(ctx context.Context, requestID string) (*domain.SignatureRequest, error) {
	if _, _, err := rbac.Caller(ctx); err != nil {
		return nil, err
	}
	req, err := o.resolver.ByID(ctx, requestID)
	if errors.Is(err, signature.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}
	if _, err := rbac.RequireRequesterOrAdmin(ctx, req.RequesterID); err != nil {
		return nil, err
	}
	return req, nil
}
