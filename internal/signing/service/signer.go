package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	auditdomain "docsign-engine/backend/internal/audit/domain"
	"docsign-engine/backend/internal/metrics"
	"docsign-engine/backend/internal/otp"
	"docsign-engine/backend/internal/signature/domain"
	sigrepo "docsign-engine/backend/internal/signature/repository"
)

// StatusView is what a signer may see about a request. It never carries codes or hashes.
type StatusView struct {
	DocumentType      string
	DocumentTitle     string
	SignerName        string
	Status            domain.Status
	ExpiresAt         time.Time
	SignedAt          *time.Time
	DeclineReason     *string
	SignedDocumentURL string
}

func viewOf(r *domain.SignatureRequest) *StatusView {
	v := &StatusView{
		DocumentType:      r.DocumentType,
		DocumentTitle:     r.DocumentTitle,
		SignerName:        r.SignerName,
		Status:            r.Status,
		ExpiresAt:         r.ExpiresAt,
		SignedAt:          r.SignedAt,
		SignedDocumentURL: r.SignedDocumentURL,
	}
	if r.DeclineReason != nil && *r.DeclineReason != "" {
		v.DeclineReason = r.DeclineReason
	}
	return v
}

// StatusResult is returned by GetStatus. SessionToken is set when a new viewing session started;
// the caller hands it back on later polls.
type StatusResult struct {
	View         *StatusView
	SessionToken string
}

// OTPResult is returned by RequestOTP. Delivered is false when the email could not be sent; the
// code exists regardless.
type OTPResult struct {
	MaskedEmail string
	ExpiresAt   time.Time
	Delivered   bool
}

// GetStatus resolves token, applies lazy expiry and returns the signer view. VIEWED is recorded
// once per viewing session: a valid sessionToken for the same request suppresses it.
func (o *Orchestrator) GetStatus(ctx context.Context, token, sessionToken string) (res *StatusResult, err error) {
	ctx, span := o.startSpan(ctx, "GetStatus")
	defer func() { endSpan(span, err) }()

	req, err := o.resolve(ctx, token, "get_status")
	if err != nil {
		return nil, err
	}
	if req, err = o.settle(ctx, req); err != nil {
		return nil, err
	}
	if !req.Status.Terminal() && req.DocumentHash == "" {
		o.captureHash(ctx, req)
	}

	res = &StatusResult{View: viewOf(req)}
	if sessionToken != "" {
		if _, verr := o.tokens.ValidateViewerSession(sessionToken, req.ID); verr == nil {
			return res, nil
		}
	}
	tok, sessionID, err := o.tokens.IssueViewerSession(req.ID)
	if err != nil {
		return nil, fmt.Errorf("issue viewer session: %w", err)
	}
	res.SessionToken = tok
	o.record(ctx, req.ID, auditdomain.EventViewed, map[string]any{
		"session_id": sessionID,
		"status":     string(req.Status),
	})
	return res, nil
}

// captureHash stores the document hash on first view for requests created without one.
// Failures are logged; the view itself still succeeds.
func (o *Orchestrator) captureHash(ctx context.Context, req *domain.SignatureRequest) {
	if o.documents == nil {
		return
	}
	_, hash, err := o.documents.FetchContentAndHash(ctx, req.DocumentURL)
	if err != nil {
		o.log.Warn("document hash not captured", zap.String("request_id", req.ID), zap.Error(err))
		return
	}
	if err := o.requests.SetDocumentHashIfEmpty(ctx, req.ID, hash); err != nil {
		o.log.Warn("document hash not stored", zap.String("request_id", req.ID), zap.Error(err))
		return
	}
	req.DocumentHash = hash
}

// RequestOTP issues a new code for the signer, subject to the cooldown and the per-request issue
// cap. The issuance is reserved on the request row first, so two concurrent callers cannot both
// send a code.
func (o *Orchestrator) RequestOTP(ctx context.Context, token string) (res *OTPResult, err error) {
	ctx, span := o.startSpan(ctx, "RequestOTP")
	defer func() { endSpan(span, err) }()

	req, err := o.resolve(ctx, token, "request_otp")
	if err != nil {
		return nil, err
	}
	if req, err = o.settle(ctx, req); err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, o.rejectTerminal(ctx, req, "request_otp")
	}
	if err := o.otp.CheckIssuance(ctx, req); err != nil {
		return nil, o.refused(ctx, req, err)
	}

	reserved, err := o.machine.FireOnce(ctx, req, domain.EventRequestOTP, domain.ApplyOptions{})
	switch {
	case errors.Is(err, sigrepo.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		fresh, rerr := o.reload(ctx, req.ID)
		if rerr != nil {
			return nil, rerr
		}
		if fresh, rerr = o.settle(ctx, fresh); rerr != nil {
			return nil, rerr
		}
		if fresh.Status.Terminal() {
			return nil, o.rejectTerminal(ctx, fresh, "request_otp")
		}
		if cerr := o.otp.CheckIssuance(ctx, fresh); cerr != nil {
			return nil, o.refused(ctx, fresh, cerr)
		}
		return nil, o.refused(ctx, fresh, &otp.RateLimitError{Reason: "concurrent_request"})
	case err != nil:
		return nil, fmt.Errorf("reserve issuance: %w", err)
	}

	issued, err := o.otp.Issue(ctx, reserved)
	if err != nil {
		// The reservation already counts against the cooldown and the issue cap.
		o.record(ctx, req.ID, auditdomain.EventOTPIssueFailed, map[string]any{
			"issue_count": reserved.OTPIssueCount,
			"error":       err.Error(),
		})
		return nil, fmt.Errorf("issue code: %w", err)
	}
	o.record(ctx, req.ID, auditdomain.EventOTPRequested, map[string]any{
		"challenge_id": issued.ChallengeID,
		"masked_email": issued.MaskedEmail,
		"issue_count":  reserved.OTPIssueCount,
		"delivered":    issued.Delivered,
	})
	delivery := "delivered"
	if !issued.Delivered {
		delivery = "failed"
		o.record(ctx, req.ID, auditdomain.EventOTPDeliveryFailed, map[string]any{
			"challenge_id": issued.ChallengeID,
			"error":        issued.DeliveryErr.Error(),
		})
	}
	metrics.OTPIssuedTotal.WithLabelValues(delivery).Inc()
	return &OTPResult{MaskedEmail: issued.MaskedEmail, ExpiresAt: issued.ExpiresAt, Delivered: issued.Delivered}, nil
}

// refused records an issuance refusal and returns it unchanged. Other errors from the policy
// check are wrapped and not audited.
func (o *Orchestrator) refused(ctx context.Context, req *domain.SignatureRequest, err error) error {
	var rl *otp.RateLimitError
	if !errors.As(err, &rl) {
		return fmt.Errorf("check issuance: %w", err)
	}
	metrics.OTPIssuanceRefusedTotal.WithLabelValues(rl.Reason).Inc()
	o.log.Info("otp issuance refused", zap.String("request_id", req.ID), zap.String("reason", rl.Reason))
	o.record(ctx, req.ID, auditdomain.EventOTPRequestRefused, map[string]any{
		"reason":              rl.Reason,
		"retry_after_seconds": int(rl.RetryAfter / time.Second),
		"issue_count":         req.OTPIssueCount,
	})
	return err
}

// VerifyAndSign checks code and, on a match, re-checks the document hash and moves the request
// to SIGNED. Every failed check surfaces as ErrInvalidCode; the precise outcome is audited only.
// The challenge is consumed after the SIGNED write, so a concurrent caller that finds it
// consumed always finds the request already signed.
func (o *Orchestrator) VerifyAndSign(ctx context.Context, token, code string) (view *StatusView, err error) {
	ctx, span := o.startSpan(ctx, "VerifyAndSign")
	defer func() { endSpan(span, err) }()

	req, err := o.resolve(ctx, token, "verify")
	if err != nil {
		return nil, err
	}
	if req, err = o.settle(ctx, req); err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, o.rejectTerminal(ctx, req, "verify")
	}

	v, err := o.otp.Check(ctx, req.ID, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("check code: %w", err)
	}
	metrics.OTPVerificationsTotal.WithLabelValues(string(v.Outcome)).Inc()
	if v.Outcome != otp.OutcomeSuccess {
		return nil, o.verifyFailed(ctx, req, v, string(v.Outcome))
	}
	o.record(ctx, req.ID, auditdomain.EventOTPVerifySucceeded, map[string]any{
		"challenge_id": v.ChallengeID,
		"attempts":     v.Attempts,
	})

	if err := o.checkIntegrity(ctx, req, v); err != nil {
		return nil, err
	}

	signed, err := o.machine.FireOnce(ctx, req, domain.EventVerifySuccess, domain.ApplyOptions{SignedDocumentURL: req.DocumentURL})
	switch {
	case errors.Is(err, sigrepo.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		// Finalized by someone else, or a resend replaced the challenge after the check.
		return nil, o.verifyFailed(ctx, req, v, "superseded")
	case err != nil:
		return nil, fmt.Errorf("sign request: %w", err)
	}

	if _, err := o.otp.Consume(ctx, req.ID, v); err != nil {
		o.log.Warn("challenge not consumed after signing", zap.String("request_id", req.ID), zap.Error(err))
	}
	o.record(ctx, req.ID, auditdomain.EventSigned, map[string]any{
		"challenge_id":  v.ChallengeID,
		"attempts":      v.Attempts,
		"document_hash": signed.DocumentHash,
	})
	o.finalized(ctx, signed, "", "signer")
	return viewOf(signed), nil
}

// RejectVerifyInput audits a verify call whose body was refused before any code check, so the
// trail still shows the attempt. reason is the error code returned to the caller. The challenge
// attempt counter is not touched.
func (o *Orchestrator) RejectVerifyInput(ctx context.Context, token, reason string) (err error) {
	ctx, span := o.startSpan(ctx, "RejectVerifyInput")
	defer func() { endSpan(span, err) }()

	req, err := o.resolve(ctx, token, "verify")
	if err != nil {
		return err
	}
	metrics.OTPVerificationsTotal.WithLabelValues("malformed_input").Inc()
	o.record(ctx, req.ID, auditdomain.EventOTPVerifyFailed, map[string]any{
		"outcome": "malformed_input",
		"reason":  reason,
	})
	return nil
}

// verifyFailed records the precise outcome, then reports the request's terminal status if it
// was finalized meanwhile and the generic code error otherwise.
func (o *Orchestrator) verifyFailed(ctx context.Context, req *domain.SignatureRequest, v otp.Verification, outcome string) error {
	o.record(ctx, req.ID, auditdomain.EventOTPVerifyFailed, map[string]any{
		"outcome":      outcome,
		"attempts":     v.Attempts,
		"max_attempts": o.otp.MaxAttempts(),
		"challenge_id": v.ChallengeID,
	})
	fresh, err := o.reload(ctx, req.ID)
	if err != nil {
		return err
	}
	if fresh, err = o.settle(ctx, fresh); err != nil {
		return err
	}
	if fresh.Status.Terminal() {
		return o.rejectTerminal(ctx, fresh, "verify")
	}
	return ErrInvalidCode
}

// checkIntegrity compares the current document hash with the one captured when the request was
// sent. A mismatch burns the matched code and is never retried.
func (o *Orchestrator) checkIntegrity(ctx context.Context, req *domain.SignatureRequest, v otp.Verification) error {
	if o.documents == nil {
		return nil
	}
	_, current, err := o.documents.FetchContentAndHash(ctx, req.DocumentURL)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}
	if req.DocumentHash == "" {
		if err := o.requests.SetDocumentHashIfEmpty(ctx, req.ID, current); err != nil {
			return fmt.Errorf("store document hash: %w", err)
		}
		fresh, err := o.reload(ctx, req.ID)
		if err != nil {
			return err
		}
		req.DocumentHash = fresh.DocumentHash
	}
	if current == req.DocumentHash {
		return nil
	}
	metrics.IntegrityViolationsTotal.Inc()
	o.log.Error("document integrity violation",
		zap.String("request_id", req.ID),
		zap.String("expected_hash", req.DocumentHash),
		zap.String("actual_hash", current),
	)
	o.record(ctx, req.ID, auditdomain.EventIntegrityViolation, map[string]any{
		"expected_hash": req.DocumentHash,
		"actual_hash":   current,
		"challenge_id":  v.ChallengeID,
	})
	if _, err := o.otp.Consume(ctx, req.ID, v); err != nil {
		o.log.Warn("challenge not consumed after integrity violation", zap.String("request_id", req.ID), zap.Error(err))
	}
	return ErrIntegrityViolation
}

// Decline moves the request to DECLINED with the optional reason stored verbatim.
func (o *Orchestrator) Decline(ctx context.Context, token, reason string) (view *StatusView, err error) {
	ctx, span := o.startSpan(ctx, "Decline")
	defer func() { endSpan(span, err) }()

	req, err := o.resolve(ctx, token, "decline")
	if err != nil {
		return nil, err
	}
	if req, err = o.settle(ctx, req); err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, o.rejectTerminal(ctx, req, "decline")
	}

	declined, err := o.machine.Fire(ctx, req, domain.EventDecline, domain.ApplyOptions{DeclineReason: reason})
	if errors.Is(err, domain.ErrInvalidTransition) {
		fresh, serr := o.settle(ctx, declined)
		if serr != nil {
			return nil, serr
		}
		return nil, o.rejectTerminal(ctx, fresh, "decline")
	}
	if err != nil {
		return nil, fmt.Errorf("decline request: %w", err)
	}

	meta := map[string]any{}
	if reason != "" {
		meta["reason"] = reason
	}
	o.record(ctx, req.ID, auditdomain.EventDeclined, meta)
	o.finalized(ctx, declined, reason, "signer")
	return viewOf(declined), nil
}

// DevOTP returns the last plaintext code issued for token. Only wired when the dev store is
// enabled, which configuration forbids in production.
func (o *Orchestrator) DevOTP(ctx context.Context, token string) (string, error) {
	if o.dev == nil {
		return "", ErrNotFound
	}
	req, err := o.resolver.Resolve(ctx, token)
	if err != nil {
		return "", ErrNotFound
	}
	code, ok := o.dev.Get(ctx, req.ID)
	if !ok {
		return "", ErrNotFound
	}
	return code, nil
}
