package handler

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	auditdomain "docsign-engine/backend/internal/audit/domain"
	"docsign-engine/backend/internal/signature/domain"
	"docsign-engine/backend/internal/signing/service"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns the first failed rule into a field name and message.
func validationError(err error) (field, message string) {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "", err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field(), fmt.Sprintf("field '%s' is required", fe.Field())
	case "email":
		return fe.Field(), fmt.Sprintf("field '%s' must be a valid email address", fe.Field())
	case "url":
		return fe.Field(), fmt.Sprintf("field '%s' must be an absolute url", fe.Field())
	case "max":
		return fe.Field(), fmt.Sprintf("field '%s' must be at most %s characters long", fe.Field(), fe.Param())
	default:
		return fe.Field(), fmt.Sprintf("field '%s' validation failed on tag '%s'", fe.Field(), fe.Tag())
	}
}

// VerifyRequest is the body of POST /sign/{token}/verify. The code format is not validated
// here: a malformed code counts as a failed attempt like any wrong code.
type VerifyRequest struct {
	OTP string `json:"otp" validate:"required,max=32"`
}

// DeclineRequest is the optional body of POST /sign/{token}/decline.
type DeclineRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// CreateRequest is the body of POST /internal/requests.
type CreateRequest struct {
	DocumentType  string     `json:"documentType" validate:"required,max=100"`
	DocumentTitle string     `json:"documentTitle" validate:"required,max=300"`
	DocumentURL   string     `json:"documentUrl" validate:"required,url,max=2048"`
	SignerName    string     `json:"signerName" validate:"required,max=200"`
	SignerEmail   string     `json:"signerEmail" validate:"required,email,max=320"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// StatusResponse is the signer-facing status payload.
type StatusResponse struct {
	DocumentType      string     `json:"documentType"`
	DocumentTitle     string     `json:"documentTitle"`
	SignerName        string     `json:"signerName"`
	Status            string     `json:"status"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	SignedAt          *time.Time `json:"signedAt,omitempty"`
	DeclineReason     *string    `json:"declineReason,omitempty"`
	SignedDocumentURL string     `json:"signedDocumentUrl,omitempty"`
}

func statusResponse(v *service.StatusView) StatusResponse {
	return StatusResponse{
		DocumentType:      v.DocumentType,
		DocumentTitle:     v.DocumentTitle,
		SignerName:        v.SignerName,
		Status:            string(v.Status),
		ExpiresAt:         v.ExpiresAt,
		SignedAt:          v.SignedAt,
		DeclineReason:     v.DeclineReason,
		SignedDocumentURL: v.SignedDocumentURL,
	}
}

// OTPResponse is returned by POST /sign/{token}/request-otp. Delivered is false when the email
// could not be sent; the signer may request a new code after the cooldown.
type OTPResponse struct {
	MaskedEmailHint string    `json:"maskedEmailHint"`
	ExpiresAt       time.Time `json:"expiresAt"`
	Delivered       bool      `json:"delivered"`
}

// CreateResponse is returned once by POST /internal/requests.
type CreateResponse struct {
	ID          string    `json:"id"`
	PublicToken string    `json:"publicToken"`
	SigningURL  string    `json:"signingUrl"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// RequestResponse is the internal view of a request.
type RequestResponse struct {
	ID                string     `json:"id"`
	DocumentType      string     `json:"documentType"`
	DocumentTitle     string     `json:"documentTitle"`
	DocumentURL       string     `json:"documentUrl"`
	DocumentHash      string     `json:"documentHash,omitempty"`
	SignerName        string     `json:"signerName"`
	SignerEmail       string     `json:"signerEmail"`
	RequesterID       string     `json:"requesterId"`
	Status            string     `json:"status"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	SignedAt          *time.Time `json:"signedAt,omitempty"`
	DeclineReason     *string    `json:"declineReason,omitempty"`
	SignedDocumentURL string     `json:"signedDocumentUrl,omitempty"`
	FinalizedAt       *time.Time `json:"finalizedAt,omitempty"`
	OTPIssueCount     int        `json:"otpIssueCount"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func requestResponse(r *domain.SignatureRequest) RequestResponse {
	return RequestResponse{
		ID:                r.ID,
		DocumentType:      r.DocumentType,
		DocumentTitle:     r.DocumentTitle,
		DocumentURL:       r.DocumentURL,
		DocumentHash:      r.DocumentHash,
		SignerName:        r.SignerName,
		SignerEmail:       r.SignerEmail,
		RequesterID:       r.RequesterID,
		Status:            string(r.Status),
		ExpiresAt:         r.ExpiresAt,
		SignedAt:          r.SignedAt,
		DeclineReason:     r.DeclineReason,
		SignedDocumentURL: r.SignedDocumentURL,
		FinalizedAt:       r.FinalizedAt,
		OTPIssueCount:     r.OTPIssueCount,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// AuditEventResponse is one audit event as returned to internal callers.
type AuditEventResponse struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	ActorKind  string          `json:"actorKind"`
	ActorID    string          `json:"actorId,omitempty"`
	ActorIP    string          `json:"actorIp,omitempty"`
	UserAgent  string          `json:"userAgent,omitempty"`
	Metadata   json.RawMessage `json:"metadata"`
	PrevHash   string          `json:"prevHash"`
	Hash       string          `json:"hash"`
}

// AuditTrailResponse is returned by GET /internal/requests/{id}/audit.
type AuditTrailResponse struct {
	Events     []AuditEventResponse `json:"events"`
	ChainValid bool                 `json:"chainValid"`
}

func auditTrailResponse(t *service.Trail) AuditTrailResponse {
	out := AuditTrailResponse{Events: make([]AuditEventResponse, 0, len(t.Events)), ChainValid: t.ChainValid}
	for _, e := range t.Events {
		out.Events = append(out.Events, auditEventResponse(e))
	}
	return out
}

func auditEventResponse(e *auditdomain.Event) AuditEventResponse {
	meta := e.Metadata
	if len(meta) == 0 {
		meta = json.RawMessage("{}")
	}
	return AuditEventResponse{
		ID:         e.ID,
		Seq:        e.Seq,
		Type:       string(e.Type),
		OccurredAt: e.OccurredAt,
		ActorKind:  e.Actor.Kind,
		ActorID:    e.Actor.ID,
		ActorIP:    e.Actor.IP,
		UserAgent:  e.Actor.UserAgent,
		Metadata:   meta,
		PrevHash:   e.PrevHash,
		Hash:       e.Hash,
	}
}
