package domain

import "time"

// Status is the lifecycle state of a signature request.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusOTPIssued Status = "OTP_ISSUED"
	StatusSigned    Status = "SIGNED"
	StatusDeclined  Status = "DECLINED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSigned, StatusDeclined, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusOTPIssued, StatusSigned, StatusDeclined, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// SignatureRequest is a single-signer request to accept a document (stored in signature_requests).
// The raw public token is never stored; PublicTokenHash is its SHA-256.
type SignatureRequest struct {
	ID                string
	PublicTokenHash   string
	DocumentType      string
	DocumentTitle     string
	DocumentURL       string
	SignedDocumentURL string
	DocumentHash      string
	SignerName        string
	SignerEmail       string
	RequesterID       string
	Status            Status
	ExpiresAt         time.Time
	SignedAt          *time.Time
	DeclineReason     *string
	FinalizedAt       *time.Time
	OTPIssueCount     int
	LastOTPIssuedAt   *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	// Version increments on every write and guards conditional updates.
	Version int64
}

// Overdue reports whether the request is non-terminal and its deadline has passed at now.
func (r *SignatureRequest) Overdue(now time.Time) bool {
	return !r.Status.Terminal() && !now.Before(r.ExpiresAt)
}

// Clone returns a deep copy so callers can mutate a candidate row without touching the original.
func (r *SignatureRequest) Clone() *SignatureRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.SignedAt = cloneTime(r.SignedAt)
	c.FinalizedAt = cloneTime(r.FinalizedAt)
	c.LastOTPIssuedAt = cloneTime(r.LastOTPIssuedAt)
	if r.DeclineReason != nil {
		s := *r.DeclineReason
		c.DeclineReason = &s
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
