package engine

import (
	"context"
	"time"
)

// Deny reasons produced by issuance policies.
const (
	ReasonCooldown   = "cooldown"
	ReasonIssueLimit = "issue_limit"
)

// IssuanceInput describes one OTP issuance attempt for a signature request.
type IssuanceInput struct {
	// SinceLastIssue is the time since the previous code was issued; negative when none was.
	SinceLastIssue time.Duration
	Cooldown       time.Duration
	IssueCount     int
	MaxIssues      int
}

// IssuanceDecision is the policy verdict for an issuance attempt.
type IssuanceDecision struct {
	Allow  bool
	Reason string
}

// Evaluator decides whether a new OTP may be issued for a signature request.
type Evaluator interface {
	EvaluateIssuance(ctx context.Context, in IssuanceInput) (IssuanceDecision, error)
}

// DefaultDecision applies the built-in issuance rules without a policy engine: a cooldown
// between codes and a cap on codes per request.
func DefaultDecision(in IssuanceInput) IssuanceDecision {
	if in.SinceLastIssue >= 0 && in.SinceLastIssue < in.Cooldown {
		return IssuanceDecision{Allow: false, Reason: ReasonCooldown}
	}
	if in.MaxIssues > 0 && in.IssueCount >= in.MaxIssues {
		return IssuanceDecision{Allow: false, Reason: ReasonIssueLimit}
	}
	return IssuanceDecision{Allow: true}
}
