package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
)

const decisionQuery = "data.signature.otp.decision"

// Default Rego policy; equivalent to DefaultDecision.
const defaultRegoPolicy = `package signature.otp

default allow := false
default deny_reason := ""

cooling_down if {
	input.seconds_since_last_issue >= 0
	input.seconds_since_last_issue < input.cooldown_seconds
}

limit_reached if {
	input.max_issues > 0
	input.issue_count >= input.max_issues
}

allow if {
	not cooling_down
	not limit_reached
}

deny_reason := "cooldown" if {
	cooling_down
}

deny_reason := "issue_limit" if {
	not cooling_down
	limit_reached
}

decision := {"allow": allow, "reason": deny_reason}
`

// OPAEvaluator evaluates OTP issuance with an in-process OPA Rego policy. On evaluation
// failure it logs and falls back to DefaultDecision so a broken policy never locks signers out.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
	log   *zap.Logger
}

// NewOPAEvaluator compiles policy (the default policy when empty) and prepares the decision query.
func NewOPAEvaluator(ctx context.Context, policy string, log *zap.Logger) (*OPAEvaluator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if policy == "" {
		policy = defaultRegoPolicy
	}
	q, err := prepare(ctx, policy)
	if err != nil {
		return nil, err
	}
	return &OPAEvaluator{query: q, log: log}, nil
}

// LoadPolicyFile reads a Rego module from path. An empty path returns the default policy.
func LoadPolicyFile(path string) (string, error) {
	if path == "" {
		return defaultRegoPolicy, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read policy: %w", err)
	}
	return string(b), nil
}

// NewOPAEvaluatorFromFile loads the Rego module at path and compiles it. An empty path
// compiles the default policy, so the server always evaluates issuance through OPA.
func NewOPAEvaluatorFromFile(ctx context.Context, path string, log *zap.Logger) (*OPAEvaluator, error) {
	policy, err := LoadPolicyFile(path)
	if err != nil {
		return nil, err
	}
	return NewOPAEvaluator(ctx, policy, log)
}

func prepare(ctx context.Context, policy string) (rego.PreparedEvalQuery, error) {
	compiler, err := ast.CompileModules(map[string]string{"otp_issuance.rego": policy})
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("compile policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(decisionQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("prepare policy: %w", err)
	}
	return q, nil
}

// HealthCheck verifies that the default policy compiles and evaluates. Does not touch the database.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	q, err := prepare(ctx, defaultRegoPolicy)
	if err != nil {
		return err
	}
	_, err = evalDecision(ctx, q, IssuanceInput{SinceLastIssue: -1, Cooldown: 0, IssueCount: 0, MaxIssues: 1})
	return err
}

// EvaluateIssuance evaluates the configured policy for in.
func (e *OPAEvaluator) EvaluateIssuance(ctx context.Context, in IssuanceInput) (IssuanceDecision, error) {
	d, err := evalDecision(ctx, e.query, in)
	if err != nil {
		e.log.Warn("policy: evaluation failed, using defaults", zap.Error(err))
		return DefaultDecision(in), nil
	}
	return d, nil
}

func evalDecision(ctx context.Context, q rego.PreparedEvalQuery, in IssuanceInput) (IssuanceDecision, error) {
	since := -1.0
	if in.SinceLastIssue >= 0 {
		since = in.SinceLastIssue.Seconds()
	}
	input := map[string]interface{}{
		"seconds_since_last_issue": since,
		"cooldown_seconds":         in.Cooldown.Seconds(),
		"issue_count":              in.IssueCount,
		"max_issues":               in.MaxIssues,
	}
	rs, err := q.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return IssuanceDecision{}, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return IssuanceDecision{}, errors.New("policy query returned no result")
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return IssuanceDecision{}, errors.New("policy decision is not an object")
	}
	var out IssuanceDecision
	switch v := obj["allow"].(type) {
	case bool:
		out.Allow = v
	default:
		return IssuanceDecision{}, errors.New("policy decision has no boolean allow")
	}
	switch v := obj["reason"].(type) {
	case string:
		out.Reason = v
	case json.Number:
		out.Reason = v.String()
	}
	return out, nil
}
