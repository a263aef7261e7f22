package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	e, err := NewOPAEvaluator(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultPolicyMatchesDefaultDecision(t *testing.T) {
	e, err := NewOPAEvaluator(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	tests := []struct {
		name string
		in   IssuanceInput
		want IssuanceDecision
	}{
		{"first issue", IssuanceInput{SinceLastIssue: -1, Cooldown: time.Minute, IssueCount: 0, MaxIssues: 10},
			IssuanceDecision{Allow: true}},
		{"within cooldown", IssuanceInput{SinceLastIssue: 30 * time.Second, Cooldown: time.Minute, IssueCount: 1, MaxIssues: 10},
			IssuanceDecision{Allow: false, Reason: ReasonCooldown}},
		{"cooldown elapsed", IssuanceInput{SinceLastIssue: time.Minute, Cooldown: time.Minute, IssueCount: 1, MaxIssues: 10},
			IssuanceDecision{Allow: true}},
		{"issue cap", IssuanceInput{SinceLastIssue: time.Hour, Cooldown: time.Minute, IssueCount: 10, MaxIssues: 10},
			IssuanceDecision{Allow: false, Reason: ReasonIssueLimit}},
		{"cooldown wins over cap", IssuanceInput{SinceLastIssue: time.Second, Cooldown: time.Minute, IssueCount: 10, MaxIssues: 10},
			IssuanceDecision{Allow: false, Reason: ReasonCooldown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvaluateIssuance(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("EvaluateIssuance: %v", err)
			}
			if got != tt.want {
				t.Errorf("EvaluateIssuance = %+v, want %+v", got, tt.want)
			}
			if d := DefaultDecision(tt.in); d != tt.want {
				t.Errorf("DefaultDecision = %+v, want %+v", d, tt.want)
			}
		})
	}
}

func TestOPAEvaluator_CustomPolicy(t *testing.T) {
	custom := `package signature.otp

decision := {"allow": false, "reason": "maintenance"}
`
	e, err := NewOPAEvaluator(context.Background(), custom, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	got, err := e.EvaluateIssuance(context.Background(), IssuanceInput{SinceLastIssue: -1})
	if err != nil {
		t.Fatalf("EvaluateIssuance: %v", err)
	}
	if got.Allow || got.Reason != "maintenance" {
		t.Errorf("got %+v", got)
	}
}

func TestOPAEvaluator_MalformedDecisionFallsBack(t *testing.T) {
	custom := `package signature.otp

decision := "yes"
`
	e, err := NewOPAEvaluator(context.Background(), custom, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	in := IssuanceInput{SinceLastIssue: time.Second, Cooldown: time.Minute, MaxIssues: 5}
	got, err := e.EvaluateIssuance(context.Background(), in)
	if err != nil {
		t.Fatalf("EvaluateIssuance should not return error: %v", err)
	}
	if got != DefaultDecision(in) {
		t.Errorf("fallback = %+v, want %+v", got, DefaultDecision(in))
	}
}

func TestNewOPAEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package signature.otp\n\ninvalid syntax here\n", nil); err == nil {
		t.Fatal("invalid policy should fail to compile")
	}
}

func TestLoadPolicyFile(t *testing.T) {
	p, err := LoadPolicyFile("")
	if err != nil || p != defaultRegoPolicy {
		t.Fatalf("empty path should return default policy: %v", err)
	}
	path := filepath.Join(t.TempDir(), "p.rego")
	if err := os.WriteFile(path, []byte("package signature.otp\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err = LoadPolicyFile(path)
	if err != nil || p != "package signature.otp\n" {
		t.Fatalf("LoadPolicyFile = %q, %v", p, err)
	}
	if _, err := LoadPolicyFile(filepath.Join(t.TempDir(), "missing.rego")); err == nil {
		t.Fatal("missing file should error")
	}
}

func TestNewOPAEvaluatorFromFile(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluatorFromFile(ctx, "", nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluatorFromFile(\"\"): %v", err)
	}
	if err := e.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	got, err := e.EvaluateIssuance(ctx, IssuanceInput{SinceLastIssue: time.Second, Cooldown: time.Minute, IssueCount: 1, MaxIssues: 10})
	if err != nil || got.Allow || got.Reason != ReasonCooldown {
		t.Fatalf("EvaluateIssuance = %+v, %v, want cooldown refusal", got, err)
	}

	path := filepath.Join(t.TempDir(), "deny.rego")
	deny := "package signature.otp\n\ndecision := {\"allow\": false, \"reason\": \"issue_limit\"}\n"
	if err := os.WriteFile(path, []byte(deny), 0o600); err != nil {
		t.Fatal(err)
	}
	e, err = NewOPAEvaluatorFromFile(ctx, path, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluatorFromFile(file): %v", err)
	}
	got, err = e.EvaluateIssuance(ctx, IssuanceInput{SinceLastIssue: -1, Cooldown: time.Minute, MaxIssues: 10})
	if err != nil || got.Allow || got.Reason != ReasonIssueLimit {
		t.Fatalf("EvaluateIssuance = %+v, %v, want issue_limit refusal", got, err)
	}
	if _, err := NewOPAEvaluatorFromFile(ctx, filepath.Join(t.TempDir(), "missing.rego"), nil); err == nil {
		t.Fatal("missing policy file should fail")
	}
}
