package security

import (
	"testing"
	"time"
)

func TestTokenProvider_IssueAndValidateAccess(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, exp, err := p.IssueAccess("user-1", "admin")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if token == "" {
		t.Fatal("access token empty")
	}
	if exp.Before(time.Now()) {
		t.Fatal("expires at in the past")
	}
	uid, role, err := p.ValidateAccess(token)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if uid != "user-1" || role != "admin" {
		t.Errorf("ValidateAccess: got userID=%q role=%q", uid, role)
	}
}

func TestTokenProvider_ValidateAccessInvalid(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	if _, _, err := p.ValidateAccess("invalid-token"); err != ErrInvalidToken {
		t.Errorf("ValidateAccess invalid token: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_ValidateAccessExpired(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, _, err := p.IssueAccess("user-1", "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	p.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	if _, _, err := p.ValidateAccess(token); err != ErrInvalidToken {
		t.Errorf("expired token: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_WrongIssuerRejected(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, _, err := p.IssueAccess("user-1", "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	other := NewTokenProvider(p.privateKey, p.publicKey, "other-issuer", "test-audience", time.Minute, time.Minute)
	if _, _, err := other.ValidateAccess(token); err != ErrInvalidToken {
		t.Errorf("wrong issuer: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_ViewerSession(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, sid, err := p.IssueViewerSession("req-1")
	if err != nil {
		t.Fatalf("IssueViewerSession: %v", err)
	}
	got, err := p.ValidateViewerSession(token, "req-1")
	if err != nil {
		t.Fatalf("ValidateViewerSession: %v", err)
	}
	if got != sid {
		t.Errorf("session id = %q, want %q", got, sid)
	}
	if _, err := p.ValidateViewerSession(token, "req-2"); err != ErrInvalidToken {
		t.Errorf("other request: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_ViewerSessionIsNotAccessToken(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, _, err := p.IssueViewerSession("req-1")
	if err != nil {
		t.Fatalf("IssueViewerSession: %v", err)
	}
	if _, _, err := p.ValidateAccess(token); err != ErrInvalidToken {
		t.Errorf("viewer token as access: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_EphemeralKeys(t *testing.T) {
	signer, pub, err := GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatalf("GenerateEphemeralKeyPair: %v", err)
	}
	p := NewTokenProvider(signer, pub, "iss", "aud", time.Minute, time.Minute)
	token, _, err := p.IssueAccess("u", "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if uid, _, err := p.ValidateAccess(token); err != nil || uid != "u" {
		t.Errorf("ValidateAccess = %q, %v", uid, err)
	}
}
