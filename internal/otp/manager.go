package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docsign-engine/backend/internal/devotp"
	"docsign-engine/backend/internal/otp/domain"
	"docsign-engine/backend/internal/otp/repository"
	"docsign-engine/backend/internal/policy/engine"
	"docsign-engine/backend/internal/security"
	sigdomain "docsign-engine/backend/internal/signature/domain"
)

// Defaults applied by NewManager to zero Config fields.
const (
	DefaultTTL         = 10 * time.Minute
	DefaultCooldown    = 60 * time.Second
	DefaultMaxAttempts = 5
	DefaultMaxIssues   = 10
	DefaultSendTimeout = 10 * time.Second
)

// ErrTooManyRequests is matched by every issuance refusal (cooldown or issue cap).
var ErrTooManyRequests = errors.New("too many otp requests")

// RateLimitError carries why issuance was refused and when the caller may retry.
type RateLimitError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many otp requests: %s", e.Reason)
}

// Is lets errors.Is(err, ErrTooManyRequests) match.
func (e *RateLimitError) Is(target error) bool { return target == ErrTooManyRequests }

// Outcome is the precise result of a verification. Clients only ever see success or a
// generic failure; the precise value goes to the audit trail.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeWrongCode         Outcome = "wrong_code"
	OutcomeExpired           Outcome = "expired"
	OutcomeLockedOut         Outcome = "locked_out"
	OutcomeNoActiveChallenge Outcome = "no_active_challenge"
	OutcomeAlreadyConsumed   Outcome = "already_consumed"
)

// Delivery is one code email handed to a CodeSender.
type Delivery struct {
	RequestID     string
	To            string
	SignerName    string
	DocumentTitle string
	Code          string
	ExpiresAt     time.Time
}

// CodeSender delivers a plaintext code to the signer. Implementations must not log the code.
type CodeSender interface {
	SendCode(ctx context.Context, d Delivery) error
}

// Config holds OTP limits.
type Config struct {
	TTL         time.Duration
	Cooldown    time.Duration
	MaxAttempts int
	MaxIssues   int
	SendTimeout time.Duration
}

// Issued describes a freshly issued challenge. Delivered is false when the email could not be
// sent; the challenge stays valid in that case.
type Issued struct {
	ChallengeID string
	MaskedEmail string
	ExpiresAt   time.Time
	Delivered   bool
	DeliveryErr error
}

// Verification is the result of checking a submitted code.
type Verification struct {
	Outcome     Outcome
	ChallengeID string
	Attempts    int
}

// Manager issues, stores and verifies OTP challenges.
type Manager struct {
	repo   repository.Repository
	hasher *security.Hasher
	sender CodeSender
	policy engine.Evaluator
	dev    devotp.Store
	cfg    Config
	now    func() time.Time
	log    *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithDevStore also records plaintext codes in a dev-only store.
func WithDevStore(s devotp.Store) Option { return func(m *Manager) { m.dev = s } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

// NewManager returns a Manager. policy may be nil, in which case engine.DefaultDecision applies.
func NewManager(repo repository.Repository, hasher *security.Hasher, sender CodeSender, policy engine.Evaluator, cfg Config, opts ...Option) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxIssues <= 0 {
		cfg.MaxIssues = DefaultMaxIssues
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	m := &Manager{
		repo:   repo,
		hasher: hasher,
		sender: sender,
		policy: policy,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// MaxAttempts returns the per-challenge attempt cap.
func (m *Manager) MaxAttempts() int { return m.cfg.MaxAttempts }

// CheckIssuance returns a *RateLimitError when req may not receive a new code yet.
func (m *Manager) CheckIssuance(ctx context.Context, req *sigdomain.SignatureRequest) error {
	now := m.now()
	in := engine.IssuanceInput{
		SinceLastIssue: -1,
		Cooldown:       m.cfg.Cooldown,
		IssueCount:     req.OTPIssueCount,
		MaxIssues:      m.cfg.MaxIssues,
	}
	if req.LastOTPIssuedAt != nil {
		in.SinceLastIssue = now.Sub(*req.LastOTPIssuedAt)
		if in.SinceLastIssue < 0 {
			in.SinceLastIssue = 0
		}
	}
	decision := engine.DefaultDecision(in)
	if m.policy != nil {
		d, err := m.policy.EvaluateIssuance(ctx, in)
		if err != nil {
			return fmt.Errorf("evaluate issuance: %w", err)
		}
		decision = d
	}
	if decision.Allow {
		return nil
	}
	rl := &RateLimitError{Reason: decision.Reason}
	if decision.Reason == engine.ReasonCooldown && in.SinceLastIssue >= 0 {
		rl.RetryAfter = m.cfg.Cooldown - in.SinceLastIssue
	}
	return rl
}

// Issue creates a new challenge for req (superseding any active one) and emails the code.
// A delivery failure is reported in Issued, not as an error.
func (m *Manager) Issue(ctx context.Context, req *sigdomain.SignatureRequest) (*Issued, error) {
	code, err := GenerateCode()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	hash, err := m.hasher.Hash([]byte(code))
	if err != nil {
		return nil, fmt.Errorf("hash code: %w", err)
	}
	now := m.now()
	c := &domain.Challenge{
		ID:        uuid.New().String(),
		RequestID: req.ID,
		CodeHash:  hash,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.cfg.TTL),
	}
	if err := m.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}
	if m.dev != nil {
		m.dev.Put(ctx, req.ID, code, c.ExpiresAt)
	}

	out := &Issued{ChallengeID: c.ID, MaskedEmail: MaskEmail(req.SignerEmail), ExpiresAt: c.ExpiresAt}
	out.DeliveryErr = m.deliver(ctx, Delivery{
		RequestID:     req.ID,
		To:            req.SignerEmail,
		SignerName:    req.SignerName,
		DocumentTitle: req.DocumentTitle,
		Code:          code,
		ExpiresAt:     c.ExpiresAt,
	})
	out.Delivered = out.DeliveryErr == nil
	if out.DeliveryErr != nil {
		m.log.Warn("otp: delivery failed", zap.String("request_id", req.ID), zap.Error(out.DeliveryErr))
	}
	return out, nil
}

// deliver sends on a context detached from the caller's cancellation and bounded by SendTimeout.
func (m *Manager) deliver(ctx context.Context, d Delivery) error {
	if m.sender == nil {
		return errors.New("no code sender configured")
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.SendTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.sender.SendCode(sendCtx, d) }()
	select {
	case err := <-done:
		return err
	case <-sendCtx.Done():
		return fmt.Errorf("send code: %w", sendCtx.Err())
	}
}

// Verify checks code and, on a match, consumes the challenge so it cannot be reused.
func (m *Manager) Verify(ctx context.Context, requestID, code string) (Verification, error) {
	v, err := m.Check(ctx, requestID, code)
	if err != nil || v.Outcome != OutcomeSuccess {
		return v, err
	}
	return m.Consume(ctx, requestID, v)
}

// Check compares code against the active challenge of requestID without consuming it. Every
// check against a live challenge uses up an attempt, whether or not the code matches; once the
// cap is reached the code is not compared at all. OutcomeSuccess from Check means the code
// matched; the caller must Consume the challenge once it has acted on the match.
func (m *Manager) Check(ctx context.Context, requestID, code string) (Verification, error) {
	c, err := m.repo.GetActive(ctx, requestID)
	if err != nil {
		return Verification{}, fmt.Errorf("load challenge: %w", err)
	}
	if c == nil {
		return Verification{Outcome: OutcomeNoActiveChallenge}, nil
	}
	v := Verification{ChallengeID: c.ID, Attempts: c.AttemptCount}
	if c.Expired(m.now()) {
		v.Outcome = OutcomeExpired
		return v, nil
	}
	if c.AttemptCount >= m.cfg.MaxAttempts {
		v.Outcome = OutcomeLockedOut
		return v, nil
	}
	n, err := m.repo.RecordAttempt(ctx, c.ID, m.cfg.MaxAttempts)
	switch {
	case errors.Is(err, repository.ErrAttemptsExhausted):
		v.Outcome = OutcomeLockedOut
		return v, nil
	case errors.Is(err, repository.ErrNotActive):
		v.Outcome = OutcomeAlreadyConsumed
		return v, nil
	case err != nil:
		return Verification{}, fmt.Errorf("record attempt: %w", err)
	}
	v.Attempts = n
	if !WellFormedCode(code) || m.hasher.Compare(c.CodeHash, []byte(code)) != nil {
		v.Outcome = OutcomeWrongCode
		return v, nil
	}
	v.Outcome = OutcomeSuccess
	return v, nil
}

// Consume marks the challenge matched by Check as used. If another caller consumed or
// superseded it first, the outcome becomes OutcomeAlreadyConsumed.
func (m *Manager) Consume(ctx context.Context, requestID string, v Verification) (Verification, error) {
	if err := m.repo.Consume(ctx, v.ChallengeID, m.now()); err != nil {
		if errors.Is(err, repository.ErrNotActive) {
			v.Outcome = OutcomeAlreadyConsumed
			return v, nil
		}
		return Verification{}, fmt.Errorf("consume challenge: %w", err)
	}
	if m.dev != nil {
		m.dev.Forget(ctx, requestID)
	}
	return v, nil
}

// History returns every challenge issued for requestID, oldest first.
func (m *Manager) History(ctx context.Context, requestID string) ([]*domain.Challenge, error) {
	return m.repo.ListByRequest(ctx, requestID)
}
