package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsign-engine/backend/internal/audit"
	auditdomain "docsign-engine/backend/internal/audit/domain"
	auditrepo "docsign-engine/backend/internal/audit/repository"
	"docsign-engine/backend/internal/devotp"
	"docsign-engine/backend/internal/document"
	"docsign-engine/backend/internal/mail"
	"docsign-engine/backend/internal/otp"
	otpdomain "docsign-engine/backend/internal/otp/domain"
	otprepo "docsign-engine/backend/internal/otp/repository"
	"docsign-engine/backend/internal/security"
	"docsign-engine/backend/internal/server/middleware"
	"docsign-engine/backend/internal/signature/domain"
	sigrepo "docsign-engine/backend/internal/signature/repository"
	"docsign-engine/backend/internal/telemetry"
	teldomain "docsign-engine/backend/internal/telemetry/domain"
)

const docURL = "https://docs.example.com/lease.pdf"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type codeSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (s *codeSender) SendCode(ctx context.Context, d otp.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = map[string]string{}
	}
	s.codes[d.RequestID] = d.Code
	return s.err
}

func (s *codeSender) code(requestID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[requestID]
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []mail.Notice
}

func (n *noticeRecorder) SendNotice(ctx context.Context, notice mail.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *noticeRecorder) statuses() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, x := range n.notices {
		out = append(out, x.Status)
	}
	return out
}

type eventRecorder struct {
	mu     sync.Mutex
	events []*teldomain.LifecycleEvent
}

func (e *eventRecorder) Emit(ctx context.Context, ev *teldomain.LifecycleEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

type fixture struct {
	svc      *Orchestrator
	requests *sigrepo.MemoryRepository
	audit    *auditrepo.MemoryRepository
	docs     *document.MemoryStore
	sender   *codeSender
	notices  *noticeRecorder
	emitted  *eventRecorder
	events   *telemetry.Async
	dev      *devotp.MemoryStore
	clock    *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithChallenges(t, otprepo.NewMemoryRepository())
}

func newFixtureWithChallenges(t *testing.T, challenges otprepo.Repository) *fixture {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	tokens, err := security.NewTestTokenProvider()
	require.NoError(t, err)

	f := &fixture{
		requests: sigrepo.NewMemoryRepository(),
		audit:    auditrepo.NewMemoryRepository(),
		docs:     document.NewMemoryStore(),
		sender:   &codeSender{},
		notices:  &noticeRecorder{},
		emitted:  &eventRecorder{},
		dev:      devotp.NewMemoryStore(devotp.WithClock(clk.Now)),
		clock:    clk,
	}
	f.docs.Put(docURL, []byte("lease agreement v1"))
	f.events = telemetry.NewAsync(f.emitted, nil)
	manager := otp.NewManager(challenges, security.NewHasher(4), f.sender, nil, otp.Config{}, otp.WithClock(clk.Now), otp.WithDevStore(f.dev))
	f.svc = New(Deps{
		Requests:  f.requests,
		OTP:       manager,
		Audit:     audit.NewRecorder(f.audit, middleware.ActorFromContext, nil),
		Documents: f.docs,
		Tokens:    tokens,
		Notifier:  f.notices,
		Events:    f.events,
		DevOTP:    f.dev,
		Now:       clk.Now,
	}, Config{PublicBaseURL: "https://sign.example.com"})
	return f
}

func requesterCtx(userID string) context.Context {
	return middleware.WithIdentity(context.Background(), userID, "requester")
}

func (f *fixture) create(t *testing.T) *Created {
	t.Helper()
	c, err := f.svc.Create(requesterCtx("user-1"), CreateInput{
		DocumentType:  "lease",
		DocumentTitle: "Lease agreement",
		DocumentURL:   docURL,
		SignerName:    "Maria Rossi",
		SignerEmail:   "maria@example.com",
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) eventTypes(t *testing.T, requestID string) []auditdomain.EventType {
	t.Helper()
	events, err := f.audit.ListByRequest(context.Background(), requestID)
	require.NoError(t, err)
	out := make([]auditdomain.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func count(types []auditdomain.EventType, want auditdomain.EventType) int {
	n := 0
	for _, typ := range types {
		if typ == want {
			n++
		}
	}
	return n
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func requireTransitionError(t *testing.T, err error, want domain.Status) {
	t.Helper()
	require.ErrorIs(t, err, ErrInvalidTransition)
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	require.Equal(t, want, te.Status)
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)

	assert.Equal(t, domain.StatusPending, c.Request.Status)
	assert.Equal(t, f.clock.Now().Add(14*24*time.Hour), c.Request.ExpiresAt)
	assert.Equal(t, document.Hash([]byte("lease agreement v1")), c.Request.DocumentHash)
	assert.Equal(t, "https://sign.example.com/sign/"+c.PublicToken, c.SigningURL)
	assert.True(t, security.WellFormedPublicToken(c.PublicToken))
	assert.Equal(t, security.HashPublicToken(c.PublicToken), c.Request.PublicTokenHash)
	assert.Equal(t, []auditdomain.EventType{auditdomain.EventCreated}, f.eventTypes(t, c.Request.ID))
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	past := f.clock.Now().Add(-time.Minute)
	valid := CreateInput{
		DocumentType: "lease", DocumentTitle: "Lease", DocumentURL: docURL,
		SignerName: "Maria", SignerEmail: "maria@example.com",
	}

	tests := []struct {
		name   string
		mutate func(in *CreateInput)
	}{
		{"expiry in the past", func(in *CreateInput) { in.ExpiresAt = &past }},
		{"relative document url", func(in *CreateInput) { in.DocumentURL = "/lease.pdf" }},
		{"unknown document", func(in *CreateInput) { in.DocumentURL = "https://docs.example.com/missing.pdf" }},
		{"blank signer name", func(in *CreateInput) { in.SignerName = "  " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := f.svc.Create(requesterCtx("user-1"), in)
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	_, err := f.svc.Create(context.Background(), valid)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

// Created 14 days out, one code requested and entered correctly within its lifetime.
func TestScenarioA_SignWithCorrectCode(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)
	ctx := context.Background()

	res, err := f.svc.GetStatus(ctx, c.PublicToken, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, res.View.Status)

	hint, err := f.svc.RequestOTP(ctx, c.PublicToken)
	require.NoError(t, err)
	assert.Equal(t, "m***@example.com", hint.MaskedEmail)
	assert.True(t, hint.Delivered)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), hint.ExpiresAt)

	f.clock.Advance(9 * time.Minute)
	view, err := f.svc.VerifyAndSign(ctx, c.PublicToken, f.sender.code(c.Request.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSigned, view.Status)
	require.NotNil(t, view.SignedAt)
	assert.Equal(t, docURL, view.SignedDocumentURL)

	types := f.eventTypes(t, c.Request.ID)
	assert.Equal(t, 1, count(types, auditdomain.EventSigned))
	assert.Equal(t, 1, count(types, auditdomain.EventOTPRequested))
	assert.Equal(t, 1, count(types, auditdomain.EventOTPVerifySucceeded))

	require.True(t, f.events.Drain(2*time.Second))
	require.Len(t, f.emitted.events, 1)
	assert.Equal(t, "signature_request.signed", f.emitted.events[0].EventType)
	assert.Eventually(t, func() bool { return len(f.notices.statuses()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"SIGNED"}, f.notices.statuses())
}

// Five wrong codes exhaust the challenge; the sixth attempt fails even with the right code.
func TestScenarioB_LockoutAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)
	ctx := context.Background()

	_, err := f.svc.RequestOTP(ctx, c.PublicToken)
	require.NoError(t, err)
	code := f.sender.code(c.Request.ID)

	for i := 0; i < 5; i++ {
		_, err := f.svc.VerifyAndSign(ctx, c.PublicToken, wrongCode(code))
		require.ErrorIs(t, err, ErrInvalidCode)
	}
	_, err = f.svc.VerifyAndSign(ctx, c.PublicToken, code)
	require.ErrorIs(t, err, ErrInvalidCode)

	events, err := f.audit.ListByRequest(ctx, c.Request.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, auditdomain.EventOTPVerifyFailed, last.Type)
	assert.Contains(t, string(last.Metadata), `"outcome":"locked_out"`)

	res, err := f.svc.GetStatus(ctx, c.PublicToken, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOTPIssued, res.View.Status)

	// A new code resets the per-challenge attempts.
	f.clock.Advance(61 * time.Second)
	_, err = f.svc.RequestOTP(ctx, c.PublicToken)
	require.NoError(t, err)
	view, err := f.svc.VerifyAndSign(ctx, c.PublicToken, f.sender.code(c.Request.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSigned, view.Status)
}

// A request past its deadline reads as EXPIRED and refuses every write.
func TestScenarioC_ExpiredRequest(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)
	ctx := context.Background()
	f.clock.Advance(15 * 24 * time.Hour)

	res, err := f.svc.GetStatus(ctx, c.PublicToken, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, res.View.Status)

	_, err = f.svc.RequestOTP(ctx, c.PublicToken)
	requireTransitionError(t, err, domain.StatusExpired)
	_, err = f.svc.VerifyAndSign(ctx, c.PublicToken, "123456")
	requireTransitionError(t, err, domain.StatusExpired)
	_, err = f.svc.Decline(ctx, c.PublicToken, "")
	requireTransitionError(t, err, domain.StatusExpired)

	types := f.eventTypes(t, c.Request.ID)
	assert.Equal(t, 1, count(types, auditdomain.EventExpired))
	assert.Equal(t, 3, count(types, auditdomain.EventTransitionRejected))
}

func TestScenarioD_Decline(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)
	ctx := context.Background()

	view, err := f.svc.Decline(ctx, c.PublicToken, "cliente non disponibile")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeclined, view.Status)
	require.NotNil(t, view.DeclineReason)
	assert.Equal(t, "cliente non disponibile", *view.DeclineReason)

	_, err = f.svc.VerifyAndSign(ctx, c.PublicToken, "123456")
	requireTransitionError(t, err, domain.StatusDeclined)

	types := f.eventTypes(t, c.Request.ID)
	assert.Equal(t, 1, count(types, auditdomain.EventDeclined))

	stored, err := f.requests.GetByID(ctx, c.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, "cliente non disponibile", *stored.DeclineReason)
}

func TestVerifyAndSign_ConcurrentCallersSignOnce(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t)
		c := f.create(t)
		ctx := context.Background()
		_, err := f.svc.RequestOTP(ctx, c.PublicToken)
		require.NoError(t, err)
		code := f.sender.code(c.Request.ID)

		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.svc.VerifyAndSign(ctx, c.PublicToken, code)
			}(i)
		}
		wg.Wait()

		var signed, rejected int
		for _, err := range errs {
			switch {
			case err == nil:
				signed++
			case errors.Is(err, ErrInvalidTransition):
				rejected++
			default:
				t.Fatalf("round %d: unexpected error %v", round, err)
			}
		}
		assert.Equal(t, 1, signed, "round %d", round)
		assert.Equal(t, 1, rejected, "round %d", round)
		assert.Equal(t, 1, count(f.eventTypes(t, c.Request.ID), auditdomain.EventSigned), "round %d", round)
	}
}

func TestVerifyAndSign_CodeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	a := f.create(t)
	ctx := context.Background()
	_, err := f.svc.RequestOTP(ctx, a.PublicToken)
	require.NoError(t, err)
	code := f.sender.code(a.Request.ID)

	f.docs.Put(docURL, []byte("lease agreement v2"))
	_, err = f.svc.VerifyAndSign(ctx, a.PublicToken, code)
	require.ErrorIs(t, err, ErrIntegrityViolation)

	f.docs.Put(docURL, []byte("lease agreement v1"))
	_, err = f.svc.VerifyAndSign(ctx, a.PublicToken, code)
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestVerifyAndSign_IntegrityViolation(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)
	ctx := context.Background()
	_, err := f.svc.RequestOTP(ctx, c.PublicToken)
	require.NoError(t, err)

	f.docs.Put(docURL, []byte("tampered"))
	_, err = f.svc.VerifyAndSign(ctx, c.PublicToken, f.sender.code(c.Request.ID))
	require.ErrorIs(t, err, ErrIntegrityViolation)

	stored, err := f.requests.GetByID(ctx, c.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOTPIssued, stored.Status)
	assert.Nil(t, stored.SignedAt)

	types := f.eventTypes(t, c.Request.ID)
	assert.Equal(t, 1, count(types, auditdomain.EventOTPVerifySucceeded))
	assert.Equal(t, 1, count(types, auditdomain.EventIntegrityViolation))
	assert.Zero(t, count(types, auditdomain.EventSigned))
}

func TestUnknownTokensAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.create(t)
	ctx := context.Background()
	unknown, err := security.GeneratePublicToken()
	require.NoError(t, err)

	for _, token := range []string{unknown, "short", "", strings.Repeat("!", 43)} {
		_, err := f.svc.GetStatus(ctx, token, "")
		assert.Equal(t, ErrNotFound, err)
		_, err = f.svc.RequestOTP(ctx, token)
		assert.Equal(t, ErrNotFound, err)
		_, err = f.svc.VerifyAndSign(ctx, token, "123456")
		assert.Equal(t, ErrNotFound, err)
		_, err = f.svc.Decline(ctx, token, "")
		assert.Equal(t, ErrNotFound, err)
	}
	assert.Equal(t, 16, count(f.eventTypes(t, audit.SentinelRequestID), auditdomain.EventTokenRejected))
}

func TestRequestOTP_Cooldown(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)
	ctx := context.Background()

	_, err := f.svc.RequestOTP(ctx, c.PublicToken)
	require.NoError(t, err)
	f.clock.Advance(20 * time.Second)
	_, err = f.svc.RequestOTP(ctx, c.PublicToken)
	require.ErrorIs(t, err, ErrTooManyRequests)
	var rl *otp.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 40*time.Second, rl.RetryAfter)

	events, err := f.audit.ListByRequest(ctx, c.Request.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, auditdomain.EventOTPRequestRefused, last.Type)
	assert.Contains(t, string(last.Metadata), `"reason":"cooldown"`)
	assert.Contains(t, string(last.Metadata), `"retry_after_seconds":40`)

	f.clock.Advance(41 * time.Second)
	_, err = f.svc.RequestOTP(ctx, c.PublicToken)
	require.NoError(t, err)

	stored, err := f.requests.GetByID(ctx, c.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.OTPIssueCount)
}

func TestRequestOTP_IssueCapIsAudited(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)
	ctx := context.Background()

	for i := 0; i < otp.DefaultMaxIssues; i++ {
		_, err := f.svc.RequestOTP(ctx, c.PublicToken)
		require.NoError(t, err, "issue %d", i+1)
		f.clock.Advance(61 * time.Second)
	}
	before := len(f.eventTypes(t, c.Request.ID))

	_, err := f.svc.RequestOTP(ctx, c.PublicToken)
	var rl *otp.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, "issue_limit", rl.Reason)

	events, err := f.audit.ListByRequest(ctx, c.Request.ID)
	require.NoError(t, err)
	require.Len(t, events, before+1)
	refused := events[len(events)-1]
	assert.Equal(t, auditdomain.EventOTPRequestRefused, refused.Type)
	assert.Contains(t, string(refused.Metadata), `"reason":"issue_limit"`)
	assert.Contains(t, string(refused.Metadata), `"issue_count":10`)
}

// failingChallenges refuses to store new challenges.
type failingChallenges struct {
	*otprepo.MemoryRepository
}

func (failingChallenges) Create(ctx context.Context, c *otpdomain.Challenge) error {
	return errors.New("challenge store unavailable")
}

func TestRequestOTP_IssueFailureIsAudited(t *testing.T) {
	f := newFixtureWithChallenges(t, failingChallenges{otprepo.NewMemoryRepository()})
	c := f.create(t)
	ctx := context.Background()

	_, err := f.svc.RequestOTP(ctx, c.PublicToken)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTooManyRequests)

	types := f.eventTypes(t, c.Request.ID)
	assert.Equal(t, 1, count(types, auditdomain.EventOTPIssueFailed))
	assert.Zero(t, count(types, auditdomain.EventOTPRequested))
	assert.Empty(t, f.sender.code(c.Request.ID))

	stored, err := f.requests.GetByID(ctx, c.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.OTPIssueCount)
}

func TestRejectVerifyInput(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)
	ctx := context.Background()
	_, err := f.svc.RequestOTP(ctx, c.PublicToken)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		require.NoError(t, f.svc.RejectVerifyInput(ctx, c.PublicToken, "BAD_JSON"))
	}
	events, err := f.audit.ListByRequest(ctx, c.Request.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, auditdomain.EventOTPVerifyFailed, last.Type)
	assert.Contains(t, string(last.Metadata), `"outcome":"malformed_input"`)
	assert.Contains(t, string(last.Metadata), `"reason":"BAD_JSON"`)

	// Malformed bodies never reach the challenge, so the code still has all its attempts.
	view, err := f.svc.VerifyAndSign(ctx, c.PublicToken, f.sender.code(c.Request.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSigned, view.Status)

	err = f.svc.RejectVerifyInput(ctx, "unknown-token", "VALIDATION_ERROR")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, count(f.eventTypes(t, audit.SentinelRequestID), auditdomain.EventTokenRejected))
}

func TestRequestOTP_DeliveryFailureIsDegradedSuccess(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("smtp down")
	c := f.create(t)
	ctx := context.Background()

	res, err := f.svc.RequestOTP(ctx, c.PublicToken)
	require.NoError(t, err)
	assert.False(t, res.Delivered)
	assert.Equal(t, 1, count(f.eventTypes(t, c.Request.ID), auditdomain.EventOTPDeliveryFailed))

	view, err := f.svc.VerifyAndSign(ctx, c.PublicToken, f.sender.code(c.Request.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSigned, view.Status)
}

func TestGetStatus_ViewedOncePerSession(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)
	ctx := context.Background()

	first, err := f.svc.GetStatus(ctx, c.PublicToken, "")
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionToken)

	for i := 0; i < 3; i++ {
		again, err := f.svc.GetStatus(ctx, c.PublicToken, first.SessionToken)
		require.NoError(t, err)
		assert.Empty(t, again.SessionToken)
	}
	assert.Equal(t, 1, count(f.eventTypes(t, c.Request.ID), auditdomain.EventViewed))

	other, err := f.svc.GetStatus(ctx, c.PublicToken, "not-a-session")
	require.NoError(t, err)
	assert.NotEmpty(t, other.SessionToken)
	assert.Equal(t, 2, count(f.eventTypes(t, c.Request.ID), auditdomain.EventViewed))
}

func TestGetStatus_DoesNotMutateFinalFields(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)
	ctx := context.Background()
	_, err := f.svc.Decline(ctx, c.PublicToken, "no")
	require.NoError(t, err)
	before, err := f.requests.GetByID(ctx, c.Request.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		f.clock.Advance(30 * 24 * time.Hour)
		res, err := f.svc.GetStatus(ctx, c.PublicToken, "")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusDeclined, res.View.Status)
	}
	after, err := f.requests.GetByID(ctx, c.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, *before.DeclineReason, *after.DeclineReason)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)

	_, err := f.svc.Cancel(requesterCtx("someone-else"), c.Request.ID)
	require.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Cancel(requesterCtx("user-1"), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	out, err := f.svc.Cancel(requesterCtx("user-1"), c.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, out.Status)
	require.NotNil(t, out.FinalizedAt)

	_, err = f.svc.Cancel(requesterCtx("user-1"), c.Request.ID)
	requireTransitionError(t, err, domain.StatusCancelled)
	_, err = f.svc.VerifyAndSign(context.Background(), c.PublicToken, "123456")
	requireTransitionError(t, err, domain.StatusCancelled)
}

func TestCancel_RacesWithSign(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)
	ctx := context.Background()
	_, err := f.svc.RequestOTP(ctx, c.PublicToken)
	require.NoError(t, err)
	code := f.sender.code(c.Request.ID)

	var wg sync.WaitGroup
	var signErr, cancelErr error
	wg.Add(2)
	go func() { defer wg.Done(); _, signErr = f.svc.VerifyAndSign(ctx, c.PublicToken, code) }()
	go func() { defer wg.Done(); _, cancelErr = f.svc.Cancel(requesterCtx("user-1"), c.Request.ID) }()
	wg.Wait()

	assert.True(t, (signErr == nil) != (cancelErr == nil), "sign=%v cancel=%v", signErr, cancelErr)
	types := f.eventTypes(t, c.Request.ID)
	assert.Equal(t, 1, count(types, auditdomain.EventSigned)+count(types, auditdomain.EventCancelled))
}

func TestAuditTrail(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)
	ctx := context.Background()
	_, err := f.svc.GetStatus(ctx, c.PublicToken, "")
	require.NoError(t, err)
	_, err = f.svc.Decline(ctx, c.PublicToken, "")
	require.NoError(t, err)

	admin := middleware.WithIdentity(context.Background(), "ops", "admin")
	trail, err := f.svc.AuditTrail(admin, c.Request.ID)
	require.NoError(t, err)
	assert.True(t, trail.ChainValid)
	require.Len(t, trail.Events, 3)
	assert.Equal(t, auditdomain.EventCreated, trail.Events[0].Type)
	assert.Equal(t, auditdomain.EventDeclined, trail.Events[2].Type)

	_, err = f.svc.AuditTrail(requesterCtx("intruder"), c.Request.ID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestExpireOverdue(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)
	ctx := context.Background()

	expired, err := f.svc.ExpireOverdue(ctx, c.Request)
	require.NoError(t, err)
	assert.False(t, expired)

	f.clock.Advance(15 * 24 * time.Hour)
	expired, err = f.svc.ExpireOverdue(ctx, c.Request)
	require.NoError(t, err)
	assert.True(t, expired)
	expired, err = f.svc.ExpireOverdue(ctx, c.Request)
	require.NoError(t, err)
	assert.False(t, expired)

	assert.Equal(t, 1, count(f.eventTypes(t, c.Request.ID), auditdomain.EventExpired))
}

func TestDevOTP(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)
	ctx := context.Background()

	_, err := f.svc.DevOTP(ctx, c.PublicToken)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.RequestOTP(ctx, c.PublicToken)
	require.NoError(t, err)
	code, err := f.svc.DevOTP(ctx, c.PublicToken)
	require.NoError(t, err)
	assert.Equal(t, f.sender.code(c.Request.ID), code)

	f.clock.Advance(10 * time.Minute)
	_, err = f.svc.DevOTP(ctx, c.PublicToken)
	require.ErrorIs(t, err, ErrNotFound)
}
