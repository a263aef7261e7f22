package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/user_agent"
	"go.uber.org/zap"

	"docsign-engine/backend/internal/audit/domain"
	auditrepo "docsign-engine/backend/internal/audit/repository"
)

// SentinelRequestID is the request_id used for events that cannot be tied to a request
// (e.g. a public token that resolves to nothing).
const SentinelRequestID = "_unresolved"

// ActorExtractor returns the actor of the current request from its context.
type ActorExtractor func(context.Context) domain.Actor

// Recorder appends audit events for signature requests.
type Recorder struct {
	repo    auditrepo.Repository
	actorOf ActorExtractor
	log     *zap.Logger
	now     func() time.Time
}

// NewRecorder returns a Recorder that persists to repo. actorOf may be nil; then events are
// attributed to the system actor.
func NewRecorder(repo auditrepo.Repository, actorOf ActorExtractor, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		repo:    repo,
		actorOf: actorOf,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record appends one event for requestID. Empty requestID is recorded under SentinelRequestID.
// Browser and platform derived from the actor's user agent are added to metadata.
func (r *Recorder) Record(ctx context.Context, requestID string, typ domain.EventType, metadata map[string]any) error {
	actor := domain.Actor{Kind: domain.ActorSystem}
	if r.actorOf != nil {
		actor = r.actorOf(ctx)
	}
	if requestID == "" {
		requestID = SentinelRequestID
	}
	meta := make(map[string]any, len(metadata)+4)
	for k, v := range metadata {
		meta[k] = v
	}
	for k, v := range UserAgentSummary(actor.UserAgent) {
		if _, taken := meta[k]; !taken {
			meta[k] = v
		}
	}
	raw, err := domain.CanonicalMetadata(meta)
	if err != nil {
		return fmt.Errorf("audit metadata: %w", err)
	}
	if raw, err = domain.Recanonicalize(raw); err != nil {
		return fmt.Errorf("audit metadata: %w", err)
	}
	e := &domain.Event{
		ID:         uuid.New().String(),
		RequestID:  requestID,
		Type:       typ,
		OccurredAt: r.now(),
		Actor:      actor,
		Metadata:   raw,
	}
	if err := r.repo.Append(ctx, e); err != nil {
		return fmt.Errorf("audit append %s: %w", typ, err)
	}
	r.log.Debug("audit event recorded",
		zap.String("request_id", requestID),
		zap.String("event_type", string(typ)),
		zap.Int64("seq", e.Seq),
	)
	return nil
}

// Trail returns the events of requestID and whether their hash chain verifies.
func (r *Recorder) Trail(ctx context.Context, requestID string) ([]*domain.Event, bool, error) {
	events, err := r.repo.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, false, err
	}
	return events, domain.VerifyChain(events) == -1, nil
}

// UserAgentSummary extracts browser, OS and device flags from a User-Agent header. It returns
// nil for an empty header.
func UserAgentSummary(header string) map[string]any {
	if header == "" {
		return nil
	}
	ua := user_agent.New(header)
	name, version := ua.Browser()
	out := map[string]any{
		"ua_bot":    ua.Bot(),
		"ua_mobile": ua.Mobile(),
	}
	if name != "" {
		browser := name
		if version != "" {
			browser += " " + version
		}
		out["ua_browser"] = browser
	}
	if os := ua.OS(); os != "" {
		out["ua_os"] = os
	}
	return out
}
