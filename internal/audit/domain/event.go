package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// EventType names what happened to a signature request.
type EventType string

const (
	EventCreated            EventType = "CREATED"
	EventViewed             EventType = "VIEWED"
	EventOTPRequested       EventType = "OTP_REQUESTED"
	EventOTPRequestRefused  EventType = "OTP_REQUEST_REFUSED"
	EventOTPIssueFailed     EventType = "OTP_ISSUE_FAILED"
	EventOTPDeliveryFailed  EventType = "OTP_DELIVERY_FAILED"
	EventOTPVerifyFailed    EventType = "OTP_VERIFY_FAILED"
	EventOTPVerifySucceeded EventType = "OTP_VERIFY_SUCCEEDED"
	EventSigned             EventType = "SIGNED"
	EventDeclined           EventType = "DECLINED"
	EventExpired            EventType = "EXPIRED"
	EventCancelled          EventType = "CANCELLED"
	EventTransitionRejected EventType = "TRANSITION_REJECTED"
	EventIntegrityViolation EventType = "INTEGRITY_VIOLATION"
	EventTokenRejected      EventType = "TOKEN_REJECTED"
)

// Actor kinds.
const (
	ActorSigner   = "signer"
	ActorInternal = "internal"
	ActorSystem   = "system"
)

// Actor identifies who triggered an event.
type Actor struct {
	Kind      string
	ID        string
	IP        string
	UserAgent string
}

// Event is one append-only audit record (stored in audit_events). Events of one request form a
// hash chain: Hash covers the event's content and PrevHash, the Hash of the previous event.
type Event struct {
	ID         string
	RequestID  string
	Seq        int64
	Type       EventType
	OccurredAt time.Time
	Actor      Actor
	// Metadata is canonical JSON (object keys sorted).
	Metadata json.RawMessage
	PrevHash string
	Hash     string
}

// CanonicalMetadata encodes m as JSON with sorted keys; nil and empty maps encode as "{}".
func CanonicalMetadata(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

// Recanonicalize re-encodes raw through a generic map so that JSON that went through a store
// (e.g. Postgres jsonb) hashes the same as when it was written.
func Recanonicalize(raw []byte) (json.RawMessage, error) {
	if len(raw) == 0 {
		return json.RawMessage("{}"), nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return CanonicalMetadata(m)
}

// Seal links e after the event whose hash is prevHash and computes e.Hash.
// OccurredAt is truncated to microseconds, the precision it is stored with.
func (e *Event) Seal(prevHash string, seq int64) {
	e.OccurredAt = e.OccurredAt.UTC().Truncate(time.Microsecond)
	e.PrevHash = prevHash
	e.Seq = seq
	e.Hash = e.ComputeHash()
}

// ComputeHash returns the hex SHA-256 over the chained fields of e.
func (e *Event) ComputeHash() string {
	parts := []string{
		e.PrevHash,
		e.RequestID,
		strconv.FormatInt(e.Seq, 10),
		string(e.Type),
		e.OccurredAt.UTC().Format(time.RFC3339Nano),
		e.Actor.Kind,
		e.Actor.ID,
		e.Actor.IP,
		e.Actor.UserAgent,
		string(e.Metadata),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// VerifyChain reports the index of the first event whose link or hash is wrong, or -1 if the
// sequence (ordered by Seq) is intact.
func VerifyChain(events []*Event) int {
	prev := ""
	for i, e := range events {
		if e.PrevHash != prev || e.Seq != int64(i+1) || e.ComputeHash() != e.Hash {
			return i
		}
		prev = e.Hash
	}
	return -1
}
