package domain

import (
	"errors"
	"time"
)

// ErrInvalidTransition is returned when an event is not allowed from the current status.
var ErrInvalidTransition = errors.New("invalid transition")

// Event drives a lifecycle transition.
type Event string

const (
	EventRequestOTP    Event = "REQUEST_OTP"
	EventVerifySuccess Event = "VERIFY_SUCCESS"
	EventDecline       Event = "DECLINE"
	EventExpire        Event = "EXPIRE"
	EventCancel        Event = "CANCEL"
)

// transitions lists, per event, the statuses it may fire from and the status it leads to.
var transitions = map[Event]struct {
	from []Status
	to   Status
}{
	EventRequestOTP:    {from: []Status{StatusPending, StatusOTPIssued}, to: StatusOTPIssued},
	EventVerifySuccess: {from: []Status{StatusPending, StatusOTPIssued}, to: StatusSigned},
	EventDecline:       {from: []Status{StatusPending, StatusOTPIssued}, to: StatusDeclined},
	EventExpire:        {from: []Status{StatusPending, StatusOTPIssued}, to: StatusExpired},
	EventCancel:        {from: []Status{StatusPending, StatusOTPIssued}, to: StatusCancelled},
}

// Next returns the status that ev leads to from current, or ErrInvalidTransition.
// Once expiresAt has passed, only EventExpire is accepted; Expire itself requires now >= expiresAt.
func Next(current Status, ev Event, expiresAt, now time.Time) (Status, error) {
	t, ok := transitions[ev]
	if !ok {
		return current, ErrInvalidTransition
	}
	allowed := false
	for _, s := range t.from {
		if s == current {
			allowed = true
			break
		}
	}
	if !allowed {
		return current, ErrInvalidTransition
	}
	deadlinePassed := !now.Before(expiresAt)
	if ev == EventExpire && !deadlinePassed {
		return current, ErrInvalidTransition
	}
	if ev != EventExpire && deadlinePassed {
		return current, ErrInvalidTransition
	}
	return t.to, nil
}

// Apply computes the next row for ev without persisting it. The returned request carries the
// new status and the fields the transition sets exactly once; r is left untouched.
func Apply(r *SignatureRequest, ev Event, opts ApplyOptions, now time.Time) (*SignatureRequest, error) {
	next, err := Next(r.Status, ev, r.ExpiresAt, now)
	if err != nil {
		return nil, err
	}
	out := r.Clone()
	out.Status = next
	out.UpdatedAt = now
	switch ev {
	case EventRequestOTP:
		out.OTPIssueCount++
		t := now
		out.LastOTPIssuedAt = &t
	case EventVerifySuccess:
		t := now
		out.SignedAt = &t
		if opts.SignedDocumentURL != "" {
			out.SignedDocumentURL = opts.SignedDocumentURL
		}
	case EventDecline:
		reason := opts.DeclineReason
		out.DeclineReason = &reason
	}
	if next.Terminal() {
		t := now
		out.FinalizedAt = &t
	}
	return out, nil
}

// ApplyOptions carries the per-event payload.
type ApplyOptions struct {
	DeclineReason     string
	SignedDocumentURL string
}
