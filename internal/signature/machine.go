package signature

import (
	"context"
	"errors"
	"time"

	"docsign-engine/backend/internal/signature/domain"
	"docsign-engine/backend/internal/signature/repository"
)

// maxFireAttempts bounds reload-and-retry after a lost conditional write.
const maxFireAttempts = 3

// Machine performs lifecycle transitions as read, guard, conditional write. Two callers racing
// on the same request cannot both leave the same status: the loser reloads and re-evaluates.
type Machine struct {
	repo repository.Repository
	now  func() time.Time
}

// NewMachine returns a Machine over repo. now may be nil (defaults to time.Now in UTC).
func NewMachine(repo repository.Repository, now func() time.Time) *Machine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Machine{repo: repo, now: now}
}

// Fire applies ev to cur and persists it. After a lost race it reloads and retries while the
// event is still allowed. If the fresh row no longer admits ev, the fresh row is returned with
// domain.ErrInvalidTransition so callers can report the status that won.
func (m *Machine) Fire(ctx context.Context, cur *domain.SignatureRequest, ev domain.Event, opts domain.ApplyOptions) (*domain.SignatureRequest, error) {
	for attempt := 0; attempt < maxFireAttempts; attempt++ {
		next, err := m.FireOnce(ctx, cur, ev, opts)
		if !errors.Is(err, repository.ErrConflict) {
			if err != nil {
				return cur, err
			}
			return next, nil
		}
		fresh, err := m.repo.GetByID(ctx, cur.ID)
		if err != nil {
			return cur, err
		}
		if fresh == nil {
			return cur, ErrNotFound
		}
		cur = fresh
	}
	return cur, repository.ErrConflict
}

// FireOnce applies ev to cur with a single conditional write and no retry. Returns
// repository.ErrConflict when cur is stale.
func (m *Machine) FireOnce(ctx context.Context, cur *domain.SignatureRequest, ev domain.Event, opts domain.ApplyOptions) (*domain.SignatureRequest, error) {
	next, err := domain.Apply(cur, ev, opts, m.now())
	if err != nil {
		return nil, err
	}
	if err := m.repo.UpdateIfUnchanged(ctx, next, cur.Status, cur.Version); err != nil {
		return nil, err
	}
	return next, nil
}

// ExpireIfDue moves an overdue request to EXPIRED. expired is true only for the caller whose
// write took effect, so exactly one caller records the expiry.
func (m *Machine) ExpireIfDue(ctx context.Context, cur *domain.SignatureRequest) (out *domain.SignatureRequest, expired bool, err error) {
	if !cur.Overdue(m.now()) {
		return cur, false, nil
	}
	next, err := m.Fire(ctx, cur, domain.EventExpire, domain.ApplyOptions{})
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Someone else finalized it first.
		return next, false, nil
	}
	if err != nil {
		return cur, false, err
	}
	return next, true, nil
}

// Now returns the machine clock.
func (m *Machine) Now() time.Time {
	return m.now()
}
