// Package telemetry publishes lifecycle events to downstream sinks (Kafka, OTel logs).
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"docsign-engine/backend/internal/telemetry/domain"
)

// emitTimeout is the max time allowed for a single async emit. Used by Async and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long shutdown waits for in-flight emits before closing sinks.
// Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EventEmitter emits lifecycle events. Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.LifecycleEvent) error
}

// Multi fans an event out to every non-nil emitter and joins their errors.
type Multi []EventEmitter

func (m Multi) Emit(ctx context.Context, event *domain.LifecycleEvent) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async runs emits in goroutines so request handlers are not blocked.
type Async struct {
	emitter EventEmitter
	log     *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsync returns an Async over emitter. emitter may be nil; then Emit is a no-op.
func NewAsync(emitter EventEmitter, log *zap.Logger) *Async {
	if log == nil {
		log = zap.NewNop()
	}
	return &Async{emitter: emitter, log: log, timeout: emitTimeout}
}

// Emit starts a goroutine that emits event on a context detached from ctx's cancellation and
// bounded by the emit timeout. Errors are logged.
func (a *Async) Emit(ctx context.Context, event *domain.LifecycleEvent) {
	if a == nil || a.emitter == nil || event == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.emitter.Emit(emitCtx, event); err != nil {
			a.log.Warn("telemetry: async emit failed",
				zap.String("request_id", event.RequestID),
				zap.String("event_type", event.EventType),
				zap.Error(err),
			)
		}
	}()
}

// Drain waits up to d for in-flight emits. Reports whether all finished.
func (a *Async) Drain(d time.Duration) bool {
	if a == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
