package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"docsign-engine/backend/internal/telemetry/domain"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*domain.LifecycleEvent
	emitErr error
	delay   time.Duration
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *domain.LifecycleEvent) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*domain.LifecycleEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.LifecycleEvent(nil), m.events...)
}

func signedEvent() *domain.LifecycleEvent {
	return &domain.LifecycleEvent{RequestID: "req-1", EventType: "SIGNED", Status: "SIGNED", OccurredAt: time.Now()}
}

func TestAsync_NilEmitterAndEvent(t *testing.T) {
	NewAsync(nil, nil).Emit(context.Background(), signedEvent())

	emitter := &mockEventEmitter{}
	a := NewAsync(emitter, nil)
	a.Emit(context.Background(), nil)
	if !a.Drain(time.Second) {
		t.Fatal("Drain should finish")
	}
	if n := len(emitter.getEvents()); n != 0 {
		t.Errorf("expected 0 events, got %d", n)
	}
}

func TestAsync_EmitsDespiteCancelledContext(t *testing.T) {
	emitter := &mockEventEmitter{delay: 10 * time.Millisecond}
	a := NewAsync(emitter, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a.Emit(ctx, signedEvent())
	if !a.Drain(time.Second) {
		t.Fatal("Drain should finish")
	}
	events := emitter.getEvents()
	if len(events) != 1 || events[0].RequestID != "req-1" {
		t.Fatalf("events = %v", events)
	}
}

func TestAsync_Timeout(t *testing.T) {
	emitter := &mockEventEmitter{delay: time.Second}
	a := NewAsync(emitter, nil)
	a.timeout = 20 * time.Millisecond

	a.Emit(context.Background(), signedEvent())
	if !a.Drain(500 * time.Millisecond) {
		t.Fatal("emit should be cut off by its timeout")
	}
	if n := len(emitter.getEvents()); n != 0 {
		t.Errorf("timed-out emit should not record, got %d", n)
	}
}

func TestAsync_Concurrent(t *testing.T) {
	emitter := &mockEventEmitter{}
	a := NewAsync(emitter, nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Emit(context.Background(), signedEvent())
		}()
	}
	wg.Wait()
	if !a.Drain(time.Second) {
		t.Fatal("Drain should finish")
	}
	if n := len(emitter.getEvents()); n != 10 {
		t.Errorf("expected 10 events, got %d", n)
	}
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ok := &mockEventEmitter{}
	failing := &mockEventEmitter{emitErr: errors.New("kafka down")}
	m := Multi{ok, nil, failing}

	err := m.Emit(context.Background(), signedEvent())
	if err == nil {
		t.Fatal("Multi should return the failing emitter's error")
	}
	if len(ok.getEvents()) != 1 || len(failing.getEvents()) != 1 {
		t.Error("every emitter should receive the event")
	}
}
