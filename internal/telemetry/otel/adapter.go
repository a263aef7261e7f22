package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"docsign-engine/backend/internal/telemetry"
	"docsign-engine/backend/internal/telemetry/domain"
)

// recordEmitter is the subset of otellog.Logger used by the emitter.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends lifecycle events as OTel log records.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("docsign.lifecycle")}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.LifecycleEvent) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the event into a log record: the JSON event is the body, ids and status are attributes.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.LifecycleEvent) error {
	if event == nil {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	rec := otellog.Record{}
	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.BytesValue(body))
	rec.AddAttributes(
		otellog.String("request_id", event.RequestID),
		otellog.String("event_type", event.EventType),
		otellog.String("status", event.Status),
	)
	if event.Reason != "" {
		rec.AddAttributes(otellog.String("reason", event.Reason))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
