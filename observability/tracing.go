package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/rewind"

// Tracer provides OpenTelemetry tracing for Rewind.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Rewind tracer from the global provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// NewTracerFrom creates a tracer from an explicit provider.
func NewTracerFrom(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(tracerName)}
}

// StartIngestSpan starts a span for one batch ingestion.
func (t *Tracer) StartIngestSpan(ctx context.Context, batchID, sessionID string, events int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "rewind.ingest",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rewind.batch_id", batchID),
			attribute.String("rewind.session_id", sessionID),
			attribute.Int("rewind.events", events),
		),
	)
}

// EndIngestSpan ends an ingest span with result attributes.
func (t *Tracer) EndIngestSpan(span trace.Span, accepted, quarantined int, duplicate bool, err error) {
	span.SetAttributes(
		attribute.Int("rewind.accepted", accepted),
		attribute.Int("rewind.quarantined", quarantined),
		attribute.Bool("rewind.duplicate", duplicate),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// StartRebuildSpan starts a span for an error group rebuild.
func (t *Tracer) StartRebuildSpan(ctx context.Context, projectID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "rewind.signals.rebuild",
		trace.WithAttributes(attribute.String("rewind.project_id", projectID)),
	)
}
