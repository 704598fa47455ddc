package hooks

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nerrad567/graysql/internal/infrastructure/database"
)

// TracingHook wraps each query in an OpenTelemetry client span.
type TracingHook struct {
	tracer trace.Tracer
}

// NewTracingHook creates a tracing hook. A nil tracer disables it.
func NewTracingHook(tracer trace.Tracer) *TracingHook {
	return &TracingHook{tracer: tracer}
}

// BeforeQuery starts the span and returns a context carrying it.
func (h *TracingHook) BeforeQuery(ctx context.Context, event *database.QueryEvent) context.Context {
	if h.tracer == nil {
		return ctx
	}

	op := OperationType(event.Query)
	ctx, _ = h.tracer.Start(ctx, "db."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(event.StartTime),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.name", event.DB),
			attribute.String("db.operation", op),
			attribute.String("db.statement", truncate(event.Query)),
		),
	)
	return ctx
}

// AfterQuery ends the span started by BeforeQuery.
func (h *TracingHook) AfterQuery(ctx context.Context, event *database.QueryEvent) {
	if h.tracer == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	defer span.End()

	if event.Err != nil {
		span.RecordError(event.Err)
		span.SetStatus(codes.Error, event.Err.Error())
		span.SetAttributes(attribute.String("db.error_kind", database.ErrorKind(event.Err)))
		return
	}

	span.SetAttributes(
		attribute.Int64("db.rows_affected", int64(event.RowsAffected)), //nolint:gosec // Row counts fit int64
		attribute.Int("db.rows", event.Rows),
	)
	span.SetStatus(codes.Ok, "")
}
