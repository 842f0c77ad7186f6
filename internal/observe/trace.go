package observe

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/lexicdys"

// Span attributes for practice drills.
const (
	AttrDrillID     = attribute.Key("lexicdys.drill.id")
	AttrContentType = attribute.Key("lexicdys.content.type")
	AttrItems       = attribute.Key("lexicdys.drill.items")
)

// Tracer returns the Lexicdys tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartDrillSpan starts the span covering one live practice connection over
// a set of items of the given content type.
func StartDrillSpan(ctx context.Context, drillID, contentType string, items int) (context.Context, trace.Span) {
	return StartSpan(ctx, "practice "+contentType,
		trace.WithAttributes(
			AttrDrillID.String(drillID),
			AttrContentType.String(contentType),
			AttrItems.Int(items),
		),
	)
}

// EndSpan ends span, marking it failed when err is set. Cancellation is a
// normal way for a drill to end and is not recorded.
func EndSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID is the trace ID of the span in ctx, or "" without one. It is
// echoed in the X-Correlation-ID response header.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, tagged with trace_id and span_id when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
