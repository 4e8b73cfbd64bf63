package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the voice-bridge tracer.
const tracerName = "github.com/ghostengineai/glyphonic"

// Tracer returns the package-level [trace.Tracer]. It uses the globally
// registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx as
// 32 lowercase hex characters. Returns the empty string when no active span
// with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// ContextWithTraceID returns a context carrying a remote span context
// seeded from traceID, so that [StartSpan]/[CorrelationID]/[Logger] calls
// made against the returned context report a trace id derived from traceID
// (its hex form, see [SeedSpanContext]) rather than a freshly generated OTel
// trace id. Call sites use this once per call/session, right after computing
// traceID via [SeedTraceID], so every span opened for the rest of that
// call's lifetime carries the same trace id. Returns ctx unchanged if
// traceID cannot be turned into a valid trace id.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	sc, ok := SeedSpanContext(traceID)
	if !ok {
		return ctx
	}
	return trace.ContextWithSpanContext(ctx, sc)
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
