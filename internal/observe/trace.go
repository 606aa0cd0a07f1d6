package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/monitorai"

// Tracer is the tracer of the global provider set by [InitProvider].
func Tracer() trace.Tracer { return otel.Tracer(tracerName) }

// StartSpan starts a span on [Tracer]. End it when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID is the hex trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type evaluationIDKey struct{}

// WithEvaluationID returns a copy of ctx carrying the evaluation ID, which
// [Logger] attaches to every record.
func WithEvaluationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, evaluationIDKey{}, id)
}

// EvaluationID returns the evaluation ID stored by [WithEvaluationID], or "".
func EvaluationID(ctx context.Context) string {
	id, _ := ctx.Value(evaluationIDKey{}).(string)
	return id
}

// Logger is slog.Default with the trace_id, span_id and evaluation_id found
// in ctx attached.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()), slog.String("span_id", sc.SpanID().String()))
	}
	if id := EvaluationID(ctx); id != "" {
		attrs = append(attrs, slog.String("evaluation_id", id))
	}
	if attrs == nil {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
