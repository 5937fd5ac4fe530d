package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/crankbench/internal/telemetry"
)

// StartRecordSpan starts the client span of one recorded operation. The span
// is named after the first dimension value of the record.
func StartRecordSpan(ctx context.Context, tracer trace.Tracer, name string, id telemetry.Identity) (context.Context, trace.Span) {
	if name == "" {
		name = "crankbench operation"
	}
	ctx, span := tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		AttrTest.String(id.TestName),
		AttrCycle.Int(id.Cycle),
		AttrCVUs.Int(id.CVUs),
		AttrThreadID.Int(id.ThreadID),
	)
	return ctx, span
}

// EndRecordSpan finishes a span with the outcome of the operation.
func EndRecordSpan(span trace.Span, outcome telemetry.Outcome, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(AttrOutcome.String(string(outcome)))
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
	}
	if outcome == telemetry.Successful {
		span.SetStatus(codes.Ok, "")
	} else {
		msg := string(outcome)
		if err != nil {
			msg = err.Error()
		}
		span.SetStatus(codes.Error, msg)
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
