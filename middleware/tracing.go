package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ConvoSphere/DataExtract/job"
)

// tracerName is the instrumentation scope name for extraction tracing.
const tracerName = "github.com/ConvoSphere/DataExtract"

// Tracing returns middleware that wraps extraction in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through with zero
// overhead.
//
// Span attributes include: dataextract.job.id, dataextract.fingerprint,
// dataextract.priority, dataextract.owner, dataextract.attempts.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "dataextract.job.execute",
			trace.WithAttributes(
				attribute.String("dataextract.job.id", j.ID.String()),
				attribute.String("dataextract.fingerprint", j.Fingerprint),
				attribute.String("dataextract.priority", string(j.Priority)),
				attribute.String("dataextract.owner", j.Owner),
				attribute.Int("dataextract.attempts", j.Attempts),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
