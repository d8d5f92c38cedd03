package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xkilldash9x/lancet"

// StartSpan opens a span on the global tracer provider. Without an installed
// SDK the provider is a no-op.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TrackStage opens a span for a pipeline stage and returns a completion func
// that ends the span and records the stage duration.
func TrackStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := StartSpan(ctx, "pipeline."+stage, attrs...)
	return ctx, func(err error) {
		ObserveStage(stage, err, time.Since(start))
		EndSpan(span, err)
	}
}
