// Package otel provides OpenTelemetry instrumentation utilities for the catalog feed server.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by the generator, registrar and scheduler spans
const (
	AttrFeedID      = attribute.Key("feed.id")
	AttrMarket      = attribute.Key("feed.market")
	AttrBatch       = attribute.Key("feed.batch")
	AttrReason      = attribute.Key("feed.generation.reason")
	AttrStep        = attribute.Key("scheduler.step")
	AttrResultCount = attribute.Key("result.count")
)

// StartSpan starts a span on tracer. With a nil tracer (tracing disabled) it
// returns the span already in ctx, which is a no-op span when there is none.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError adds err as a span event and marks the span failed. The status
// description stays generic; remote payloads and SQL only go to the event.
// Nil spans and nil errors are ignored.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
