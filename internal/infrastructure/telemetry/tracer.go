package telemetry

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const engineTracerName = "auction-engine"

// StartEngineSpan opens a span for a sequenced listing operation.
func StartEngineSpan(ctx context.Context, operation string, listingID uuid.UUID) (context.Context, trace.Span) {
	return otel.Tracer(engineTracerName).Start(ctx, "engine."+operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("auction.operation", operation),
			attribute.String("auction.listing_id", listingID.String()),
		),
	)
}

// EndSpan records err (if any) and closes the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
