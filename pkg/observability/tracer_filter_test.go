package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/beatgrid/pkg/observability"
)

// TestFilteringProvider verifies pulse spans are dropped and others kept.
func TestFilteringProvider(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	base := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	tracer := observability.NewFilteringTracerProvider(base).Tracer("beatgrid")

	ctx, play := tracer.Start(context.Background(), "beatgrid.play")

	pulseCtx, pulseSpan := tracer.Start(ctx, observability.SpanPulse)
	assert.False(t, pulseSpan.IsRecording())
	assert.Equal(t, play.SpanContext().SpanID(), trace.SpanFromContext(pulseCtx).SpanContext().SpanID())
	pulseSpan.End()

	_, child := tracer.Start(ctx, "beatgrid.score.apply")
	child.End()
	play.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	for _, span := range spans {
		assert.NotEqual(t, observability.SpanPulse, span.Name)
	}

	assert.Equal(t, "beatgrid.score.apply", spans[0].Name)
	assert.Equal(t, "beatgrid.play", spans[1].Name)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
}
