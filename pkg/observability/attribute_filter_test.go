package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/beatgrid/pkg/observability"
)

func filteredSpanAttrs(t *testing.T, logger *slog.Logger, attrs ...attribute.KeyValue) map[string]attribute.Value {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(observability.NewAttributeFilter(sdktrace.NewSimpleSpanProcessor(exporter), logger)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.SetAttributes(attrs...)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	got := make(map[string]attribute.Value)
	for _, kv := range spans[0].Attributes {
		got[string(kv.Key)] = kv.Value
	}

	return got
}

// TestAttributeFilter_AllowsKnownKeys verifies beatgrid namespaces pass.
func TestAttributeFilter_AllowsKnownKeys(t *testing.T) {
	t.Parallel()

	got := filteredSpanAttrs(t, nil,
		attribute.Float64("transport.bpm", 120),
		attribute.Int("render.events", 4),
		attribute.String("error.type", "timeout"),
		attribute.Bool("error", true),
	)

	assert.Len(t, got, 4)
	assert.InDelta(t, 120.0, got["transport.bpm"].AsFloat64(), 0)
	assert.Equal(t, int64(4), got["render.events"].AsInt64())
}

// TestAttributeFilter_BlocksSensitiveAndUnknown verifies blocked and unknown keys are dropped.
func TestAttributeFilter_BlocksSensitiveAndUnknown(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&logs, nil))

	got := filteredSpanAttrs(t, logger,
		attribute.String("score.path", "/home/alice/groove.yaml"),
		attribute.String("midi.port", "Alice's Synth"),
		attribute.String("request.body", "{}"),
		attribute.String("user.email", "alice@example.com"),
		attribute.String("score.name", "groove"),
	)

	assert.Len(t, got, 1)
	assert.Equal(t, "groove", got["score.name"].AsString())
	assert.Contains(t, logs.String(), "key=score.path")
	assert.Contains(t, logs.String(), "key=user.email")
}
