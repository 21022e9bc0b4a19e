package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/beatgrid/pkg/observability"
)

func newJSONLogger(buf *bytes.Buffer, env string, mode observability.AppMode) *slog.Logger {
	inner := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	return slog.New(observability.NewTracingHandler(inner, "beatgrid", env, mode))
}

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	return record
}

// TestTracingHandler_InjectsTraceContext verifies trace ids and service metadata.
func TestTracingHandler_InjectsTraceContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := newJSONLogger(&buf, "test", observability.ModePlay)

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})

	logger.InfoContext(trace.ContextWithSpanContext(context.Background(), sc), "tick")

	record := decodeRecord(t, &buf)
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", record["trace_id"])
	assert.Equal(t, "0102030405060708", record["span_id"])
	assert.Equal(t, "beatgrid", record["service"])
	assert.Equal(t, "test", record["env"])
	assert.Equal(t, "play", record["mode"])
}

// TestTracingHandler_NoTraceContext verifies records outside a span carry no ids.
func TestTracingHandler_NoTraceContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	newJSONLogger(&buf, "", observability.ModeCLI).InfoContext(context.Background(), "no span")

	record := decodeRecord(t, &buf)
	assert.NotContains(t, record, "trace_id")
	assert.NotContains(t, record, "span_id")
	assert.NotContains(t, record, "env")
}

// TestTracingHandler_Groups verifies service metadata stays top-level inside groups.
func TestTracingHandler_Groups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	newJSONLogger(&buf, "", observability.ModeRender).
		WithGroup("transport").
		With("bpm", 120).
		Info("started")

	record := decodeRecord(t, &buf)
	assert.Equal(t, "beatgrid", record["service"])

	group, ok := record["transport"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 120.0, group["bpm"], 0)
}

// TestTracingHandler_ErrorEvent verifies error records become span events.
func TestTracingHandler_ErrorEvent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	logger := newJSONLogger(&buf, "", observability.ModePlay)

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "fine")
	logger.ErrorContext(ctx, "midi send failed")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "log.error", spans[0].Events[0].Name)
	assert.Equal(t, "midi send failed", spans[0].Events[0].Attributes[0].Value.AsString())
}
