package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// SpanPulse is the span name used for one scheduler pulse. At the default
// 25 ms interval it dominates trace volume, so it is dropped unless verbose
// tracing is on.
const SpanPulse = "beatgrid.pulse"

// hotSpans are replaced with no-op spans by the filtering provider.
var hotSpans = map[string]bool{
	SpanPulse: true,
}

// filteringTracerProvider hands out tracers that drop hot-path spans.
type filteringTracerProvider struct {
	embedded.TracerProvider

	delegate trace.TracerProvider
	noop     trace.TracerProvider
}

// NewFilteringTracerProvider wraps delegate so that per-pulse spans become
// no-ops while command and render spans pass through.
func NewFilteringTracerProvider(delegate trace.TracerProvider) trace.TracerProvider {
	return &filteringTracerProvider{
		delegate: delegate,
		noop:     nooptrace.NewTracerProvider(),
	}
}

// Tracer returns a filtering tracer for name.
func (f *filteringTracerProvider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return &filteringTracer{
		delegate: f.delegate.Tracer(name, opts...),
		noop:     f.noop.Tracer(name, opts...),
	}
}

type filteringTracer struct {
	embedded.Tracer

	delegate trace.Tracer
	noop     trace.Tracer
}

// Start returns a no-op span for hot span names.
func (f *filteringTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if hotSpans[name] {
		return f.noop.Start(ctx, name, opts...)
	}

	return f.delegate.Start(ctx, name, opts...)
}
