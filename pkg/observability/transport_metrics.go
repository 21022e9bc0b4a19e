package observability

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/beatgrid/pkg/transport"
)

const (
	metricPulses        = "beatgrid.transport.pulses.total"
	metricTicks         = "beatgrid.transport.ticks.total"
	metricEvents        = "beatgrid.transport.events.total"
	metricLoops         = "beatgrid.transport.loops.total"
	metricCallbackErrs  = "beatgrid.transport.callback.errors.total"
	metricWindowSeconds = "beatgrid.transport.window.seconds"
	metricProcessed     = "beatgrid.transport.processed.seconds"
)

// windowBucketBoundaries spans a single audio sample up to a stalled pulse.
var windowBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// TransportMetrics records pulse statistics as OTel instruments. It
// implements transport.Recorder. A nil *TransportMetrics is a no-op.
type TransportMetrics struct {
	pulses  metric.Int64Counter
	ticks   metric.Int64Counter
	events  metric.Int64Counter
	loops   metric.Int64Counter
	errors  metric.Int64Counter
	window  metric.Float64Histogram
	seconds metric.Float64Counter
}

var _ transport.Recorder = (*TransportMetrics)(nil)

// NewTransportMetrics creates the transport instruments on mt.
func NewTransportMetrics(mt metric.Meter) (*TransportMetrics, error) {
	b := newMetricBuilder(mt)

	tm := &TransportMetrics{
		pulses:  b.counter(metricPulses, "Scheduler pulses processed", "{pulse}"),
		ticks:   b.counter(metricTicks, "Transport ticks advanced", "{tick}"),
		events:  b.counter(metricEvents, "Scheduled callbacks fired", "{event}"),
		loops:   b.counter(metricLoops, "Loop wrap-arounds", "{loop}"),
		errors:  b.counter(metricCallbackErrs, "Scheduled callbacks that returned an error", "{error}"),
		window:  b.histogram(metricWindowSeconds, "Length of each processed window", "s", windowBucketBoundaries...),
		seconds: b.floatCounter(metricProcessed, "Total source time processed", "s"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return tm, nil
}

// RecordPulse implements transport.Recorder.
func (tm *TransportMetrics) RecordPulse(ctx context.Context, stats transport.PulseStats) {
	if tm == nil {
		return
	}

	tm.pulses.Add(ctx, 1)
	tm.ticks.Add(ctx, int64(stats.Ticks))
	tm.events.Add(ctx, int64(stats.Events))
	tm.loops.Add(ctx, int64(stats.Loops))
	tm.errors.Add(ctx, int64(stats.Errors))
	tm.window.Record(ctx, stats.Window)
	tm.seconds.Add(ctx, stats.Window)
}
