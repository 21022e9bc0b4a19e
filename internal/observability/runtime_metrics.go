package observability

import (
	"context"
	"fmt"
	"math"
	runtimemetrics "runtime/metrics"

	"go.opentelemetry.io/otel/metric"
)

const (
	metricGoroutines = "beatgrid.runtime.goroutines"
	metricGoMaxProcs = "beatgrid.runtime.gomaxprocs"
	metricGCCycles   = "beatgrid.runtime.gc.cycles"

	sampleGoroutines = "/sched/goroutines:goroutines"
	sampleGoMaxProcs = "/sched/gomaxprocs:threads"
	sampleGCCycles   = "/gc/cycles/total:gc-cycles"
)

// RuntimeMetrics exposes scheduler and GC samples from runtime/metrics. A
// playing process is latency sensitive, so these sit next to the transport
// counters on the scrape endpoint.
type RuntimeMetrics struct {
	goroutines metric.Int64ObservableGauge
	maxProcs   metric.Int64ObservableGauge
	gcCycles   metric.Int64ObservableCounter
}

// NewRuntimeMetrics registers the runtime instruments on mt. Values are read
// on each collection.
func NewRuntimeMetrics(mt metric.Meter) (*RuntimeMetrics, error) {
	goroutines, err := mt.Int64ObservableGauge(metricGoroutines,
		metric.WithDescription("Current number of live goroutines"),
		metric.WithUnit("{goroutine}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricGoroutines, err)
	}

	maxProcs, err := mt.Int64ObservableGauge(metricGoMaxProcs,
		metric.WithDescription("Current GOMAXPROCS setting"),
		metric.WithUnit("{thread}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricGoMaxProcs, err)
	}

	gcCycles, err := mt.Int64ObservableCounter(metricGCCycles,
		metric.WithDescription("Completed GC cycles since process start"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricGCCycles, err)
	}

	rm := &RuntimeMetrics{goroutines: goroutines, maxProcs: maxProcs, gcCycles: gcCycles}

	if _, err := mt.RegisterCallback(rm.observe, goroutines, maxProcs, gcCycles); err != nil {
		return nil, fmt.Errorf("register runtime metrics callback: %w", err)
	}

	return rm, nil
}

func (rm *RuntimeMetrics) observe(_ context.Context, obs metric.Observer) error {
	samples := []runtimemetrics.Sample{
		{Name: sampleGoroutines},
		{Name: sampleGoMaxProcs},
		{Name: sampleGCCycles},
	}

	runtimemetrics.Read(samples)

	for idx := range samples {
		val, ok := sampleInt64(samples[idx].Value)
		if !ok {
			continue
		}

		switch samples[idx].Name {
		case sampleGoroutines:
			obs.ObserveInt64(rm.goroutines, val)
		case sampleGoMaxProcs:
			obs.ObserveInt64(rm.maxProcs, val)
		case sampleGCCycles:
			obs.ObserveInt64(rm.gcCycles, val)
		}
	}

	return nil
}

// sampleInt64 converts a scalar runtime/metrics value. Unsupported kinds
// report false.
func sampleInt64(val runtimemetrics.Value) (int64, bool) {
	switch val.Kind() {
	case runtimemetrics.KindUint64:
		u := val.Uint64()
		if u > math.MaxInt64 {
			return math.MaxInt64, true
		}

		return int64(u), true
	case runtimemetrics.KindFloat64:
		return int64(val.Float64()), true
	case runtimemetrics.KindBad, runtimemetrics.KindFloat64Histogram:
		return 0, false
	default:
		return 0, false
	}
}
