package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/beatgrid/pkg/observability"
	"github.com/Sumatoshi-tech/beatgrid/pkg/transport"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	got := make(map[string]metricdata.Metrics)

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			got[m.Name] = m
		}
	}

	return got
}

func sumValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, m.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}

	return total
}

// TestTransportMetrics verifies pulse statistics reach the instruments.
func TestTransportMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	tm, err := observability.NewTransportMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	tm.RecordPulse(ctx, transport.PulseStats{Ticks: 10, Events: 2, Window: 0.025})
	tm.RecordPulse(ctx, transport.PulseStats{Ticks: 9, Loops: 1, Errors: 1, Window: 0.025})

	got := collect(t, reader)

	assert.Equal(t, int64(2), sumValue(t, got["beatgrid.transport.pulses.total"]))
	assert.Equal(t, int64(19), sumValue(t, got["beatgrid.transport.ticks.total"]))
	assert.Equal(t, int64(2), sumValue(t, got["beatgrid.transport.events.total"]))
	assert.Equal(t, int64(1), sumValue(t, got["beatgrid.transport.loops.total"]))
	assert.Equal(t, int64(1), sumValue(t, got["beatgrid.transport.callback.errors.total"]))

	hist, ok := got["beatgrid.transport.window.seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.InDelta(t, 0.05, hist.DataPoints[0].Sum, 1e-9)
}

// TestTransportMetrics_Nil verifies a nil recorder is safe.
func TestTransportMetrics_Nil(t *testing.T) {
	t.Parallel()

	var tm *observability.TransportMetrics

	assert.NotPanics(t, func() {
		tm.RecordPulse(context.Background(), transport.PulseStats{Ticks: 1})
	})
}
