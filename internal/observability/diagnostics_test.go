package observability_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/beatgrid/internal/observability"
	telemetry "github.com/Sumatoshi-tech/beatgrid/pkg/observability"
	"github.com/Sumatoshi-tech/beatgrid/pkg/transport"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, http.NoBody)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

// TestPrometheusHandler verifies the scrape endpoint serves the provider's instruments.
func TestPrometheusHandler(t *testing.T) {
	t.Parallel()

	handler, mp, err := observability.PrometheusHandler()
	require.NoError(t, err)

	tm, err := telemetry.NewTransportMetrics(mp.Meter("test"))
	require.NoError(t, err)
	tm.RecordPulse(context.Background(), transport.PulseStats{Ticks: 12, Window: 0.025})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "beatgrid_transport_ticks_total")
	assert.Contains(t, rec.Body.String(), "target_info")
}

// TestDiagnosticsServer verifies the endpoints over a real listener.
func TestDiagnosticsServer(t *testing.T) {
	t.Parallel()

	var ready atomic.Bool

	check := func(context.Context) error {
		if !ready.Load() {
			return errNotPlaying
		}

		return nil
	}

	srv, err := observability.NewDiagnosticsServer("127.0.0.1:0", nooptrace.NewTracerProvider().Tracer("test"), check)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, srv.Close(context.Background())) })

	base := "http://" + srv.Addr()

	code, _ := get(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, code)

	code, body := get(t, base+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "transport not running")

	ready.Store(true)
	code, _ = get(t, base+"/readyz")
	assert.Equal(t, http.StatusOK, code)

	tm, err := telemetry.NewTransportMetrics(srv.Meter())
	require.NoError(t, err)
	tm.RecordPulse(context.Background(), transport.PulseStats{Events: 3})

	code, body = get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "beatgrid_transport_events_total")
	assert.Contains(t, body, "beatgrid_runtime_goroutines")
	assert.Contains(t, body, "beatgrid_http_requests_total")
}

// TestDiagnosticsServer_BadAddr verifies listen errors surface.
func TestDiagnosticsServer_BadAddr(t *testing.T) {
	t.Parallel()

	_, err := observability.NewDiagnosticsServer("256.0.0.1:bad", nooptrace.NewTracerProvider().Tracer("test"))
	require.Error(t, err)
}

// TestNewRuntimeMetrics_NoopMeter verifies registration on a no-op meter.
func TestNewRuntimeMetrics_NoopMeter(t *testing.T) {
	t.Parallel()

	rm, err := observability.NewRuntimeMetrics(noopmetric.NewMeterProvider().Meter("test"))

	require.NoError(t, err)
	require.NotNil(t, rm)
}
