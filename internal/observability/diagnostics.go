package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"

	telemetry "github.com/Sumatoshi-tech/beatgrid/pkg/observability"
)

// DiagnosticsServer serves /healthz, /readyz, and /metrics for a running
// process.
type DiagnosticsServer struct {
	server   *http.Server
	listener net.Listener
	provider *sdkmetric.MeterProvider
	meter    metric.Meter
}

// NewDiagnosticsServer listens on addr and serves in the background. Every
// request is traced with tracer and counted in the RED metrics. checks gate
// /readyz.
func NewDiagnosticsServer(addr string, tracer trace.Tracer, checks ...ReadyCheck) (*DiagnosticsServer, error) {
	metricsHandler, provider, err := PrometheusHandler()
	if err != nil {
		return nil, fmt.Errorf("create prometheus handler: %w", err)
	}

	meter := provider.Meter(telemetry.InstrumentationName)

	if _, err := NewRuntimeMetrics(meter); err != nil {
		return nil, fmt.Errorf("register runtime metrics: %w", err)
	}

	red, err := telemetry.NewREDMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("register request metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", HealthHandler())
	mux.Handle("/readyz", ReadyHandler(checks...))
	mux.Handle("/metrics", metricsHandler)

	var lc net.ListenConfig

	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: telemetry.HTTPMiddleware(tracer, red, mux)} //nolint:gosec // loopback diagnostics only.

	go func() {
		serveErr := srv.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Warn("diagnostics server stopped", "error", serveErr)
		}
	}()

	return &DiagnosticsServer{server: srv, listener: listener, provider: provider, meter: meter}, nil
}

// Addr returns the listening address.
func (d *DiagnosticsServer) Addr() string {
	return d.listener.Addr().String()
}

// Meter returns the meter whose instruments appear on /metrics.
func (d *DiagnosticsServer) Meter() metric.Meter {
	return d.meter
}

// Close stops the server and the metrics pipeline.
func (d *DiagnosticsServer) Close(ctx context.Context) error {
	err := errors.Join(d.server.Shutdown(ctx), d.provider.Shutdown(ctx))
	if err != nil {
		return fmt.Errorf("shutdown diagnostics server: %w", err)
	}

	return nil
}
