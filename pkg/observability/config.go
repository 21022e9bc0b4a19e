// Package observability wires OpenTelemetry tracing, metrics, and structured
// logging for the beatgrid commands.
package observability

import (
	"io"
	"log/slog"
)

// AppMode identifies how the binary was launched.
type AppMode string

const (
	// ModeCLI covers short one-shot commands such as validate.
	ModeCLI AppMode = "cli"
	// ModeRender is offline rendering against a manual clock.
	ModeRender AppMode = "render"
	// ModePlay is realtime playback against the wall clock.
	ModePlay AppMode = "play"
)

const (
	defaultServiceName        = "beatgrid"
	defaultShutdownTimeoutSec = 5
)

// Config holds all observability configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Mode           AppMode

	// OTLPEndpoint is the OTLP gRPC collector address. Empty disables export.
	OTLPEndpoint string
	OTLPHeaders  map[string]string
	OTLPInsecure bool

	// DebugTrace forces full sampling.
	DebugTrace bool

	// SampleRatio is the root sampling ratio. Zero samples everything.
	SampleRatio float64

	LogLevel slog.Level
	LogJSON  bool
	// LogOutput receives log records. Nil means stderr.
	LogOutput io.Writer

	// TraceVerbose keeps the per-pulse spans that are dropped by default.
	TraceVerbose bool

	ShutdownTimeoutSec int
}

// DefaultConfig returns the zero-config settings.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeCLI,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}
