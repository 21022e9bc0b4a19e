package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/beatgrid/pkg/config"
	"github.com/Sumatoshi-tech/beatgrid/pkg/observability"
	"github.com/Sumatoshi-tech/beatgrid/pkg/timebase"
)

const (
	testVersion = "1.0.0"
	testBPM     = 96.0
	testPPQ     = 480
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "beatgrid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// TestLoadConfigDefaults verifies the defaults when no file exists.
func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.InDelta(t, config.DefaultBPM, cfg.Transport.BPM, 0)
	assert.Equal(t, config.DefaultPPQ, cfg.Transport.PPQ)
	assert.Equal(t, 4, cfg.Transport.TimeSignature.Numerator)
	assert.Equal(t, 4, cfg.Transport.TimeSignature.Denominator)
	assert.InDelta(t, 0.5, cfg.Transport.SwingSubdivision, 0)
	assert.Equal(t, 25*time.Millisecond, cfg.Clock.UpdateInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Clock.LookAhead)
	assert.InDelta(t, 44100.0, cfg.Clock.SampleRate, 0)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, config.FormatText, cfg.Logging.Format)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Listen)
	assert.Equal(t, 9, cfg.MIDI.Channel)
	assert.False(t, cfg.MIDI.Clock)
	assert.Empty(t, cfg.Telemetry.OTLPEndpoint)
}

// TestLoadConfigFromFile verifies values from a YAML file.
func TestLoadConfigFromFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
transport:
  bpm: 96
  ppq: 480
  time_signature:
    numerator: 6
    denominator: 8
  swing: 0.5
clock:
  update_interval: 10ms
  look_ahead: 50ms
logging:
  level: debug
  format: json
metrics:
  enabled: true
  listen: ":9000"
midi:
  port: "IAC Driver Bus 1"
  channel: 3
  clock_enabled: true
telemetry:
  otlp_endpoint: "localhost:4317"
  otlp_headers: "x-token=abc"
  sample_ratio: 0.25
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.InDelta(t, testBPM, cfg.Transport.BPM, 0)
	assert.Equal(t, testPPQ, cfg.Transport.PPQ)
	assert.Equal(t, 6, cfg.Transport.TimeSignature.Numerator)
	assert.Equal(t, 8, cfg.Transport.TimeSignature.Denominator)
	assert.InDelta(t, 0.5, cfg.Transport.Swing, 0)
	assert.Equal(t, 10*time.Millisecond, cfg.Clock.UpdateInterval)
	assert.Equal(t, 50*time.Millisecond, cfg.Clock.LookAhead)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9000", cfg.Metrics.Listen)
	assert.Equal(t, "IAC Driver Bus 1", cfg.MIDI.Port)
	assert.Equal(t, 3, cfg.MIDI.Channel)
	assert.True(t, cfg.MIDI.Clock)

	level, err := cfg.Logging.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	obs := cfg.Observability(testVersion, observability.ModePlay)
	assert.Equal(t, testVersion, obs.ServiceVersion)
	assert.Equal(t, observability.ModePlay, obs.Mode)
	assert.Equal(t, "localhost:4317", obs.OTLPEndpoint)
	assert.Equal(t, map[string]string{"x-token": "abc"}, obs.OTLPHeaders)
	assert.InDelta(t, 0.25, obs.SampleRatio, 0)
	assert.True(t, obs.LogJSON)
	assert.Equal(t, slog.LevelDebug, obs.LogLevel)
}

// TestLoadConfigEnvOverride verifies BEATGRID_* variables win over the file.
func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, "transport:\n  bpm: 96\n")

	t.Setenv("BEATGRID_TRANSPORT_BPM", "140")
	t.Setenv("BEATGRID_CLOCK_UPDATE_INTERVAL", "5ms")
	t.Setenv("BEATGRID_MIDI_CLOCK_ENABLED", "true")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.InDelta(t, 140.0, cfg.Transport.BPM, 0)
	assert.Equal(t, 5*time.Millisecond, cfg.Clock.UpdateInterval)
	assert.True(t, cfg.MIDI.Clock)
}

// TestLoadConfigInvalid verifies every validation rule.
func TestLoadConfigInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"bpm", "transport:\n  bpm: 0\n", config.ErrInvalidBPM},
		{"ppq", "transport:\n  ppq: -1\n", config.ErrInvalidPPQ},
		{"meter", "transport:\n  time_signature:\n    numerator: 0\n", config.ErrInvalidTimeSignature},
		{"swing", "transport:\n  swing: 1.5\n", config.ErrInvalidSwing},
		{"subdivision", "transport:\n  swing_subdivision: 0\n", config.ErrInvalidSubdivision},
		{"interval", "clock:\n  update_interval: 0s\n", config.ErrInvalidUpdateInterval},
		{"look_ahead", "clock:\n  look_ahead: -1s\n", config.ErrInvalidLookAhead},
		{"sample_rate", "clock:\n  sample_rate: 0\n", config.ErrInvalidSampleRate},
		{"level", "logging:\n  level: loud\n", config.ErrInvalidLogLevel},
		{"format", "logging:\n  format: xml\n", config.ErrInvalidLogFormat},
		{"channel", "midi:\n  channel: 16\n", config.ErrInvalidChannel},
		{"ratio", "telemetry:\n  sample_ratio: 2\n", config.ErrInvalidSampleRatio},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.LoadConfig(writeConfig(t, tt.content))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

// TestLoadConfigBadFile verifies unreadable and malformed files fail.
func TestLoadConfigBadFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = config.LoadConfig(writeConfig(t, "transport: [bpm\n"))
	require.Error(t, err)
}

// TestTimebaseOptions verifies the clock section reaches the timebase.
func TestTimebaseOptions(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, "clock:\n  look_ahead: 20ms\n  sample_rate: 48000\n"))
	require.NoError(t, err)

	tb := timebase.New(timebase.NewManualSource(0), cfg.TimebaseOptions(slog.Default())...)

	assert.InDelta(t, 0.02, tb.LookAhead(), 1e-12)
	assert.InDelta(t, 48000.0, tb.SampleRate(), 0)
}
