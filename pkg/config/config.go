// Package config loads beatgrid settings from a YAML file and BEATGRID_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/beatgrid/pkg/observability"
	"github.com/Sumatoshi-tech/beatgrid/pkg/timebase"
)

// Sentinel validation errors.
var (
	ErrInvalidBPM            = errors.New("transport bpm must be positive")
	ErrInvalidPPQ            = errors.New("transport ppq must be positive")
	ErrInvalidTimeSignature  = errors.New("invalid time signature")
	ErrInvalidSwing          = errors.New("transport swing must be between 0 and 1")
	ErrInvalidSubdivision    = errors.New("swing subdivision must be positive")
	ErrInvalidUpdateInterval = errors.New("clock update interval must be positive")
	ErrInvalidLookAhead      = errors.New("clock look-ahead must not be negative")
	ErrInvalidSampleRate     = errors.New("clock sample rate must be positive")
	ErrInvalidLogFormat      = errors.New("logging format must be json or text")
	ErrInvalidLogLevel       = errors.New("invalid logging level")
	ErrInvalidChannel        = errors.New("midi channel must be between 0 and 15")
	ErrInvalidSampleRatio    = errors.New("telemetry sample ratio must be between 0 and 1")
)

// Log formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

const maxChannel = 15

// Config holds all beatgrid configuration.
type Config struct {
	Transport TransportConfig `mapstructure:"transport"`
	Clock     ClockConfig     `mapstructure:"clock"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	MIDI      MIDIConfig      `mapstructure:"midi"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// TransportConfig holds the musical defaults for new transports.
type TransportConfig struct {
	TimeSignature TimeSignatureConfig `mapstructure:"time_signature"`
	BPM           float64             `mapstructure:"bpm"`
	Swing         float64             `mapstructure:"swing"`
	// SwingSubdivision is in beats.
	SwingSubdivision float64 `mapstructure:"swing_subdivision"`
	PPQ              int     `mapstructure:"ppq"`
}

// TimeSignatureConfig is a meter such as 4/4.
type TimeSignatureConfig struct {
	Numerator   int `mapstructure:"numerator"`
	Denominator int `mapstructure:"denominator"`
}

// ClockConfig holds pulse timing.
type ClockConfig struct {
	UpdateInterval time.Duration `mapstructure:"update_interval"`
	LookAhead      time.Duration `mapstructure:"look_ahead"`
	SampleRate     float64       `mapstructure:"sample_rate"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus diagnostics endpoint used by play.
type MetricsConfig struct {
	Listen  string `mapstructure:"listen"`
	Enabled bool   `mapstructure:"enabled"`
}

// MIDIConfig holds live MIDI output settings.
type MIDIConfig struct {
	Port    string `mapstructure:"port"`
	Channel int    `mapstructure:"channel"`
	Clock   bool   `mapstructure:"clock_enabled"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	Environment  string  `mapstructure:"environment"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	TraceVerbose bool    `mapstructure:"trace_verbose"`
}

// LoadConfig loads configuration from file and environment variables.
// An empty path searches for beatgrid.yaml in the usual places; a missing
// file there is not an error.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("beatgrid")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/beatgrid")
	}

	viperCfg.SetEnvPrefix("BEATGRID")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	// Transport defaults.
	viperCfg.SetDefault("transport.bpm", DefaultBPM)
	viperCfg.SetDefault("transport.ppq", DefaultPPQ)
	viperCfg.SetDefault("transport.time_signature.numerator", DefaultNumerator)
	viperCfg.SetDefault("transport.time_signature.denominator", DefaultDenominator)
	viperCfg.SetDefault("transport.swing", DefaultSwing)
	viperCfg.SetDefault("transport.swing_subdivision", DefaultSwingSubdivision)

	// Clock defaults.
	viperCfg.SetDefault("clock.update_interval", DefaultUpdateInterval)
	viperCfg.SetDefault("clock.look_ahead", DefaultLookAhead)
	viperCfg.SetDefault("clock.sample_rate", DefaultSampleRate)

	// Logging defaults.
	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)

	// Metrics defaults.
	viperCfg.SetDefault("metrics.enabled", DefaultMetricsEnabled)
	viperCfg.SetDefault("metrics.listen", DefaultMetricsListen)

	// MIDI defaults.
	viperCfg.SetDefault("midi.port", "")
	viperCfg.SetDefault("midi.channel", DefaultMIDIChannel)
	viperCfg.SetDefault("midi.clock_enabled", DefaultMIDIClock)

	// Telemetry defaults.
	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.environment", "")
	viperCfg.SetDefault("telemetry.sample_ratio", 0.0)
	viperCfg.SetDefault("telemetry.trace_verbose", false)
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	tc := config.Transport

	if !(tc.BPM > 0) {
		return fmt.Errorf("%w: %v", ErrInvalidBPM, tc.BPM)
	}

	if tc.PPQ <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPPQ, tc.PPQ)
	}

	if tc.TimeSignature.Numerator <= 0 || tc.TimeSignature.Denominator <= 0 {
		return fmt.Errorf("%w: %d/%d", ErrInvalidTimeSignature, tc.TimeSignature.Numerator, tc.TimeSignature.Denominator)
	}

	if tc.Swing < 0 || tc.Swing > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidSwing, tc.Swing)
	}

	if !(tc.SwingSubdivision > 0) {
		return fmt.Errorf("%w: %v", ErrInvalidSubdivision, tc.SwingSubdivision)
	}

	if config.Clock.UpdateInterval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidUpdateInterval, config.Clock.UpdateInterval)
	}

	if config.Clock.LookAhead < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidLookAhead, config.Clock.LookAhead)
	}

	if !(config.Clock.SampleRate > 0) {
		return fmt.Errorf("%w: %v", ErrInvalidSampleRate, config.Clock.SampleRate)
	}

	if _, err := config.Logging.SlogLevel(); err != nil {
		return err
	}

	if config.Logging.Format != FormatJSON && config.Logging.Format != FormatText {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, config.Logging.Format)
	}

	if config.MIDI.Channel < 0 || config.MIDI.Channel > maxChannel {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, config.MIDI.Channel)
	}

	if config.Telemetry.SampleRatio < 0 || config.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidSampleRatio, config.Telemetry.SampleRatio)
	}

	return nil
}

// SlogLevel parses the configured level name.
func (c LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level

	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Level)
	}

	return level, nil
}

// TimebaseOptions returns the timebase settings plus logger.
func (c *Config) TimebaseOptions(logger *slog.Logger) []timebase.Option {
	return []timebase.Option{
		timebase.WithLookAhead(c.Clock.LookAhead.Seconds()),
		timebase.WithSampleRate(c.Clock.SampleRate),
		timebase.WithLogger(logger),
	}
}

// Observability returns the telemetry settings for a process running in mode.
func (c *Config) Observability(version string, mode observability.AppMode) observability.Config {
	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Mode = mode
	cfg.Environment = c.Telemetry.Environment
	cfg.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	cfg.OTLPHeaders = observability.ParseOTLPHeaders(c.Telemetry.OTLPHeaders)
	cfg.OTLPInsecure = c.Telemetry.OTLPInsecure
	cfg.SampleRatio = c.Telemetry.SampleRatio
	cfg.TraceVerbose = c.Telemetry.TraceVerbose
	cfg.LogJSON = c.Logging.Format == FormatJSON

	if level, err := c.Logging.SlogLevel(); err == nil {
		cfg.LogLevel = level
	}

	return cfg
}
