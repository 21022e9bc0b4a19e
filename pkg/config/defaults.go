package config

import "time"

// Transport defaults.
const (
	DefaultBPM         = 120.0
	DefaultPPQ         = 192
	DefaultNumerator   = 4
	DefaultDenominator = 4
	DefaultSwing       = 0.0
	// DefaultSwingSubdivision is an eighth note, in beats.
	DefaultSwingSubdivision = 0.5
)

// Clock defaults.
const (
	DefaultUpdateInterval = 25 * time.Millisecond
	DefaultLookAhead      = 100 * time.Millisecond
	DefaultSampleRate     = 44100.0
)

// Logging defaults.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = FormatText
)

// Metrics defaults.
const (
	DefaultMetricsEnabled = false
	DefaultMetricsListen  = "127.0.0.1:9464"
)

// MIDI defaults.
const (
	// DefaultMIDIChannel is the General MIDI percussion channel, zero-based.
	DefaultMIDIChannel = 9
	DefaultMIDIClock   = false
)
