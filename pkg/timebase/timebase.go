// Package timebase provides the explicit time environment shared by the
// scheduling components: a wall-clock source, a scheduling look-ahead,
// the sample resolution used for boundary nudges, and a logger.
//
// Every component receives a *Timebase at construction; there is no
// package-level default.
package timebase

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultSampleRate is the sample rate used when none is configured.
	DefaultSampleRate = 44100

	// DefaultLookAhead is the scheduling look-ahead in seconds.
	DefaultLookAhead = 0.0
)

// Source reports the current wall-clock time in seconds.
type Source interface {
	Now() float64
}

// ManualSource is a Source advanced explicitly by its owner.
// It is used for offline rendering and tests.
type ManualSource struct {
	mu  sync.Mutex
	now float64
}

// NewManualSource creates a manual source positioned at start.
func NewManualSource(start float64) *ManualSource {
	return &ManualSource{now: start}
}

// Now returns the current position.
func (ms *ManualSource) Now() float64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return ms.now
}

// Set moves the source to t.
func (ms *ManualSource) Set(t float64) {
	ms.mu.Lock()
	ms.now = t
	ms.mu.Unlock()
}

// Advance moves the source forward by d seconds and returns the new position.
func (ms *ManualSource) Advance(d float64) float64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.now += d

	return ms.now
}

// WallSource reports seconds elapsed since it was created.
type WallSource struct {
	start time.Time
}

// NewWallSource creates a wall source anchored at the current instant.
func NewWallSource() *WallSource {
	return &WallSource{start: time.Now()}
}

// Now returns the seconds elapsed since the source was created.
func (ws *WallSource) Now() float64 {
	return time.Since(ws.start).Seconds()
}

// Timebase is the time environment passed to every scheduling component.
type Timebase struct {
	source     Source
	lookAhead  float64
	sampleRate float64
	logger     *slog.Logger
}

// Option configures a Timebase.
type Option func(*Timebase)

// WithLookAhead sets how far ahead of the source Now schedules, in seconds.
func WithLookAhead(seconds float64) Option {
	return func(tb *Timebase) {
		tb.lookAhead = seconds
	}
}

// WithSampleRate sets the sample rate. Non-positive values are ignored.
func WithSampleRate(hz float64) Option {
	return func(tb *Timebase) {
		if hz > 0 {
			tb.sampleRate = hz
		}
	}
}

// WithLogger sets the logger handed to components.
func WithLogger(logger *slog.Logger) Option {
	return func(tb *Timebase) {
		if logger != nil {
			tb.logger = logger
		}
	}
}

// New creates a Timebase reading from source.
func New(source Source, opts ...Option) *Timebase {
	tb := &Timebase{
		source:     source,
		lookAhead:  DefaultLookAhead,
		sampleRate: DefaultSampleRate,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(tb)
	}

	return tb
}

// NewManual creates a Timebase over a fresh ManualSource at zero and returns both.
func NewManual(opts ...Option) (*Timebase, *ManualSource) {
	src := NewManualSource(0)

	return New(src, opts...), src
}

// Now returns the scheduling time: the source time plus the look-ahead.
func (tb *Timebase) Now() float64 {
	return tb.source.Now() + tb.lookAhead
}

// Immediate returns the source time without look-ahead.
func (tb *Timebase) Immediate() float64 {
	return tb.source.Now()
}

// LookAhead returns the look-ahead in seconds.
func (tb *Timebase) LookAhead() float64 {
	return tb.lookAhead
}

// SampleRate returns the sample rate in Hz.
func (tb *Timebase) SampleRate() float64 {
	return tb.sampleRate
}

// SampleTime returns the duration of one sample in seconds.
func (tb *Timebase) SampleTime() float64 {
	return 1 / tb.sampleRate
}

// Logger returns the component logger.
func (tb *Timebase) Logger() *slog.Logger {
	return tb.logger
}
