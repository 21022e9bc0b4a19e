// Package smfexport records scheduled MIDI messages and writes them as a
// Standard MIDI File.
package smfexport

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/spf13/afero"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// File defaults.
const (
	DefaultResolution = 960
	DefaultBPM        = 120.0

	defaultNumerator   = 4
	defaultDenominator = 4
	secondsPerMinute   = 60
	fileMode           = 0o644
)

// ErrInvalidBPM is returned for a reference tempo that is not a positive number.
var ErrInvalidBPM = errors.New("smf: bpm must be positive")

// Event is one recorded message and the context time it was scheduled for.
type Event struct {
	Time    float64
	Message midi.Message
}

// Options controls the written file. Zero fields take their defaults.
type Options struct {
	// BPM is the reference tempo the file is written at. Event times are in
	// seconds, so any tempo automation is baked into the tick positions.
	BPM        float64
	Resolution uint16
	Name       string
	// Numerator and Denominator form the time signature meta event.
	Numerator   uint8
	Denominator uint8
	// Origin is the context time written as tick zero. Earlier events are dropped.
	Origin float64
}

func (o Options) withDefaults() Options {
	if o.BPM == 0 {
		o.BPM = DefaultBPM
	}

	if o.Resolution == 0 {
		o.Resolution = DefaultResolution
	}

	if o.Numerator == 0 {
		o.Numerator = defaultNumerator
	}

	if o.Denominator == 0 {
		o.Denominator = defaultDenominator
	}

	return o
}

// Capture is a sink that keeps every message it receives.
// It is safe for concurrent use.
type Capture struct {
	mu     sync.Mutex
	events []Event
}

// NewCapture creates an empty capture.
func NewCapture() *Capture {
	return &Capture{}
}

// Send records msg at t.
func (c *Capture) Send(t float64, msg midi.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, Event{Time: t, Message: slices.Clone(msg)})

	return nil
}

// Len returns the number of recorded messages.
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.events)
}

// Reset drops every recorded message.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = nil
}

// Events returns the recorded messages ordered by time. Messages with equal
// times keep the order they were sent in.
func (c *Capture) Events() []Event {
	c.mu.Lock()
	events := slices.Clone(c.events)
	c.mu.Unlock()

	slices.SortStableFunc(events, func(a, b Event) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		default:
			return 0
		}
	})

	return events
}

// SMF builds a single-track file from the channel messages recorded so far.
// Realtime and system messages have no place in a file and are skipped.
func (c *Capture) SMF(opts Options) (*smf.SMF, error) {
	opts = opts.withDefaults()

	if !(opts.BPM > 0) || math.IsInf(opts.BPM, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBPM, opts.BPM)
	}

	ticksPerSecond := opts.BPM / secondsPerMinute * float64(opts.Resolution)

	var track smf.Track

	if opts.Name != "" {
		track.Add(0, smf.MetaTrackSequenceName(opts.Name))
	}

	track.Add(0, smf.MetaTempo(opts.BPM))
	track.Add(0, smf.MetaMeter(opts.Numerator, opts.Denominator))

	var last uint32

	for _, ev := range c.Events() {
		var channel uint8

		if ev.Time < opts.Origin || !ev.Message.GetChannel(&channel) {
			continue
		}

		tick := uint32(math.Round((ev.Time - opts.Origin) * ticksPerSecond))
		track.Add(tick-last, ev.Message)
		last = tick
	}

	track.Close(0)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(opts.Resolution)

	if err := s.Add(track); err != nil {
		return nil, fmt.Errorf("smf: add track: %w", err)
	}

	return s, nil
}

// WriteFile writes the recorded messages to path on fs.
func (c *Capture) WriteFile(fs afero.Fs, path string, opts Options) error {
	s, err := c.SMF(opts)
	if err != nil {
		return err
	}

	var buf bytes.Buffer

	if _, err := s.WriteTo(&buf); err != nil {
		return fmt.Errorf("smf: encode: %w", err)
	}

	if err := afero.WriteFile(fs, path, buf.Bytes(), fileMode); err != nil {
		return fmt.Errorf("smf: write %s: %w", path, err)
	}

	return nil
}
