package midiout

import (
	"errors"
	"fmt"
	"math"

	"gitlab.com/gomidi/midi/v2"

	"github.com/Sumatoshi-tech/beatgrid/pkg/emitter"
	"github.com/Sumatoshi-tech/beatgrid/pkg/transport"
)

// PulsesPerQuarter is the MIDI clock resolution.
const PulsesPerQuarter = 24

// sixteenthsPerQuarter converts quarter notes to MIDI beats for song position.
const sixteenthsPerQuarter = 4

// maxSongPosition is the largest value a song position pointer carries.
const maxSongPosition = 1<<14 - 1

// ClockOut drives a MIDI clock from a transport. Timing clock messages follow
// the tempo curve, start from zero sends Start, a start from any other
// position sends Song Position Pointer followed by Continue, and stop or pause
// send Stop.
type ClockOut struct {
	tr      *transport.Transport
	sink    Sink
	repeat  transport.ID
	handles []emitter.Handle
	errs    []error
}

// NewClockOut attaches a MIDI clock to tr. The clock interval is fixed from
// the transport's PPQ at this point.
func NewClockOut(tr *transport.Transport, sink Sink) (*ClockOut, error) {
	c := &ClockOut{tr: tr, sink: sink}

	every := transport.Ticks(float64(tr.PPQ()) / PulsesPerQuarter)

	id, err := tr.ScheduleRepeat(c.tick, every, transport.Ticks(0), transport.Forever)
	if err != nil {
		return nil, fmt.Errorf("midi clock: %w", err)
	}

	c.repeat = id
	c.handles = []emitter.Handle{
		tr.On(transport.NotifyStart, c.onStart),
		tr.On(transport.NotifyStop, c.onStop),
		tr.On(transport.NotifyPause, c.onStop),
	}

	return c, nil
}

// Err returns the joined errors from start and stop messages so far.
func (c *ClockOut) Err() error {
	return errors.Join(c.errs...)
}

// Close detaches the clock from the transport.
func (c *ClockOut) Close() error {
	c.tr.Clear(c.repeat)

	for _, h := range c.handles {
		c.tr.Off(h)
	}

	c.handles = nil

	return nil
}

func (c *ClockOut) tick(time float64) error {
	return c.sink.Send(time, midi.TimingClock())
}

func (c *ClockOut) onStart(ch transport.Change) {
	if ch.Seconds == 0 {
		c.send(ch.Time, midi.Start())

		return
	}

	ticks := c.tr.TicksAtTime(ch.Time)
	pos := math.Floor(ticks / (float64(c.tr.PPQ()) / sixteenthsPerQuarter))
	pos = math.Min(math.Max(pos, 0), maxSongPosition)

	c.send(ch.Time, midi.SPP(uint16(pos)))
	c.send(ch.Time, midi.Continue())
}

func (c *ClockOut) onStop(ch transport.Change) {
	c.send(ch.Time, midi.Stop())
}

func (c *ClockOut) send(time float64, msg midi.Message) {
	if err := c.sink.Send(time, msg); err != nil {
		c.errs = append(c.errs, fmt.Errorf("midi clock %s: %w", msg, err))
	}
}
