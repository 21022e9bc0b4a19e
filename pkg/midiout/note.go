package midiout

import (
	"errors"
	"fmt"

	"gitlab.com/gomidi/midi/v2"

	"github.com/Sumatoshi-tech/beatgrid/pkg/transport"
)

// MIDI data limits.
const (
	maxChannel = 15
	maxData    = 127
	channels   = 16
	allNotesCC = 123
)

// ErrInvalidNote is returned for notes outside the MIDI ranges or without a length.
var ErrInvalidNote = errors.New("invalid note")

// Note is a single pitched event.
type Note struct {
	Channel  uint8
	Key      uint8
	Velocity uint8
	// Length is how long the note sounds. Seconds are taken as-is; musical
	// units follow the tempo at the moment the note starts.
	Length transport.Time
}

func (n Note) validate(tr *transport.Transport) error {
	switch {
	case n.Channel > maxChannel:
		return fmt.Errorf("%w: channel %d", ErrInvalidNote, n.Channel)
	case n.Key > maxData:
		return fmt.Errorf("%w: key %d", ErrInvalidNote, n.Key)
	case n.Velocity == 0 || n.Velocity > maxData:
		return fmt.Errorf("%w: velocity %d", ErrInvalidNote, n.Velocity)
	case n.Length == nil || !(tr.ToTicks(n.Length) > 0):
		return fmt.Errorf("%w: length must be positive", ErrInvalidNote)
	}

	return nil
}

// ScheduleNote plays n once per pass at at. Note on and note off are sent
// together with their own times, so a note started before a stop still ends.
func ScheduleNote(tr *transport.Transport, sink Sink, n Note, at transport.Time) (transport.ID, error) {
	if err := n.validate(tr); err != nil {
		return 0, err
	}

	return tr.Schedule(noteCallback(tr, sink, n), at)
}

// RepeatNote plays n every interval from start for duration.
func RepeatNote(tr *transport.Transport, sink Sink, n Note, every, start, duration transport.Time) (transport.ID, error) {
	if err := n.validate(tr); err != nil {
		return 0, err
	}

	return tr.ScheduleRepeat(noteCallback(tr, sink, n), every, start, duration)
}

// AllNotesOff sends the all-notes-off controller on every channel at t.
func AllNotesOff(sink Sink, t float64) error {
	var errs []error

	for ch := range uint8(channels) {
		if err := sink.Send(t, midi.ControlChange(ch, allNotesCC, 0)); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func noteCallback(tr *transport.Transport, sink Sink, n Note) transport.Callback {
	return func(time float64) error {
		if err := sink.Send(time, midi.NoteOn(n.Channel, n.Key, n.Velocity)); err != nil {
			return fmt.Errorf("note on %d: %w", n.Key, err)
		}

		if err := sink.Send(time+noteSeconds(tr, n.Length, time), midi.NoteOff(n.Channel, n.Key)); err != nil {
			return fmt.Errorf("note off %d: %w", n.Key, err)
		}

		return nil
	}
}

func noteSeconds(tr *transport.Transport, length transport.Time, at float64) float64 {
	if s, ok := length.(transport.Seconds); ok {
		return float64(s)
	}

	return tr.BPM().DurationOfTicks(tr.ToTicks(length), at)
}
