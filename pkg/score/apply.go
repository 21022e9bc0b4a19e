package score

import (
	"fmt"

	"github.com/Sumatoshi-tech/beatgrid/pkg/midiout"
	"github.com/Sumatoshi-tech/beatgrid/pkg/timebase"
	"github.com/Sumatoshi-tech/beatgrid/pkg/transport"
)

// DefaultDuration is the play length, in seconds, of scores that never end on their own.
const DefaultDuration = 8.0

// quartersPerWhole scales a meter into quarter notes per bar.
const quartersPerWhole = 4

// Arrangement is what Apply scheduled on a transport.
type Arrangement struct {
	Notes   []transport.ID
	Repeats []transport.ID
	// Clock is set when the score asks for a MIDI clock.
	Clock *midiout.ClockOut
}

// Options returns the transport options the score asks for.
func (s *Score) Options() transport.Options {
	opts := transport.Options{
		BPM:   s.BPM,
		PPQ:   s.PPQ,
		Swing: s.Swing,
	}

	if ts := s.TimeSignature; ts != nil {
		opts.TimeSignature = float64(ts.Numerator) / float64(ts.Denominator) * quartersPerWhole
	}

	if s.SwingSubdivision > 0 {
		opts.SwingSubdivision = transport.Beats(s.SwingSubdivision)
	}

	if s.Loop != nil {
		opts.LoopStart = transport.Beats(s.Loop.Start)
		opts.LoopEnd = transport.Beats(s.Loop.End)
		opts.Loop = s.Loop.Enabled
	}

	return opts
}

// NewTransport creates a transport configured by the score and applies the
// score to it.
func (s *Score) NewTransport(
	tb *timebase.Timebase, sink midiout.Sink, rec transport.Recorder,
) (*transport.Transport, *Arrangement, error) {
	opts := s.Options()
	opts.Recorder = rec

	tr, err := transport.New(tb, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("score transport: %w", err)
	}

	arr, err := s.Apply(tr, sink)
	if err != nil {
		return nil, nil, err
	}

	return tr, arr, nil
}

// Apply schedules the tempo automation, notes and repeats on tr. MIDI goes
// to sink.
func (s *Score) Apply(tr *transport.Transport, sink midiout.Sink) (*Arrangement, error) {
	if err := s.applyTempo(tr); err != nil {
		return nil, err
	}

	arr := &Arrangement{}

	for i, n := range s.Notes {
		id, err := midiout.ScheduleNote(tr, sink, midiNote(n.Channel, n.Key, n.Velocity, n.Length), transport.Beats(n.At))
		if err != nil {
			return nil, fmt.Errorf("notes.%d: %w", i, err)
		}

		arr.Notes = append(arr.Notes, id)
	}

	for i, r := range s.Repeats {
		var duration transport.Time = transport.Forever
		if r.Duration > 0 {
			duration = transport.Beats(r.Duration)
		}

		id, err := midiout.RepeatNote(tr, sink, midiNote(r.Channel, r.Key, r.Velocity, r.Length),
			transport.Beats(r.Every), transport.Beats(r.Start), duration)
		if err != nil {
			return nil, fmt.Errorf("repeats.%d: %w", i, err)
		}

		arr.Repeats = append(arr.Repeats, id)
	}

	if s.MIDIClock {
		clock, err := midiout.NewClockOut(tr, sink)
		if err != nil {
			return nil, err
		}

		arr.Clock = clock
	}

	return arr, nil
}

// PlayLength returns how long the score plays in seconds: its duration when
// set, otherwise until the last note ends. Looping scores and endless repeats
// play for DefaultDuration.
func (s *Score) PlayLength(tr *transport.Transport) float64 {
	if s.Duration > 0 {
		return s.Duration
	}

	if s.Loop != nil && s.Loop.Enabled {
		return DefaultDuration
	}

	var end float64

	for _, n := range s.Notes {
		end = max(end, n.At+n.Length)
	}

	for _, r := range s.Repeats {
		if r.Duration == 0 {
			return DefaultDuration
		}

		end = max(end, r.Start+r.Duration+r.Length)
	}

	if end == 0 {
		return DefaultDuration
	}

	return tr.BPM().TimeOfTick(tr.ToTicks(transport.Beats(end)))
}

func (s *Score) applyTempo(tr *transport.Transport) error {
	curve := tr.BPM()

	for i, p := range s.Tempo {
		var err error

		switch p.Ramp {
		case RampLinear:
			err = curve.LinearRampToValueAtTime(p.BPM, p.Time)
		case RampExponential:
			err = curve.ExponentialRampToValueAtTime(p.BPM, p.Time)
		default:
			err = curve.SetValueAtTime(p.BPM, p.Time)
		}

		if err != nil {
			return fmt.Errorf("tempo.%d: %w", i, err)
		}
	}

	return nil
}

func midiNote(channel, key, velocity int, length float64) midiout.Note {
	return midiout.Note{
		Channel:  uint8(channel),  //nolint:gosec // range checked by the schema
		Key:      uint8(key),      //nolint:gosec // range checked by the schema
		Velocity: uint8(velocity), //nolint:gosec // range checked by the schema
		Length:   transport.Beats(length),
	}
}
