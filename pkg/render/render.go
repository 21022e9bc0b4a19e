// Package render plays a score offline on a manual clock and reports what
// it scheduled: an event table, a JSON document and a tempo chart.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Sumatoshi-tech/beatgrid/pkg/pulse"
	"github.com/Sumatoshi-tech/beatgrid/pkg/score"
	"github.com/Sumatoshi-tech/beatgrid/pkg/smfexport"
	"github.com/Sumatoshi-tech/beatgrid/pkg/timebase"
	"github.com/Sumatoshi-tech/beatgrid/pkg/transport"
)

// ErrInvalidStep is returned for a pulse step that is not positive.
var ErrInvalidStep = errors.New("render: step must be positive")

// Options controls an offline render. Zero fields take their defaults.
type Options struct {
	// Step is the simulated pulse interval.
	Step time.Duration
	// Duration overrides the score's play length, in seconds.
	Duration float64
	// Recorder also receives every pulse, e.g. for metrics.
	Recorder transport.Recorder
	Logger   *slog.Logger
}

// Row is one rendered MIDI message.
type Row struct {
	Time     float64 `json:"time"`
	Position string  `json:"position"`
	Message  string  `json:"message"`
}

// Sample is the transport state after one pulse.
type Sample struct {
	Time  float64 `json:"time"`
	BPM   float64 `json:"bpm"`
	Ticks float64 `json:"ticks"`
}

// Totals adds up the pulse statistics of a render.
type Totals struct {
	Pulses int `json:"pulses"`
	Ticks  int `json:"ticks"`
	Events int `json:"events"`
	Loops  int `json:"loops"`
	Errors int `json:"errors"`
}

// Result is everything a render produced.
type Result struct {
	Name     string   `json:"name,omitempty"`
	Duration float64  `json:"duration"`
	Totals   Totals   `json:"totals"`
	Events   []Row    `json:"events"`
	Samples  []Sample `json:"samples"`
	Errors   []string `json:"errors,omitempty"`

	capture *smfexport.Capture
}

// Capture returns the recorded MIDI messages, e.g. for SMF export.
func (r *Result) Capture() *smfexport.Capture {
	return r.capture
}

// totals accumulates pulse statistics and forwards them.
type totals struct {
	Totals

	next transport.Recorder
}

func (t *totals) RecordPulse(ctx context.Context, stats transport.PulseStats) {
	t.Pulses++
	t.Ticks += stats.Ticks
	t.Events += stats.Events
	t.Loops += stats.Loops
	t.Errors += stats.Errors

	if t.next != nil {
		t.next.RecordPulse(ctx, stats)
	}
}

// Render plays s from zero for its play length, pulsing every opts.Step of
// simulated time. Callback errors do not stop the render; they are listed in
// the result.
func Render(ctx context.Context, s *score.Score, opts Options) (*Result, error) {
	if opts.Step == 0 {
		opts.Step = pulse.DefaultInterval
	}

	if opts.Step < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStep, opts.Step)
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	tb, src := timebase.NewManual(timebase.WithLogger(opts.Logger))
	capture := smfexport.NewCapture()
	stats := &totals{next: opts.Recorder}

	tr, _, err := s.NewTransport(tb, capture, stats)
	if err != nil {
		return nil, err
	}

	length := opts.Duration
	if length <= 0 {
		length = s.PlayLength(tr)
	}

	res := &Result{Name: s.Name, Duration: length, capture: capture}
	ticker := pulse.New(tr, opts.Step, pulse.WithLogger(opts.Logger), pulse.WithErrorHandler(func(err error) {
		res.Errors = append(res.Errors, err.Error())
	}))

	if err := tr.StartAt(0, nil); err != nil {
		return nil, fmt.Errorf("render start: %w", err)
	}

	step := opts.Step.Seconds()

	for src.Now() < length {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("render: %w", err)
		}

		now := min(src.Now()+step, length)
		src.Set(now)

		_ = ticker.Step(ctx)

		res.Samples = append(res.Samples, Sample{Time: now, BPM: tr.BPM().ValueAtTime(now), Ticks: tr.TicksAtTime(now)})
	}

	if err := tr.StopAt(length); err != nil {
		return nil, fmt.Errorf("render stop: %w", err)
	}

	src.Advance(step)

	_ = ticker.Step(ctx)

	res.Totals = stats.Totals

	for _, ev := range capture.Events() {
		res.Events = append(res.Events, Row{
			Time:     ev.Time,
			Position: tr.PositionOf(tr.TicksAtTime(ev.Time)).String(),
			Message:  ev.Message.String(),
		})
	}

	opts.Logger.InfoContext(ctx, "render: done",
		"score", s.Name, "duration", length, "pulses", ticker.Pulses(), "events", len(res.Events))

	return res, nil
}
