// Package transport is the public coordinator of the scheduling engine.
//
// A Transport owns a BPM clock and dispatches scheduled callbacks on the tick
// they fall on. It supports one-off and repeating events, a loop region, swing
// and tempo automation through its BPM curve. All positions are normalised to
// ticks; PPQ ticks make a quarter note.
//
// A Transport is not safe for concurrent use. Drive it from a single pulse
// context (see package pulse) and post mutations onto that context.
package transport

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Sumatoshi-tech/beatgrid/pkg/alg/interval"
	"github.com/Sumatoshi-tech/beatgrid/pkg/approx"
	"github.com/Sumatoshi-tech/beatgrid/pkg/clock"
	"github.com/Sumatoshi-tech/beatgrid/pkg/emitter"
	"github.com/Sumatoshi-tech/beatgrid/pkg/tempo"
	"github.com/Sumatoshi-tech/beatgrid/pkg/timebase"
	"github.com/Sumatoshi-tech/beatgrid/pkg/timeline"
)

// Default option values.
const (
	DefaultBPM           = 120.0
	DefaultPPQ           = 192
	DefaultTimeSignature = 4.0
	defaultLoopEndBars   = 4
	eighthNote           = 0.5
)

// Sentinel errors.
var (
	ErrInvalidInterval      = errors.New("repeat interval must be finite and positive")
	ErrInvalidTime          = errors.New("time must be finite")
	ErrNilCallback          = errors.New("callback is nil")
	ErrInvalidPPQ           = errors.New("ppq must be positive")
	ErrInvalidTimeSignature = errors.New("time signature must be positive")
	ErrInvalidSwing         = errors.New("swing must be within [0, 1]")
	ErrInvalidLoop          = errors.New("loop end must be after loop start")
)

// Notification names a transport event.
type Notification int

const (
	// NotifyStart fires when playback starts. Change.Seconds is the start offset.
	NotifyStart Notification = iota
	// NotifyStop fires when playback stops.
	NotifyStop
	// NotifyPause fires when playback pauses.
	NotifyPause
	// NotifyLoop fires after every loop wrap.
	NotifyLoop
	// NotifyLoopStart fires when playback jumps back to the loop start.
	// Change.Seconds is the loop start in seconds.
	NotifyLoopStart
	// NotifyLoopEnd fires when playback reaches the loop end.
	NotifyLoopEnd
	// NotifyTicks fires when the position is changed while not started.
	NotifyTicks
)

// String returns the notification name.
func (n Notification) String() string {
	switch n {
	case NotifyStart:
		return "start"
	case NotifyStop:
		return "stop"
	case NotifyPause:
		return "pause"
	case NotifyLoop:
		return "loop"
	case NotifyLoopStart:
		return "loopStart"
	case NotifyLoopEnd:
		return "loopEnd"
	case NotifyTicks:
		return "ticks"
	default:
		return fmt.Sprintf("Notification(%d)", int(n))
	}
}

// Change is the payload of a transport notification.
type Change struct {
	Time    float64
	Seconds float64
}

// PulseStats summarises one processed pulse.
type PulseStats struct {
	Ticks  int
	Events int
	Loops  int
	Errors int
	// Window is the length of the processed window in seconds.
	Window float64
}

// Recorder receives pulse statistics, e.g. for metrics export.
type Recorder interface {
	RecordPulse(ctx context.Context, stats PulseStats)
}

// Options configures a Transport. Zero fields take their defaults.
type Options struct {
	BPM              float64
	PPQ              int
	TimeSignature    float64
	Swing            float64
	SwingSubdivision Time
	LoopStart        Time
	LoopEnd          Time
	Loop             bool
	Recorder         Recorder
}

// DefaultOptions returns the options New applies to zero fields.
func DefaultOptions() Options {
	return Options{
		BPM:              DefaultBPM,
		PPQ:              DefaultPPQ,
		TimeSignature:    DefaultTimeSignature,
		SwingSubdivision: Beats(eighthNote),
		LoopStart:        Ticks(0),
		LoopEnd:          Bars(defaultLoopEndBars),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()

	if o.BPM == 0 {
		o.BPM = d.BPM
	}

	if o.PPQ == 0 {
		o.PPQ = d.PPQ
	}

	if o.TimeSignature == 0 {
		o.TimeSignature = d.TimeSignature
	}

	if o.SwingSubdivision == nil {
		o.SwingSubdivision = d.SwingSubdivision
	}

	if o.LoopStart == nil {
		o.LoopStart = d.LoopStart
	}

	if o.LoopEnd == nil {
		o.LoopEnd = d.LoopEnd
	}

	return o
}

// loopFlag records whether looping is enabled from Time on.
type loopFlag struct {
	Time    float64
	Enabled bool
}

func (f *loopFlag) EventTime() float64 { return f.Time }

// Transport schedules callbacks against musical time.
type Transport struct {
	*emitter.Emitter[Notification, Change]

	tb    *timebase.Timebase
	clock *clock.Clock

	ppq           float64
	timeSignature float64
	swing         float64
	swingTicks    float64
	loopStart     float64
	loopEnd       float64
	loop          *timeline.Timeline[*loopFlag]

	events   *timeline.Timeline[*event]
	repeats  *interval.Tree[*repeatEvent]
	registry map[ID]entry
	nextID   ID

	recorder Recorder
	stats    PulseStats
	errs     []error
}

// New creates a stopped transport.
func New(tb *timebase.Timebase, opts Options) (*Transport, error) {
	opts = opts.withDefaults()

	if opts.PPQ < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPPQ, opts.PPQ)
	}

	if opts.TimeSignature < 0 || math.IsInf(opts.TimeSignature, 0) || math.IsNaN(opts.TimeSignature) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimeSignature, opts.TimeSignature)
	}

	if opts.Swing < 0 || opts.Swing > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSwing, opts.Swing)
	}

	tr := &Transport{
		Emitter:       emitter.New[Notification, Change](),
		tb:            tb,
		ppq:           float64(opts.PPQ),
		timeSignature: opts.TimeSignature,
		swing:         opts.Swing,
		loop:          timeline.New[*loopFlag](),
		events:        timeline.New[*event](),
		repeats:       interval.New[*repeatEvent](),
		registry:      make(map[ID]entry),
		recorder:      opts.Recorder,
	}

	c, err := clock.New(tb, clock.Options{
		Frequency:  opts.BPM,
		Units:      tempo.BPM,
		Multiplier: tr.ppq,
		Callback:   tr.processTick,
	})
	if err != nil {
		return nil, fmt.Errorf("transport clock: %w", err)
	}

	tr.clock = c
	tr.swingTicks = opts.SwingSubdivision.toTicks(tr)
	tr.loopStart = opts.LoopStart.toTicks(tr)
	tr.loopEnd = opts.LoopEnd.toTicks(tr)
	tr.loop.Add(&loopFlag{Time: 0, Enabled: opts.Loop})

	c.On(clock.NotifyStart, func(ch clock.Change) {
		tr.Emit(NotifyStart, Change{Time: ch.Time, Seconds: tr.ticksToSeconds(ch.Offset)})
	})
	c.On(clock.NotifyStop, func(ch clock.Change) {
		tr.Emit(NotifyStop, Change{Time: ch.Time})
	})
	c.On(clock.NotifyPause, func(ch clock.Change) {
		tr.Emit(NotifyPause, Change{Time: ch.Time})
	})

	return tr, nil
}

// Timebase returns the environment the transport runs in.
func (tr *Transport) Timebase() *timebase.Timebase {
	return tr.tb
}

// Process handles one pulse: it replays state changes and dispatches every
// tick in the window since the previous pulse. Callback errors from all ticks
// in the window are joined.
func (tr *Transport) Process(ctx context.Context) error {
	start := tr.clock.LastUpdate()
	tr.stats = PulseStats{}
	tr.errs = nil

	if err := tr.clock.Process(ctx); err != nil {
		tr.errs = append(tr.errs, err)
	}

	tr.stats.Window = tr.clock.LastUpdate() - start
	if tr.recorder != nil {
		tr.recorder.RecordPulse(ctx, tr.stats)
	}

	return errors.Join(tr.errs...)
}

// Start starts playback now.
func (tr *Transport) Start() error {
	return tr.StartAt(tr.tb.Now(), nil)
}

// StartAt starts playback at t, optionally from offset. Starting an already
// started transport is a no-op.
func (tr *Transport) StartAt(t float64, offset Time) error {
	if err := checkFinite(t); err != nil {
		return err
	}

	var ticks *float64

	if offset != nil {
		v := offset.toTicks(tr)
		if err := checkFinite(v); err != nil {
			return err
		}

		ticks = &v
	}

	return tr.clock.Start(t, ticks)
}

// Stop stops playback now and rewinds to zero.
func (tr *Transport) Stop() error {
	return tr.StopAt(tr.tb.Now())
}

// StopAt stops playback at t and rewinds to zero.
func (tr *Transport) StopAt(t float64) error {
	if err := checkFinite(t); err != nil {
		return err
	}

	return tr.clock.Stop(t)
}

// Pause pauses playback now.
func (tr *Transport) Pause() error {
	return tr.PauseAt(tr.tb.Now())
}

// PauseAt pauses playback at t, keeping the position.
func (tr *Transport) PauseAt(t float64) error {
	if err := checkFinite(t); err != nil {
		return err
	}

	return tr.clock.Pause(t)
}

// Toggle starts a non-started transport or stops a started one, now.
func (tr *Transport) Toggle() error {
	return tr.ToggleAt(tr.tb.Now())
}

// ToggleAt starts a non-started transport or stops a started one at t.
func (tr *Transport) ToggleAt(t float64) error {
	if tr.StateAtTime(t) != timeline.Started {
		return tr.StartAt(t, nil)
	}

	return tr.StopAt(t)
}

// State returns the playback state now.
func (tr *Transport) State() timeline.State {
	return tr.clock.State()
}

// StateAtTime returns the playback state at t.
func (tr *Transport) StateAtTime(t float64) timeline.State {
	return tr.clock.StateAtTime(t)
}

// BPM returns the tempo curve. Automating it changes the tick rate.
func (tr *Transport) BPM() *tempo.Curve {
	return tr.clock.Frequency()
}

// BPMValue returns the tempo now.
func (tr *Transport) BPMValue() float64 {
	return tr.clock.Frequency().Value()
}

// PPQ returns the ticks per quarter note.
func (tr *Transport) PPQ() int {
	return int(tr.ppq)
}

// SetPPQ changes the resolution. The position, the loop points, the swing
// subdivision and any tempo automation keep their musical values; scheduled
// events keep their tick positions.
func (tr *Transport) SetPPQ(ppq int) error {
	if ppq <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPPQ, ppq)
	}

	ratio := float64(ppq) / tr.ppq
	now := tr.tb.Now()
	ticks := tr.clock.TicksAtTime(now)

	if err := tr.clock.Frequency().SetMultiplier(float64(ppq)); err != nil {
		return err
	}

	if tr.StateAtTime(now) != timeline.Stopped && ticks != 0 {
		tr.clock.SetTicksAtTime(ticks*ratio, now)
	}

	tr.ppq = float64(ppq)
	tr.loopStart *= ratio
	tr.loopEnd *= ratio
	tr.swingTicks *= ratio

	return nil
}

// TimeSignature returns the number of quarter notes per bar.
func (tr *Transport) TimeSignature() float64 {
	return tr.timeSignature
}

// SetTimeSignature sets the meter as numerator over denominator, e.g. 6/8.
func (tr *Transport) SetTimeSignature(numerator, denominator int) error {
	if numerator <= 0 || denominator <= 0 {
		return fmt.Errorf("%w: %d/%d", ErrInvalidTimeSignature, numerator, denominator)
	}

	tr.timeSignature = float64(numerator) / float64(denominator) * DefaultTimeSignature

	return nil
}

// Loop reports whether looping is enabled now.
func (tr *Transport) Loop() bool {
	return tr.loopAt(tr.tb.Now())
}

// SetLoop enables or disables looping from now on.
func (tr *Transport) SetLoop(enabled bool) {
	now := tr.tb.Now()
	tr.loop.Cancel(now)
	tr.loop.Add(&loopFlag{Time: now, Enabled: enabled})
}

// LoopStart returns the loop start in seconds at the current tempo.
func (tr *Transport) LoopStart() float64 {
	return tr.ticksToSeconds(tr.loopStart)
}

// LoopEnd returns the loop end in seconds at the current tempo.
func (tr *Transport) LoopEnd() float64 {
	return tr.ticksToSeconds(tr.loopEnd)
}

// LoopStartTicks returns the loop start in ticks.
func (tr *Transport) LoopStartTicks() float64 {
	return tr.loopStart
}

// LoopEndTicks returns the loop end in ticks.
func (tr *Transport) LoopEndTicks() float64 {
	return tr.loopEnd
}

// SetLoopStart moves the loop start.
func (tr *Transport) SetLoopStart(t Time) error {
	ticks := t.toTicks(tr)
	if err := checkFinite(ticks); err != nil {
		return err
	}

	tr.loopStart = ticks

	return nil
}

// SetLoopEnd moves the loop end.
func (tr *Transport) SetLoopEnd(t Time) error {
	ticks := t.toTicks(tr)
	if err := checkFinite(ticks); err != nil {
		return err
	}

	tr.loopEnd = ticks

	return nil
}

// SetLoopPoints sets both loop points and enables looping.
func (tr *Transport) SetLoopPoints(start, end Time) error {
	startTicks, endTicks := start.toTicks(tr), end.toTicks(tr)

	if err := checkFinite(startTicks); err != nil {
		return err
	}

	if err := checkFinite(endTicks); err != nil {
		return err
	}

	if endTicks <= startTicks {
		return fmt.Errorf("%w: [%v, %v)", ErrInvalidLoop, startTicks, endTicks)
	}

	tr.loopStart, tr.loopEnd = startTicks, endTicks
	tr.SetLoop(true)

	return nil
}

// Swing returns the swing amount in [0, 1].
func (tr *Transport) Swing() float64 {
	return tr.swing
}

// SetSwing sets the swing amount in [0, 1].
func (tr *Transport) SetSwing(amount float64) error {
	if amount < 0 || amount > 1 || math.IsNaN(amount) {
		return fmt.Errorf("%w: %v", ErrInvalidSwing, amount)
	}

	tr.swing = amount

	return nil
}

// SwingSubdivision returns the swung note length in ticks.
func (tr *Transport) SwingSubdivision() Ticks {
	return Ticks(tr.swingTicks)
}

// SetSwingSubdivision sets the swung note length.
func (tr *Transport) SetSwingSubdivision(t Time) error {
	ticks := t.toTicks(tr)
	if err := checkFinite(ticks); err != nil {
		return err
	}

	tr.swingTicks = ticks

	return nil
}

// Ticks returns the current position in ticks.
func (tr *Transport) Ticks() int {
	return tr.clock.Ticks()
}

// SetTicks moves the position to ticks. While started, the move is notified as
// a stop and start on the next tick boundary so repeats re-anchor; otherwise it
// is notified as a tick change.
func (tr *Transport) SetTicks(ticks float64) error {
	if err := checkFinite(ticks); err != nil {
		return err
	}

	if float64(tr.clock.Ticks()) == ticks {
		return nil
	}

	now := tr.tb.Now()

	if tr.StateAtTime(now) == timeline.Started {
		current := tr.clock.TicksAtTime(now)
		next := now + tr.clock.Frequency().DurationOfTicks(math.Ceil(current)-current, now)

		tr.Emit(NotifyStop, Change{Time: next})
		tr.clock.SetTicksAtTime(ticks, next)
		tr.Emit(NotifyStart, Change{Time: next, Seconds: tr.clock.SecondsAtTime(next)})

		return nil
	}

	tr.clock.SetTicks(ticks)
	tr.Emit(NotifyTicks, Change{Time: now})

	return nil
}

// Seconds returns the elapsed position in seconds.
func (tr *Transport) Seconds() float64 {
	return tr.clock.Seconds()
}

// SetSeconds moves the position to s seconds at the current tempo.
func (tr *Transport) SetSeconds(s float64) error {
	if err := checkFinite(s); err != nil {
		return err
	}

	return tr.SetTicks(tr.clock.Frequency().TimeToTicks(s, tr.tb.Now()))
}

// Position returns the current bars:beats:sixteenths position.
func (tr *Transport) Position() Position {
	return tr.PositionOf(float64(tr.Ticks()))
}

// SetPosition moves playback to t.
func (tr *Transport) SetPosition(t Time) error {
	return tr.SetTicks(t.toTicks(tr))
}

// Progress returns how far through the loop region the position is, in [0, 1].
// It is 0 when looping is disabled.
func (tr *Transport) Progress() float64 {
	if !tr.Loop() {
		return 0
	}

	now := tr.tb.Now()

	return (tr.clock.TicksAtTime(now) - tr.loopStart) / (tr.loopEnd - tr.loopStart)
}

// TicksAtTime returns the position in ticks at t.
func (tr *Transport) TicksAtTime(t float64) float64 {
	return tr.clock.TicksAtTime(t)
}

// SecondsAtTime returns the elapsed position in seconds at t.
func (tr *Transport) SecondsAtTime(t float64) float64 {
	return tr.clock.SecondsAtTime(t)
}

// NextSubdivision returns the time of the next multiple of sub, or 0 when
// the transport is not started.
func (tr *Transport) NextSubdivision(sub Time) float64 {
	now := tr.tb.Now()
	if tr.StateAtTime(now) != timeline.Started {
		return 0
	}

	subTicks := sub.toTicks(tr)
	if subTicks <= 0 {
		return now
	}

	remaining := subTicks - math.Mod(tr.clock.TicksAtTime(now), subTicks)
	if approx.Equal(remaining, subTicks) {
		remaining = 0
	}

	return tr.clock.NextTickTime(remaining, now)
}

// loopAt reports whether looping is enabled at t.
func (tr *Transport) loopAt(t float64) bool {
	if f, ok := tr.loop.Get(t); ok {
		return f.Enabled
	}

	return false
}

// processTick is the clock callback: it wraps the loop, applies swing and
// dispatches the events on the tick. Callback errors are collected for
// Process so that later ticks in the window still fire.
func (tr *Transport) processTick(tickTime float64, ticks int) error {
	tr.stats.Ticks++

	if tr.loopAt(tickTime) && float64(ticks) >= tr.loopEnd {
		tr.Emit(NotifyLoopEnd, Change{Time: tickTime})
		tr.clock.SetTicksAtTime(tr.loopStart, tickTime)
		ticks = int(math.Round(tr.loopStart))
		tr.Emit(NotifyLoopStart, Change{Time: tickTime, Seconds: tr.clock.SecondsAtTime(tickTime)})
		tr.Emit(NotifyLoop, Change{Time: tickTime})
		tr.stats.Loops++
	}

	if tr.swing > 0 && tr.swingTicks > 0 {
		pair := 2 * tr.swingTicks
		position := float64(ticks)

		if math.Mod(position, tr.ppq) != 0 && math.Mod(position, pair) != 0 {
			progress := math.Mod(position, pair) / pair
			amount := math.Sin(progress*math.Pi) * tr.swing
			tickTime += tr.clock.Frequency().DurationOfTicks(pair/3, tickTime) * amount
		}
	}

	if err := tr.dispatch(tickTime, float64(ticks)); err != nil {
		tr.errs = append(tr.errs, err)
	}

	return nil
}

func checkFinite(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidTime, v)
	}

	return nil
}
