// Package tempo provides an automatable rate curve that integrates itself
// into elapsed ticks.
//
// A Curve stores only constant (Set) and linear-ramp segments. Exponential
// ramps and target approaches are materialised into dense linear segments at
// schedule time, so every segment has a closed-form integral and a closed-form
// inverse. The cumulative tick count at each stored event is memoised in an
// explicit map keyed by event identity; an edit at time t invalidates the
// entries of every event at or after t.
package tempo

import (
	"errors"
	"fmt"
	"math"

	"github.com/Sumatoshi-tech/beatgrid/pkg/approx"
	"github.com/Sumatoshi-tech/beatgrid/pkg/emitter"
	"github.com/Sumatoshi-tech/beatgrid/pkg/timebase"
	"github.com/Sumatoshi-tech/beatgrid/pkg/timeline"
)

// Sentinel errors.
var (
	ErrNonFinite           = errors.New("value and time must be finite")
	ErrNegativeTime        = errors.New("time must be greater than or equal to 0")
	ErrNegativeRate        = errors.New("rate must be greater than or equal to 0")
	ErrInvalidTimeConstant = errors.New("time constant must be positive and finite")
	ErrInvalidMultiplier   = errors.New("multiplier must be positive and finite")
)

const (
	// minOutput replaces zero when a ramp needs a strictly positive start.
	minOutput = 1e-7

	// exponentialSegmentsPerSecond is the density of linear segments used to
	// approximate an exponential ramp.
	exponentialSegmentsPerSecond = 10

	// approachBase is the residual ratio reached by ExponentialApproachValueAtTime.
	approachBase = 200

	// approachHoldRatio is the fraction of the approach after which the
	// curve finishes with a linear ramp.
	approachHoldRatio = 0.9

	// secondsPerMinute converts BPM to beats per second.
	secondsPerMinute = 60
)

// Units selects how public values are interpreted.
type Units int

const (
	// Hertz values are ticks per second.
	Hertz Units = iota
	// BPM values are beats per minute, scaled by the multiplier into ticks per second.
	BPM
)

// String returns the unit name.
func (u Units) String() string {
	if u == BPM {
		return "bpm"
	}

	return "hertz"
}

// Kind is a stored segment type.
type Kind int

const (
	// Set holds a constant value from its time onward.
	Set Kind = iota
	// LinearRamp ramps linearly from the previous event and ends at its time.
	LinearRamp
)

// String returns the segment name.
func (k Kind) String() string {
	if k == LinearRamp {
		return "linearRamp"
	}

	return "set"
}

// Event is a stored automation event. Value is in ticks per second.
type Event struct {
	Time  float64
	Value float64
	Kind  Kind
}

// EventTime implements timeline.Event.
func (e *Event) EventTime() float64 {
	return e.Time
}

// Point is an exported view of a stored event, in the curve's units.
type Point struct {
	Time  float64
	Value float64
	Ticks float64
	Kind  Kind
}

// Options configures a Curve.
type Options struct {
	// Value is the initial value in Units.
	Value float64
	// Units selects Hertz or BPM.
	Units Units
	// Multiplier scales BPM into ticks per second (pulses per quarter note).
	// It is ignored for Hertz. Zero means 1.
	Multiplier float64
}

// Curve is an automatable tick rate.
type Curve struct {
	tb         *timebase.Timebase
	events     *timeline.Timeline[*Event]
	ticks      map[*Event]float64
	units      Units
	multiplier float64
	initial    float64
	edits      *emitter.Emitter[struct{}, float64]
}

// New creates a curve holding opts.Value from time zero.
func New(tb *timebase.Timebase, opts Options) (*Curve, error) {
	multiplier := opts.Multiplier
	if multiplier == 0 {
		multiplier = 1
	}

	if math.IsNaN(multiplier) || math.IsInf(multiplier, 0) || multiplier < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMultiplier, multiplier)
	}

	c := &Curve{
		tb:         tb,
		events:     timeline.New[*Event](),
		ticks:      make(map[*Event]float64),
		units:      opts.Units,
		multiplier: multiplier,
		edits:      emitter.New[struct{}, float64](),
	}

	initial, err := c.checkValue(opts.Value)
	if err != nil {
		return nil, err
	}

	c.initial = initial
	c.add(&Event{Time: 0, Value: initial, Kind: Set})

	return c, nil
}

// Units returns the curve's units.
func (c *Curve) Units() Units {
	return c.units
}

// Multiplier returns the BPM multiplier.
func (c *Curve) Multiplier() float64 {
	return c.multiplier
}

// SetMultiplier changes the multiplier from now on. Ticks elapsed before now
// are unchanged. The value at now and every later event keep their values in
// Units, so scheduled ramps survive a resolution change.
func (c *Curve) SetMultiplier(m float64) error {
	if math.IsNaN(m) || math.IsInf(m, 0) || m <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidMultiplier, m)
	}

	now := c.tb.Now()
	rate := c.rateAt(now)
	current := c.toUnits(rate)
	initial := c.toUnits(c.initial)

	var later []Event

	c.events.ForEachAfter(now, func(e *Event) {
		later = append(later, Event{Time: e.Time, Value: c.toUnits(e.Value), Kind: e.Kind})
	})

	c.multiplier = m
	c.initial = c.fromUnits(initial)
	c.cancel(math.Nextafter(now, math.Inf(1)))

	// The ramp closes the segment ending at now at the old rate; the Set
	// opens the new one.
	c.add(&Event{Time: now, Value: rate, Kind: LinearRamp})
	c.add(&Event{Time: now, Value: c.fromUnits(current), Kind: Set})

	for _, e := range later {
		c.add(&Event{Time: e.Time, Value: c.fromUnits(e.Value), Kind: e.Kind})
	}

	return nil
}

// OnEdit registers fn to receive the earliest time affected by every edit.
func (c *Curve) OnEdit(fn func(from float64)) emitter.Handle {
	return c.edits.On(struct{}{}, fn)
}

// Value returns the value at the timebase's current time.
func (c *Curve) Value() float64 {
	return c.ValueAtTime(c.tb.Now())
}

// ValueAtTime returns the value at t in the curve's units.
func (c *Curve) ValueAtTime(t float64) float64 {
	return c.toUnits(c.rateAt(t))
}

// RateAt returns the tick rate at t in ticks per second.
func (c *Curve) RateAt(t float64) float64 {
	return c.rateAt(t)
}

// Events returns the stored events in time order.
func (c *Curve) Events() []Point {
	stored := c.events.Events()
	points := make([]Point, 0, len(stored))

	for _, e := range stored {
		points = append(points, Point{
			Time:  e.Time,
			Value: c.toUnits(e.Value),
			Ticks: c.ticksOf(e),
			Kind:  e.Kind,
		})
	}

	return points
}

// SetValueAtTime holds value from t onward.
func (c *Curve) SetValueAtTime(value, t float64) error {
	rate, err := c.check(value, t)
	if err != nil {
		return err
	}

	c.tb.Logger().Debug("tempo: set value", "units", c.units.String(), "value", value, "time", t)
	c.add(&Event{Time: t, Value: rate, Kind: Set})

	return nil
}

// LinearRampToValueAtTime ramps linearly from the previous event to value at t.
func (c *Curve) LinearRampToValueAtTime(value, t float64) error {
	rate, err := c.check(value, t)
	if err != nil {
		return err
	}

	c.tb.Logger().Debug("tempo: linear ramp", "units", c.units.String(), "value", value, "time", t)
	c.add(&Event{Time: t, Value: rate, Kind: LinearRamp})

	return nil
}

// ExponentialRampToValueAtTime ramps exponentially from the previous event to
// value at t, approximated by about ten linear segments per second.
func (c *Curve) ExponentialRampToValueAtTime(value, t float64) error {
	target, err := c.check(value, t)
	if err != nil {
		return err
	}

	prevTime, prevValue := 0.0, c.initial

	if prev, ok := c.events.Get(t); ok {
		prevTime, prevValue = prev.Time, prev.Value
	}

	span := t - prevTime
	if approx.Equal(span, 0) {
		c.add(&Event{Time: t, Value: target, Kind: LinearRamp})

		return nil
	}

	segments := int(math.Round(max(span*exponentialSegmentsPerSecond, 1)))
	segmentDur := span / float64(segments)

	c.tb.Logger().Debug("tempo: exponential ramp", "units", c.units.String(), "value", value, "time", t, "segments", segments)

	for i := range segments + 1 {
		segTime := segmentDur*float64(i) + prevTime
		rate := exponentialInterpolate(prevTime, prevValue, t, target, segTime)
		c.add(&Event{Time: segTime, Value: rate, Kind: LinearRamp})
	}

	return nil
}

// SetTargetAtTime approaches value exponentially from t with the given time
// constant, approximated by max(1, 1/constant) linear segments.
func (c *Curve) SetTargetAtTime(value, t, constant float64) error {
	target, err := c.check(value, t)
	if err != nil {
		return err
	}

	if math.IsNaN(constant) || math.IsInf(constant, 0) || constant <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidTimeConstant, constant)
	}

	if err := c.SetRampPoint(t); err != nil {
		return err
	}

	prev, _ := c.events.Get(t)
	segments := int(math.Round(max(1/constant, 1)))

	for i := range segments + 1 {
		segTime := constant*float64(i) + t
		rate := exponentialApproach(prev.Time, prev.Value, target, constant, segTime)
		c.add(&Event{Time: segTime, Value: rate, Kind: LinearRamp})
	}

	return nil
}

// ExponentialApproachValueAtTime approaches value from t so that it is reached
// after rampTime: an exponential approach for the first 90% followed by a
// linear ramp onto the target.
func (c *Curve) ExponentialApproachValueAtTime(value, t, rampTime float64) error {
	constant := math.Log(rampTime+1) / math.Log(approachBase)

	if err := c.SetTargetAtTime(value, t, constant); err != nil {
		return err
	}

	if err := c.CancelAndHoldAtTime(t + rampTime*approachHoldRatio); err != nil {
		return err
	}

	return c.LinearRampToValueAtTime(value, t+rampTime)
}

// CancelScheduledValues removes every event at or after t.
func (c *Curve) CancelScheduledValues(t float64) error {
	if err := checkTime(t); err != nil {
		return err
	}

	c.cancel(t)

	return nil
}

// CancelAndHoldAtTime removes every event after t and holds the value the
// curve had at t.
func (c *Curve) CancelAndHoldAtTime(t float64) error {
	if err := checkTime(t); err != nil {
		return err
	}

	held := c.rateAt(t)
	before, hasBefore := c.events.Get(t)
	after, hasAfter := c.events.GetAfter(t)

	switch {
	case hasBefore && approx.Equal(before.Time, t):
		if hasAfter {
			c.cancel(after.Time)
		} else {
			c.cancel(t + c.tb.SampleTime())
		}
	case hasAfter:
		c.cancel(after.Time)

		if after.Kind == LinearRamp {
			c.add(&Event{Time: t, Value: held, Kind: LinearRamp})
		}
	}

	c.add(&Event{Time: t, Value: held, Kind: Set})

	return nil
}

// SetRampPoint pins the current value at t so a following ramp starts from it.
// A zero value is replaced by a tiny positive one.
func (c *Curve) SetRampPoint(t float64) error {
	if err := checkTime(t); err != nil {
		return err
	}

	current := c.rateAt(t)

	if err := c.CancelAndHoldAtTime(t); err != nil {
		return err
	}

	if current == 0 {
		current = minOutput
	}

	c.add(&Event{Time: t, Value: current, Kind: Set})

	return nil
}

// LinearRampTo ramps linearly from the value at start to value over rampTime.
func (c *Curve) LinearRampTo(value, rampTime, start float64) error {
	if err := c.SetRampPoint(start); err != nil {
		return err
	}

	return c.LinearRampToValueAtTime(value, start+rampTime)
}

// ExponentialRampTo ramps exponentially from the value at start to value over rampTime.
func (c *Curve) ExponentialRampTo(value, rampTime, start float64) error {
	if err := c.SetRampPoint(start); err != nil {
		return err
	}

	return c.ExponentialRampToValueAtTime(value, start+rampTime)
}

// TargetRampTo approaches value from start so that it is reached after rampTime.
func (c *Curve) TargetRampTo(value, rampTime, start float64) error {
	if err := c.SetRampPoint(start); err != nil {
		return err
	}

	return c.ExponentialApproachValueAtTime(value, start, rampTime)
}

// RampTo ramps to value over rampTime: exponentially for BPM, linearly for Hertz.
func (c *Curve) RampTo(value, rampTime, start float64) error {
	if c.units == BPM {
		return c.ExponentialRampTo(value, rampTime, start)
	}

	return c.LinearRampTo(value, rampTime, start)
}

// TicksAtTime returns the ticks elapsed between time zero and t.
func (c *Curve) TicksAtTime(t float64) float64 {
	var from *Event

	if before, ok := c.events.Get(t); ok {
		from = before
	}

	return max(c.ticksUntil(from, t), 0)
}

// TimeOfTick returns the time at which the curve reaches tick. It returns
// +Inf when the rate stays at zero before tick is reached.
func (c *Curve) TimeOfTick(tick float64) float64 {
	before, hasBefore := c.events.GetBy(tick, c.ticksOf)
	after, hasAfter := c.events.GetAfterBy(tick, c.ticksOf)

	switch {
	case hasBefore && approx.Equal(c.ticksOf(before), tick):
		return before.Time
	case hasBefore && hasAfter && after.Kind == LinearRamp && before.Value != after.Value:
		val0 := c.rateAt(before.Time)
		val1 := c.rateAt(after.Time)
		delta := (val1 - val0) / (after.Time - before.Time)
		remaining := tick - c.ticksOf(before)
		k := math.Sqrt(max(val0*val0+2*delta*remaining, 0))

		// Positive root of delta/2*x^2 + val0*x - remaining, in the form that
		// stays stable when delta is close to zero.
		return before.Time + 2*remaining/(val0+k)
	case hasBefore:
		if before.Value == 0 {
			return math.Inf(1)
		}

		return before.Time + (tick-c.ticksOf(before))/before.Value
	default:
		if c.initial == 0 {
			return math.Inf(1)
		}

		return tick / c.initial
	}
}

// DurationOfTicks returns how long ticks last when counted from t.
func (c *Curve) DurationOfTicks(ticks, t float64) float64 {
	current := c.TicksAtTime(t)

	return c.TimeOfTick(current+ticks) - t
}

// TicksToTime is DurationOfTicks.
func (c *Curve) TicksToTime(ticks, when float64) float64 {
	return c.DurationOfTicks(ticks, when)
}

// TimeToTicks returns how many ticks elapse during duration seconds from when.
func (c *Curve) TimeToTicks(duration, when float64) float64 {
	return c.TicksAtTime(when+duration) - c.TicksAtTime(when)
}

// add stores e and memoises its cumulative ticks from its predecessor.
func (c *Curve) add(e *Event) {
	c.invalidate(e.Time)
	c.events.Add(e)
	c.ticksOf(e)
}

// cancel removes every event at or after t together with its memo entry.
func (c *Curve) cancel(t float64) {
	c.invalidate(t)
	c.events.Cancel(t)
}

// invalidate drops the memoised ticks of every event at or after t and
// notifies edit listeners.
func (c *Curve) invalidate(t float64) {
	c.events.ForEachFrom(t, func(e *Event) {
		delete(c.ticks, e)
	})

	c.edits.Emit(struct{}{}, t)
}

// ticksOf returns the memoised cumulative ticks at e, resolving its
// predecessors recursively when they are missing.
func (c *Curve) ticksOf(e *Event) float64 {
	if ticks, ok := c.ticks[e]; ok {
		return ticks
	}

	var from *Event

	if prev, ok := c.events.Previous(e); ok {
		from = prev
	}

	ticks := max(c.ticksUntil(from, e.Time), 0)
	c.ticks[e] = ticks

	return ticks
}

// ticksUntil integrates the curve from the event from (time zero when nil)
// up to t with the trapezoid rule.
func (c *Curve) ticksUntil(from *Event, t float64) float64 {
	fromTime, fromTicks := 0.0, 0.0

	if from != nil {
		fromTime = from.Time
		fromTicks = c.ticksOf(from)
	}

	val0 := c.rateAt(fromTime)
	val1 := c.rateAt(t)

	// A Set landing exactly on t starts a new segment; integrate up to its left limit.
	if on, ok := c.events.Get(t); ok && on.Kind == Set && approx.Equal(on.Time, t) {
		val1 = c.rateBefore(t)
	}

	return 0.5*(t-fromTime)*(val0+val1) + fromTicks
}

// rateAt returns the tick rate at t.
func (c *Curve) rateAt(t float64) float64 {
	before, ok := c.events.Get(t)
	if !ok {
		return c.initial
	}

	after, ok := c.events.GetAfter(t)
	if ok && after.Kind == LinearRamp {
		return linearInterpolate(before.Time, before.Value, after.Time, after.Value, t)
	}

	return before.Value
}

// rateBefore returns the left limit of the rate at t.
func (c *Curve) rateBefore(t float64) float64 {
	prev, ok := c.events.GetBefore(t)
	if !ok {
		return c.initial
	}

	next, ok := c.events.GetAfter(prev.Time)
	if ok && next.Kind == LinearRamp {
		return linearInterpolate(prev.Time, prev.Value, next.Time, next.Value, t)
	}

	return prev.Value
}

// check validates a public value/time pair and converts the value to ticks per second.
func (c *Curve) check(value, t float64) (float64, error) {
	if err := checkTime(t); err != nil {
		return 0, err
	}

	return c.checkValue(value)
}

// checkValue validates a public value and converts it to ticks per second.
func (c *Curve) checkValue(value float64) (float64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: value %v", ErrNonFinite, value)
	}

	if value < 0 {
		return 0, fmt.Errorf("%w: %v", ErrNegativeRate, value)
	}

	return c.fromUnits(value), nil
}

// fromUnits converts a public value into ticks per second.
func (c *Curve) fromUnits(value float64) float64 {
	if c.units == BPM {
		return value / secondsPerMinute * c.multiplier
	}

	return value
}

// toUnits converts ticks per second into a public value.
func (c *Curve) toUnits(rate float64) float64 {
	if c.units == BPM {
		return rate / c.multiplier * secondsPerMinute
	}

	return rate
}

// checkTime rejects non-finite and negative times.
func checkTime(t float64) error {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("%w: time %v", ErrNonFinite, t)
	}

	if t < 0 {
		return fmt.Errorf("%w: %v", ErrNegativeTime, t)
	}

	return nil
}

func linearInterpolate(t0, v0, t1, v1, t float64) float64 {
	if approx.Equal(t0, t1) {
		return v1
	}

	return v0 + (v1-v0)*((t-t0)/(t1-t0))
}

func exponentialInterpolate(t0, v0, t1, v1, t float64) float64 {
	if approx.Equal(t0, t1) {
		return v1
	}

	v0 = max(v0, minOutput)

	return v0 * math.Pow(v1/v0, (t-t0)/(t1-t0))
}

func exponentialApproach(t0, v0, v1, constant, t float64) float64 {
	return v1 + (v0-v1)*math.Exp(-(t-t0)/constant)
}
