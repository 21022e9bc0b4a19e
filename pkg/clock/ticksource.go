package clock

import (
	"math"

	"github.com/Sumatoshi-tech/beatgrid/pkg/tempo"
	"github.com/Sumatoshi-tech/beatgrid/pkg/timebase"
	"github.com/Sumatoshi-tech/beatgrid/pkg/timeline"
)

// TickFunc receives the exact time and the tick number of an elapsed tick.
// A non-nil error stops the iteration in progress.
type TickFunc func(time float64, ticks int) error

// offsetEvent re-anchors the tick count at Time.
type offsetEvent struct {
	Time    float64
	Ticks   float64
	Seconds float64
}

func (e *offsetEvent) EventTime() float64 { return e.Time }

// memoEvent caches an elapsed value at a non-started transition.
type memoEvent struct {
	Time  float64
	State timeline.State
	Value float64
}

func (e *memoEvent) EventTime() float64 { return e.Time }

// TickSource tracks elapsed ticks and elapsed seconds across start, stop,
// pause and seek operations. Ticks are integrated from its frequency curve
// within started spans only.
type TickSource struct {
	tb        *timebase.Timebase
	frequency *tempo.Curve
	state     *timeline.StateTimeline
	offsets   *timeline.Timeline[*offsetEvent]

	ticksMemo   *timeline.Timeline[*memoEvent]
	secondsMemo *timeline.Timeline[*memoEvent]
}

// NewTickSource creates a stopped tick source counting at the rate of frequency.
// Edits to frequency drop the cached elapsed values from the edit time on.
func NewTickSource(tb *timebase.Timebase, frequency *tempo.Curve) *TickSource {
	ts := &TickSource{
		tb:          tb,
		frequency:   frequency,
		state:       timeline.NewStateTimeline(timeline.Stopped),
		offsets:     timeline.New[*offsetEvent](),
		ticksMemo:   timeline.New[*memoEvent](),
		secondsMemo: timeline.New[*memoEvent](),
	}

	ts.SetTicksAtTime(0, 0)
	frequency.OnEdit(ts.cancelMemo)

	return ts
}

// Frequency returns the tick rate curve.
func (ts *TickSource) Frequency() *tempo.Curve {
	return ts.frequency
}

// State returns the state at the timebase's current time.
func (ts *TickSource) State() timeline.State {
	return ts.StateAtTime(ts.tb.Now())
}

// StateAtTime returns the state at t.
func (ts *TickSource) StateAtTime(t float64) timeline.State {
	return ts.state.ValueAtTime(t)
}

// Start starts counting at t. It is a no-op when already started at t.
// When offset is non-nil the tick count is set to *offset at t.
func (ts *TickSource) Start(t float64, offset *float64) error {
	if ts.state.ValueAtTime(t) == timeline.Started {
		return nil
	}

	if _, err := ts.state.SetStateAtTime(timeline.Started, t); err != nil {
		return err
	}

	if offset != nil {
		ts.SetTicksAtTime(*offset, t)
	}

	ts.cancelMemo(t)

	return nil
}

// Stop stops counting at t and resets the tick count to zero. A stop that
// follows an earlier stop replaces it.
func (ts *TickSource) Stop(t float64) error {
	if t < 0 {
		_, err := ts.state.SetStateAtTime(timeline.Stopped, t)

		return err
	}

	if ts.state.ValueAtTime(t) == timeline.Stopped {
		if prev, ok := ts.state.Get(t); ok && prev.Time > 0 {
			ts.offsets.Cancel(prev.Time)
			ts.state.Cancel(prev.Time)
		}
	}

	ts.state.Cancel(t)

	if _, err := ts.state.SetStateAtTime(timeline.Stopped, t); err != nil {
		return err
	}

	ts.SetTicksAtTime(0, t)
	ts.cancelMemo(t)

	return nil
}

// Pause pauses counting at t, keeping the elapsed ticks. It is a no-op unless started at t.
func (ts *TickSource) Pause(t float64) error {
	if ts.state.ValueAtTime(t) != timeline.Started {
		return nil
	}

	if _, err := ts.state.SetStateAtTime(timeline.Paused, t); err != nil {
		return err
	}

	ts.cancelMemo(t)

	return nil
}

// Cancel removes every state change and re-anchor at or after t.
func (ts *TickSource) Cancel(t float64) {
	ts.state.Cancel(t)
	ts.offsets.Cancel(t)
	ts.cancelMemo(t)
}

// Ticks returns the elapsed ticks at the timebase's current time.
func (ts *TickSource) Ticks() float64 {
	return ts.TicksAtTime(ts.tb.Now())
}

// SetTicks re-anchors the tick count at the timebase's current time.
func (ts *TickSource) SetTicks(ticks float64) {
	ts.SetTicksAtTime(ticks, ts.tb.Now())
}

// Seconds returns the elapsed started seconds at the timebase's current time.
func (ts *TickSource) Seconds() float64 {
	return ts.SecondsAtTime(ts.tb.Now())
}

// SetSeconds re-anchors the count so that s seconds have elapsed at the
// current time, converting through the frequency curve.
func (ts *TickSource) SetSeconds(s float64) {
	now := ts.tb.Now()
	ts.SetTicksAtTime(ts.frequency.TimeToTicks(s, now), now)
}

// SetTicksAtTime re-anchors the tick count to ticks at t, replacing every
// later re-anchor.
func (ts *TickSource) SetTicksAtTime(ticks, t float64) {
	ts.offsets.Cancel(t)
	ts.offsets.Add(&offsetEvent{
		Time:    t,
		Ticks:   ticks,
		Seconds: ts.frequency.DurationOfTicks(ticks, t),
	})
	ts.cancelMemo(t)
}

// TicksAtTime returns the elapsed ticks at t.
func (ts *TickSource) TicksAtTime(t float64) float64 {
	return ts.elapsedAtTime(t, ts.ticksMemo, func(start, end float64) float64 {
		return ts.frequency.TicksAtTime(end) - ts.frequency.TicksAtTime(start)
	}, func(o *offsetEvent) float64 { return o.Ticks })
}

// SecondsAtTime returns the elapsed started seconds at t.
func (ts *TickSource) SecondsAtTime(t float64) float64 {
	return ts.elapsedAtTime(t, ts.secondsMemo, func(start, end float64) float64 {
		return end - start
	}, func(o *offsetEvent) float64 { return o.Seconds })
}

// TimeOfTick returns the time at which the count reaches tick, measured from
// the latest start or re-anchor at or before before.
func (ts *TickSource) TimeOfTick(tick, before float64) float64 {
	startTime, offsetTicks := 0.0, 0.0

	if offset, ok := ts.offsets.Get(before); ok {
		startTime, offsetTicks = offset.Time, offset.Ticks
	}

	if event, ok := ts.state.Get(before); ok {
		startTime = max(startTime, event.Time)
	}

	absolute := ts.frequency.TicksAtTime(startTime) + tick - offsetTicks

	return ts.frequency.TimeOfTick(absolute)
}

// ForEachTickBetween calls fn once per integer tick boundary in [start, end)
// that falls inside a started span. It stops at the first error fn returns
// and returns it.
func (ts *TickSource) ForEachTickBetween(start, end float64, fn TickFunc) error {
	last, hasLast := ts.state.Get(start)

	var err error

	ts.state.ForEachBetween(start, end, func(e *timeline.StateEvent) {
		if err != nil {
			return
		}

		if hasLast && last.State == timeline.Started && e.State != timeline.Started {
			err = ts.ForEachTickBetween(max(last.Time, start), e.Time-ts.tb.SampleTime(), fn)
		}

		last, hasLast = e, true
	})

	if err != nil {
		return err
	}

	if !hasLast || last.State != timeline.Started {
		return nil
	}

	spanStart := max(last.Time, start)
	base := ts.frequency.TicksAtTime(last.Time)
	inside := last.Time >= start

	k := 0.0
	if !inside {
		k = math.Floor(ts.frequency.TicksAtTime(spanStart) - base)
	}

	// Tick k of the span is always computed the same way, so adjacent windows
	// never both claim a tick that lies on their shared boundary.
	for {
		next := ts.frequency.TimeOfTick(base + k)
		if k == 0 && inside {
			// The first tick lies on the span start, whatever the round trip gives.
			next = last.Time
		}

		if next >= end {
			return nil
		}

		k++

		if next < spanStart {
			continue
		}

		if err := fn(next, int(math.Round(ts.TicksAtTime(next)))); err != nil {
			return err
		}
	}
}

// elapsedAtTime replays state transitions since the latest memo entry or stop,
// summing span(start, end) over every started span that has ended by t. A
// temporary paused marker at t closes the span in progress. The value at the
// last real non-started transition is memoised.
func (ts *TickSource) elapsedAtTime(
	t float64,
	memo *timeline.Timeline[*memoEvent],
	span func(start, end float64) float64,
	anchor func(*offsetEvent) float64,
) float64 {
	stop, _ := ts.state.LastState(timeline.Stopped, t)

	lastTime, lastState, elapsed := 0.0, timeline.Stopped, 0.0

	if stop != nil {
		lastTime = stop.Time
	}

	if cached, ok := memo.Get(t); ok {
		lastTime, lastState, elapsed = cached.Time, cached.State, cached.Value
	}

	marker := &timeline.StateEvent{Time: t, State: timeline.Paused}
	ts.state.Add(marker)

	var toMemo *memoEvent

	ts.state.ForEachBetween(lastTime, t+ts.tb.SampleTime(), func(e *timeline.StateEvent) {
		periodStart := lastTime

		if offset, ok := ts.offsets.Get(e.Time); ok && offset.Time >= lastTime {
			elapsed = anchor(offset)
			periodStart = offset.Time
		}

		if lastState == timeline.Started && e.State != timeline.Started {
			elapsed += span(periodStart, e.Time)

			if e != marker {
				toMemo = &memoEvent{Time: e.Time, State: e.State, Value: elapsed}
			}
		}

		lastTime, lastState = e.Time, e.State
	})

	ts.state.Remove(marker)

	if toMemo != nil {
		memo.Add(toMemo)
	}

	return elapsed
}

// cancelMemo drops cached values at or after t.
func (ts *TickSource) cancelMemo(t float64) {
	ts.ticksMemo.Cancel(t)
	ts.secondsMemo.Cancel(t)
}
