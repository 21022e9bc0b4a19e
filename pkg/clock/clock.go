// Package clock turns a tick-rate curve into per-tick callbacks.
//
// A TickSource answers how many ticks and seconds have elapsed at any time
// across start, stop, pause and seek operations. A Clock wraps a TickSource
// with its own state machine and, on every external pulse, replays the state
// transitions and ticks that fell in the window since the previous pulse.
//
// Neither type is safe for concurrent use; both are owned by the pulse
// processing context.
package clock

import (
	"context"
	"math"

	"github.com/Sumatoshi-tech/beatgrid/pkg/emitter"
	"github.com/Sumatoshi-tech/beatgrid/pkg/tempo"
	"github.com/Sumatoshi-tech/beatgrid/pkg/timebase"
	"github.com/Sumatoshi-tech/beatgrid/pkg/timeline"
)

// Notification names a clock state change.
type Notification int

const (
	// NotifyStart fires when the clock starts.
	NotifyStart Notification = iota
	// NotifyStop fires when the clock stops.
	NotifyStop
	// NotifyPause fires when the clock pauses.
	NotifyPause
)

// Change is the payload of a state change notification.
type Change struct {
	// Time is when the change takes effect.
	Time float64
	// Offset is the tick position at a start.
	Offset float64
}

// Options configures a Clock.
type Options struct {
	// Frequency is the initial rate in Units.
	Frequency float64
	// Units selects Hertz or BPM.
	Units tempo.Units
	// Multiplier scales BPM into ticks per second.
	Multiplier float64
	// Callback is invoked once per elapsed tick.
	Callback TickFunc
}

// Clock invokes a callback once per elapsed tick.
type Clock struct {
	*emitter.Emitter[Notification, Change]

	tb         *timebase.Timebase
	source     *TickSource
	state      *timeline.StateTimeline
	callback   TickFunc
	lastUpdate float64
}

// New creates a stopped clock.
func New(tb *timebase.Timebase, opts Options) (*Clock, error) {
	frequency, err := tempo.New(tb, tempo.Options{
		Value:      opts.Frequency,
		Units:      opts.Units,
		Multiplier: opts.Multiplier,
	})
	if err != nil {
		return nil, err
	}

	return &Clock{
		Emitter:  emitter.New[Notification, Change](),
		tb:       tb,
		source:   NewTickSource(tb, frequency),
		state:    timeline.NewStateTimeline(timeline.Stopped),
		callback: opts.Callback,
	}, nil
}

// Frequency returns the tick rate curve.
func (c *Clock) Frequency() *tempo.Curve {
	return c.source.Frequency()
}

// State returns the state at the timebase's current time.
func (c *Clock) State() timeline.State {
	return c.StateAtTime(c.tb.Now())
}

// StateAtTime returns the state at t.
func (c *Clock) StateAtTime(t float64) timeline.State {
	return c.state.ValueAtTime(t)
}

// Start starts the clock at t, optionally from tick *offset. It is a no-op
// when the clock is already started at t. A start scheduled before the last
// processed pulse is notified immediately.
func (c *Clock) Start(t float64, offset *float64) error {
	c.tb.Logger().Debug("clock: start", "time", t)

	if c.state.ValueAtTime(t) == timeline.Started {
		return nil
	}

	if _, err := c.state.SetStateAtTime(timeline.Started, t); err != nil {
		return err
	}

	if err := c.source.Start(t, offset); err != nil {
		return err
	}

	if t < c.lastUpdate {
		change := Change{Time: t}
		if offset != nil {
			change.Offset = *offset
		}

		c.Emit(NotifyStart, change)
	}

	return nil
}

// Stop stops the clock at t and resets its ticks to zero.
func (c *Clock) Stop(t float64) error {
	c.tb.Logger().Debug("clock: stop", "time", t)

	c.state.Cancel(t)

	if _, err := c.state.SetStateAtTime(timeline.Stopped, t); err != nil {
		return err
	}

	if err := c.source.Stop(t); err != nil {
		return err
	}

	if t < c.lastUpdate {
		c.Emit(NotifyStop, Change{Time: t})
	}

	return nil
}

// Pause pauses the clock at t. It is a no-op unless started at t.
func (c *Clock) Pause(t float64) error {
	c.tb.Logger().Debug("clock: pause", "time", t)

	if c.state.ValueAtTime(t) != timeline.Started {
		return nil
	}

	if _, err := c.state.SetStateAtTime(timeline.Paused, t); err != nil {
		return err
	}

	if err := c.source.Pause(t); err != nil {
		return err
	}

	if t < c.lastUpdate {
		c.Emit(NotifyPause, Change{Time: t})
	}

	return nil
}

// Ticks returns the current tick, rounded up.
func (c *Clock) Ticks() int {
	return int(math.Ceil(c.TicksAtTime(c.tb.Now())))
}

// SetTicks re-anchors the tick count at the current time.
func (c *Clock) SetTicks(ticks float64) {
	c.source.SetTicks(ticks)
}

// Seconds returns the elapsed started seconds at the current time.
func (c *Clock) Seconds() float64 {
	return c.source.Seconds()
}

// SetSeconds re-anchors the count so that s seconds have elapsed now.
func (c *Clock) SetSeconds(s float64) {
	c.source.SetSeconds(s)
}

// TicksAtTime returns the elapsed ticks at t.
func (c *Clock) TicksAtTime(t float64) float64 {
	return c.source.TicksAtTime(t)
}

// SecondsAtTime returns the elapsed started seconds at t.
func (c *Clock) SecondsAtTime(t float64) float64 {
	return c.source.SecondsAtTime(t)
}

// SetTicksAtTime re-anchors the tick count to ticks at t.
func (c *Clock) SetTicksAtTime(ticks, t float64) {
	c.source.SetTicksAtTime(ticks, t)
}

// TimeOfTick returns the time of tick measured from the latest anchor at or before before.
func (c *Clock) TimeOfTick(tick, before float64) float64 {
	return c.source.TimeOfTick(tick, before)
}

// NextTickTime returns the time that lies offset ticks after the position at when.
func (c *Clock) NextTickTime(offset, when float64) float64 {
	current := c.source.TicksAtTime(when)

	return c.source.TimeOfTick(current+offset, when)
}

// LastUpdate returns the end of the most recently processed window.
func (c *Clock) LastUpdate() float64 {
	return c.lastUpdate
}

// Process handles one pulse. It replays state changes and ticks in
// [last update, now), notifying listeners and invoking the callback per tick.
// The first callback error stops the tick replay and is returned; the window
// is still marked processed.
func (c *Clock) Process(_ context.Context) error {
	start := c.lastUpdate
	end := c.tb.Now()
	c.lastUpdate = end

	if start == end {
		return nil
	}

	c.state.ForEachBetween(start, end, func(e *timeline.StateEvent) {
		switch e.State {
		case timeline.Started:
			c.Emit(NotifyStart, Change{Time: e.Time, Offset: c.source.TicksAtTime(e.Time)})
		case timeline.Stopped:
			if e.Time != 0 {
				c.Emit(NotifyStop, Change{Time: e.Time})
			}
		case timeline.Paused:
			c.Emit(NotifyPause, Change{Time: e.Time})
		}
	})

	if c.callback == nil {
		return nil
	}

	return c.source.ForEachTickBetween(start, end, c.callback)
}
