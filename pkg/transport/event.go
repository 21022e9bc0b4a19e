package transport

import (
	"errors"
	"fmt"
	"math"

	"github.com/Sumatoshi-tech/beatgrid/pkg/alg/interval"
	"github.com/Sumatoshi-tech/beatgrid/pkg/approx"
	"github.com/Sumatoshi-tech/beatgrid/pkg/emitter"
)

// ID identifies a scheduled event. IDs start at 1 and are never reused.
type ID uint64

// Callback receives the exact time an event fires. A returned error is
// reported from Process after the remaining events on the tick have fired.
type Callback func(time float64) error

// entry locates a registered event in its store.
type entry struct {
	event  *event
	repeat *repeatEvent
}

// event fires once when the transport reaches its tick.
type event struct {
	tr        *Transport
	id        ID
	tick      float64
	remainder float64
	callback  Callback
	once      bool
	// owned marks a pending firing of a repeat.
	owned bool
}

func (e *event) EventTime() float64 { return e.tick }

// invoke fires the callback at time, shifted by the fractional tick. A
// cleared event does nothing.
func (e *event) invoke(time float64) error {
	if e.callback == nil {
		return nil
	}

	duration := e.tr.clock.Frequency().DurationOfTicks(1, time)
	err := e.callback(time + e.remainder*duration)

	if e.once {
		e.tr.Clear(e.id)
	}

	return err
}

// repeatEvent fires every interval ticks from start for duration ticks. It
// keeps at most two upcoming firings scheduled as one-off events.
type repeatEvent struct {
	tr       *Transport
	id       ID
	start    float64
	low      float64
	interval float64
	duration float64
	callback Callback

	currentID ID
	nextID    ID
	nextTick  float64
	handles   []emitter.Handle
	disposed  bool
}

// restart rebuilds the look-ahead chain from the position at time.
func (r *repeatEvent) restart(time float64) {
	r.tr.Clear(r.currentID)
	r.tr.Clear(r.nextID)

	r.nextTick = r.start

	ticks := r.tr.clock.TicksAtTime(time)
	if approx.Greater(ticks, r.start) {
		r.nextTick = r.start + math.Ceil((ticks-r.start)/r.interval)*r.interval
	}

	r.currentID = r.createEvent()
	r.nextTick += r.interval
	r.nextID = r.createEvent()
}

// createEvent schedules a firing at nextTick when it lies inside the repeat.
func (r *repeatEvent) createEvent() ID {
	if approx.Less(r.nextTick, r.start+r.duration) {
		return r.tr.addFiring(r.fire, r.nextTick)
	}

	return 0
}

// fire extends the chain and invokes the callback.
func (r *repeatEvent) fire(time float64) error {
	if r.disposed {
		return nil
	}

	r.extend(time)

	return r.callback(time)
}

// extend schedules one more firing once the latest scheduled one is reached.
func (r *repeatEvent) extend(time float64) {
	ticks := r.tr.clock.TicksAtTime(time)

	if approx.GreaterOrEqual(ticks, r.start) &&
		approx.GreaterOrEqual(ticks, r.nextTick) &&
		r.nextTick+r.interval < r.start+r.duration {
		r.nextTick += r.interval
		r.currentID = r.nextID
		r.nextID = r.tr.addFiring(r.fire, r.nextTick)
	}
}

// dispose clears the pending firings and detaches from the transport.
func (r *repeatEvent) dispose() {
	r.disposed = true

	for _, h := range r.handles {
		r.tr.Off(h)
	}

	r.handles = nil

	r.tr.Clear(r.currentID)
	r.tr.Clear(r.nextID)
}

// Schedule invokes cb every time the transport passes at.
func (tr *Transport) Schedule(cb Callback, at Time) (ID, error) {
	ticks, err := tr.checkSchedule(cb, at)
	if err != nil {
		return 0, err
	}

	return tr.addEvent(cb, ticks, false), nil
}

// ScheduleOnce invokes cb the first time the transport passes at, then clears it.
func (tr *Transport) ScheduleOnce(cb Callback, at Time) (ID, error) {
	ticks, err := tr.checkSchedule(cb, at)
	if err != nil {
		return 0, err
	}

	return tr.addEvent(cb, ticks, true), nil
}

// ScheduleRepeat invokes cb every interval starting at start for duration.
// A nil start means the current position; use Forever for an endless repeat.
func (tr *Transport) ScheduleRepeat(cb Callback, every, start, duration Time) (ID, error) {
	if cb == nil {
		return 0, ErrNilCallback
	}

	intervalTicks := every.toTicks(tr)
	if math.IsNaN(intervalTicks) || math.IsInf(intervalTicks, 0) || intervalTicks <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInterval, intervalTicks)
	}

	startTicks := tr.clock.TicksAtTime(tr.tb.Now())
	if start != nil {
		startTicks = start.toTicks(tr)
	}

	if err := checkFinite(startTicks); err != nil {
		return 0, err
	}

	if duration == nil {
		duration = Forever
	}

	durationTicks := duration.toTicks(tr)
	if math.IsNaN(durationTicks) || durationTicks < 0 {
		return 0, fmt.Errorf("%w: duration %v", ErrInvalidTime, durationTicks)
	}

	tr.nextID++

	r := &repeatEvent{
		tr:       tr,
		id:       tr.nextID,
		start:    startTicks,
		low:      math.Floor(startTicks),
		interval: intervalTicks,
		duration: durationTicks,
		callback: cb,
	}

	onRestart := func(ch Change) { r.restart(ch.Time) }
	r.handles = []emitter.Handle{
		tr.On(NotifyStart, onRestart),
		tr.On(NotifyLoopStart, onRestart),
		tr.On(NotifyTicks, onRestart),
	}

	tr.registry[r.id] = entry{repeat: r}
	tr.repeats.Insert(r.low, r.start+r.duration, r)
	r.restart(tr.tb.Now())

	return r.id, nil
}

// Clear removes a scheduled event. Unknown or already cleared ids are ignored.
func (tr *Transport) Clear(id ID) {
	en, ok := tr.registry[id]
	if !ok {
		return
	}

	delete(tr.registry, id)

	switch {
	case en.event != nil:
		tr.events.Remove(en.event)
		en.event.callback = nil
	case en.repeat != nil:
		tr.repeats.Delete(en.repeat.low, en.repeat)
		en.repeat.dispose()
	}
}

// Cancel removes every event and repeat scheduled at or after after. Repeats
// that start earlier keep firing.
func (tr *Transport) Cancel(after Time) {
	ticks := after.toTicks(tr)

	// Events are stored at their whole tick; compare the exact position.
	tr.events.ForEachFrom(math.Floor(ticks), func(e *event) {
		if !e.owned && approx.GreaterOrEqual(e.tick+e.remainder, ticks) {
			tr.Clear(e.id)
		}
	})

	tr.repeats.ForEachFrom(ticks, func(iv interval.Interval[*repeatEvent]) {
		tr.Clear(iv.Value.id)
	})
}

// ActiveRepeats returns the ids of repeats whose span contains at.
func (tr *Transport) ActiveRepeats(at Time) []ID {
	found := tr.repeats.QueryPoint(at.toTicks(tr))

	ids := make([]ID, 0, len(found))
	for _, iv := range found {
		ids = append(ids, iv.Value.id)
	}

	return ids
}

// Len returns the number of registered ids: one-off events, repeats and the
// pending firings of each repeat.
func (tr *Transport) Len() int {
	return len(tr.registry)
}

// checkSchedule validates a one-off schedule request.
func (tr *Transport) checkSchedule(cb Callback, at Time) (float64, error) {
	if cb == nil {
		return 0, ErrNilCallback
	}

	if at == nil {
		return 0, fmt.Errorf("%w: nil time", ErrInvalidTime)
	}

	ticks := at.toTicks(tr)
	if err := checkFinite(ticks); err != nil {
		return 0, err
	}

	return ticks, nil
}

// addEvent registers a one-off event at ticks.
func (tr *Transport) addEvent(cb Callback, ticks float64, once bool) ID {
	tr.nextID++

	tick := math.Floor(ticks)
	e := &event{
		tr:        tr,
		id:        tr.nextID,
		tick:      tick,
		remainder: ticks - tick,
		callback:  cb,
		once:      once,
	}

	tr.events.Add(e)
	tr.registry[e.id] = entry{event: e}

	return e.id
}

// addFiring registers a pending firing of a repeat.
func (tr *Transport) addFiring(cb Callback, ticks float64) ID {
	id := tr.addEvent(cb, ticks, true)
	tr.registry[id].event.owned = true

	return id
}

// dispatch invokes every event on tick in insertion order and joins their errors.
func (tr *Transport) dispatch(tickTime, tick float64) error {
	var errs []error

	tr.events.ForEachAtTime(tick, func(e *event) {
		if e.callback == nil {
			return
		}

		tr.stats.Events++

		if err := e.invoke(tickTime); err != nil {
			tr.stats.Errors++
			errs = append(errs, err)
		}
	})

	return errors.Join(errs...)
}
