// Package timeline provides an ordered store of time-stamped events with
// binary-search lookup and mutation-safe iteration.
//
// Events are kept sorted ascending by time. Events sharing a time keep their
// insertion order, so lookups at that time return the most recently added one.
// All time comparisons use the tolerance from package approx.
//
// A Timeline is not safe for concurrent use. It is meant to be owned by a
// single pulse-processing context; callbacks invoked by the ForEach family may
// add or remove events without corrupting the traversal in progress.
package timeline

import (
	"slices"

	"github.com/Sumatoshi-tech/beatgrid/pkg/approx"
)

// Event is a timeline entry. Implementations are usually pointers so that
// Remove can find an entry by identity.
type Event interface {
	comparable
	EventTime() float64
}

// KeyFunc extracts the search key from an event. The timeline must be sorted
// ascending by the key for keyed lookups to be meaningful.
type KeyFunc[E Event] func(E) float64

// Timeline is an ordered store of events.
type Timeline[E Event] struct {
	events []E
	memory int
}

// Option configures a Timeline.
type Option[E Event] func(*Timeline[E])

// WithMemory bounds the number of retained events. When an Add pushes the
// length past n, the oldest events are dropped. Zero or negative keeps every event.
func WithMemory[E Event](n int) Option[E] {
	return func(tl *Timeline[E]) {
		tl.memory = n
	}
}

// New creates an empty timeline.
func New[E Event](opts ...Option[E]) *Timeline[E] {
	tl := &Timeline[E]{}

	for _, opt := range opts {
		opt(tl)
	}

	return tl
}

// Len returns the number of stored events.
func (tl *Timeline[E]) Len() int {
	return len(tl.events)
}

// Memory returns the retention limit, or zero when unbounded.
func (tl *Timeline[E]) Memory() int {
	return tl.memory
}

// Events returns a copy of the stored events in time order.
func (tl *Timeline[E]) Events() []E {
	return slices.Clone(tl.events)
}

// Add inserts an event after every event at or before its time.
func (tl *Timeline[E]) Add(event E) {
	idx := tl.search(event.EventTime(), timeKey[E])
	tl.events = slices.Insert(tl.events, idx+1, event)

	if tl.memory > 0 && len(tl.events) > tl.memory {
		diff := len(tl.events) - tl.memory
		clear(tl.events[:diff])
		tl.events = slices.Delete(tl.events, 0, diff)
	}
}

// Remove deletes the given event. It reports whether the event was present.
func (tl *Timeline[E]) Remove(event E) bool {
	idx := slices.Index(tl.events, event)
	if idx < 0 {
		return false
	}

	tl.events = slices.Delete(tl.events, idx, idx+1)

	return true
}

// Clear removes every event.
func (tl *Timeline[E]) Clear() {
	clear(tl.events)
	tl.events = tl.events[:0]
}

// Peek returns the earliest event.
func (tl *Timeline[E]) Peek() (E, bool) {
	if len(tl.events) == 0 {
		var zero E

		return zero, false
	}

	return tl.events[0], true
}

// Shift removes and returns the earliest event.
func (tl *Timeline[E]) Shift() (E, bool) {
	first, ok := tl.Peek()
	if ok {
		tl.events = slices.Delete(tl.events, 0, 1)
	}

	return first, ok
}

// Get returns the latest event at or before t. When several events share
// that time, the most recently added wins.
func (tl *Timeline[E]) Get(t float64) (E, bool) {
	return tl.GetBy(t, timeKey[E])
}

// GetBy is Get searching by an arbitrary ascending key instead of time.
func (tl *Timeline[E]) GetBy(value float64, key KeyFunc[E]) (E, bool) {
	return tl.at(tl.search(value, key))
}

// GetAfter returns the earliest event strictly after t.
func (tl *Timeline[E]) GetAfter(t float64) (E, bool) {
	return tl.GetAfterBy(t, timeKey[E])
}

// GetAfterBy is GetAfter searching by an arbitrary ascending key.
func (tl *Timeline[E]) GetAfterBy(value float64, key KeyFunc[E]) (E, bool) {
	return tl.at(tl.search(value, key) + 1)
}

// GetBefore returns the latest event strictly before t.
func (tl *Timeline[E]) GetBefore(t float64) (E, bool) {
	return tl.at(tl.lastBefore(t))
}

// Previous returns the event stored immediately before the given one.
func (tl *Timeline[E]) Previous(event E) (E, bool) {
	idx := slices.Index(tl.events, event)
	if idx <= 0 {
		var zero E

		return zero, false
	}

	return tl.events[idx-1], true
}

// Cancel removes every event at or after t.
func (tl *Timeline[E]) Cancel(t float64) {
	idx := tl.lastBefore(t) + 1
	clear(tl.events[idx:])
	tl.events = tl.events[:idx]
}

// CancelBefore removes every event at or before t.
func (tl *Timeline[E]) CancelBefore(t float64) {
	idx := tl.search(t, timeKey[E])
	if idx < 0 {
		return
	}

	clear(tl.events[:idx+1])
	tl.events = slices.Delete(tl.events, 0, idx+1)
}

// ForEach calls fn for every event.
func (tl *Timeline[E]) ForEach(fn func(E)) {
	tl.iterate(fn, 0, len(tl.events)-1)
}

// ForEachBefore calls fn for every event at or before t.
func (tl *Timeline[E]) ForEachBefore(t float64, fn func(E)) {
	tl.iterate(fn, 0, tl.search(t, timeKey[E]))
}

// ForEachAfter calls fn for every event strictly after t.
func (tl *Timeline[E]) ForEachAfter(t float64, fn func(E)) {
	tl.iterate(fn, tl.search(t, timeKey[E])+1, len(tl.events)-1)
}

// ForEachBetween calls fn for every event in [start, end).
func (tl *Timeline[E]) ForEachBetween(start, end float64, fn func(E)) {
	tl.iterate(fn, tl.lastBefore(start)+1, tl.lastBefore(end))
}

// ForEachFrom calls fn for every event at or after t.
func (tl *Timeline[E]) ForEachFrom(t float64, fn func(E)) {
	tl.iterate(fn, tl.lastBefore(t)+1, len(tl.events)-1)
}

// ForEachAtTime calls fn for every event at t, in insertion order.
func (tl *Timeline[E]) ForEachAtTime(t float64, fn func(E)) {
	tl.iterate(fn, tl.lastBefore(t)+1, tl.search(t, timeKey[E]))
}

// iterate snapshots events[lower..upper] before calling fn so callbacks may
// mutate the timeline.
func (tl *Timeline[E]) iterate(fn func(E), lower, upper int) {
	lower = max(lower, 0)
	upper = min(upper, len(tl.events)-1)

	if lower > upper {
		return
	}

	snapshot := slices.Clone(tl.events[lower : upper+1])

	for _, event := range snapshot {
		fn(event)
	}
}

// at returns the event at idx, or false when idx is out of range.
func (tl *Timeline[E]) at(idx int) (E, bool) {
	if idx < 0 || idx >= len(tl.events) {
		var zero E

		return zero, false
	}

	return tl.events[idx], true
}

// lastBefore returns the index of the last event strictly before t, or -1.
func (tl *Timeline[E]) lastBefore(t float64) int {
	idx := tl.search(t, timeKey[E])

	for idx >= 0 && approx.GreaterOrEqual(tl.events[idx].EventTime(), t) {
		idx--
	}

	return idx
}

// search returns the index of the last event whose key is at or before value,
// or -1 when every event is after it.
func (tl *Timeline[E]) search(value float64, key KeyFunc[E]) int {
	n := len(tl.events)
	if n == 0 {
		return -1
	}

	if key(tl.events[n-1]) <= value {
		return n - 1
	}

	begin, end := 0, n

	for begin < end {
		mid := begin + (end-begin)/2
		current := key(tl.events[mid])

		if approx.Equal(current, value) {
			for mid+1 < n && approx.Equal(key(tl.events[mid+1]), value) {
				mid++
			}

			return mid
		}

		if mid+1 < n && approx.Less(current, value) && approx.Greater(key(tl.events[mid+1]), value) {
			return mid
		}

		if approx.Greater(current, value) {
			end = mid
		} else {
			begin = mid + 1
		}
	}

	return -1
}

// timeKey is the default search key.
func timeKey[E Event](event E) float64 {
	return event.EventTime()
}
