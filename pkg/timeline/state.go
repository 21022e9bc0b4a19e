package timeline

import (
	"errors"
	"fmt"
)

// ErrNegativeTime is returned when a state change is scheduled before zero.
var ErrNegativeTime = errors.New("time must be greater than or equal to 0")

// State is a playback state.
type State int

// Playback states.
const (
	Stopped State = iota
	Started
	Paused
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Started:
		return "started"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateEvent records a transition into State at Time.
type StateEvent struct {
	Time  float64
	State State
}

// EventTime implements Event.
func (e *StateEvent) EventTime() float64 {
	return e.Time
}

// StateTimeline tracks a playback state over time.
type StateTimeline struct {
	*Timeline[*StateEvent]

	initial State
}

// NewStateTimeline creates a state timeline that reports initial before any
// transition and records initial at time zero.
func NewStateTimeline(initial State) *StateTimeline {
	st := &StateTimeline{
		Timeline: New[*StateEvent](),
		initial:  initial,
	}

	st.Add(&StateEvent{Time: 0, State: initial})

	return st
}

// Initial returns the state reported before any transition.
func (st *StateTimeline) Initial() State {
	return st.initial
}

// SetStateAtTime records a transition into state at t.
func (st *StateTimeline) SetStateAtTime(state State, t float64) (*StateEvent, error) {
	if t < 0 {
		return nil, fmt.Errorf("%w: %v", ErrNegativeTime, t)
	}

	event := &StateEvent{Time: t, State: state}
	st.Add(event)

	return event, nil
}

// ValueAtTime returns the state in effect at t.
func (st *StateTimeline) ValueAtTime(t float64) State {
	event, ok := st.Get(t)
	if !ok {
		return st.initial
	}

	return event.State
}

// LastState returns the latest transition into state at or before t.
func (st *StateTimeline) LastState(state State, t float64) (*StateEvent, bool) {
	for idx := st.search(t, timeKey[*StateEvent]); idx >= 0; idx-- {
		if st.events[idx].State == state {
			return st.events[idx], true
		}
	}

	return nil, false
}

// NextState returns the first transition into state at or after the latest
// event at or before t.
func (st *StateTimeline) NextState(state State, t float64) (*StateEvent, bool) {
	for idx := max(st.search(t, timeKey[*StateEvent]), 0); idx < len(st.events); idx++ {
		if st.events[idx].State == state {
			return st.events[idx], true
		}
	}

	return nil, false
}
