package transport

import (
	"fmt"
	"math"
)

const (
	// sixteenthsPerBeat is the number of sixteenth notes in a quarter note.
	sixteenthsPerBeat = 4

	// secondsPerMinute converts BPM to beats per second.
	secondsPerMinute = 60
)

// Time is a musical or wall-clock position that the transport normalises to ticks.
// Implementations are Seconds, Ticks, Beats, Bars and Position.
type Time interface {
	toTicks(tr *Transport) float64
}

// Seconds is a duration or position in seconds, converted at the current tempo.
type Seconds float64

// Ticks is a raw tick count.
type Ticks float64

// Beats counts quarter notes.
type Beats float64

// Bars counts measures of the current time signature.
type Bars float64

// Position is a bars:beats:sixteenths position.
type Position struct {
	Bars       float64
	Beats      float64
	Sixteenths float64
}

// Forever is the duration of a repeat that never ends.
var Forever Time = Ticks(math.Inf(1))

func (s Seconds) toTicks(tr *Transport) float64 {
	return float64(s) * tr.BPMValue() / secondsPerMinute * tr.ppq
}

func (t Ticks) toTicks(*Transport) float64 {
	return float64(t)
}

func (b Beats) toTicks(tr *Transport) float64 {
	return float64(b) * tr.ppq
}

func (b Bars) toTicks(tr *Transport) float64 {
	return float64(b) * tr.timeSignature * tr.ppq
}

func (p Position) toTicks(tr *Transport) float64 {
	quarters := p.Bars*tr.timeSignature + p.Beats + p.Sixteenths/sixteenthsPerBeat

	return quarters * tr.ppq
}

// String formats the position as bars:beats:sixteenths.
func (p Position) String() string {
	return fmt.Sprintf("%g:%g:%g", p.Bars, p.Beats, p.Sixteenths)
}

// ToTicks converts t to ticks at the transport's current tempo, PPQ and time signature.
func (tr *Transport) ToTicks(t Time) float64 {
	return t.toTicks(tr)
}

// ToSeconds converts t to seconds at the current tempo.
func (tr *Transport) ToSeconds(t Time) float64 {
	if s, ok := t.(Seconds); ok {
		return float64(s)
	}

	return tr.ticksToSeconds(t.toTicks(tr))
}

// PositionOf converts ticks into a bars:beats:sixteenths position.
// Sixteenths keep their fractional part rounded to three decimals.
func (tr *Transport) PositionOf(ticks float64) Position {
	quarters := ticks / tr.ppq
	measures := math.Floor(quarters / tr.timeSignature)
	sixteenths := math.Round(math.Mod(quarters, 1)*sixteenthsPerBeat*1000) / 1000
	beats := math.Mod(math.Floor(quarters), tr.timeSignature)

	return Position{Bars: measures, Beats: beats, Sixteenths: sixteenths}
}

// ticksToSeconds converts ticks to seconds at the current tempo.
func (tr *Transport) ticksToSeconds(ticks float64) float64 {
	return ticks / tr.ppq * secondsPerMinute / tr.BPMValue()
}
