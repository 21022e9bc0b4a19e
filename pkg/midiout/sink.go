// Package midiout turns transport activity into MIDI messages: a 24 PPQN
// clock with start, continue and stop, and timed notes.
package midiout

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/Sumatoshi-tech/beatgrid/pkg/timebase"
)

// ErrPortNotFound is returned when no output port matches a name.
var ErrPortNotFound = errors.New("midi output port not found")

// Sink receives a MIDI message and the context time it should sound at.
type Sink interface {
	Send(time float64, msg midi.Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(time float64, msg midi.Message) error

// Send calls f.
func (f SinkFunc) Send(time float64, msg midi.Message) error {
	return f(time, msg)
}

// Live forwards messages to a port, holding each one back until its time
// arrives on the timebase.
type Live struct {
	tb     *timebase.Timebase
	send   func(midi.Message) error
	logger *slog.Logger

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

// NewLive creates a live sink writing through send, typically the function
// returned by midi.SendTo.
func NewLive(tb *timebase.Timebase, send func(midi.Message) error) *Live {
	return &Live{
		tb:     tb,
		send:   send,
		logger: tb.Logger(),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Send writes msg now when t has passed, otherwise after the remaining delay.
// Errors from delayed writes are logged.
func (l *Live) Send(t float64, msg midi.Message) error {
	delay := t - l.tb.Immediate()
	if delay <= 0 {
		return l.send(msg)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	var timer *time.Timer

	timer = time.AfterFunc(time.Duration(delay*float64(time.Second)), func() {
		l.mu.Lock()
		delete(l.timers, timer)
		closed := l.closed
		l.mu.Unlock()

		if closed {
			return
		}

		if err := l.send(msg); err != nil {
			l.logger.Error("midiout: send failed", "message", msg.String(), "error", err)
		}
	})
	l.timers[timer] = struct{}{}

	return nil
}

// Pending returns how many messages are waiting for their time.
func (l *Live) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.timers)
}

// Close drops every pending message.
func (l *Live) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true

	for timer := range l.timers {
		timer.Stop()
	}

	clear(l.timers)

	return nil
}

// Ports lists the names of the available output ports.
func Ports() []string {
	outs := midi.GetOutPorts()
	names := make([]string, 0, len(outs))

	for _, out := range outs {
		names = append(names, out.String())
	}

	return names
}

// OpenPort returns a send function for the output port called name. A MIDI
// driver must be registered by the caller.
func OpenPort(name string) (func(midi.Message) error, error) {
	out, err := midi.FindOutPort(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPortNotFound, name, err)
	}

	send, err := midi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	return send, nil
}
