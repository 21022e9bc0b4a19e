// Package pulse drives a processor at a fixed interval from a single goroutine.
//
// The transport and everything below it are owned by the pulse goroutine.
// Other goroutines hand mutations to it with Do instead of touching the
// transport directly.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the pulse period used when none is given.
const DefaultInterval = 25 * time.Millisecond

// Sentinel errors.
var (
	ErrAlreadyRunning = errors.New("pulse: ticker already running")
	ErrNotRunning     = errors.New("pulse: ticker not running")
)

// Processor handles one pulse.
type Processor interface {
	Process(ctx context.Context) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context) error {
	return f(ctx)
}

// Option configures a Ticker.
type Option func(*Ticker)

// WithLogger sets the logger used for process errors.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Ticker) {
		t.logger = logger
	}
}

// WithErrorHandler sets a function that receives every process error.
func WithErrorHandler(fn func(error)) Option {
	return func(t *Ticker) {
		t.onError = fn
	}
}

// request is a mutation posted onto the pulse goroutine.
type request struct {
	fn   func() error
	done chan error
}

// Ticker calls Process every interval and runs posted mutations between pulses.
type Ticker struct {
	proc     Processor
	interval time.Duration
	logger   *slog.Logger
	onError  func(error)
	requests chan request

	mu      sync.Mutex
	stopped chan struct{}
	pulses  uint64
}

// New creates a ticker for proc. A non-positive interval selects DefaultInterval.
func New(proc Processor, interval time.Duration, opts ...Option) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}

	t := &Ticker{
		proc:     proc,
		interval: interval,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		requests: make(chan request),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Interval returns the pulse period.
func (t *Ticker) Interval() time.Duration {
	return t.interval
}

// Pulses returns how many pulses have been processed.
func (t *Ticker) Pulses() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.pulses
}

// Run pulses until ctx is done and returns ctx's error. Process errors are
// logged and passed to the error handler; they do not stop the loop.
func (t *Ticker) Run(ctx context.Context) error {
	stopped, err := t.begin()
	if err != nil {
		return err
	}

	defer t.end(stopped)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("pulse: %w", ctx.Err())
		case req := <-t.requests:
			req.done <- req.fn()
		case <-ticker.C:
			_ = t.step(ctx)
		}
	}
}

// Step processes one pulse on the caller's goroutine. It must not be used
// while Run is active.
func (t *Ticker) Step(ctx context.Context) error {
	t.mu.Lock()
	running := t.stopped != nil
	t.mu.Unlock()

	if running {
		return ErrAlreadyRunning
	}

	return t.step(ctx)
}

// Do runs fn on the pulse goroutine between pulses and returns its error.
func (t *Ticker) Do(ctx context.Context, fn func() error) error {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()

	if stopped == nil {
		return ErrNotRunning
	}

	req := request{fn: fn, done: make(chan error, 1)}

	select {
	case t.requests <- req:
	case <-stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return fmt.Errorf("pulse: %w", ctx.Err())
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("pulse: %w", ctx.Err())
	}
}

func (t *Ticker) begin() (chan struct{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped != nil {
		return nil, ErrAlreadyRunning
	}

	t.stopped = make(chan struct{})

	return t.stopped, nil
}

func (t *Ticker) end(stopped chan struct{}) {
	t.mu.Lock()
	t.stopped = nil
	t.mu.Unlock()

	close(stopped)
}

func (t *Ticker) step(ctx context.Context) error {
	err := t.proc.Process(ctx)

	t.mu.Lock()
	t.pulses++
	t.mu.Unlock()

	if err != nil {
		t.logger.ErrorContext(ctx, "pulse: process failed", "error", err)

		if t.onError != nil {
			t.onError(err)
		}
	}

	return err
}
