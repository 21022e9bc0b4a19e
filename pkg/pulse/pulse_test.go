package pulse

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test constants.
const (
	testInterval = time.Millisecond
	testWait     = 2 * time.Second
	testPoll     = time.Millisecond
)

var errTestProcess = errors.New("process failed")

// counter counts pulses and optionally fails them.
type counter struct {
	calls atomic.Int64
	fail  bool
}

func (c *counter) Process(context.Context) error {
	c.calls.Add(1)

	if c.fail {
		return errTestProcess
	}

	return nil
}

// startTicker runs tk in the background and returns a cancel func and the Run result channel.
func startTicker(t *testing.T, tk *Ticker) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)

	go func() {
		result <- tk.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		tk.mu.Lock()
		defer tk.mu.Unlock()

		return tk.stopped != nil
	}, testWait, testPoll)

	return cancel, result
}

// TestNew_DefaultInterval verifies a non-positive interval falls back to the default.
func TestNew_DefaultInterval(t *testing.T) {
	t.Parallel()

	tk := New(&counter{}, 0)

	assert.Equal(t, DefaultInterval, tk.Interval())
}

// TestTicker_Run verifies pulses arrive until the context is cancelled.
func TestTicker_Run(t *testing.T) {
	t.Parallel()

	proc := &counter{}
	tk := New(proc, testInterval)

	cancel, result := startTicker(t, tk)

	require.Eventually(t, func() bool { return proc.calls.Load() >= 3 }, testWait, testPoll)
	cancel()

	err := <-result
	require.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, tk.Pulses(), uint64(3))
}

// TestTicker_AlreadyRunning verifies a second Run is rejected.
func TestTicker_AlreadyRunning(t *testing.T) {
	t.Parallel()

	tk := New(&counter{}, testInterval)

	cancel, result := startTicker(t, tk)
	defer func() {
		cancel()
		<-result
	}()

	require.ErrorIs(t, tk.Run(context.Background()), ErrAlreadyRunning)
	require.ErrorIs(t, tk.Step(context.Background()), ErrAlreadyRunning)
}

// TestTicker_Do verifies mutations run on the pulse goroutine and return their error.
func TestTicker_Do(t *testing.T) {
	t.Parallel()

	tk := New(&counter{}, time.Hour)

	require.ErrorIs(t, tk.Do(context.Background(), func() error { return nil }), ErrNotRunning)

	cancel, result := startTicker(t, tk)

	ran := false
	require.NoError(t, tk.Do(context.Background(), func() error {
		ran = true

		return nil
	}))
	assert.True(t, ran)

	require.ErrorIs(t, tk.Do(context.Background(), func() error { return errTestProcess }), errTestProcess)

	cancel()
	<-result

	require.ErrorIs(t, tk.Do(context.Background(), func() error { return nil }), ErrNotRunning)
}

// TestTicker_DoContextDone verifies a cancelled caller does not block.
func TestTicker_DoContextDone(t *testing.T) {
	t.Parallel()

	tk := New(&counter{}, time.Hour)

	cancel, result := startTicker(t, tk)
	defer func() {
		cancel()
		<-result
	}()

	ctx, done := context.WithCancel(context.Background())
	done()

	err := tk.Do(ctx, func() error {
		time.Sleep(10 * testInterval)

		return nil
	})
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}
}

// TestTicker_ErrorHandler verifies process errors reach the handler and do not stop the loop.
func TestTicker_ErrorHandler(t *testing.T) {
	t.Parallel()

	var seen atomic.Int64

	proc := &counter{fail: true}
	tk := New(proc, testInterval, WithErrorHandler(func(err error) {
		if errors.Is(err, errTestProcess) {
			seen.Add(1)
		}
	}))

	cancel, result := startTicker(t, tk)

	require.Eventually(t, func() bool { return seen.Load() >= 2 }, testWait, testPoll)
	cancel()
	<-result
}

// TestTicker_Step verifies a synchronous pulse.
func TestTicker_Step(t *testing.T) {
	t.Parallel()

	proc := &counter{}
	tk := New(ProcessorFunc(proc.Process), testInterval)

	require.NoError(t, tk.Step(context.Background()))
	assert.Equal(t, int64(1), proc.calls.Load())
	assert.Equal(t, uint64(1), tk.Pulses())
}
