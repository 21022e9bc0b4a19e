package clock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/beatgrid/pkg/tempo"
	"github.com/Sumatoshi-tech/beatgrid/pkg/timebase"
	"github.com/Sumatoshi-tech/beatgrid/pkg/timeline"
)

// tickRecord is one callback invocation.
type tickRecord struct {
	time  float64
	ticks int
}

// clockHarness bundles a clock with its source and recorded output.
type clockHarness struct {
	clock   *Clock
	src     *timebase.ManualSource
	ticks   []tickRecord
	changes map[Notification][]Change
	failAt  int
}

// newHarness builds a testRate Hz clock recording its callbacks and notifications.
func newHarness(t *testing.T) *clockHarness {
	t.Helper()

	tb, src := timebase.NewManual()
	h := &clockHarness{src: src, changes: make(map[Notification][]Change), failAt: -1}

	c, err := New(tb, Options{
		Frequency: testRate,
		Callback: func(when float64, ticks int) error {
			h.ticks = append(h.ticks, tickRecord{time: when, ticks: ticks})

			if ticks == h.failAt {
				return errTestStop
			}

			return nil
		},
	})
	require.NoError(t, err)

	for _, n := range []Notification{NotifyStart, NotifyStop, NotifyPause} {
		c.On(n, func(ch Change) {
			h.changes[n] = append(h.changes[n], ch)
		})
	}

	h.clock = c

	return h
}

// advance moves the source to t and processes a pulse.
func (h *clockHarness) advance(t *testing.T, to float64) error {
	t.Helper()

	h.src.Set(to)

	return h.clock.Process(context.Background())
}

// TestClock_Process verifies ticks and the start notification inside a window.
func TestClock_Process(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	require.NoError(t, h.clock.Start(0, nil))
	require.NoError(t, h.advance(t, 1))

	require.Len(t, h.ticks, 4)
	assert.Equal(t, []tickRecord{{0, 0}, {0.25, 1}, {0.5, 2}, {0.75, 3}}, h.ticks)
	require.Len(t, h.changes[NotifyStart], 1)
	assert.InDelta(t, 0.0, h.changes[NotifyStart][0].Time, 0)
	assert.InDelta(t, 1.0, h.clock.LastUpdate(), 0)
}

// TestClock_Stop verifies the stop notification and that ticks end at the stop.
func TestClock_Stop(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	require.NoError(t, h.clock.Start(0, nil))
	require.NoError(t, h.advance(t, 1))
	require.NoError(t, h.clock.Stop(1.5))
	require.NoError(t, h.advance(t, 2))

	require.Len(t, h.ticks, 6)
	assert.Equal(t, tickRecord{1.25, 5}, h.ticks[5])
	require.Len(t, h.changes[NotifyStop], 1)
	assert.InDelta(t, 1.5, h.changes[NotifyStop][0].Time, 0)
	assert.Equal(t, timeline.Stopped, h.clock.StateAtTime(2))
	assert.InDelta(t, 0.0, h.clock.TicksAtTime(2), testDelta)
}

// TestClock_PauseResume verifies a pause keeps the tick count across a restart.
func TestClock_PauseResume(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	require.NoError(t, h.clock.Start(0, nil))
	require.NoError(t, h.clock.Pause(1))
	require.NoError(t, h.clock.Start(2, nil))
	require.NoError(t, h.advance(t, 3))

	assert.Len(t, h.ticks, 8)
	assert.Equal(t, tickRecord{2, 4}, h.ticks[4])
	assert.Len(t, h.changes[NotifyPause], 1)
	assert.Len(t, h.changes[NotifyStart], 2)
	assert.InDelta(t, 4.0, h.changes[NotifyStart][1].Offset, testDelta)
	assert.InDelta(t, 8.0, h.clock.TicksAtTime(3), testDelta)
	assert.InDelta(t, 2.0, h.clock.SecondsAtTime(3), testDelta)
}

// TestClock_NoOpTransitions verifies meaningless transitions change nothing.
func TestClock_NoOpTransitions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	require.NoError(t, h.clock.Pause(0.5))
	require.NoError(t, h.clock.Start(1, nil))
	require.NoError(t, h.clock.Start(1.5, nil))
	require.NoError(t, h.advance(t, 2))

	assert.Len(t, h.changes[NotifyStart], 1)
	assert.Empty(t, h.changes[NotifyPause])
	assert.Len(t, h.ticks, 4)
}

// TestClock_LateStartNotifiesImmediately verifies a start in an already
// processed window is notified at call time.
func TestClock_LateStartNotifiesImmediately(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	require.NoError(t, h.advance(t, 1))
	require.NoError(t, h.clock.Start(0.5, ptr(2)))

	require.Len(t, h.changes[NotifyStart], 1)
	assert.InDelta(t, 2.0, h.changes[NotifyStart][0].Offset, 0)

	require.NoError(t, h.clock.Pause(0.75))
	require.NoError(t, h.clock.Stop(0.8))

	assert.Len(t, h.changes[NotifyPause], 1)
	assert.Len(t, h.changes[NotifyStop], 1)
}

// TestClock_CallbackError verifies the first callback error is returned and the
// window is still consumed.
func TestClock_CallbackError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.failAt = 1

	require.NoError(t, h.clock.Start(0, nil))
	require.ErrorIs(t, h.advance(t, 1), errTestStop)
	assert.Len(t, h.ticks, 2)
	assert.InDelta(t, 1.0, h.clock.LastUpdate(), 0)

	h.failAt = -1

	require.NoError(t, h.advance(t, 1.5))
	assert.Equal(t, tickRecord{1, 4}, h.ticks[2])
}

// TestClock_TickAccessors verifies tick and time helpers.
func TestClock_TickAccessors(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	require.NoError(t, h.clock.Start(0, nil))
	h.src.Set(0.3)

	assert.Equal(t, 2, h.clock.Ticks())
	assert.Equal(t, timeline.Started, h.clock.State())
	assert.InDelta(t, 0.55, h.clock.NextTickTime(1, 0.3), testDelta)
	assert.InDelta(t, 0.5, h.clock.TimeOfTick(2, 0.3), testDelta)
	assert.InDelta(t, 0.3, h.clock.Seconds(), testDelta)

	h.clock.SetTicks(10)
	assert.Equal(t, 10, h.clock.Ticks())

	h.clock.SetSeconds(1)
	assert.InDelta(t, 4.0, h.clock.TicksAtTime(0.3), testDelta)

	h.clock.SetTicksAtTime(0, 1)
	assert.InDelta(t, 2.0, h.clock.TicksAtTime(1.5), testDelta)
}

// TestClock_BPM verifies BPM units with a pulses-per-quarter multiplier.
func TestClock_BPM(t *testing.T) {
	t.Parallel()

	tb, _ := timebase.NewManual()

	c, err := New(tb, Options{Frequency: 120, Units: tempo.BPM, Multiplier: 192})
	require.NoError(t, err)
	require.NoError(t, c.Start(0, nil))

	assert.InDelta(t, 384.0, c.TicksAtTime(1), 1e-6)
	assert.InDelta(t, 120.0, c.Frequency().Value(), 1e-9)
	require.NoError(t, c.Process(context.Background()))
}
