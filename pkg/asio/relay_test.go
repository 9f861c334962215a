package asio

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runningController(t *testing.T) (*Controller, *atomic.Bool) {
	t.Helper()
	stale := &atomic.Bool{}
	c := newController(newFakeDriver(), 48000, stale)
	require.NoError(t, c.transition(StateOpen, StateClosed))
	require.NoError(t, c.transition(StateRunning, StateOpen))
	return c, stale
}

func TestRelayBufferSizeChangeWhileRunning(t *testing.T) {
	c, stale := runningController(t)

	var calls int
	var frames int
	handler := func(ev DriverEvent, _ any) bool {
		calls++
		frames, _ = ev.PreferredFrames()
		return true
	}
	r := newRelay(Output, handler, nil, c, nil, nil)

	assert.True(t, r.OnDriverEvent(int(BufferSizeChange), 512, 0, nil))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 512, frames)
	assert.True(t, stale.Load())

	assert.True(t, c.PendingReset())
	assert.True(t, c.ConsumePendingReset())
	assert.False(t, c.ConsumePendingReset(), "flag must clear after one consume")
}

func TestRelaySampleRateChangedDoesNotRequestReset(t *testing.T) {
	c, stale := runningController(t)

	var rate float64
	r := newRelay(Output, func(ev DriverEvent, _ any) bool {
		rate, _ = ev.SampleRate()
		return true
	}, nil, c, nil, nil)

	r.OnDriverEvent(int(SampleRateChanged), 0, 0, []float64{96000})
	assert.Equal(t, 96000.0, rate)
	assert.False(t, c.PendingReset())
	assert.False(t, stale.Load())
}

func TestRelayResetClassEvents(t *testing.T) {
	for _, kind := range []MessageType{ResetRequest, BufferSizeChange, ResyncRequest, LatenciesChanged} {
		t.Run(kind.String(), func(t *testing.T) {
			c, stale := runningController(t)
			r := newRelay(Output, nil, nil, c, nil, nil)

			r.OnDriverEvent(int(kind), 0, 0, nil)
			assert.True(t, c.PendingReset())
			assert.Equal(t, kind == ResetRequest || kind == BufferSizeChange, stale.Load())
		})
	}
}

func TestRelayWithoutHandler(t *testing.T) {
	c, _ := runningController(t)
	ring := NewEventRing(8)
	r := newRelay(Input, nil, nil, c, ring, nil)

	assert.False(t, r.OnDriverEvent(int(ResetRequest), 0, 0, nil))
	assert.True(t, c.PendingReset())

	rec, ok := ring.Pop()
	require.True(t, ok)
	assert.Equal(t, ResetRequest, rec.Kind)
	assert.Equal(t, Input, rec.Direction)
	assert.False(t, rec.Handled)
}

func TestRelayUnrecognizedCode(t *testing.T) {
	c, _ := runningController(t)
	var got DriverEvent
	r := newRelay(Output, func(ev DriverEvent, _ any) bool {
		got = ev
		return false
	}, nil, c, nil, nil)

	assert.False(t, r.OnDriverEvent(99, 3, 0, nil))
	assert.Equal(t, Unrecognized, got.Kind())
	code, value, _, _, ok := got.Raw()
	assert.True(t, ok)
	assert.Equal(t, 99, code)
	assert.Equal(t, 3, value)
	assert.False(t, c.PendingReset())
}

func TestRelayPassesUserData(t *testing.T) {
	c, _ := runningController(t)
	type app struct{ name string }
	data := &app{name: "mixer"}

	var seen any
	r := newRelay(Output, func(_ DriverEvent, ud any) bool {
		seen = ud
		return true
	}, data, c, nil, nil)
	r.OnDriverEvent(int(LatenciesChanged), 0, 0, nil)
	assert.Same(t, data, seen)
}

func TestPendingResetOnlyFromRunningOrStopped(t *testing.T) {
	stale := &atomic.Bool{}
	c := newController(newFakeDriver(), 48000, stale)
	r := newRelay(Output, nil, nil, c, nil, nil)

	// closed
	r.OnDriverEvent(int(ResetRequest), 0, 0, nil)
	assert.False(t, c.PendingReset())

	// open
	require.NoError(t, c.transition(StateOpen, StateClosed))
	r.OnDriverEvent(int(ResetRequest), 0, 0, nil)
	assert.False(t, c.PendingReset())

	// stopped
	require.NoError(t, c.transition(StateRunning, StateOpen))
	require.NoError(t, c.transition(StateStopped, StateRunning))
	r.OnDriverEvent(int(ResyncRequest), 0, 0, nil)
	assert.True(t, c.PendingReset())

	// reopening clears it
	require.NoError(t, c.transition(StateClosed, StateStopped))
	require.NoError(t, c.transition(StateOpen, StateClosed))
	assert.False(t, c.PendingReset())
}

func TestRelayDoesNotAllocate(t *testing.T) {
	c, _ := runningController(t)
	ring := NewEventRing(1024)
	r := newRelay(Output, func(DriverEvent, any) bool { return true }, nil, c, ring, nil)
	opt := []float64{44100}

	allocs := testing.AllocsPerRun(100, func() {
		r.OnDriverEvent(int(SampleRateChanged), 0, 0, opt)
		ring.Pop()
	})
	assert.Zero(t, allocs)
}
