package asio

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllerTransitions(t *testing.T) {
	c := newController(newFakeDriver(), 48000, &atomic.Bool{})
	assert.Equal(t, StateClosed, c.State())

	assert.ErrorIs(t, c.transition(StateRunning, StateOpen, StateStopped), ErrBadStreamState)
	require.NoError(t, c.transition(StateOpen, StateClosed))
	require.NoError(t, c.transition(StateRunning, StateOpen, StateStopped))
	assert.ErrorIs(t, c.transition(StateOpen, StateClosed), ErrBadStreamState)
	assert.Equal(t, "running", c.State().String())
}

func TestControllerSetSampleRate(t *testing.T) {
	t.Run("closed", func(t *testing.T) {
		c := newController(newFakeDriver(), 48000, nil)
		assert.ErrorIs(t, c.SetSampleRate(44100), ErrBadStreamState)
	})

	t.Run("open accepts supported rate", func(t *testing.T) {
		drv := newFakeDriver()
		c := newController(drv, 48000, nil)
		require.NoError(t, c.transition(StateOpen, StateClosed))

		require.NoError(t, c.SetSampleRate(96000))
		assert.Equal(t, 96000.0, c.SampleRate())
		assert.Equal(t, 96000.0, drv.rate)
	})

	t.Run("unsupported rate keeps old rate", func(t *testing.T) {
		c := newController(newFakeDriver(), 48000, nil)
		require.NoError(t, c.transition(StateOpen, StateClosed))

		assert.ErrorIs(t, c.SetSampleRate(12345), ErrDriverRejectedRate)
		assert.ErrorIs(t, c.SetSampleRate(0), ErrDriverRejectedRate)
		assert.Equal(t, 48000.0, c.SampleRate())
	})

	t.Run("running without live switching", func(t *testing.T) {
		c, _ := runningController(t)
		assert.ErrorIs(t, c.SetSampleRate(44100), ErrUnsupportedWhileRunning)
		assert.Equal(t, 48000.0, c.SampleRate())
	})

	t.Run("running with live switching", func(t *testing.T) {
		drv := newFakeDriver()
		drv.live = true
		c := newController(drv, 48000, nil)
		require.NoError(t, c.transition(StateOpen, StateClosed))
		require.NoError(t, c.transition(StateRunning, StateOpen))

		require.NoError(t, c.SetSampleRate(44100))
		assert.Equal(t, 44100.0, c.SampleRate())
	})

	t.Run("driver failure", func(t *testing.T) {
		drv := newFakeDriver()
		drv.failSetRate = errors.New("clock source locked")
		c := newController(drv, 48000, nil)
		require.NoError(t, c.transition(StateOpen, StateClosed))

		assert.ErrorIs(t, c.SetSampleRate(44100), ErrDriverRejectedRate)
		assert.Equal(t, 48000.0, c.SampleRate())
	})

	t.Run("driver reports running restriction", func(t *testing.T) {
		drv := newFakeDriver()
		drv.failSetRate = fmt.Errorf("%w: external clock", ErrUnsupportedWhileRunning)
		c := newController(drv, 48000, nil)
		require.NoError(t, c.transition(StateOpen, StateClosed))

		err := c.SetSampleRate(44100)
		assert.ErrorIs(t, err, ErrUnsupportedWhileRunning)
		assert.NotErrorIs(t, err, ErrDriverRejectedRate)
	})
}
