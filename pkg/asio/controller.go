package asio

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// StreamState is the lifecycle position of a stream.
type StreamState int32

const (
	StateClosed StreamState = iota
	StateOpen
	StateRunning
	StateStopped
)

func (s StreamState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Controller coordinates driver-initiated configuration changes with the
// stream lifecycle. The state and pendingReset are the only fields touched
// from driver threads, both atomically.
type Controller struct {
	driver Driver

	state        atomic.Int32
	pendingReset atomic.Bool

	// set by reset-class events so the next open re-queries geometry
	geometryStale *atomic.Bool

	sampleRate float64
}

func newController(d Driver, sampleRate float64, geometryStale *atomic.Bool) *Controller {
	return &Controller{
		driver:        d,
		geometryStale: geometryStale,
		sampleRate:    sampleRate,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() StreamState {
	return StreamState(c.state.Load())
}

// transition moves from one of the allowed states to next.
func (c *Controller) transition(next StreamState, from ...StreamState) error {
	cur := c.State()
	for _, f := range from {
		if cur == f {
			c.state.Store(int32(next))
			if next == StateOpen {
				c.pendingReset.Store(false)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: cannot go from %s to %s", ErrBadStreamState, cur, next)
}

// noteDriverEvent runs on the relay path.
func (c *Controller) noteDriverEvent(kind MessageType) {
	if !kind.RequiresReset() {
		return
	}
	if (kind == BufferSizeChange || kind == ResetRequest) && c.geometryStale != nil {
		c.geometryStale.Store(true)
	}
	switch c.State() {
	case StateRunning, StateStopped:
		c.pendingReset.Store(true)
	}
}

// PendingReset reports the flag without clearing it.
func (c *Controller) PendingReset() bool {
	return c.pendingReset.Load()
}

// ConsumePendingReset returns and clears the pending-reset flag. When it
// returns true the caller should close and reopen the stream.
func (c *Controller) ConsumePendingReset() bool {
	return c.pendingReset.Swap(false)
}

// SampleRate is the rate last accepted by the driver for this stream.
func (c *Controller) SampleRate() float64 {
	return c.sampleRate
}

// SetSampleRate asks the driver to switch rate. On failure the stream keeps
// its previous rate.
func (c *Controller) SetSampleRate(rate float64) error {
	switch c.State() {
	case StateClosed:
		return fmt.Errorf("%w: stream is closed", ErrBadStreamState)
	case StateRunning:
		if sw, ok := c.driver.(LiveRateSwitcher); !ok || !sw.CanSwitchRateWhileRunning() {
			return fmt.Errorf("%w: driver %s cannot change rate on a live stream",
				ErrUnsupportedWhileRunning, c.driver.Name())
		}
	}

	if rate <= 0 {
		return fmt.Errorf("%w: %g Hz", ErrDriverRejectedRate, rate)
	}
	if err := c.driver.CanSampleRate(rate); err != nil {
		return fmt.Errorf("%w: %g Hz: %v", ErrDriverRejectedRate, rate, err)
	}
	if err := c.driver.SetSampleRate(rate); err != nil {
		if errors.Is(err, ErrUnsupportedWhileRunning) {
			return err
		}
		return fmt.Errorf("%w: %g Hz: %v", ErrDriverRejectedRate, rate, err)
	}

	c.sampleRate = rate
	return nil
}
