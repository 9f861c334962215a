//go:build asiodebug

package asio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerReentryPanics(t *testing.T) {
	drv := newFakeDriver()
	h := NewHostAPI(drv)

	var s *Stream
	info := NewStreamInfo(UseMessageCallback)
	info.MessageCallback = func(DriverEvent, any) bool {
		_ = s.Stop()
		return true
	}
	s, err := h.OpenStream(StreamConfig{
		Output: &StreamParameters{ChannelCount: 1, HostAPISpecific: info},
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	assert.Panics(t, func() { drv.post(int(ResetRequest), 0) })

	// the guard is released after the panic unwinds
	assert.NotPanics(t, func() { _ = s.Stop() })
}

func TestGoroutineID(t *testing.T) {
	id := goroutineID()
	assert.NotZero(t, id)

	other := make(chan int64)
	go func() { other <- goroutineID() }()
	assert.NotEqual(t, id, <-other)
}

func TestReentryGuardConcurrentHandlers(t *testing.T) {
	var g reentryGuard

	aEntered := make(chan struct{})
	aExit := make(chan struct{})
	aDone := make(chan struct{})
	go func() {
		defer close(aDone)
		g.enter()
		close(aEntered)
		<-aExit
		g.exit()
	}()
	<-aEntered

	bEntered := make(chan struct{})
	bCheck := make(chan struct{})
	bPanicked := make(chan bool, 1)
	go func() {
		g.enter()
		defer g.exit()
		close(bEntered)
		<-bCheck
		defer func() { bPanicked <- recover() != nil }()
		g.check("Stop")
	}()
	<-bEntered

	// a handler returning on one thread leaves the other tracked
	close(aExit)
	<-aDone
	close(bCheck)
	assert.True(t, <-bPanicked, "re-entry on the second driver thread must still be caught")

	// the test goroutine never entered a handler
	assert.NotPanics(t, func() { g.check("Stop") })
}
