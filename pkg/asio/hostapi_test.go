package asio

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostAPIDevices(t *testing.T) {
	good := newFakeDriver()
	bad := newFakeDriver()
	bad.name = "Broken ASIO"
	bad.failChannels = true

	h := NewHostAPI(good, bad)
	devices := h.Devices()
	require.Len(t, devices, 2)

	assert.True(t, devices[0].Available)
	assert.Equal(t, 4, devices[0].MaxInputChannels)
	assert.Equal(t, 8, devices[0].MaxOutputChannels)
	assert.Equal(t, 48000.0, devices[0].DefaultSampleRate)
	assert.False(t, devices[1].Available)
	assert.Equal(t, "Broken ASIO", devices[1].Name)

	_, err := h.Device(1)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	_, err = h.Device(-1)
	assert.ErrorIs(t, err, ErrInvalidDevice)
}

func TestQueryGeometry(t *testing.T) {
	drv := newFakeDriver()
	h := NewHostAPI(drv)

	g, err := h.QueryGeometry(0)
	require.NoError(t, err)
	assert.Equal(t, drv.geometry, g)

	alias, err := h.GetAvailableLatencyValues(0)
	require.NoError(t, err)
	assert.Equal(t, g, alias)

	_, err = h.QueryGeometry(3)
	assert.ErrorIs(t, err, ErrInvalidDevice)
}

func TestQueryGeometryAfterPanelChange(t *testing.T) {
	drv := newFakeDriver()
	h, s := outputStream(t, drv, nil, 0)
	require.NoError(t, s.Start())

	drv.onPanel = func() {
		drv.mu.Lock()
		drv.geometry.PreferredFrames = 512
		drv.mu.Unlock()
		drv.post(int(BufferSizeChange), 512)
		drv.post(int(ResetRequest), 0)
	}
	require.NoError(t, h.ShowControlPanel(0, 0))
	assert.Equal(t, 1, drv.panels)
	assert.True(t, s.PendingReset())

	require.NoError(t, s.Close())
	g, err := h.QueryGeometry(0)
	require.NoError(t, err)
	assert.Equal(t, 512, g.PreferredFrames)
}

func TestChannelNames(t *testing.T) {
	drv := newFakeDriver()
	drv.names[Output][1] = strings.Repeat("Very Long Output Name ", 3)
	h := NewHostAPI(drv)

	name, err := h.InputChannelName(0, 2)
	require.NoError(t, err)
	assert.Equal(t, "In 3", name)

	name, err = h.OutputChannelName(0, 1)
	require.NoError(t, err)
	assert.Len(t, name, MaxChannelNameLength)

	_, err = h.OutputChannelName(0, 8)
	assert.ErrorIs(t, err, ErrInvalidChannelCount)
	_, err = h.InputChannelName(0, -1)
	assert.ErrorIs(t, err, ErrInvalidChannelCount)
}

func TestTerminate(t *testing.T) {
	drv := newFakeDriver()
	h, s := outputStream(t, drv, nil, 0)
	require.NoError(t, s.Start())

	require.NoError(t, h.Terminate())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, drv.disposed)

	_, err := h.InputChannelName(0, 0)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	_, err = h.OpenStream(StreamConfig{Output: &StreamParameters{ChannelCount: 1}})
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	// second terminate is a no-op
	require.NoError(t, h.Terminate())
}
