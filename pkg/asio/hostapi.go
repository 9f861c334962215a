package asio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dougsko/asiod/pkg/logging"
)

// HostAPIType identifies the host API a stream belongs to.
type HostAPIType int

// HostAPIASIO is the ASIO host API type id.
const HostAPIASIO HostAPIType = 3

func (t HostAPIType) String() string {
	if t == HostAPIASIO {
		return "ASIO"
	}
	return fmt.Sprintf("host-api-%d", int(t))
}

// DeviceInfo is the public description of one driver.
type DeviceInfo struct {
	Index             int            `json:"index"`
	Name              string         `json:"name"`
	MaxInputChannels  int            `json:"max_input_channels"`
	MaxOutputChannels int            `json:"max_output_channels"`
	DefaultSampleRate float64        `json:"default_sample_rate"`
	Geometry          BufferGeometry `json:"geometry"`
	Available         bool           `json:"available"`
	StreamOpen        bool           `json:"stream_open"`
}

type device struct {
	index  int
	driver Driver
	err    error

	name          string
	inputs        int
	outputs       int
	sampleRate    float64
	geometry      BufferGeometry
	geometryStale atomic.Bool
	names         *channelNames

	stream *Stream
}

// HostAPI is one adapter session over a set of loaded drivers. Channel-name
// tables and cached geometry live here and are released by Terminate.
type HostAPI struct {
	mu         sync.Mutex
	devices    []*device
	guard      reentryGuard
	terminated bool
}

// NewHostAPI queries every driver once. Drivers that fail are listed as
// unavailable rather than dropped so device indices stay stable.
func NewHostAPI(drivers ...Driver) *HostAPI {
	h := &HostAPI{}
	for i, d := range drivers {
		dev := &device{index: i, driver: d, name: d.Name()}
		if err := dev.refresh(); err != nil {
			dev.err = err
			logging.Warn("asio", fmt.Sprintf("Driver %q unavailable: %v", dev.name, err))
		} else {
			logging.Info("asio", fmt.Sprintf("Driver %q: %d in, %d out, %s",
				dev.name, dev.inputs, dev.outputs, dev.geometry))
		}
		h.devices = append(h.devices, dev)
	}
	return h
}

// refresh re-reads channel counts, names, rate and geometry from the driver.
func (d *device) refresh() error {
	inputs, outputs, err := d.driver.Channels()
	if err != nil {
		return fmt.Errorf("%w: channels: %v", ErrDeviceUnavailable, err)
	}
	geometry, err := queryDriverGeometry(d.driver)
	if err != nil {
		return err
	}
	rate, err := d.driver.SampleRate()
	if err != nil {
		return fmt.Errorf("%w: sample rate: %v", ErrDeviceUnavailable, err)
	}

	names := &channelNames{
		input:  make([]string, inputs),
		output: make([]string, outputs),
	}
	for _, dir := range []Direction{Input, Output} {
		list := names.input
		if dir == Output {
			list = names.output
		}
		for ch := range list {
			info, err := d.driver.ChannelInfo(ch, dir)
			if err != nil {
				return fmt.Errorf("%w: %s channel %d info: %v", ErrDeviceUnavailable, dir, ch, err)
			}
			list[ch] = truncateChannelName(info.Name)
		}
	}

	d.inputs, d.outputs = inputs, outputs
	d.geometry = geometry
	d.sampleRate = rate
	d.names = names
	d.geometryStale.Store(false)
	return nil
}

func queryDriverGeometry(drv Driver) (BufferGeometry, error) {
	minFrames, maxFrames, preferred, granularity, err := drv.BufferSize()
	if err != nil {
		return BufferGeometry{}, fmt.Errorf("%w: buffer size: %v", ErrDeviceUnavailable, err)
	}
	g := BufferGeometry{
		MinFrames:       minFrames,
		MaxFrames:       maxFrames,
		PreferredFrames: preferred,
		Granularity:     granularity,
	}
	if err := g.Validate(); err != nil {
		return BufferGeometry{}, fmt.Errorf("%w: driver reported %s: %v", ErrDeviceUnavailable, g, err)
	}
	return g, nil
}

func (d *device) info() DeviceInfo {
	return DeviceInfo{
		Index:             d.index,
		Name:              d.name,
		MaxInputChannels:  d.inputs,
		MaxOutputChannels: d.outputs,
		DefaultSampleRate: d.sampleRate,
		Geometry:          d.geometry,
		Available:         d.err == nil,
		StreamOpen:        d.stream != nil,
	}
}

// lookup returns a usable device; h.mu must be held.
func (h *HostAPI) lookup(index int) (*device, error) {
	if h.terminated {
		return nil, fmt.Errorf("%w: host session terminated", ErrDeviceUnavailable)
	}
	if index < 0 || index >= len(h.devices) {
		return nil, fmt.Errorf("%w: index %d", ErrInvalidDevice, index)
	}
	dev := h.devices[index]
	if dev.err != nil {
		return nil, dev.err
	}
	return dev, nil
}

// Devices lists every device, including unavailable ones.
func (h *HostAPI) Devices() []DeviceInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	infos := make([]DeviceInfo, 0, len(h.devices))
	for _, d := range h.devices {
		infos = append(infos, d.info())
	}
	return infos
}

// Device returns the description of one device.
func (h *HostAPI) Device(index int) (DeviceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	dev, err := h.lookup(index)
	if err != nil {
		return DeviceInfo{}, err
	}
	return dev.info(), nil
}

// QueryGeometry returns the legal buffer sizes of a device. The value is
// cached until the driver signals a buffer-size change or reset request.
func (h *HostAPI) QueryGeometry(index int) (BufferGeometry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	dev, err := h.lookup(index)
	if err != nil {
		return BufferGeometry{}, err
	}
	if dev.geometryStale.Load() && dev.stream == nil {
		g, err := queryDriverGeometry(dev.driver)
		if err != nil {
			return BufferGeometry{}, err
		}
		dev.geometry = g
		dev.geometryStale.Store(false)
	}
	return dev.geometry, nil
}

// GetAvailableLatencyValues is the older name of QueryGeometry.
func (h *HostAPI) GetAvailableLatencyValues(index int) (BufferGeometry, error) {
	return h.QueryGeometry(index)
}

// ChannelName returns the driver's name for a native channel. Names are
// valid for the lifetime of the host session.
func (h *HostAPI) ChannelName(index int, dir Direction, channel int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	dev, err := h.lookup(index)
	if err != nil {
		return "", err
	}
	name, ok := dev.names.lookup(dir, channel)
	if !ok {
		return "", fmt.Errorf("%w: %s channel %d on %q", ErrInvalidChannelCount, dir, channel, dev.name)
	}
	return name, nil
}

// InputChannelName returns the name of a native input channel.
func (h *HostAPI) InputChannelName(index, channel int) (string, error) {
	return h.ChannelName(index, Input, channel)
}

// OutputChannelName returns the name of a native output channel.
func (h *HostAPI) OutputChannelName(index, channel int) (string, error) {
	return h.ChannelName(index, Output, channel)
}

// ShowControlPanel opens the driver's settings UI and blocks until it is
// dismissed. It must not be called from a message handler. Showing the
// panel while a stream runs can make the driver post reset-class events;
// that is logged and left to the caller.
func (h *HostAPI) ShowControlPanel(index int, windowHandle uintptr) error {
	h.guard.check("ShowControlPanel")

	h.mu.Lock()
	dev, err := h.lookup(index)
	var running bool
	if err == nil && dev.stream != nil {
		running = dev.stream.State() == StateRunning
	}
	h.mu.Unlock()
	if err != nil {
		return err
	}

	if running {
		logging.Warn("asio", fmt.Sprintf("Showing control panel of %q while its stream is running; driver events may follow", dev.name))
	}
	if err := dev.driver.ControlPanel(windowHandle); err != nil {
		return fmt.Errorf("%w: control panel: %v", ErrDeviceUnavailable, err)
	}
	return nil
}

// Terminate closes any open streams and releases the session's name tables.
func (h *HostAPI) Terminate() error {
	h.guard.check("Terminate")

	h.mu.Lock()
	if h.terminated {
		h.mu.Unlock()
		return nil
	}
	var open []*Stream
	for _, d := range h.devices {
		if d.stream != nil {
			open = append(open, d.stream)
		}
	}
	h.mu.Unlock()

	for _, s := range open {
		if err := s.Close(); err != nil {
			logging.Warn("asio", fmt.Sprintf("Closing stream on terminate: %v", err))
		}
	}

	h.mu.Lock()
	for _, d := range h.devices {
		d.names = nil
	}
	h.terminated = true
	h.mu.Unlock()

	logging.Info("asio", "Host session terminated")
	return nil
}
