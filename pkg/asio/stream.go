package asio

import (
	"fmt"
	"sync"

	"github.com/dougsko/asiod/pkg/logging"
)

// StreamFlags select optional host-specific stream behaviour.
type StreamFlags uint32

const (
	UseChannelSelectors StreamFlags = 0x01
	UseMessageCallback  StreamFlags = 0x02
)

// StreamInfoVersion is the StreamInfo layout version this adapter accepts.
const StreamInfoVersion = 2

// DefaultEventRingSize is the event ring capacity when none is configured.
const DefaultEventRingSize = 256

// StreamInfo carries the ASIO-specific options of one stream direction.
type StreamInfo struct {
	HostAPIType      HostAPIType
	Version          int
	Flags            StreamFlags
	ChannelSelectors []int
	MessageCallback  MessageHandler
}

// NewStreamInfo returns a StreamInfo with the type and version filled in.
func NewStreamInfo(flags StreamFlags) *StreamInfo {
	return &StreamInfo{
		HostAPIType: HostAPIASIO,
		Version:     StreamInfoVersion,
		Flags:       flags,
	}
}

func (si *StreamInfo) validate() error {
	if si.HostAPIType != HostAPIASIO {
		return fmt.Errorf("%w: stream info for %s", ErrIncompatibleHostAPI, si.HostAPIType)
	}
	if si.Version != StreamInfoVersion {
		return fmt.Errorf("%w: stream info version %d", ErrIncompatibleHostAPI, si.Version)
	}
	if si.Flags&UseChannelSelectors != 0 && si.ChannelSelectors == nil {
		return fmt.Errorf("%w: channel selectors flag set without selectors", ErrInvalidChannelCount)
	}
	return nil
}

func (si *StreamInfo) selectors() []int {
	if si == nil || si.Flags&UseChannelSelectors == 0 {
		return nil
	}
	return si.ChannelSelectors
}

func (si *StreamInfo) handler() MessageHandler {
	if si == nil || si.Flags&UseMessageCallback == 0 {
		return nil
	}
	return si.MessageCallback
}

// StreamParameters describe one direction of a stream.
type StreamParameters struct {
	Device          int
	ChannelCount    int
	HostAPISpecific *StreamInfo
}

// RenderCallback processes one driver buffer. It runs on the driver's
// real-time thread.
type RenderCallback func(in, out [][]float32, userData any)

// StreamConfig is the argument to HostAPI.OpenStream.
type StreamConfig struct {
	Input           *StreamParameters
	Output          *StreamParameters
	SampleRate      float64
	FramesPerBuffer int
	Callback        RenderCallback
	UserData        any
	EventRingSize   int
}

// HostStream is the part of a generic portable stream the adapter needs to
// recognise its own streams.
type HostStream interface {
	HostAPIType() HostAPIType
	Start() error
	Stop() error
	Close() error
}

// Stream is an open ASIO stream.
type Stream struct {
	mu sync.Mutex

	host       *HostAPI
	dev        *device
	controller *Controller

	frames int
	input  ChannelSelection
	output ChannelSelection

	relays   []*Relay
	ring     *EventRing
	callback RenderCallback
	userData any
}

// OpenStream negotiates buffer size and channels with the driver and
// creates its buffers. The new stream is Open and has no pending reset.
func (h *HostAPI) OpenStream(cfg StreamConfig) (*Stream, error) {
	h.guard.check("OpenStream")

	in, out := cfg.Input, cfg.Output
	if in != nil && in.ChannelCount == 0 {
		in = nil
	}
	if out != nil && out.ChannelCount == 0 {
		out = nil
	}
	if in == nil && out == nil {
		return nil, fmt.Errorf("%w: stream has no channels", ErrInvalidChannelCount)
	}
	if in != nil && out != nil && in.Device != out.Device {
		return nil, fmt.Errorf("%w: input %d, output %d", ErrBadIODeviceCombination, in.Device, out.Device)
	}
	var index int
	if in != nil {
		index = in.Device
	} else {
		index = out.Device
	}
	for _, p := range []*StreamParameters{in, out} {
		if p != nil && p.HostAPISpecific != nil {
			if err := p.HostAPISpecific.validate(); err != nil {
				return nil, err
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	dev, err := h.lookup(index)
	if err != nil {
		return nil, err
	}
	if dev.stream != nil {
		return nil, fmt.Errorf("%w: %q", ErrDeviceBusy, dev.name)
	}
	if dev.geometryStale.Load() {
		if err := dev.refresh(); err != nil {
			return nil, err
		}
		logging.Info("asio", fmt.Sprintf("Re-queried %q geometry: %s", dev.name, dev.geometry))
	}

	frames, err := ResolveBufferSize(dev.geometry, cfg.FramesPerBuffer)
	if err != nil {
		return nil, err
	}

	var inSel, outSel ChannelSelection
	if in != nil {
		if inSel, err = ResolveChannels(Input, in.ChannelCount, dev.inputs, in.HostAPISpecific.selectors()); err != nil {
			return nil, err
		}
	}
	if out != nil {
		if outSel, err = ResolveChannels(Output, out.ChannelCount, dev.outputs, out.HostAPISpecific.selectors()); err != nil {
			return nil, err
		}
	}

	rate, err := negotiateSampleRate(dev.driver, cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	ringSize := cfg.EventRingSize
	if ringSize <= 0 {
		ringSize = DefaultEventRingSize
	}
	s := &Stream{
		host:       h,
		dev:        dev,
		controller: newController(dev.driver, rate, &dev.geometryStale),
		frames:     frames,
		input:      inSel,
		output:     outSel,
		ring:       NewEventRing(ringSize),
		callback:   cfg.Callback,
		userData:   cfg.UserData,
	}

	if in != nil {
		if hd := in.HostAPISpecific.handler(); hd != nil {
			s.relays = append(s.relays, newRelay(Input, hd, cfg.UserData, s.controller, s.ring, &h.guard))
		}
	}
	if out != nil {
		if hd := out.HostAPISpecific.handler(); hd != nil {
			s.relays = append(s.relays, newRelay(Output, hd, cfg.UserData, s.controller, s.ring, &h.guard))
		}
	}
	if len(s.relays) == 0 {
		dir := Output
		if out == nil {
			dir = Input
		}
		s.relays = append(s.relays, newRelay(dir, nil, nil, s.controller, s.ring, &h.guard))
	}

	cb := Callbacks{
		BufferSwitch: s.bufferSwitch,
		Message:      s.onDriverMessage,
	}
	if err := dev.driver.CreateBuffers(inSel, outSel, frames, cb); err != nil {
		return nil, fmt.Errorf("%w: create buffers: %v", ErrDeviceUnavailable, err)
	}

	if err := s.controller.transition(StateOpen, StateClosed); err != nil {
		return nil, err
	}
	dev.stream = s

	logging.Info("asio", fmt.Sprintf("Opened stream on %q: %d frames, %g Hz, in=%v out=%v",
		dev.name, frames, rate, inSel, outSel))
	return s, nil
}

func negotiateSampleRate(d Driver, requested float64) (float64, error) {
	current, err := d.SampleRate()
	if err != nil {
		return 0, fmt.Errorf("%w: sample rate: %v", ErrDeviceUnavailable, err)
	}
	if requested <= 0 || requested == current {
		return current, nil
	}
	if err := d.CanSampleRate(requested); err != nil {
		return 0, fmt.Errorf("%w: %g Hz: %v", ErrDriverRejectedRate, requested, err)
	}
	if err := d.SetSampleRate(requested); err != nil {
		return 0, fmt.Errorf("%w: %g Hz: %v", ErrDriverRejectedRate, requested, err)
	}
	return requested, nil
}

// onDriverMessage fans a driver message out to every relay of the stream,
// once per direction with a registered handler.
func (s *Stream) onDriverMessage(code, value int, aux uintptr, opt []float64) int {
	handled := 0
	for _, r := range s.relays {
		if r.OnDriverEvent(code, value, aux, opt) {
			handled = 1
		}
	}
	return handled
}

func (s *Stream) bufferSwitch(in, out [][]float32) {
	if s.callback != nil {
		s.callback(in, out, s.userData)
		return
	}
	for _, ch := range out {
		for i := range ch {
			ch[i] = 0
		}
	}
}

// HostAPIType reports ASIO.
func (s *Stream) HostAPIType() HostAPIType { return HostAPIASIO }

// Start begins streaming from Open or Stopped.
func (s *Stream) Start() error {
	s.host.guard.check("Stream.Start")
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != StateOpen && st != StateStopped {
		return fmt.Errorf("%w: start from %s", ErrBadStreamState, st)
	}
	if err := s.dev.driver.Start(); err != nil {
		return fmt.Errorf("%w: start: %v", ErrDeviceUnavailable, err)
	}
	return s.controller.transition(StateRunning, StateOpen, StateStopped)
}

// Stop halts a running stream; buffers stay allocated.
func (s *Stream) Stop() error {
	s.host.guard.check("Stream.Stop")
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != StateRunning {
		return fmt.Errorf("%w: stop from %s", ErrBadStreamState, st)
	}
	if err := s.dev.driver.Stop(); err != nil {
		return fmt.Errorf("%w: stop: %v", ErrDeviceUnavailable, err)
	}
	return s.controller.transition(StateStopped, StateRunning)
}

// Close stops the stream if needed and releases the driver buffers.
func (s *Stream) Close() error {
	s.host.guard.check("Stream.Close")
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.State()
	if st == StateClosed {
		return fmt.Errorf("%w: already closed", ErrBadStreamState)
	}
	if st == StateRunning {
		if err := s.dev.driver.Stop(); err != nil {
			logging.Warn("asio", fmt.Sprintf("Stopping %q on close: %v", s.dev.name, err))
		}
	}
	if err := s.dev.driver.DisposeBuffers(); err != nil {
		logging.Warn("asio", fmt.Sprintf("Disposing %q buffers: %v", s.dev.name, err))
	}
	if err := s.controller.transition(StateClosed, StateOpen, StateRunning, StateStopped); err != nil {
		return err
	}

	s.host.mu.Lock()
	if s.dev.stream == s {
		s.dev.stream = nil
	}
	s.host.mu.Unlock()

	logging.Info("asio", fmt.Sprintf("Closed stream on %q", s.dev.name))
	return nil
}

// SetSampleRate changes the rate of this stream; see SetStreamSampleRate.
func (s *Stream) SetSampleRate(rate float64) error {
	s.host.guard.check("Stream.SetSampleRate")
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.controller.SetSampleRate(rate)
}

// SetStreamSampleRate changes the sample rate of an open ASIO stream. Any
// other stream fails with ErrIncompatibleHostAPI.
func SetStreamSampleRate(stream HostStream, rate float64) error {
	s, ok := stream.(*Stream)
	if !ok || s == nil {
		return ErrIncompatibleHostAPI
	}
	return s.SetSampleRate(rate)
}

// State is the stream's lifecycle state.
func (s *Stream) State() StreamState { return s.controller.State() }

// IsActive reports whether the stream is running.
func (s *Stream) IsActive() bool { return s.State() == StateRunning }

// SampleRate is the negotiated sample rate.
func (s *Stream) SampleRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controller.SampleRate()
}

// FramesPerBuffer is the negotiated driver buffer size.
func (s *Stream) FramesPerBuffer() int { return s.frames }

// Device is the index of the stream's device.
func (s *Stream) Device() int { return s.dev.index }

// InputSelection returns a copy of the input channel selection.
func (s *Stream) InputSelection() ChannelSelection {
	return append(ChannelSelection(nil), s.input...)
}

// OutputSelection returns a copy of the output channel selection.
func (s *Stream) OutputSelection() ChannelSelection {
	return append(ChannelSelection(nil), s.output...)
}

// Latencies returns the driver's input and output latencies in frames.
func (s *Stream) Latencies() (input, output int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateClosed {
		return 0, 0, fmt.Errorf("%w: stream is closed", ErrBadStreamState)
	}
	input, output, err = s.dev.driver.Latencies()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: latencies: %v", ErrDeviceUnavailable, err)
	}
	return input, output, nil
}

// PendingReset reports whether a driver event asked for a reopen.
func (s *Stream) PendingReset() bool { return s.controller.PendingReset() }

// ConsumePendingReset returns and clears the pending-reset flag.
func (s *Stream) ConsumePendingReset() bool { return s.controller.ConsumePendingReset() }

// Events is the ring of relayed events for non-real-time observers.
func (s *Stream) Events() *EventRing { return s.ring }
