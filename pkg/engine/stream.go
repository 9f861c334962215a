package engine

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/dougsko/asiod/pkg/asio"
	"github.com/dougsko/asiod/pkg/logging"
	"github.com/dougsko/asiod/pkg/storage"
)

// ErrNoStream is returned by stream operations while no stream is open
var ErrNoStream = errors.New("engine: no open stream")

// toneGenerator renders a sine into every output channel. Its fields are
// touched from the render thread and so are atomic.
type toneGenerator struct {
	freqBits  atomic.Uint64
	rateBits  atomic.Uint64
	levelBits atomic.Uint64
	phase     float64
}

func newToneGenerator(freq, level float64) *toneGenerator {
	g := &toneGenerator{}
	g.freqBits.Store(math.Float64bits(freq))
	g.levelBits.Store(math.Float64bits(level))
	g.setRate(48000)
	return g
}

func (g *toneGenerator) setRate(rate float64) {
	g.rateBits.Store(math.Float64bits(rate))
}

func (g *toneGenerator) render(out [][]float32) {
	if len(out) == 0 {
		return
	}
	freq := math.Float64frombits(g.freqBits.Load())
	rate := math.Float64frombits(g.rateBits.Load())
	level := math.Float64frombits(g.levelBits.Load())
	step := 2 * math.Pi * freq / rate

	phase := g.phase
	for i := range out[0] {
		v := float32(level * math.Sin(phase))
		for _, ch := range out {
			ch[i] = v
		}
		phase += step
		if phase >= 2*math.Pi {
			phase -= 2 * math.Pi
		}
	}
	g.phase = phase
}

// kindCounters counts handler deliveries per message type
type kindCounters struct {
	byKind [6]atomic.Uint64
}

func (k *kindCounters) add(kind asio.MessageType) {
	k.byKind[kind].Add(1)
}

func (k *kindCounters) snapshot() map[string]uint64 {
	out := make(map[string]uint64, len(k.byKind))
	for i := range k.byKind {
		if n := k.byKind[i].Load(); n > 0 {
			out[asio.MessageType(i).String()] = n
		}
	}
	return out
}

// render is the stream callback: tone out, monitor fed from the outputs, or
// from the inputs on an input-only stream.
func (e *CoreEngine) render(in, out [][]float32, _ any) {
	e.tone.render(out)
	if len(out) > 0 {
		e.monitor.Feed(out)
	} else {
		e.monitor.Feed(in)
	}
}

// onDriverEvent is the message handler registered with the stream. The
// engine acts on events from the ring, so the handler only counts.
func (e *CoreEngine) onDriverEvent(ev asio.DriverEvent, _ any) bool {
	e.counts.add(ev.Kind())
	return ev.Kind() != asio.Unrecognized
}

func (e *CoreEngine) streamConfig() asio.StreamConfig {
	sc := e.config.Stream
	cfg := asio.StreamConfig{
		SampleRate:      sc.SampleRate,
		FramesPerBuffer: sc.BufferFrames,
		Callback:        e.render,
		EventRingSize:   sc.EventRingSize,
	}

	var flags asio.StreamFlags
	if sc.UseMessageCallback {
		flags |= asio.UseMessageCallback
	}
	params := func(count int, selectors []int) *asio.StreamParameters {
		if count == 0 {
			return nil
		}
		f := flags
		if selectors != nil {
			f |= asio.UseChannelSelectors
		}
		info := asio.NewStreamInfo(f)
		info.ChannelSelectors = selectors
		info.MessageCallback = e.onDriverEvent
		return &asio.StreamParameters{Device: sc.Device, ChannelCount: count, HostAPISpecific: info}
	}
	cfg.Input = params(sc.InputChannels, sc.InputSelectors)
	cfg.Output = params(sc.OutputChannels, sc.OutputSelectors)
	return cfg
}

// monitoredChannels is the channel count render feeds to the monitor: the
// outputs, or the inputs on an input-only stream
func monitoredChannels(s *asio.Stream) int {
	if n := len(s.OutputSelection()); n > 0 {
		return n
	}
	return len(s.InputSelection())
}

// openStreamLocked opens the configured stream; e.mu must be held
func (e *CoreEngine) openStreamLocked() error {
	s, err := e.host.OpenStream(e.streamConfig())
	if err != nil {
		return err
	}
	e.stream = s

	rate := s.SampleRate()
	e.tone.setRate(rate)
	e.monitor.Configure(monitoredChannels(s), rate)

	info, _ := e.host.Device(s.Device())
	if e.store != nil {
		id, err := e.store.StartSession(storage.Session{
			Device:         s.Device(),
			Driver:         info.Name,
			Frames:         s.FramesPerBuffer(),
			SampleRate:     rate,
			InputChannels:  s.InputSelection(),
			OutputChannels: s.OutputSelection(),
		})
		if err != nil {
			logging.Warn("engine", fmt.Sprintf("Failed to journal session: %v", err))
		}
		e.sessionID = id
	}
	logging.Info("engine", fmt.Sprintf("Stream open on %q: %d frames at %g Hz", info.Name, s.FramesPerBuffer(), rate))
	return nil
}

// closeStreamLocked closes the stream, if any; e.mu must be held
func (e *CoreEngine) closeStreamLocked(reason string) {
	if e.stream == nil {
		return
	}
	// keep events posted before the close attached to this session
	e.drainStream(e.stream, e.sessionID)
	if err := e.stream.Close(); err != nil && !errors.Is(err, asio.ErrBadStreamState) {
		logging.Warn("engine", fmt.Sprintf("Closing stream: %v", err))
	}
	if e.store != nil && e.sessionID > 0 {
		if err := e.store.EndSession(e.sessionID, reason); err != nil {
			logging.Warn("engine", fmt.Sprintf("Failed to close session: %v", err))
		}
	}
	e.stream = nil
	e.sessionID = 0
}

// Restart closes and reopens the stream, restarting it if it was running.
// The reopen re-reads the driver's geometry.
func (e *CoreEngine) Restart(reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restartLocked(reason)
}

func (e *CoreEngine) restartLocked(reason string) error {
	wasRunning := e.stream != nil && e.stream.IsActive()
	e.closeStreamLocked(reason)

	if err := e.openStreamLocked(); err != nil {
		logging.Error("engine", fmt.Sprintf("Reopen after %s failed: %v", reason, err))
		e.notify(Notification{Type: NoticeStream, State: asio.StateClosed.String(), Message: err.Error()})
		return err
	}
	if wasRunning {
		if err := e.stream.Start(); err != nil {
			return err
		}
	}
	e.resets++
	logging.Info("engine", fmt.Sprintf("Stream reopened (%s): %d frames", reason, e.stream.FramesPerBuffer()))
	e.notify(Notification{Type: NoticeStream, State: e.stream.State().String(), Message: "reopened: " + reason})
	return nil
}

// checkReset reopens the stream when the driver asked for it and auto reset
// is enabled
func (e *CoreEngine) checkReset() {
	if !e.config.Stream.AutoReset {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream == nil || !e.stream.ConsumePendingReset() {
		return
	}
	e.restartLocked("driver reset request")
}

// StartStream starts the open stream
func (e *CoreEngine) StartStream() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream == nil {
		return ErrNoStream
	}
	if err := e.stream.Start(); err != nil {
		return err
	}
	e.notify(Notification{Type: NoticeStream, State: e.stream.State().String()})
	return nil
}

// StopStream stops the open stream
func (e *CoreEngine) StopStream() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream == nil {
		return ErrNoStream
	}
	if err := e.stream.Stop(); err != nil {
		return err
	}
	e.notify(Notification{Type: NoticeStream, State: e.stream.State().String()})
	return nil
}

// SetSampleRate changes the rate of the open stream
func (e *CoreEngine) SetSampleRate(rate float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream == nil {
		return ErrNoStream
	}
	if err := asio.SetStreamSampleRate(e.stream, rate); err != nil {
		return err
	}
	e.tone.setRate(rate)
	e.monitor.Configure(monitoredChannels(e.stream), rate)
	logging.Info("engine", fmt.Sprintf("Sample rate set to %g Hz", rate))
	return nil
}

// ShowControlPanel opens a driver's control panel
func (e *CoreEngine) ShowControlPanel(device int) error {
	e.mu.RLock()
	host := e.host
	e.mu.RUnlock()
	return host.ShowControlPanel(device, 0)
}

// injector is implemented by drivers that accept synthetic messages
type injector interface {
	Inject(code, value int, opt ...float64) (int, error)
}

// Inject posts a driver message through the stream device's driver
func (e *CoreEngine) Inject(code, value int, rate float64) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stream == nil {
		return 0, ErrNoStream
	}
	inj, ok := e.drivers[e.stream.Device()].(injector)
	if !ok {
		return 0, fmt.Errorf("driver of device %d cannot inject messages", e.stream.Device())
	}
	var opt []float64
	if rate > 0 {
		opt = []float64{rate}
	}
	return inj.Inject(code, value, opt...)
}

// Devices lists every device
func (e *CoreEngine) Devices() []asio.DeviceInfo {
	e.mu.RLock()
	host := e.host
	e.mu.RUnlock()
	return host.Devices()
}

// Geometry returns a device's legal buffer sizes
func (e *CoreEngine) Geometry(device int) (asio.BufferGeometry, error) {
	e.mu.RLock()
	host := e.host
	e.mu.RUnlock()
	return host.QueryGeometry(device)
}

// ChannelName returns a native channel's name
func (e *CoreEngine) ChannelName(device int, dir asio.Direction, index int) (string, error) {
	e.mu.RLock()
	host := e.host
	e.mu.RUnlock()
	return host.ChannelName(device, dir, index)
}

// HandlerCounts reports how many events the message handler saw per kind
func (e *CoreEngine) HandlerCounts() map[string]uint64 {
	return e.counts.snapshot()
}
