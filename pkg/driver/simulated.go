package driver

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dougsko/asiod/pkg/asio"
	"github.com/dougsko/asiod/pkg/config"
	"github.com/dougsko/asiod/pkg/logging"
)

var (
	ErrNoBuffers      = errors.New("driver: buffers not created")
	ErrBuffersCreated = errors.New("driver: buffers already created")
	ErrNotRunning     = errors.New("driver: not running")
)

// Simulated is an in-process ASIO driver. It clocks buffer switches from a
// goroutine at the configured rate, loops output back to input, and posts
// driver messages the way a vendor driver does after a settings change.
type Simulated struct {
	mu sync.Mutex

	profile  config.DriverProfile
	geometry asio.BufferGeometry
	rateBits atomic.Uint64
	fault    error
	pool     *BufferPool

	cb      asio.Callbacks
	inSel   asio.ChannelSelection
	outSel  asio.ChannelSelection
	frames  int
	halves  [2]bufferHalf
	created bool

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}

	cycles   atomic.Uint64
	messages atomic.Uint64
	panels   atomic.Uint64
}

var (
	_ asio.Driver           = (*Simulated)(nil)
	_ asio.LiveRateSwitcher = (*Simulated)(nil)
)

// bufferHalf is one side of the double buffer.
type bufferHalf struct {
	in, out   []*Buffer
	inV, outV [][]float32
}

// New builds a simulated driver from a profile
func New(profile config.DriverProfile) *Simulated {
	d := &Simulated{
		profile: profile,
		geometry: asio.BufferGeometry{
			MinFrames:       profile.Buffer.MinFrames,
			MaxFrames:       profile.Buffer.MaxFrames,
			PreferredFrames: profile.Buffer.PreferredFrames,
			Granularity:     profile.Buffer.Granularity,
		},
		pool: GlobalBufferPool(),
	}
	d.rateBits.Store(math.Float64bits(profile.SampleRate))
	return d
}

// FromConfig builds one simulated driver per configured profile
func FromConfig(cfg *config.Config) []asio.Driver {
	drivers := make([]asio.Driver, 0, len(cfg.Drivers))
	for _, p := range cfg.Drivers {
		drivers = append(drivers, New(p))
	}
	return drivers
}

// Fail makes the driver report err from Channels, as if it failed to load.
// A nil err clears the fault.
func (d *Simulated) Fail(err error) {
	d.mu.Lock()
	d.fault = err
	d.mu.Unlock()
}

func (d *Simulated) Name() string { return d.profile.Name }

func (d *Simulated) Channels() (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fault != nil {
		return 0, 0, d.fault
	}
	return len(d.profile.InputChannels), len(d.profile.OutputChannels), nil
}

func (d *Simulated) BufferSize() (int, int, int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g := d.geometry
	return g.MinFrames, g.MaxFrames, g.PreferredFrames, g.Granularity, nil
}

func (d *Simulated) ChannelInfo(channel int, dir asio.Direction) (asio.ChannelInfo, error) {
	names := d.profile.InputChannels
	if dir == asio.Output {
		names = d.profile.OutputChannels
	}
	if channel < 0 || channel >= len(names) {
		return asio.ChannelInfo{}, fmt.Errorf("%s channel %d out of range", dir, channel)
	}

	d.mu.Lock()
	active := d.selected(dir, channel)
	d.mu.Unlock()
	return asio.ChannelInfo{
		Channel:   channel,
		Direction: dir,
		Name:      names[channel],
		Active:    active,
	}, nil
}

func (d *Simulated) selected(dir asio.Direction, channel int) bool {
	sel := d.inSel
	if dir == asio.Output {
		sel = d.outSel
	}
	for _, ch := range sel {
		if ch == channel {
			return true
		}
	}
	return false
}

func (d *Simulated) SampleRate() (float64, error) {
	return math.Float64frombits(d.rateBits.Load()), nil
}

func (d *Simulated) CanSampleRate(rate float64) error {
	for _, r := range d.profile.SampleRates {
		if r == rate {
			return nil
		}
	}
	return fmt.Errorf("%s does not support %g Hz", d.profile.Name, rate)
}

// SupportedRates lists the rates the driver accepts, ascending
func (d *Simulated) SupportedRates() []float64 {
	rates := append([]float64(nil), d.profile.SampleRates...)
	sort.Float64s(rates)
	return rates
}

// SetSampleRate switches the clock and, once buffers exist, posts
// SampleRateChanged with the new rate.
func (d *Simulated) SetSampleRate(rate float64) error {
	if err := d.CanSampleRate(rate); err != nil {
		return err
	}
	if d.running.Load() && !d.profile.LiveRateSwitch {
		return fmt.Errorf("%w: %s", asio.ErrUnsupportedWhileRunning, d.profile.Name)
	}
	old := math.Float64frombits(d.rateBits.Swap(math.Float64bits(rate)))
	if old == rate {
		return nil
	}
	logging.Info("driver", fmt.Sprintf("%s clock %g -> %g Hz", d.profile.Name, old, rate))

	d.post(int(asio.SampleRateChanged), 0, []float64{rate})
	return nil
}

func (d *Simulated) CanSwitchRateWhileRunning() bool { return d.profile.LiveRateSwitch }

func (d *Simulated) CreateBuffers(in, out asio.ChannelSelection, frames int, cb asio.Callbacks) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.created {
		return ErrBuffersCreated
	}
	if !d.geometry.IsLegal(frames) {
		return fmt.Errorf("%d frames is not a legal size for %s", frames, d.geometry)
	}

	for i := range d.halves {
		h := &d.halves[i]
		h.in = d.pool.GetChannels(len(in), frames)
		h.out = d.pool.GetChannels(len(out), frames)
		h.inV = views(h.in)
		h.outV = views(h.out)
	}
	d.inSel = append(asio.ChannelSelection(nil), in...)
	d.outSel = append(asio.ChannelSelection(nil), out...)
	d.frames = frames
	d.cb = cb
	d.created = true

	logging.Debug("driver", fmt.Sprintf("%s created buffers: %d frames, in=%v out=%v",
		d.profile.Name, frames, in, out))
	return nil
}

func views(bufs []*Buffer) [][]float32 {
	v := make([][]float32, len(bufs))
	for i, b := range bufs {
		v[i] = b.Data
	}
	return v
}

func (d *Simulated) DisposeBuffers() error {
	if d.running.Load() {
		if err := d.Stop(); err != nil {
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.created {
		return ErrNoBuffers
	}
	for i := range d.halves {
		d.pool.PutChannels(d.halves[i].in)
		d.pool.PutChannels(d.halves[i].out)
		d.halves[i] = bufferHalf{}
	}
	d.cb = asio.Callbacks{}
	d.inSel, d.outSel = nil, nil
	d.frames = 0
	d.created = false
	return nil
}

// Start launches the buffer-switch clock.
func (d *Simulated) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.created {
		return ErrNoBuffers
	}
	if d.running.Load() {
		return nil
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.running.Store(true)
	go d.clock(d.stop, d.done, d.cb.BufferSwitch, d.halves, d.frames)
	return nil
}

// Stop halts the clock and waits for the last buffer switch to return.
func (d *Simulated) Stop() error {
	d.mu.Lock()
	if !d.running.Load() {
		d.mu.Unlock()
		return ErrNotRunning
	}
	stop, done := d.stop, d.done
	d.running.Store(false)
	d.mu.Unlock()

	close(stop)
	<-done
	return nil
}

func (d *Simulated) period(frames int) time.Duration {
	rate := math.Float64frombits(d.rateBits.Load())
	if rate <= 0 {
		rate = 48000
	}
	return time.Duration(float64(frames) / rate * float64(time.Second))
}

func (d *Simulated) clock(stop <-chan struct{}, done chan<- struct{}, render func(in, out [][]float32), halves [2]bufferHalf, frames int) {
	defer close(done)

	current := d.period(frames)
	ticker := time.NewTicker(current)
	defer ticker.Stop()

	index := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		h := halves[index]
		prev := halves[1-index]
		loopback(h.inV, prev.outV)
		if render != nil {
			render(h.inV, h.outV)
		}
		d.cycles.Add(1)
		index = 1 - index

		if p := d.period(frames); p != current {
			current = p
			ticker.Reset(p)
		}
	}
}

// loopback copies the previous cycle's outputs into the inputs, wrapping
// when there are more inputs than outputs.
func loopback(in, out [][]float32) {
	for i, ch := range in {
		if len(out) == 0 {
			for j := range ch {
				ch[j] = 0
			}
			continue
		}
		copy(ch, out[i%len(out)])
	}
}

// Latencies reports the configured latencies, or ones derived from the
// buffer size when the profile leaves them unset.
func (d *Simulated) Latencies() (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.created {
		return 0, 0, ErrNoBuffers
	}
	in, out := d.profile.InputLatency, d.profile.OutputLatency
	if in == 0 {
		in = d.frames
	}
	if out == 0 {
		out = 2 * d.frames
	}
	return in, out, nil
}

// ControlPanel behaves like a user picking the next preferred buffer size in
// the vendor panel: the geometry changes and the driver posts
// BufferSizeChange followed by ResetRequest.
func (d *Simulated) ControlPanel(windowHandle uintptr) error {
	d.panels.Add(1)

	d.mu.Lock()
	next := nextPreferred(d.geometry)
	changed := next != d.geometry.PreferredFrames
	d.geometry.PreferredFrames = next
	d.mu.Unlock()

	if !changed {
		logging.Info("driver", fmt.Sprintf("%s control panel closed without changes", d.profile.Name))
		return nil
	}
	logging.Info("driver", fmt.Sprintf("%s preferred buffer size now %d frames", d.profile.Name, next))

	d.post(int(asio.BufferSizeChange), next, nil)
	d.post(int(asio.ResetRequest), 0, nil)
	return nil
}

// nextPreferred steps the preferred size to the next legal value, wrapping
// back to the minimum after the maximum.
func nextPreferred(g asio.BufferGeometry) int {
	var next int
	switch {
	case g.Granularity == asio.PowerOfTwoGranularity:
		if g.PreferredFrames > g.MaxFrames/2 {
			next, _ = asio.ResolveBufferSize(g, g.MinFrames)
		} else {
			next = g.PreferredFrames * 2
		}
	case g.Granularity == 0:
		return g.PreferredFrames
	default:
		if g.PreferredFrames > g.MaxFrames-g.Granularity {
			next = g.MinFrames
		} else {
			next = g.PreferredFrames + g.Granularity
		}
	}
	if next == 0 {
		return g.PreferredFrames
	}
	return next
}

// Inject delivers an arbitrary driver message on the caller's goroutine and
// returns the adapter's reply.
func (d *Simulated) Inject(code, value int, opt ...float64) (int, error) {
	d.mu.Lock()
	created := d.created
	d.mu.Unlock()
	if !created {
		return 0, ErrNoBuffers
	}
	return d.post(code, value, opt), nil
}

func (d *Simulated) post(code, value int, opt []float64) int {
	d.mu.Lock()
	message := d.cb.Message
	d.mu.Unlock()
	if message == nil {
		return 0
	}
	d.messages.Add(1)
	return message(code, value, 0, opt)
}

// Stats is a snapshot of driver counters
type Stats struct {
	Name       string  `json:"name"`
	Running    bool    `json:"running"`
	SampleRate float64 `json:"sample_rate"`
	Frames     int     `json:"frames"`
	Cycles     uint64  `json:"cycles"`
	Messages   uint64  `json:"messages"`
	Panels     uint64  `json:"panels"`
}

// Stats returns the driver counters
func (d *Simulated) Stats() Stats {
	d.mu.Lock()
	frames := d.frames
	d.mu.Unlock()
	rate, _ := d.SampleRate()
	return Stats{
		Name:       d.profile.Name,
		Running:    d.running.Load(),
		SampleRate: rate,
		Frames:     frames,
		Cycles:     d.cycles.Load(),
		Messages:   d.messages.Load(),
		Panels:     d.panels.Load(),
	}
}
