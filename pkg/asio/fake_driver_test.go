package asio

import (
	"errors"
	"fmt"
	"sync"
)

// fakeDriver is an in-memory Driver for tests.
type fakeDriver struct {
	mu sync.Mutex

	name     string
	names    [2][]string
	geometry BufferGeometry
	rate     float64
	rates    map[float64]bool
	live     bool

	failChannels bool
	failSetRate  error

	cb       Callbacks
	frames   int
	in, out  ChannelSelection
	created  int
	disposed int
	started  int
	stopped  int
	panels   int
	onPanel  func()
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		name: "Fake ASIO",
		names: [2][]string{
			{"In 1", "In 2", "In 3", "In 4"},
			{"Out 1", "Out 2", "Out 3", "Out 4", "Out 5", "Out 6", "Out 7", "Out 8"},
		},
		geometry: BufferGeometry{MinFrames: 64, MaxFrames: 2048, PreferredFrames: 256, Granularity: PowerOfTwoGranularity},
		rate:     48000,
		rates:    map[float64]bool{44100: true, 48000: true, 96000: true},
	}
}

func (f *fakeDriver) Name() string { return f.name }

func (f *fakeDriver) Channels() (int, int, error) {
	if f.failChannels {
		return 0, 0, errors.New("driver not loaded")
	}
	return len(f.names[Input]), len(f.names[Output]), nil
}

func (f *fakeDriver) BufferSize() (int, int, int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.geometry
	return g.MinFrames, g.MaxFrames, g.PreferredFrames, g.Granularity, nil
}

func (f *fakeDriver) ChannelInfo(ch int, dir Direction) (ChannelInfo, error) {
	list := f.names[dir]
	if ch < 0 || ch >= len(list) {
		return ChannelInfo{}, fmt.Errorf("no channel %d", ch)
	}
	return ChannelInfo{Channel: ch, Direction: dir, Name: list[ch]}, nil
}

func (f *fakeDriver) SampleRate() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rate, nil
}

func (f *fakeDriver) CanSampleRate(rate float64) error {
	if !f.rates[rate] {
		return fmt.Errorf("rate %g not supported", rate)
	}
	return nil
}

func (f *fakeDriver) SetSampleRate(rate float64) error {
	if f.failSetRate != nil {
		return f.failSetRate
	}
	f.mu.Lock()
	f.rate = rate
	f.mu.Unlock()
	return nil
}

func (f *fakeDriver) CreateBuffers(in, out ChannelSelection, frames int, cb Callbacks) error {
	f.in, f.out, f.frames, f.cb = in, out, frames, cb
	f.created++
	return nil
}

func (f *fakeDriver) DisposeBuffers() error {
	f.cb = Callbacks{}
	f.disposed++
	return nil
}

func (f *fakeDriver) Start() error { f.started++; return nil }
func (f *fakeDriver) Stop() error  { f.stopped++; return nil }

func (f *fakeDriver) Latencies() (int, int, error) { return f.frames, f.frames + 32, nil }

func (f *fakeDriver) ControlPanel(uintptr) error {
	f.panels++
	if f.onPanel != nil {
		f.onPanel()
	}
	return nil
}

func (f *fakeDriver) CanSwitchRateWhileRunning() bool { return f.live }

// post delivers a driver message the way a driver thread would.
func (f *fakeDriver) post(code, value int, opt ...float64) int {
	return f.cb.Message(code, value, 0, opt)
}
