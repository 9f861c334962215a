package asio

// ChannelInfo describes one native driver channel.
type ChannelInfo struct {
	Channel   int
	Direction Direction
	Name      string
	Active    bool
	Group     int
}

// Callbacks are installed on the driver by CreateBuffers.
type Callbacks struct {
	// BufferSwitch renders one buffer. in and out hold one slice per
	// selected channel, in selection order.
	BufferSwitch func(in, out [][]float32)

	// Message is the driver's asynchronous notification entry point. It
	// returns 1 when the message was handled and 0 otherwise.
	Message func(code, value int, aux uintptr, opt []float64) int
}

// Driver is the vendor driver transport the adapter sits on. Implementations
// wrap a loaded ASIO driver; the simulated driver in pkg/driver implements
// it for tests and the daemon.
type Driver interface {
	Name() string
	Channels() (inputs, outputs int, err error)
	BufferSize() (min, max, preferred, granularity int, err error)
	ChannelInfo(channel int, dir Direction) (ChannelInfo, error)

	SampleRate() (float64, error)
	CanSampleRate(rate float64) error
	SetSampleRate(rate float64) error

	CreateBuffers(in, out ChannelSelection, frames int, cb Callbacks) error
	DisposeBuffers() error
	Start() error
	Stop() error

	Latencies() (input, output int, err error)
	ControlPanel(windowHandle uintptr) error
}

// LiveRateSwitcher is implemented by drivers that report whether they can
// change sample rate while streaming. Drivers without it are assumed unable.
type LiveRateSwitcher interface {
	CanSwitchRateWhileRunning() bool
}
