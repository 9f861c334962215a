package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// DriverProfile describes one simulated ASIO driver
type DriverProfile struct {
	Name           string    `yaml:"name"`
	InputChannels  []string  `yaml:"input_channels"`
	OutputChannels []string  `yaml:"output_channels"`
	SampleRate     float64   `yaml:"sample_rate"`
	SampleRates    []float64 `yaml:"sample_rates"`
	LiveRateSwitch bool      `yaml:"live_rate_switch"`

	Buffer struct {
		MinFrames       int `yaml:"min_frames"`
		MaxFrames       int `yaml:"max_frames"`
		PreferredFrames int `yaml:"preferred_frames"`
		Granularity     int `yaml:"granularity"`
	} `yaml:"buffer"`

	InputLatency  int `yaml:"input_latency"`
	OutputLatency int `yaml:"output_latency"`
}

// Config represents the asiod configuration
type Config struct {
	Drivers []DriverProfile `yaml:"drivers"`

	Stream struct {
		Device             int     `yaml:"device"`
		InputChannels      int     `yaml:"input_channels"`
		OutputChannels     int     `yaml:"output_channels"`
		InputSelectors     []int   `yaml:"input_selectors"`
		OutputSelectors    []int   `yaml:"output_selectors"`
		BufferFrames       int     `yaml:"buffer_frames"`
		SampleRate         float64 `yaml:"sample_rate"`
		UseMessageCallback bool    `yaml:"use_message_callback"`
		AutoReset          bool    `yaml:"auto_reset"`
		AutoStart          bool    `yaml:"auto_start"`
		EventRingSize      int     `yaml:"event_ring_size"`
		PollInterval       int     `yaml:"poll_interval"` // milliseconds
		ToneFrequency      float64 `yaml:"tone_frequency"`
		ToneLevel          float64 `yaml:"tone_level"`
	} `yaml:"stream"`

	Web struct {
		Port        int    `yaml:"port"`
		BindAddress string `yaml:"bind_address"`
	} `yaml:"web"`

	API struct {
		UnixSocket string `yaml:"unix_socket"`
	} `yaml:"api"`

	Storage struct {
		DatabasePath string `yaml:"database_path"`
		MaxEvents    int    `yaml:"max_events"`
	} `yaml:"storage"`

	Monitor struct {
		FFTSize int `yaml:"fft_size"`
	} `yaml:"monitor"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		Console    bool   `yaml:"console"`
		Structured bool   `yaml:"structured"`
		MaxSize    int    `yaml:"max_size"`    // megabytes
		MaxBackups int    `yaml:"max_backups"` // files
		MaxAge     int    `yaml:"max_age"`     // days
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig parses YAML configuration and applies defaults
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// Default returns a configuration with one simulated driver and defaults
func Default() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

func (c *Config) applyDefaults() {
	if len(c.Drivers) == 0 {
		c.Drivers = []DriverProfile{DefaultDriverProfile()}
	}
	for i := range c.Drivers {
		d := &c.Drivers[i]
		if d.Name == "" {
			d.Name = fmt.Sprintf("Simulated ASIO %d", i)
		}
		if d.SampleRate == 0 {
			d.SampleRate = 48000
		}
		if len(d.SampleRates) == 0 {
			d.SampleRates = []float64{44100, 48000, 88200, 96000}
		}
		if d.Buffer.MinFrames == 0 && d.Buffer.MaxFrames == 0 {
			d.Buffer.MinFrames = 64
			d.Buffer.MaxFrames = 2048
			d.Buffer.PreferredFrames = 512
			d.Buffer.Granularity = -1
		}
		if d.Buffer.PreferredFrames == 0 {
			d.Buffer.PreferredFrames = d.Buffer.MinFrames
		}
	}

	if c.Stream.OutputChannels == 0 && c.Stream.InputChannels == 0 {
		c.Stream.OutputChannels = 2
	}
	if c.Stream.EventRingSize == 0 {
		c.Stream.EventRingSize = 256
	}
	if c.Stream.PollInterval == 0 {
		c.Stream.PollInterval = 100
	}
	if c.Stream.ToneFrequency == 0 {
		c.Stream.ToneFrequency = 440
	}
	if c.Stream.ToneLevel == 0 {
		c.Stream.ToneLevel = 0.25
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "127.0.0.1"
	}
	if c.API.UnixSocket == "" {
		c.API.UnixSocket = "/tmp/asiod.sock"
	}
	if c.Storage.MaxEvents == 0 {
		c.Storage.MaxEvents = 10000
	}
	if c.Monitor.FFTSize == 0 {
		c.Monitor.FFTSize = 1024
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 28
	}
}

// DefaultDriverProfile is a stereo in/out driver with power-of-two buffers
func DefaultDriverProfile() DriverProfile {
	p := DriverProfile{
		Name:           "Simulated ASIO",
		InputChannels:  []string{"Analog In 1", "Analog In 2"},
		OutputChannels: []string{"Analog Out 1", "Analog Out 2"},
		SampleRate:     48000,
		SampleRates:    []float64{44100, 48000, 88200, 96000},
		InputLatency:   512,
		OutputLatency:  544,
	}
	p.Buffer.MinFrames = 64
	p.Buffer.MaxFrames = 2048
	p.Buffer.PreferredFrames = 512
	p.Buffer.Granularity = -1
	return p
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Stream.Device < 0 || c.Stream.Device >= len(c.Drivers) {
		return fmt.Errorf("stream device %d out of range (%d drivers)", c.Stream.Device, len(c.Drivers))
	}
	if c.Stream.InputChannels < 0 || c.Stream.OutputChannels < 0 {
		return fmt.Errorf("channel counts must not be negative")
	}
	if c.Stream.InputSelectors != nil && len(c.Stream.InputSelectors) != c.Stream.InputChannels {
		return fmt.Errorf("input_selectors has %d entries for %d input channels",
			len(c.Stream.InputSelectors), c.Stream.InputChannels)
	}
	if c.Stream.OutputSelectors != nil && len(c.Stream.OutputSelectors) != c.Stream.OutputChannels {
		return fmt.Errorf("output_selectors has %d entries for %d output channels",
			len(c.Stream.OutputSelectors), c.Stream.OutputChannels)
	}
	if c.Stream.BufferFrames < 0 {
		return fmt.Errorf("buffer_frames must not be negative")
	}
	if c.Monitor.FFTSize&(c.Monitor.FFTSize-1) != 0 {
		return fmt.Errorf("monitor fft_size %d is not a power of two", c.Monitor.FFTSize)
	}
	for i, d := range c.Drivers {
		if len(d.InputChannels) == 0 && len(d.OutputChannels) == 0 {
			return fmt.Errorf("driver %d (%s) has no channels", i, d.Name)
		}
	}
	return nil
}

// Marshal renders the configuration back to YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
