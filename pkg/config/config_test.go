package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	tempDir := t.TempDir()

	t.Run("Valid Config", func(t *testing.T) {
		configContent := `
drivers:
  - name: "Focusrite USB ASIO"
    input_channels: ["Mic 1", "Mic 2"]
    output_channels: ["Monitor L", "Monitor R", "Phones L", "Phones R"]
    sample_rate: 44100
    live_rate_switch: true
    buffer:
      min_frames: 32
      max_frames: 1024
      preferred_frames: 256
      granularity: 32

stream:
  device: 0
  output_channels: 2
  output_selectors: [2, 3]
  buffer_frames: 100
  use_message_callback: true
  auto_reset: true

web:
  port: 9090
  bind_address: "0.0.0.0"

storage:
  database_path: "/tmp/asiod.db"
  max_events: 5000

logging:
  level: "debug"
  file: "/var/log/asiod.log"
  console: true
`
		configPath := filepath.Join(tempDir, "valid.yaml")
		if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if len(config.Drivers) != 1 {
			t.Fatalf("Expected 1 driver, got %d", len(config.Drivers))
		}
		d := config.Drivers[0]
		if d.Name != "Focusrite USB ASIO" {
			t.Errorf("Expected driver name 'Focusrite USB ASIO', got %q", d.Name)
		}
		if d.Buffer.Granularity != 32 || d.Buffer.PreferredFrames != 256 {
			t.Errorf("Unexpected buffer geometry: %+v", d.Buffer)
		}
		if !d.LiveRateSwitch {
			t.Error("Expected live_rate_switch to be true")
		}
		if len(d.SampleRates) == 0 {
			t.Error("Expected default sample rate list to be filled in")
		}
		if config.Stream.BufferFrames != 100 {
			t.Errorf("Expected buffer_frames 100, got %d", config.Stream.BufferFrames)
		}
		if len(config.Stream.OutputSelectors) != 2 || config.Stream.OutputSelectors[1] != 3 {
			t.Errorf("Unexpected output selectors: %v", config.Stream.OutputSelectors)
		}
		if !config.Stream.AutoReset || !config.Stream.UseMessageCallback {
			t.Error("Expected auto_reset and use_message_callback to be set")
		}
		if config.Web.Port != 9090 {
			t.Errorf("Expected port 9090, got %d", config.Web.Port)
		}
		if config.Storage.MaxEvents != 5000 {
			t.Errorf("Expected max_events 5000, got %d", config.Storage.MaxEvents)
		}
		if config.Logging.Level != "debug" || !config.Logging.Console {
			t.Errorf("Unexpected logging section: %+v", config.Logging)
		}
		if err := config.Validate(); err != nil {
			t.Errorf("Expected valid config, got: %v", err)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		configPath := filepath.Join(tempDir, "empty.yaml")
		if err := os.WriteFile(configPath, []byte("{}\n"), 0644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if len(config.Drivers) != 1 || config.Drivers[0].Buffer.Granularity != -1 {
			t.Errorf("Expected one power-of-two default driver, got %+v", config.Drivers)
		}
		if config.Stream.OutputChannels != 2 {
			t.Errorf("Expected 2 default output channels, got %d", config.Stream.OutputChannels)
		}
		if config.Stream.EventRingSize != 256 {
			t.Errorf("Expected event ring size 256, got %d", config.Stream.EventRingSize)
		}
		if config.API.UnixSocket != "/tmp/asiod.sock" {
			t.Errorf("Unexpected socket path %q", config.API.UnixSocket)
		}
		if config.Logging.Level != "info" {
			t.Errorf("Expected default level info, got %q", config.Logging.Level)
		}
	})

	t.Run("Missing File", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(tempDir, "nope.yaml"))
		if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
			t.Errorf("Expected read error, got: %v", err)
		}
	})

	t.Run("Invalid YAML", func(t *testing.T) {
		_, err := ParseConfig([]byte("drivers: [unterminated"))
		if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
			t.Errorf("Expected parse error, got: %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default is valid", func(c *Config) {}, ""},
		{"device out of range", func(c *Config) { c.Stream.Device = 3 }, "out of range"},
		{"negative channels", func(c *Config) { c.Stream.InputChannels = -1 }, "must not be negative"},
		{"selector length mismatch", func(c *Config) { c.Stream.OutputSelectors = []int{0} }, "output_selectors"},
		{"input selector mismatch", func(c *Config) {
			c.Stream.InputChannels = 2
			c.Stream.InputSelectors = []int{0, 1, 1}
		}, "input_selectors"},
		{"fft size", func(c *Config) { c.Monitor.FFTSize = 1000 }, "power of two"},
		{"driver without channels", func(c *Config) {
			c.Drivers[0].InputChannels = nil
			c.Drivers[0].OutputChannels = nil
		}, "no channels"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	c := Default()
	c.Stream.BufferFrames = 300

	data, err := c.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	back, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if back.Stream.BufferFrames != 300 || back.Drivers[0].Name != c.Drivers[0].Name {
		t.Errorf("Round trip lost data: %+v", back.Stream)
	}
}
