package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/dougsko/asiod/pkg/asio"
	"github.com/dougsko/asiod/pkg/protocol"
)

// SocketClient represents a client connection to the core engine
type SocketClient struct {
	socketPath string
	timeout    time.Duration
}

// NewSocketClient creates a new socket client
func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// SetTimeout changes the per-command timeout. Opening a control panel
// blocks until it is dismissed, so callers may need a longer one.
func (c *SocketClient) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SendCommand sends a command and returns the response
func (c *SocketClient) SendCommand(cmd string) (*protocol.Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return nil, fmt.Errorf("send error: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return nil, fmt.Errorf("no response received")
	}

	var response protocol.Response
	if err := json.Unmarshal(scanner.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return &response, nil
}

// call sends cmd and fails on an unsuccessful response
func (c *SocketClient) call(cmd string) (*protocol.Response, error) {
	resp, err := c.SendCommand(cmd)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s error: %s", cmd, resp.Error)
	}
	return resp, nil
}

// GetStatus gets the current stream status
func (c *SocketClient) GetStatus() (*protocol.Status, error) {
	resp, err := c.call(protocol.CmdStatus)
	if err != nil {
		return nil, err
	}
	var status protocol.Status
	if err := resp.Decode("status", &status); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}
	return &status, nil
}

// GetDevices lists the loaded drivers
func (c *SocketClient) GetDevices() ([]asio.DeviceInfo, error) {
	resp, err := c.call(protocol.CmdDevices)
	if err != nil {
		return nil, err
	}
	var devices []asio.DeviceInfo
	if err := resp.Decode("devices", &devices); err != nil {
		return nil, fmt.Errorf("failed to parse devices: %w", err)
	}
	return devices, nil
}

// GetGeometry returns a device's legal buffer sizes
func (c *SocketClient) GetGeometry(device int) (*asio.BufferGeometry, error) {
	resp, err := c.call(fmt.Sprintf("%s:%d", protocol.CmdGeometry, device))
	if err != nil {
		return nil, err
	}
	var g asio.BufferGeometry
	if err := resp.Decode("geometry", &g); err != nil {
		return nil, fmt.Errorf("failed to parse geometry: %w", err)
	}
	return &g, nil
}

// GetChannelName returns a native channel's name
func (c *SocketClient) GetChannelName(device int, dir asio.Direction, index int) (string, error) {
	resp, err := c.call(fmt.Sprintf("%s:%d:%s:%d", protocol.CmdChannel, device, dir, index))
	if err != nil {
		return "", err
	}
	var name string
	if err := resp.Decode("name", &name); err != nil {
		return "", err
	}
	return name, nil
}

// SetSampleRate changes the open stream's sample rate
func (c *SocketClient) SetSampleRate(rate float64) error {
	_, err := c.call(fmt.Sprintf("%s:%g", protocol.CmdSampleRate, rate))
	return err
}

// ShowControlPanel opens a driver's control panel
func (c *SocketClient) ShowControlPanel(device int) error {
	_, err := c.call(fmt.Sprintf("%s:%d", protocol.CmdPanel, device))
	return err
}

// Start starts the stream
func (c *SocketClient) Start() error {
	_, err := c.call(protocol.CmdStart)
	return err
}

// Stop stops the stream
func (c *SocketClient) Stop() error {
	_, err := c.call(protocol.CmdStop)
	return err
}

// Restart closes and reopens the stream
func (c *SocketClient) Restart() error {
	_, err := c.call(protocol.CmdRestart)
	return err
}

// GetEvents returns recently journaled driver events
func (c *SocketClient) GetEvents(limit int) ([]protocol.EventNotice, error) {
	cmd := protocol.CmdEvents
	if limit > 0 {
		cmd = fmt.Sprintf("%s:%d", protocol.CmdEvents, limit)
	}
	resp, err := c.call(cmd)
	if err != nil {
		return nil, err
	}
	if _, ok := resp.Data["events"]; !ok {
		return []protocol.EventNotice{}, nil
	}
	var events []protocol.EventNotice
	if err := resp.Decode("events", &events); err != nil {
		return nil, fmt.Errorf("failed to parse events: %w", err)
	}
	return events, nil
}

// Inject posts a raw driver message through the simulated driver and
// returns the adapter's reply
func (c *SocketClient) Inject(code, value int, rate float64) (int, error) {
	cmd := fmt.Sprintf("%s:%d:%d", protocol.CmdInject, code, value)
	if rate > 0 {
		cmd = fmt.Sprintf("%s:%g", cmd, rate)
	}
	resp, err := c.call(cmd)
	if err != nil {
		return 0, err
	}
	var reply int
	if err := resp.Decode("reply", &reply); err != nil {
		return 0, err
	}
	return reply, nil
}

// Ping tests the connection
func (c *SocketClient) Ping() error {
	_, err := c.call(protocol.CmdPing)
	return err
}

// IsConnected tests if the daemon is reachable
func (c *SocketClient) IsConnected() bool {
	return c.Ping() == nil
}
