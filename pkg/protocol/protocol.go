package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dougsko/asiod/pkg/asio"
)

// Command represents a command sent to the core engine
type Command struct {
	Type string                 `json:"type"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Response represents a response from the core engine
type Response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Status represents the current daemon and stream status
type Status struct {
	Device          int       `json:"device"`
	Driver          string    `json:"driver"`
	State           string    `json:"state"`
	SampleRate      float64   `json:"sample_rate"`
	FramesPerBuffer int       `json:"frames_per_buffer"`
	InputChannels   []int     `json:"input_channels"`
	OutputChannels  []int     `json:"output_channels"`
	InputLatency    int       `json:"input_latency"`
	OutputLatency   int       `json:"output_latency"`
	PendingReset    bool      `json:"pending_reset"`
	AutoReset       bool      `json:"auto_reset"`
	Resets          int       `json:"resets"`
	EventsRelayed   uint64    `json:"events_relayed"`
	EventsDropped   uint64    `json:"events_dropped"`
	Uptime          string    `json:"uptime"`
	StartTime       time.Time `json:"start_time"`
	Version         string    `json:"version"`
}

// EventNotice is a relayed driver event with the device it came from
type EventNotice struct {
	Device int              `json:"device"`
	Driver string           `json:"driver"`
	Record asio.EventRecord `json:"record"`
}

// Protocol commands
const (
	CmdStatus     = "STATUS"
	CmdDevices    = "DEVICES"
	CmdGeometry   = "GEOMETRY"
	CmdChannel    = "CHANNEL"
	CmdSampleRate = "SAMPLERATE"
	CmdPanel      = "PANEL"
	CmdStart      = "START"
	CmdStop       = "STOP"
	CmdRestart    = "RESTART"
	CmdEvents     = "EVENTS"
	CmdInject     = "INJECT"
	CmdPing       = "PING"
	CmdQuit       = "QUIT"
)

// ParseCommand parses a text command into a Command struct.
//
//	GEOMETRY:0
//	CHANNEL:0:out:3
//	SAMPLERATE:44100
//	PANEL:0
//	EVENTS:20
//	INJECT:2:0:44100
func ParseCommand(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty command")
	}
	parts := strings.SplitN(text, ":", 2)

	cmd := &Command{
		Type: strings.ToUpper(parts[0]),
		Args: make(map[string]interface{}),
	}
	if len(parts) < 2 {
		switch cmd.Type {
		case CmdChannel, CmdSampleRate, CmdInject:
			return nil, fmt.Errorf("%s requires arguments", cmd.Type)
		}
		return cmd, nil
	}
	args := strings.Split(parts[1], ":")

	switch cmd.Type {
	case CmdGeometry, CmdPanel:
		device, err := parseInt("device", args[0])
		if err != nil {
			return nil, err
		}
		cmd.Args["device"] = device

	case CmdChannel:
		if len(args) != 3 {
			return nil, fmt.Errorf("CHANNEL expects device:direction:index")
		}
		device, err := parseInt("device", args[0])
		if err != nil {
			return nil, err
		}
		index, err := parseInt("index", args[2])
		if err != nil {
			return nil, err
		}
		cmd.Args["device"] = device
		cmd.Args["direction"] = strings.ToLower(args[1])
		cmd.Args["index"] = index

	case CmdSampleRate:
		rate, err := parseFloat("rate", args[0])
		if err != nil {
			return nil, err
		}
		cmd.Args["rate"] = rate

	case CmdEvents:
		limit, err := parseInt("limit", args[0])
		if err != nil {
			return nil, err
		}
		cmd.Args["limit"] = limit

	case CmdInject:
		code, err := parseInt("code", args[0])
		if err != nil {
			return nil, err
		}
		cmd.Args["code"] = code
		if len(args) > 1 {
			value, err := parseInt("value", args[1])
			if err != nil {
				return nil, err
			}
			cmd.Args["value"] = value
		}
		if len(args) > 2 {
			rate, err := parseFloat("rate", args[2])
			if err != nil {
				return nil, err
			}
			cmd.Args["rate"] = rate
		}

	default:
		cmd.Args["raw"] = parts[1]
	}

	return cmd, nil
}

func parseInt(name, s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}

func parseFloat(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}

// IntArg returns an integer argument, or def when absent
func (c *Command) IntArg(name string, def int) int {
	if v, ok := c.Args[name].(int); ok {
		return v
	}
	return def
}

// FloatArg returns a float argument, or def when absent
func (c *Command) FloatArg(name string, def float64) float64 {
	if v, ok := c.Args[name].(float64); ok {
		return v
	}
	return def
}

// StringArg returns a string argument, or "" when absent
func (c *Command) StringArg(name string) string {
	v, _ := c.Args[name].(string)
	return v
}

// String converts a Response to its JSON line form
func (r *Response) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data map[string]interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// Decode re-marshals Data[key] into out
func (r *Response) Decode(key string, out interface{}) error {
	value, ok := r.Data[key]
	if !ok {
		return fmt.Errorf("%s not found in response", key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
