package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	t.Run("STATUS Command", func(t *testing.T) {
		cmd, err := ParseCommand("status")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.Type != CmdStatus {
			t.Errorf("Expected type STATUS, got %s", cmd.Type)
		}
		if len(cmd.Args) != 0 {
			t.Errorf("Expected no args, got %d", len(cmd.Args))
		}
	})

	t.Run("GEOMETRY Command", func(t *testing.T) {
		cmd, err := ParseCommand("GEOMETRY:1")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.IntArg("device", -1) != 1 {
			t.Errorf("Expected device 1, got %v", cmd.Args["device"])
		}
	})

	t.Run("CHANNEL Command", func(t *testing.T) {
		cmd, err := ParseCommand("CHANNEL:0:OUT:7")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.StringArg("direction") != "out" {
			t.Errorf("Expected direction out, got %v", cmd.Args["direction"])
		}
		if cmd.IntArg("index", -1) != 7 {
			t.Errorf("Expected index 7, got %v", cmd.Args["index"])
		}
	})

	t.Run("SAMPLERATE Command", func(t *testing.T) {
		cmd, err := ParseCommand("SAMPLERATE:44100")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.FloatArg("rate", 0) != 44100 {
			t.Errorf("Expected rate 44100, got %v", cmd.Args["rate"])
		}
	})

	t.Run("EVENTS Without Limit", func(t *testing.T) {
		cmd, err := ParseCommand("EVENTS")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.IntArg("limit", 50) != 50 {
			t.Errorf("Expected default limit, got %v", cmd.Args["limit"])
		}
	})

	t.Run("INJECT Command", func(t *testing.T) {
		cmd, err := ParseCommand("INJECT:2:0:96000")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.IntArg("code", 0) != 2 || cmd.IntArg("value", -1) != 0 || cmd.FloatArg("rate", 0) != 96000 {
			t.Errorf("Unexpected args: %v", cmd.Args)
		}

		cmd, err = ParseCommand("INJECT:3:512")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if _, ok := cmd.Args["rate"]; ok {
			t.Error("Expected no rate argument")
		}
	})

	t.Run("Unknown Command Keeps Raw Args", func(t *testing.T) {
		cmd, err := ParseCommand("FOO:bar:baz")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cmd.StringArg("raw") != "bar:baz" {
			t.Errorf("Expected raw bar:baz, got %v", cmd.Args["raw"])
		}
	})

	errorCases := []string{
		"",
		"   ",
		"CHANNEL",
		"CHANNEL:0:out",
		"CHANNEL:x:out:1",
		"SAMPLERATE",
		"SAMPLERATE:fast",
		"GEOMETRY:abc",
		"EVENTS:-x",
		"INJECT",
		"INJECT:1:big",
		"INJECT:2:0:nope",
	}
	for _, text := range errorCases {
		t.Run("Invalid "+text, func(t *testing.T) {
			if _, err := ParseCommand(text); err == nil {
				t.Errorf("Expected error for %q", text)
			}
		})
	}
}

func TestResponse(t *testing.T) {
	t.Run("Success Response", func(t *testing.T) {
		resp := NewSuccessResponse(map[string]interface{}{"pong": true})
		text := resp.String()
		if !strings.Contains(text, `"success":true`) {
			t.Errorf("Unexpected JSON: %s", text)
		}
		if strings.Contains(text, `"error"`) {
			t.Errorf("Success response should omit error: %s", text)
		}
	})

	t.Run("Error Response", func(t *testing.T) {
		resp := NewErrorResponse("asio: bad stream state")
		var back Response
		if err := json.Unmarshal([]byte(resp.String()), &back); err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		if back.Success || back.Error != "asio: bad stream state" {
			t.Errorf("Unexpected response: %+v", back)
		}
	})

	t.Run("Decode", func(t *testing.T) {
		status := Status{Driver: "Sim", State: "running", FramesPerBuffer: 256, OutputChannels: []int{0, 1}}
		line := NewSuccessResponse(map[string]interface{}{"status": status}).String()

		var resp Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		var back Status
		if err := resp.Decode("status", &back); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if back.Driver != "Sim" || back.FramesPerBuffer != 256 || len(back.OutputChannels) != 2 {
			t.Errorf("Unexpected status: %+v", back)
		}
		if err := resp.Decode("missing", &back); err == nil {
			t.Error("Expected error for missing key")
		}
	})
}
