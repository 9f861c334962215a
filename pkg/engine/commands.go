package engine

import (
	"fmt"
	"time"

	"github.com/dougsko/asiod/pkg/asio"
	"github.com/dougsko/asiod/pkg/protocol"
)

// HandleCommand executes one control command
func (e *CoreEngine) HandleCommand(cmd *protocol.Command) *protocol.Response {
	switch cmd.Type {
	case protocol.CmdStatus:
		status, err := e.Status()
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"status":  status,
			"handler": e.HandlerCounts(),
		})

	case protocol.CmdDevices:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"devices": e.Devices(),
		})

	case protocol.CmdGeometry:
		g, err := e.Geometry(cmd.IntArg("device", e.config.Stream.Device))
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{"geometry": g})

	case protocol.CmdChannel:
		dir, err := asio.ParseDirection(cmd.StringArg("direction"))
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		name, err := e.ChannelName(cmd.IntArg("device", 0), dir, cmd.IntArg("index", 0))
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{"name": name})

	case protocol.CmdSampleRate:
		rate := cmd.FloatArg("rate", 0)
		if err := e.SetSampleRate(rate); err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{"sample_rate": rate})

	case protocol.CmdPanel:
		if err := e.ShowControlPanel(cmd.IntArg("device", e.config.Stream.Device)); err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{"message": "control panel closed"})

	case protocol.CmdStart:
		return e.simple(e.StartStream(), "stream started")

	case protocol.CmdStop:
		return e.simple(e.StopStream(), "stream stopped")

	case protocol.CmdRestart:
		return e.simple(e.Restart("restart command"), "stream reopened")

	case protocol.CmdEvents:
		events, err := e.RecentEvents(cmd.IntArg("limit", 50))
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"events": events,
			"count":  len(events),
		})

	case protocol.CmdInject:
		reply, err := e.Inject(cmd.IntArg("code", 0), cmd.IntArg("value", 0), cmd.FloatArg("rate", 0))
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{"reply": reply})

	case protocol.CmdPing:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"pong": time.Now().Unix(),
		})

	case protocol.CmdQuit:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"message": "goodbye",
		})

	default:
		return protocol.NewErrorResponse(fmt.Sprintf("unknown command: %s", cmd.Type))
	}
}

func (e *CoreEngine) simple(err error, message string) *protocol.Response {
	if err != nil {
		return protocol.NewErrorResponse(err.Error())
	}
	return protocol.NewSuccessResponse(map[string]interface{}{"message": message})
}
