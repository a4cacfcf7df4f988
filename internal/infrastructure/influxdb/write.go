package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-projector/internal/projector"
)

// Measurement names.
const (
	measurementPower      = "projector_power"
	measurementConnection = "projector_connection"
	measurementCommand    = "projector_command"
	measurementPoll       = "projector_poll"
)

// WritePowerState records a power state change. Unknown is written with
// on=false and state="unknown".
func (c *Client) WritePowerState(deviceID string, state projector.PowerState, at time.Time) {
	c.writePoint(measurementPower,
		map[string]string{"device_id": deviceID},
		map[string]any{"on": state.IsOn(), "state": state.String()},
		at)
}

// WriteConnectionState records a link transition.
func (c *Client) WriteConnectionState(deviceID string, state projector.ConnectionState, at time.Time) {
	c.writePoint(measurementConnection,
		map[string]string{"device_id": deviceID, "event": "transition"},
		map[string]any{"state": string(state), "connected": state == projector.StateConnected},
		at)
}

// WriteConnectFailure records a failed dial or a link declared dead.
func (c *Client) WriteConnectFailure(deviceID, event string, err error, at time.Time) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	c.writePoint(measurementConnection,
		map[string]string{"device_id": deviceID, "event": event},
		map[string]any{"error": msg},
		at)
}

// WriteCommand records a command outcome.
func (c *Client) WriteCommand(deviceID string, result projector.CommandResult, at time.Time) {
	target := projector.PowerStateFromBool(result.TargetOn).String()
	fields := map[string]any{
		"success":    result.Err == nil,
		"latency_ms": float64(result.Latency) / float64(time.Millisecond),
	}
	if result.Err != nil {
		fields["error"] = result.Err.Error()
	}
	c.writePoint(measurementCommand,
		map[string]string{"device_id": deviceID, "target": target},
		fields,
		at)
}

// WritePoll records a status query.
func (c *Client) WritePoll(deviceID string, at time.Time) {
	c.writePoint(measurementPoll,
		map[string]string{"device_id": deviceID},
		map[string]any{"count": 1},
		at)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() || c.writer == nil {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
