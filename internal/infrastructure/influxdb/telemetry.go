package influxdb

import (
	"time"

	"github.com/nerrad567/gray-logic-projector/internal/projector"
)

// Telemetry forwards session events to InfluxDB.
type Telemetry struct {
	client   *Client
	deviceID string
	now      func() time.Time
}

// NewTelemetry returns an Observer writing points tagged with deviceID.
func NewTelemetry(client *Client, deviceID string) *Telemetry {
	return &Telemetry{client: client, deviceID: deviceID, now: time.Now}
}

func (t *Telemetry) ConnectionChanged(state projector.ConnectionState) {
	t.client.WriteConnectionState(t.deviceID, state, t.now())
}

func (t *Telemetry) ConnectFailed(err error) {
	t.client.WriteConnectFailure(t.deviceID, "connect_failed", err, t.now())
}

func (t *Telemetry) Reconnecting(reason error) {
	t.client.WriteConnectFailure(t.deviceID, "reconnecting", reason, t.now())
}

func (t *Telemetry) PollSent() {
	t.client.WritePoll(t.deviceID, t.now())
}

func (t *Telemetry) PowerChanged(state projector.PowerState) {
	t.client.WritePowerState(t.deviceID, state, t.now())
}

func (t *Telemetry) CommandCompleted(result projector.CommandResult) {
	t.client.WriteCommand(t.deviceID, result, t.now())
}

var _ projector.Observer = (*Telemetry)(nil)
