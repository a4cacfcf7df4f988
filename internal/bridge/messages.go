package bridge

import (
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-projector/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-projector/internal/projector"
)

// Commands accepted on the command topic.
const (
	CommandOn     = "on"
	CommandOff    = "off"
	CommandToggle = "toggle"
	CommandStatus = "status"
)

// CommandMessage is a command from Core.
type CommandMessage struct {
	// ID correlates the command with its ack. Generated when empty.
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`

	// Source is where the command came from ("api", "automation", "scene").
	Source string `json:"source"`
}

// AckStatus is the outcome reported for a command.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
	AckTimeout  AckStatus = "timeout"
)

// Ack error codes.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeDeviceBusy        = "DEVICE_BUSY"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeCommandRejected   = "COMMAND_REJECTED"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
)

// AckMessage reports a command outcome.
// Topic: graylogic/ack/projector/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError describes a failed or timed out command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PowerStateBody is the device state carried by StateMessage.
type PowerStateBody struct {
	// On is null while the power state is unknown.
	On         *bool  `json:"on"`
	Power      string `json:"power"`
	Connection string `json:"connection"`
}

// StateMessage is the retained device state.
// Topic: graylogic/state/projector/{device_id}
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     PowerStateBody `json:"state"`
	Protocol  string         `json:"protocol"`
}

// NewStateMessage builds a state message for the given snapshot.
func NewStateMessage(deviceID string, power projector.PowerState, conn projector.ConnectionState, now time.Time) StateMessage {
	body := PowerStateBody{Power: power.String(), Connection: string(conn)}
	if power != projector.PowerUnknown {
		on := power.IsOn()
		body.On = &on
	}
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: now.UTC(),
		State:     body,
		Protocol:  mqtt.Protocol,
	}
}

// NewAck builds the ack for a command resolved with err.
func NewAck(cmd CommandMessage, err error, now time.Time) AckMessage {
	ack := AckMessage{
		CommandID: cmd.ID,
		Timestamp: now.UTC(),
		DeviceID:  cmd.DeviceID,
		Command:   cmd.Command,
		Status:    AckAccepted,
		Protocol:  mqtt.Protocol,
	}
	if err == nil {
		return ack
	}

	status, code := classifyError(err)
	ack.Status = status
	ack.Error = &AckError{Code: code, Message: err.Error()}
	return ack
}

// NewAckError builds a failed ack that never reached the session.
func NewAckError(cmd CommandMessage, code, message string, now time.Time) AckMessage {
	ack := NewAck(cmd, nil, now)
	ack.Status = AckFailed
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// classifyError maps session errors onto ack status and code.
func classifyError(err error) (AckStatus, string) {
	switch {
	case errors.Is(err, projector.ErrCommandTimeout):
		return AckTimeout, ErrCodeTimeout
	case errors.Is(err, projector.ErrCommandInProgress):
		return AckFailed, ErrCodeDeviceBusy
	case errors.Is(err, projector.ErrCommandRejected):
		return AckFailed, ErrCodeCommandRejected
	default:
		// Not connected, transport failure, session closed.
		return AckFailed, ErrCodeDeviceUnreachable
	}
}

// HealthStatus is the bridge's operational status.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained bridge health.
// Topic: graylogic/health/projector
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	DeviceID      string            `json:"device_id"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Connection    *ConnectionStatus `json:"connection,omitempty"`
	Statistics    *Statistics       `json:"statistics,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the projector link.
type ConnectionStatus struct {
	Status         string     `json:"status"`
	Address        string     `json:"address"`
	Power          string     `json:"power"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
}

// Statistics are the session counters.
type Statistics struct {
	CommandsSent      uint64 `json:"commands_sent"`
	CommandsSucceeded uint64 `json:"commands_succeeded"`
	CommandsFailed    uint64 `json:"commands_failed"`
	CommandTimeouts   uint64 `json:"command_timeouts"`
	PollsSent         uint64 `json:"polls_sent"`
	Reconnects        uint64 `json:"reconnects"`
	SilentLinks       uint64 `json:"silent_links"`
	BytesReceived     uint64 `json:"bytes_received"`
}

// NewHealthMessage builds a health message from session statistics.
func NewHealthMessage(deviceID, version, address string, status HealthStatus, stats projector.Stats, started, now time.Time) HealthMessage {
	conn := &ConnectionStatus{
		Status:  string(stats.Connection),
		Address: address,
		Power:   stats.Power.String(),
	}
	if !stats.ConnectedSince.IsZero() {
		t := stats.ConnectedSince.UTC()
		conn.ConnectedSince = &t
	}
	if !stats.LastActivity.IsZero() {
		t := stats.LastActivity.UTC()
		conn.LastActivity = &t
	}

	return HealthMessage{
		Bridge:        mqtt.Protocol,
		DeviceID:      deviceID,
		Timestamp:     now.UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(now.Sub(started).Seconds()),
		Connection:    conn,
		Statistics: &Statistics{
			CommandsSent:      stats.CommandsSent,
			CommandsSucceeded: stats.CommandsSucceeded,
			CommandsFailed:    stats.CommandsFailed,
			CommandTimeouts:   stats.CommandTimeouts,
			PollsSent:         stats.PollsSent,
			Reconnects:        stats.Reconnects,
			SilentLinks:       stats.SilentLinks,
			BytesReceived:     stats.BytesRx,
		},
	}
}
