package projector

import "time"

// PowerState is the cached power state of the projector.
type PowerState int

const (
	// PowerUnknown means no status has been observed yet.
	PowerUnknown PowerState = iota
	PowerOff
	PowerOn
)

// PowerStateFromBool maps a switch value onto a PowerState.
func PowerStateFromBool(on bool) PowerState {
	if on {
		return PowerOn
	}
	return PowerOff
}

// IsOn reports whether the state is PowerOn.
func (p PowerState) IsOn() bool { return p == PowerOn }

// String returns the lowercase name of the state.
func (p PowerState) String() string {
	switch p {
	case PowerOn:
		return "on"
	case PowerOff:
		return "off"
	default:
		return "unknown"
	}
}

// ConnectionState is the lifecycle state of the device link.
type ConnectionState string

// Connection states.
const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// CommandResult is delivered to Observers when a power command resolves.
type CommandResult struct {
	TargetOn bool
	Err      error
	Latency  time.Duration
}

// Stats holds session counters.
type Stats struct {
	Connection        ConnectionState
	Power             PowerState
	CommandsSent      uint64
	CommandsSucceeded uint64
	CommandsFailed    uint64
	CommandTimeouts   uint64
	PollsSent         uint64
	Reconnects        uint64
	SilentLinks       uint64
	BytesRx           uint64
	LastActivity      time.Time
	ConnectedSince    time.Time
}
