package history

import "time"

// Event kinds.
const (
	KindPower   = "power"
	KindCommand = "command"
)

// Event is one journal row.
type Event struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	Kind     string `json:"kind"`

	// Power is the observed state for power events and the target for
	// command events ("on", "off" or "unknown").
	Power string `json:"power"`

	// Result, Error and Latency are set for command events.
	Result  string        `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency_ns,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
