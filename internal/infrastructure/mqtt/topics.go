package mqtt

import "fmt"

const (
	// TopicPrefix is the root of every Gray Logic topic.
	TopicPrefix = "graylogic"

	// Protocol is the protocol segment used by the projector bridge.
	Protocol = "projector"
)

// Topics builds projector bridge topic names.
//
//	topics := mqtt.Topics{}
//	topics.DeviceState("projector-1")
//	// graylogic/state/projector/projector-1
type Topics struct{}

// DeviceCommand returns the topic commands for a device arrive on.
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, deviceID)
}

// DeviceAck returns the topic command outcomes are published on.
func (Topics) DeviceAck(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, deviceID)
}

// DeviceState returns the retained state topic for a device.
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, deviceID)
}

// BridgeHealth returns the retained health topic of the bridge.
func (Topics) BridgeHealth() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// AllCommands matches commands for every projector device.
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// ServiceStatus returns the retained online/offline topic for a client.
//
// Example: graylogic/system/status/graylogic-projector
func (Topics) ServiceStatus(clientID string) string {
	return fmt.Sprintf("%s/system/status/%s", TopicPrefix, clientID)
}
