package bridge

import "errors"

var (
	// ErrMissingSession is returned by New without a session.
	ErrMissingSession = errors.New("bridge: session is required")

	// ErrMissingMQTT is returned by New without an MQTT client.
	ErrMissingMQTT = errors.New("bridge: MQTT client is required")

	// ErrMissingDeviceID is returned by New without a device ID.
	ErrMissingDeviceID = errors.New("bridge: device id is required")
)
