package accessory

import "errors"

var (
	// ErrMissingSession is returned when no session is provided.
	ErrMissingSession = errors.New("accessory: session is required")

	// ErrInvalidPin is returned when the pairing pin is not eight digits.
	ErrInvalidPin = errors.New("accessory: pin must be 8 digits")

	// ErrTransportFailed is returned when the HomeKit transport cannot be created.
	ErrTransportFailed = errors.New("accessory: transport setup failed")
)
