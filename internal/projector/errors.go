package projector

import "errors"

// Domain errors for the projector session.
var (
	// ErrTransport indicates a socket-level failure or timeout. Always
	// followed by a reconnect.
	ErrTransport = errors.New("projector: transport failure")

	// ErrNotConnected is returned when an operation needs a live link.
	ErrNotConnected = errors.New("projector: not connected")

	// ErrCommandInProgress is returned when a power change is requested while
	// another one is still outstanding.
	ErrCommandInProgress = errors.New("projector: command in progress")

	// ErrCommandTimeout is returned when no acknowledgement arrives before the
	// command deadline.
	ErrCommandTimeout = errors.New("projector: command timeout")

	// ErrCommandRejected is returned for a failure acknowledgement when the
	// session is configured with AckFailureError.
	ErrCommandRejected = errors.New("projector: command rejected by device")

	// ErrSilentLink indicates too many consecutive polls went unanswered.
	ErrSilentLink = errors.New("projector: silent link")

	// ErrSessionClosed is returned once Close has been called.
	ErrSessionClosed = errors.New("projector: session closed")

	// ErrInvalidConfig indicates a configuration value is out of range.
	ErrInvalidConfig = errors.New("projector: invalid configuration")
)
