package projector

import (
	"fmt"
	"strings"
	"time"
)

// AckFailurePolicy decides how a failure acknowledgement ("F") resolves a
// pending command.
type AckFailurePolicy string

const (
	// AckFailureSuccess resolves the command without error. The device is
	// known to emit "F" in situations where the command still takes effect.
	AckFailureSuccess AckFailurePolicy = "success"

	// AckFailureError resolves the command with ErrCommandRejected.
	AckFailureError AckFailurePolicy = "error"
)

// Verbosity controls how much the session logs.
type Verbosity string

// Verbosity levels.
const (
	VerbosityQuiet  Verbosity = "quiet"
	VerbosityNormal Verbosity = "normal"
	VerbosityDebug  Verbosity = "debug"
)

// Default session settings.
const (
	DefaultPort                = 23
	DefaultUnitID              = 1
	DefaultPollInterval        = time.Second
	DefaultConnectionTimeout   = 30 * time.Second
	DefaultCommandTimeout      = 5 * time.Second
	DefaultWriteTimeout        = 5 * time.Second
	DefaultReconnectInterval   = time.Second
	DefaultMaxCommandRetries   = 3
	DefaultMaxPollMisses       = 5
	DefaultSuppressionDuration = 5 * time.Second
)

// Config is the immutable per-device session configuration.
type Config struct {
	// Address is the projector host name or IP. Required for TCP.
	Address string

	// Port is the TCP control port. Default: 23.
	Port int

	// UnitID is the 1-99 device address embedded in every command. Default: 1.
	UnitID int

	// PollInterval is the status polling period. Zero disables polling.
	PollInterval time.Duration

	// ConnectionTimeout bounds each dial attempt and caps reconnect backoff.
	ConnectionTimeout time.Duration

	// CommandTimeout is how long a power command waits for an ack.
	CommandTimeout time.Duration

	// ReconnectInterval is the first delay after a failed dial.
	ReconnectInterval time.Duration

	// MaxCommandRetries bounds consecutive command-timeout episodes that
	// reset the connection.
	MaxCommandRetries int

	// MaxPollMisses is the number of unanswered polls tolerated before the
	// link is declared silent.
	MaxPollMisses int

	// SuppressionDuration is how long status notifications are held back
	// after a command is sent. Zero disables the window.
	SuppressionDuration time.Duration

	// AckFailurePolicy decides the outcome of an "F" ack. Default: success.
	AckFailurePolicy AckFailurePolicy

	// Verbosity is the log threshold for this session.
	Verbosity Verbosity
}

// DefaultConfig returns a Config with every optional field defaulted.
func DefaultConfig() Config {
	return Config{
		Port:                DefaultPort,
		UnitID:              DefaultUnitID,
		PollInterval:        DefaultPollInterval,
		ConnectionTimeout:   DefaultConnectionTimeout,
		CommandTimeout:      DefaultCommandTimeout,
		ReconnectInterval:   DefaultReconnectInterval,
		MaxCommandRetries:   DefaultMaxCommandRetries,
		MaxPollMisses:       DefaultMaxPollMisses,
		SuppressionDuration: DefaultSuppressionDuration,
		AckFailurePolicy:    AckFailureSuccess,
		Verbosity:           VerbosityNormal,
	}
}

// withDefaults fills zero-valued fields. PollInterval and
// SuppressionDuration are left alone because zero disables them.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.UnitID == 0 {
		c.UnitID = d.UnitID
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = d.CommandTimeout
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	if c.MaxPollMisses == 0 {
		c.MaxPollMisses = d.MaxPollMisses
	}
	if c.AckFailurePolicy == "" {
		c.AckFailurePolicy = d.AckFailurePolicy
	}
	if c.Verbosity == "" {
		c.Verbosity = d.Verbosity
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	if c.UnitID < 1 || c.UnitID > 99 {
		errs = append(errs, "unit id must be between 1 and 99")
	}
	if c.PollInterval < 0 {
		errs = append(errs, "poll interval must not be negative")
	}
	if c.ConnectionTimeout <= 0 {
		errs = append(errs, "connection timeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		errs = append(errs, "command timeout must be positive")
	}
	if c.ReconnectInterval <= 0 {
		errs = append(errs, "reconnect interval must be positive")
	}
	if c.MaxCommandRetries < 0 {
		errs = append(errs, "max command retries must not be negative")
	}
	if c.MaxPollMisses < 1 {
		errs = append(errs, "max poll misses must be at least 1")
	}
	if c.SuppressionDuration < 0 {
		errs = append(errs, "suppression duration must not be negative")
	}
	switch c.AckFailurePolicy {
	case AckFailureSuccess, AckFailureError:
	default:
		errs = append(errs, fmt.Sprintf("unknown ack failure policy %q", c.AckFailurePolicy))
	}
	switch c.Verbosity {
	case VerbosityQuiet, VerbosityNormal, VerbosityDebug:
	default:
		errs = append(errs, fmt.Sprintf("unknown log verbosity %q", c.Verbosity))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}
