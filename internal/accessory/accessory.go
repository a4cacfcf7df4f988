package accessory

import (
	"context"
	"fmt"
	"sync"

	"github.com/brutella/hc"
	hcaccessory "github.com/brutella/hc/accessory"

	"github.com/nerrad567/gray-logic-projector/internal/projector"
)

const (
	defaultManufacturer = "Optoma"
	unknownInfo         = "unknown"
)

// Session is the projector surface the accessory drives.
type Session interface {
	RequestPowerChange(targetOn bool, onResult func(error))
	QueryPower() (projector.PowerState, error)
	OnStateChanged(listener func(projector.PowerState))
}

// Logger is the accessory's logging surface.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}

// Config describes the accessory and its HomeKit transport.
type Config struct {
	Name         string
	Manufacturer string
	Model        string
	SerialNumber string

	// Pin is the eight digit pairing code.
	Pin string
	// Port is the HAP listen port. Empty picks a random port.
	Port        string
	StoragePath string
}

// onSwitch is the On characteristic of the switch service.
type onSwitch interface {
	GetValue() bool
	SetValue(on bool)
	OnValueRemoteUpdate(fn func(on bool))
}

// transport is the HomeKit server. hc.Transport satisfies it.
type transport interface {
	Start()
	Stop() <-chan struct{}
}

// Accessory binds a HomeKit switch to a projector session.
//
// Thread Safety: All methods are safe for concurrent use.
type Accessory struct {
	cfg     Config
	session Session
	logger  Logger
	sw      onSwitch

	hcAccessory  *hcaccessory.Accessory
	newTransport func() (transport, error)

	mu        sync.Mutex
	transport transport
	done      chan struct{}
	stopOnce  sync.Once
}

// New builds a HomeKit switch for the session. The transport is created on
// Start.
func New(cfg Config, session Session, logger Logger) (*Accessory, error) {
	if session == nil {
		return nil, ErrMissingSession
	}
	cfg = cfg.withDefaults()
	if len(cfg.Pin) != 8 {
		return nil, ErrInvalidPin
	}

	sw := hcaccessory.NewSwitch(hcaccessory.Info{
		Name:         cfg.Name,
		Manufacturer: cfg.Manufacturer,
		Model:        cfg.Model,
		SerialNumber: cfg.SerialNumber,
	})

	a := newAccessory(cfg, session, logger, sw.Switch.On)
	a.hcAccessory = sw.Accessory
	a.newTransport = func() (transport, error) {
		return hc.NewIPTransport(hc.Config{
			Pin:         cfg.Pin,
			Port:        cfg.Port,
			StoragePath: cfg.StoragePath,
		}, a.hcAccessory)
	}
	return a, nil
}

func newAccessory(cfg Config, session Session, logger Logger, sw onSwitch) *Accessory {
	if logger == nil {
		logger = nopLogger{}
	}
	a := &Accessory{
		cfg:     cfg,
		session: session,
		logger:  logger,
		sw:      sw,
		done:    make(chan struct{}),
	}

	if power, _ := session.QueryPower(); power != projector.PowerUnknown { //nolint:errcheck // unknown keeps the switch off
		sw.SetValue(power.IsOn())
	}
	sw.OnValueRemoteUpdate(a.handleRemoteSet)
	session.OnStateChanged(a.handlePowerChanged)
	return a
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "Projector"
	}
	if c.Manufacturer == "" {
		c.Manufacturer = defaultManufacturer
	}
	if c.Model == "" {
		c.Model = unknownInfo
	}
	if c.SerialNumber == "" {
		c.SerialNumber = unknownInfo
	}
	return c
}

// Start creates the HomeKit transport and serves until Stop is called or
// ctx is cancelled.
func (a *Accessory) Start(ctx context.Context) error {
	t, err := a.newTransport()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransportFailed, err)
	}

	a.mu.Lock()
	a.transport = t
	a.mu.Unlock()

	go t.Start()
	go func() {
		select {
		case <-ctx.Done():
			a.Stop()
		case <-a.done:
		}
	}()

	a.logger.Info("homekit accessory started", "name", a.cfg.Name, "port", a.cfg.Port)
	return nil
}

// Stop shuts the transport down and waits for it to finish.
func (a *Accessory) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)

		a.mu.Lock()
		t := a.transport
		a.mu.Unlock()
		if t != nil {
			<-t.Stop()
		}
		a.logger.Info("homekit accessory stopped")
	})
}

// On reports the switch's current value.
func (a *Accessory) On() bool {
	return a.sw.GetValue()
}

// handleRemoteSet runs when a HomeKit controller writes the switch.
func (a *Accessory) handleRemoteSet(on bool) {
	a.logger.Info("homekit power request", "on", on)

	a.session.RequestPowerChange(on, func(err error) {
		if err == nil {
			return
		}
		a.logger.Warn("homekit power request failed", "on", on, "error", err)
		a.revert()
	})
}

// revert restores the switch to the session's cached power.
func (a *Accessory) revert() {
	power, _ := a.session.QueryPower() //nolint:errcheck // the cached value is still meaningful while disconnected
	if power == projector.PowerUnknown {
		a.sw.SetValue(false)
		return
	}
	a.sw.SetValue(power.IsOn())
}

func (a *Accessory) handlePowerChanged(state projector.PowerState) {
	if state == projector.PowerUnknown {
		return
	}
	a.sw.SetValue(state.IsOn())
}
