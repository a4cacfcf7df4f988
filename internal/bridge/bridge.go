package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-projector/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-projector/internal/projector"
)

const (
	defaultCommandRate  = 1.0
	defaultCommandBurst = 3
	commandQoS          = 1
)

// Session is the projector session surface the bridge drives.
// *projector.Session satisfies it.
type Session interface {
	RequestPowerChange(targetOn bool, onResult func(error))
	QueryPower() (projector.PowerState, error)
	ConnectionState() projector.ConnectionState
	Stats() projector.Stats
	OnStateChanged(listener func(projector.PowerState))
	OnConnectionChanged(listener func(projector.ConnectionState))
}

// MQTTClient is the broker surface the bridge needs. *mqtt.Client
// satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Logger is the bridge's logging surface.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Options configures a Bridge.
type Options struct {
	DeviceID string
	Session  Session
	MQTT     MQTTClient

	// Address is reported in health messages.
	Address string
	Version string

	// CommandRate is the sustained power commands per second accepted from
	// MQTT; CommandBurst is the bucket size. Defaults: 1/s, burst 3.
	CommandRate  float64
	CommandBurst int

	// HealthInterval defaults to 30s.
	HealthInterval time.Duration

	// QueueSize bounds outgoing messages waiting for the broker.
	QueueSize int

	Logger Logger
}

// Bridge translates MQTT commands into session requests and publishes the
// session's state, acks and health.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	deviceID string
	session  Session
	mqtt     MQTTClient
	logger   Logger
	limiter  *rate.Limiter
	queue    *publishQueue
	health   *HealthReporter
	topics   mqtt.Topics
	now      func() time.Time
	newID    func() string

	startOnce sync.Once
	stopOnce  sync.Once

	// stopped guards session listeners, which cannot be removed.
	mu      sync.RWMutex
	stopped bool
}

// New creates a bridge. Call Start to subscribe and begin publishing.
func New(opts Options) (*Bridge, error) {
	if opts.Session == nil {
		return nil, ErrMissingSession
	}
	if opts.MQTT == nil {
		return nil, ErrMissingMQTT
	}
	if opts.DeviceID == "" {
		return nil, ErrMissingDeviceID
	}

	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	r := opts.CommandRate
	if r <= 0 {
		r = defaultCommandRate
	}
	burst := opts.CommandBurst
	if burst <= 0 {
		burst = defaultCommandBurst
	}

	b := &Bridge{
		deviceID: opts.DeviceID,
		session:  opts.Session,
		mqtt:     opts.MQTT,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(r), burst),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	b.queue = newPublishQueue(opts.MQTT, commandQoS, opts.QueueSize, logger)
	b.health = NewHealthReporter(HealthReporterConfig{
		DeviceID:  opts.DeviceID,
		Version:   opts.Version,
		Address:   opts.Address,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Session:   opts.Session,
		Logger:    logger,
	})
	return b, nil
}

// Start subscribes to the device's command topic, publishes the current
// state and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	var err error
	b.startOnce.Do(func() {
		if pubErr := b.health.PublishStarting(); pubErr != nil {
			b.logger.Warn("failed to publish starting health", "error", pubErr)
		}

		b.session.OnStateChanged(func(projector.PowerState) { b.publishState() })
		b.session.OnConnectionChanged(func(projector.ConnectionState) { b.publishState() })

		topic := b.topics.DeviceCommand(b.deviceID)
		if subErr := b.mqtt.Subscribe(topic, commandQoS, b.handleMessage); subErr != nil {
			err = fmt.Errorf("subscribe to commands: %w", subErr)
			return
		}
		b.logger.Info("subscribed to commands", "topic", topic)

		b.publishState()
		b.health.Start(ctx)
		b.logger.Info("bridge started", "device_id", b.deviceID)
	})
	return err
}

// Stop publishes a stopping health status and flushes queued messages.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		b.health.Stop()
		b.queue.close()
		b.logger.Info("bridge stopped")
	})
}

// HealthReporter returns the bridge's health reporter.
func (b *Bridge) HealthReporter() *HealthReporter {
	return b.health
}

// handleMessage is the MQTT handler for the command topic.
func (b *Bridge) handleMessage(_ string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishAck(NewAckError(CommandMessage{ID: b.newID(), DeviceID: b.deviceID},
			ErrCodeInvalidCommand, "malformed command payload", b.now()))
		return fmt.Errorf("parsing command: %w", err)
	}
	if cmd.ID == "" {
		cmd.ID = b.newID()
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = b.deviceID
	}

	b.logger.Info("received command",
		"command_id", cmd.ID,
		"command", cmd.Command,
		"source", cmd.Source)

	if cmd.DeviceID != b.deviceID {
		b.rejectCommand(cmd, ErrCodeInvalidCommand, fmt.Sprintf("command for device %q sent to %q", cmd.DeviceID, b.deviceID))
		return nil
	}

	switch cmd.Command {
	case CommandOn:
		b.executePower(cmd, true)
	case CommandOff:
		b.executePower(cmd, false)
	case CommandToggle:
		power, _ := b.session.QueryPower() //nolint:errcheck // a disconnected session fails the request below
		b.executePower(cmd, !power.IsOn())
	case CommandStatus:
		b.publishState()
	default:
		b.rejectCommand(cmd, ErrCodeInvalidCommand, fmt.Sprintf("unknown command %q", cmd.Command))
	}
	return nil
}

func (b *Bridge) executePower(cmd CommandMessage, on bool) {
	if !b.limiter.Allow() {
		b.rejectCommand(cmd, ErrCodeRateLimited, "too many power commands")
		return
	}

	// The result arrives on the session loop; publishing is queued.
	b.session.RequestPowerChange(on, func(err error) {
		if err != nil {
			b.logger.Warn("power command failed", "command_id", cmd.ID, "error", err)
		}
		b.publishAck(NewAck(cmd, err, b.now()))
	})
}

func (b *Bridge) rejectCommand(cmd CommandMessage, code, message string) {
	b.logger.Warn("command rejected", "command_id", cmd.ID, "code", code, "reason", message)
	b.publishAck(NewAckError(cmd, code, message, b.now()))
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	b.enqueue(b.topics.DeviceAck(b.deviceID), payload, false)
}

// publishState queues the retained state snapshot.
func (b *Bridge) publishState() {
	power, _ := b.session.QueryPower() //nolint:errcheck // the error only repeats the connection state
	msg := NewStateMessage(b.deviceID, power, b.session.ConnectionState(), b.now())

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal state", "error", err)
		return
	}
	b.enqueue(b.topics.DeviceState(b.deviceID), payload, true)
}

func (b *Bridge) enqueue(topic string, payload []byte, retained bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		return
	}
	b.queue.enqueue(topic, payload, retained)
}
