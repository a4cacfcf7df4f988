package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-projector/internal/infrastructure/config"
)

// Logger is the optional logging hook. logging.Logger satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler receives a message's topic (wildcards expanded) and raw
// payload. A returned error is logged; it does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Client is the bridge's broker link. All methods are safe for concurrent
// use, and subscriptions survive reconnects.
type Client struct {
	paho pahomqtt.Client
	cfg  config.MQTTConfig
	up   atomic.Bool

	mu           sync.Mutex
	subs         map[string]route
	logger       Logger
	onConnect    func()
	onDisconnect func(error)
}

type route struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker and returns once the session is up.
//
// Setup runs in this order:
//  1. Builds paho options (broker URL, credentials, keepalive, auto-reconnect)
//  2. Registers a retained "offline" Last Will on the service status topic
//  3. Hooks link up and link down, so subscriptions are restored and
//     "online" is announced on every reconnect
//  4. Waits up to defaultConnectTimeout for the first CONNACK
//
// Parameters:
//   - cfg: the mqtt section of config.yaml
//
// Returns:
//   - *Client: connected client
//   - error: wraps ErrConnectionFailed when the broker refuses or is silent
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg, subs: make(map[string]route)}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onLinkUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onLinkDown(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log(func(l Logger) { l.Info("mqtt reconnecting", "broker", brokerURL(cfg)) })
	})

	c.paho = pahomqtt.NewClient(opts)
	tok := c.paho.Connect()
	if !tok.WaitTimeout(defaultConnectTimeout) {
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: no CONNACK within %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// paho runs the connect handler on its own goroutine.
	c.up.Store(true)
	return c, nil
}

// onLinkUp re-subscribes, announces the service and runs the hook.
func (c *Client) onLinkUp() {
	c.up.Store(true)

	c.mu.Lock()
	routes := make(map[string]route, len(c.subs))
	for topic, r := range c.subs {
		routes[topic] = r
	}
	hook := c.onConnect
	c.mu.Unlock()

	for topic, r := range routes {
		c.paho.Subscribe(topic, r.qos, c.adapt(r.handler))
	}
	c.announce(statusOnline, "")

	if hook != nil {
		hook()
	}
}

func (c *Client) onLinkDown(err error) {
	c.up.Store(false)
	c.log(func(l Logger) { l.Warn("mqtt connection lost", "error", err) })

	c.mu.Lock()
	hook := c.onDisconnect
	c.mu.Unlock()
	if hook != nil {
		hook(err)
	}
}

// announce publishes the retained service status without waiting.
func (c *Client) announce(status, reason string) pahomqtt.Token {
	id := c.cfg.Broker.ClientID
	return c.paho.Publish(Topics{}.ServiceStatus(id), byte(c.cfg.QoS), true,
		buildStatusPayload(id, status, reason, time.Now()))
}

// Close announces a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		c.announce(statusOffline, reasonShutdown).WaitTimeout(defaultPublishTimeout)
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.up.Store(false)
	return nil
}

// IsConnected reports whether the broker link is up.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.up.Load() && c.paho.IsConnected()
}

// HealthCheck returns nil while the broker link is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SetOnConnect sets a hook run after the first connect and every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect sets a hook run when the broker link drops.
func (c *Client) SetOnDisconnect(fn func(error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets the logger for link events and handler failures.
func (c *Client) SetLogger(l Logger) {
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

func (c *Client) log(fn func(Logger)) {
	c.mu.Lock()
	l := c.logger
	c.mu.Unlock()
	if l != nil {
		fn(l)
	}
}
