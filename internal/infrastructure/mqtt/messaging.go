package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize bounds a single message.
const maxPayloadSize = 1 << 20

// Publish sends payload and waits for the broker to acknowledge it.
// State and health topics are retained; acks never are.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopicQoS(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.paho.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// Subscribe routes messages on topic (wildcards allowed) to handler. The
// route is replayed on every reconnect. Handlers run on paho goroutines.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopicQoS(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.setRoute(topic, &route{qos: qos, handler: handler})
	if err := await(c.paho.Subscribe(topic, qos, c.adapt(handler)), ErrSubscribeFailed); err != nil {
		c.setRoute(topic, nil)
		return err
	}
	return nil
}

// Unsubscribe drops a route added by Subscribe.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.setRoute(topic, nil)
	return await(c.paho.Unsubscribe(topic), ErrUnsubscribeFailed)
}

// SubscriptionCount returns the number of routes.
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// HasSubscription reports whether topic (exact string) has a route.
func (c *Client) HasSubscription(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[topic]
	return ok
}

// setRoute stores r for topic, or removes the route when r is nil.
func (c *Client) setRoute(topic string, r *route) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r == nil {
		delete(c.subs, topic)
		return
	}
	if c.subs == nil {
		c.subs = make(map[string]route)
	}
	c.subs[topic] = *r
}

func (c *Client) adapt(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.deliver(handler, msg.Topic(), msg.Payload())
	}
}

// deliver runs handler, logging its error or panic.
func (c *Client) deliver(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log(func(l Logger) { l.Error("mqtt handler panicked", "topic", topic, "panic", r) })
		}
	}()
	if err := handler(topic, payload); err != nil {
		c.log(func(l Logger) { l.Warn("mqtt handler failed", "topic", topic, "error", err) })
	}
}

func await(tok pahomqtt.Token, sentinel error) error {
	if !tok.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: no reply within %v", sentinel, defaultPublishTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}

func checkTopicQoS(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}
