package bridge

import "sync"

const defaultQueueSize = 64

type outgoing struct {
	topic    string
	payload  []byte
	retained bool
}

// publishQueue serialises publishes onto one worker goroutine.
type publishQueue struct {
	mqtt   MQTTClient
	qos    byte
	logger Logger

	mu     sync.RWMutex
	ch     chan outgoing
	closed bool
	done   chan struct{}
}

func newPublishQueue(client MQTTClient, qos byte, size int, logger Logger) *publishQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	q := &publishQueue{
		mqtt:   client,
		qos:    qos,
		logger: logger,
		ch:     make(chan outgoing, size),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// enqueue never blocks. It returns false if the message was dropped.
func (q *publishQueue) enqueue(topic string, payload []byte, retained bool) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}
	select {
	case q.ch <- outgoing{topic: topic, payload: payload, retained: retained}:
		return true
	default:
		q.logger.Warn("publish queue full, message dropped", "topic", topic)
		return false
	}
}

func (q *publishQueue) run() {
	defer close(q.done)

	for msg := range q.ch {
		if err := q.mqtt.Publish(msg.topic, msg.payload, q.qos, msg.retained); err != nil {
			q.logger.Warn("mqtt publish failed", "topic", msg.topic, "error", err)
		}
	}
}

// close stops accepting messages and waits for queued ones to be sent.
func (q *publishQueue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	<-q.done
}
