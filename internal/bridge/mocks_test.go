package bridge

import (
	"errors"
	"sync"

	"github.com/nerrad567/gray-logic-projector/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-projector/internal/projector"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu         sync.Mutex
	published  []mockPublish
	handlers   map[string]mqtt.MessageHandler
	connected  bool
	publishErr error
	subErr     error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return m.subErr
	}
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// SimulateMessage delivers payload to the handler subscribed on topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) error {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if !ok {
		return errors.New("no subscription for " + topic)
	}
	return handler(topic, payload)
}

// PublishedOn returns messages published on topic, in order.
func (m *MockMQTTClient) PublishedOn(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// fakeSession implements Session. Power requests are held until resolve
// is called, unless result is set.
type fakeSession struct {
	mu       sync.Mutex
	power    projector.PowerState
	conn     projector.ConnectionState
	stats    projector.Stats
	requests []bool
	pending  []func(error)
	result   *error

	stateListeners []func(projector.PowerState)
	connListeners  []func(projector.ConnectionState)
}

func newFakeSession() *fakeSession {
	return &fakeSession{power: projector.PowerOff, conn: projector.StateConnected}
}

func (f *fakeSession) RequestPowerChange(on bool, onResult func(error)) {
	f.mu.Lock()
	f.requests = append(f.requests, on)
	result := f.result
	if result == nil {
		f.pending = append(f.pending, onResult)
	}
	f.mu.Unlock()

	if result != nil {
		onResult(*result)
	}
}

func (f *fakeSession) respondWith(err error) {
	f.mu.Lock()
	f.result = &err
	f.mu.Unlock()
}

// resolve completes the oldest held request.
func (f *fakeSession) resolve(err error) {
	f.mu.Lock()
	cb := f.pending[0]
	f.pending = f.pending[1:]
	f.mu.Unlock()
	cb(err)
}

func (f *fakeSession) QueryPower() (projector.PowerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != projector.StateConnected {
		return f.power, projector.ErrNotConnected
	}
	return f.power, nil
}

func (f *fakeSession) ConnectionState() projector.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn
}

func (f *fakeSession) Stats() projector.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.stats
	st.Connection = f.conn
	st.Power = f.power
	return st
}

func (f *fakeSession) OnStateChanged(l func(projector.PowerState)) {
	f.mu.Lock()
	f.stateListeners = append(f.stateListeners, l)
	f.mu.Unlock()
}

func (f *fakeSession) OnConnectionChanged(l func(projector.ConnectionState)) {
	f.mu.Lock()
	f.connListeners = append(f.connListeners, l)
	f.mu.Unlock()
}

func (f *fakeSession) setPower(p projector.PowerState) {
	f.mu.Lock()
	f.power = p
	listeners := append([]func(projector.PowerState){}, f.stateListeners...)
	f.mu.Unlock()
	for _, l := range listeners {
		l(p)
	}
}

func (f *fakeSession) setConnection(c projector.ConnectionState) {
	f.mu.Lock()
	f.conn = c
	listeners := append([]func(projector.ConnectionState){}, f.connListeners...)
	f.mu.Unlock()
	for _, l := range listeners {
		l(c)
	}
}

func (f *fakeSession) requested() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.requests...)
}

var _ Session = (*projector.Session)(nil)
var _ MQTTClient = (*mqtt.Client)(nil)
