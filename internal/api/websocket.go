package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-projector/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-projector/internal/infrastructure/logging"
)

// Client operations.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPing        = "ping"
)

// Server frame types.
const (
	FrameEvent    = "event"
	FrameSnapshot = "snapshot"
	FrameAck      = "ack"
	FramePong     = "pong"
	FrameError    = "error"
)

// Stream channels.
const (
	ChannelPowerState      = "power.state_changed"
	ChannelConnectionState = "connection.state_changed"

	// ChannelAll subscribes to every channel.
	ChannelAll = "*"
)

const (
	streamQueueSize     = 32
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

var knownChannels = []string{ChannelPowerState, ChannelConnectionState}

// ClientOp is a request from a stream client.
type ClientOp struct {
	Op       string   `json:"op"`
	ID       string   `json:"id,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// Frame is a message to a stream client. Seq increases by one per event
// across the hub, so a gap tells a client it lost frames.
type Frame struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channel  string   `json:"channel,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Seq      uint64   `json:"seq,omitempty"`
	Time     string   `json:"time"`
	Data     any      `json:"data,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// SnapshotFunc returns the current payload for a channel, or nil when the
// channel has no state to report.
type SnapshotFunc func(channel string) any

// Hub fans session events out to stream clients.
type Hub struct {
	logger   *logging.Logger
	snapshot SnapshotFunc
	upgrader websocket.Upgrader

	maxMessage int64
	ping, pong time.Duration

	seq     atomic.Uint64
	dropped atomic.Uint64

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once

	mu   sync.RWMutex
	subs map[string]struct{}
}

// NewHub creates a hub. snapshot may be nil.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, snapshot SnapshotFunc) *Hub {
	ping := time.Duration(cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = defaultPingInterval
	}
	pong := time.Duration(cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = defaultPongTimeout
	}
	return &Hub{
		logger:     logger,
		snapshot:   snapshot,
		maxMessage: int64(cfg.MaxMessageSize),
		ping:       ping,
		pong:       pong,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*streamClient]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many frames were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Publish sends an event to every client subscribed to channel.
func (h *Hub) Publish(channel string, data any) {
	raw, err := json.Marshal(Frame{
		Type:    FrameEvent,
		Channel: channel,
		Seq:     h.seq.Add(1),
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Data:    data,
	})
	if err != nil {
		h.logger.Error("encoding stream event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*streamClient, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(raw)
	}
}

// ServeHTTP upgrades the request and attaches the client to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &streamClient{
		hub:  h,
		conn: conn,
		out:  make(chan []byte, streamQueueSize),
		done: make(chan struct{}),
		subs: make(map[string]struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("stream client attached", "remote", r.RemoteAddr, "clients", count)

	go c.writeLoop()
	go c.readLoop()
}

func (h *Hub) detach(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("stream client detached", "clients", count)
}

func (c *streamClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// enqueue never blocks. A full queue drops the frame.
func (c *streamClient) enqueue(raw []byte) {
	select {
	case <-c.done:
	case c.out <- raw:
	default:
		c.hub.dropped.Add(1)
	}
}

func (c *streamClient) reply(f Frame) {
	f.Time = time.Now().UTC().Format(time.RFC3339Nano)
	raw, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.enqueue(raw)
}

func (c *streamClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subs[ChannelAll]; ok {
		return true
	}
	_, ok := c.subs[channel]
	return ok
}

func (c *streamClient) readLoop() {
	defer c.hub.detach(c)

	if c.hub.maxMessage > 0 {
		c.conn.SetReadLimit(c.hub.maxMessage)
	}
	wait := c.hub.ping + c.hub.pong
	//nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("stream read failed", "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces as a read error
		c.conn.SetReadDeadline(time.Now().Add(wait))

		var op ClientOp
		if err := json.Unmarshal(raw, &op); err != nil {
			c.reply(Frame{Type: FrameError, Error: "malformed request"})
			continue
		}
		c.handle(op)
	}
}

func (c *streamClient) handle(op ClientOp) {
	switch op.Op {
	case OpSubscribe:
		if len(op.Channels) == 0 {
			c.reply(Frame{Type: FrameError, ID: op.ID, Error: "channels required"})
			return
		}
		c.mu.Lock()
		for _, ch := range op.Channels {
			c.subs[ch] = struct{}{}
		}
		c.mu.Unlock()
		c.reply(Frame{Type: FrameAck, ID: op.ID, Channels: op.Channels})
		c.sendSnapshots(op.Channels)
	case OpUnsubscribe:
		c.mu.Lock()
		for _, ch := range op.Channels {
			delete(c.subs, ch)
		}
		c.mu.Unlock()
		c.reply(Frame{Type: FrameAck, ID: op.ID, Channels: op.Channels})
	case OpPing:
		c.reply(Frame{Type: FramePong, ID: op.ID})
	default:
		c.reply(Frame{Type: FrameError, ID: op.ID, Error: "unknown op: " + op.Op})
	}
}

// sendSnapshots pushes the current state of each newly subscribed channel
// so a client never has to wait for the next change.
func (c *streamClient) sendSnapshots(channels []string) {
	if c.hub.snapshot == nil {
		return
	}
	if slices.Contains(channels, ChannelAll) {
		channels = knownChannels
	}
	for _, ch := range channels {
		if data := c.hub.snapshot(ch); data != nil {
			c.reply(Frame{Type: FrameSnapshot, Channel: ch, Data: data})
		}
	}
}

func (c *streamClient) writeLoop() {
	ticker := time.NewTicker(c.hub.ping)
	defer ticker.Stop()

	write := func(kind int, data []byte) bool {
		//nolint:errcheck // a failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(c.hub.pong))
		return c.conn.WriteMessage(kind, data) == nil
	}

	for {
		select {
		case <-c.done:
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
			return
		case raw := <-c.out:
			if !write(websocket.TextMessage, raw) {
				c.close()
				return
			}
		case <-ticker.C:
			if !write(websocket.PingMessage, nil) {
				c.close()
				return
			}
		}
	}
}
