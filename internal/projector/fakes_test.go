package projector

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced Clock. Timers fire in deadline order,
// ties in creation order.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward by d, firing every timer that comes due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.at
		next.fired = true
		c.mu.Unlock()

		next.fn()
	}
}

// syncExecutor runs posted work on the posting goroutine, after whatever
// it is currently running. Tests stay single-threaded.
type syncExecutor struct {
	queue   []func()
	running bool
	closed  bool
}

func (e *syncExecutor) post(fn func()) bool {
	if e.closed {
		return false
	}
	e.queue = append(e.queue, fn)
	if e.running {
		return true
	}
	e.running = true
	for len(e.queue) > 0 {
		next := e.queue[0]
		e.queue = e.queue[1:]
		next()
	}
	e.running = false
	return true
}

func (e *syncExecutor) close() { e.closed = true }

// fakeConn records writes. Reads are injected through the harness.
type fakeConn struct {
	mu          sync.Mutex
	writes      []string
	writeErr    error
	closed      bool
	writeClosed bool
}

func (c *fakeConn) Read([]byte) (int, error) { return 0, io.EOF }

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, string(p))
	return len(p), nil
}

func (c *fakeConn) CloseWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeClosed = true
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

// recordingLogger captures log lines by level.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+": "+msg)
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.add("error", msg) }

// cmdResult captures RequestPowerChange callbacks.
type cmdResult struct {
	calls int
	err   error
}

// harness drives a Session deterministically: dials complete synchronously,
// inbound data is injected, and time only moves on Advance.
type harness struct {
	t     *testing.T
	s     *Session
	clock *fakeClock

	conns        []*fakeConn
	dialAttempts int
	dialErr      error
	dialHang     bool

	states     []PowerState
	connStates []ConnectionState
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Address = "projector.test"
	return cfg
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{t: t, clock: newFakeClock()}
	s, err := New(cfg, Options{
		Clock:    h.clock,
		Dialer:   DialerFunc(h.dial),
		executor: &syncExecutor{},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s.startReader = func(uint64, Conn) {}
	s.startDial = func(ctx context.Context, attempt uint64) {
		h.dialAttempts++
		if h.dialHang {
			return
		}
		c, err := s.dialer.Dial(ctx)
		s.loop.post(func() { s.dialCompleted(attempt, c, err) })
	}
	s.OnStateChanged(func(p PowerState) { h.states = append(h.states, p) })
	s.OnConnectionChanged(func(c ConnectionState) { h.connStates = append(h.connStates, c) })

	h.s = s
	return h
}

func (h *harness) dial(context.Context) (Conn, error) {
	if h.dialErr != nil {
		return nil, h.dialErr
	}
	c := &fakeConn{}
	h.conns = append(h.conns, c)
	return c, nil
}

// start connects and checks the session came up.
func (h *harness) start() *fakeConn {
	h.t.Helper()
	h.s.Start()
	if got := h.s.ConnectionState(); got != StateConnected {
		h.t.Fatalf("ConnectionState() = %v, want %v", got, StateConnected)
	}
	return h.conn()
}

func (h *harness) conn() *fakeConn {
	h.t.Helper()
	if len(h.conns) == 0 {
		h.t.Fatal("no connection dialled")
	}
	return h.conns[len(h.conns)-1]
}

func (h *harness) feed(data string) {
	h.s.loop.post(func() { h.s.handleData(h.s.gen, []byte(data)) })
}

func (h *harness) readError(err error) {
	h.s.loop.post(func() { h.s.handleReadError(h.s.gen, err) })
}

func (h *harness) request(on bool) *cmdResult {
	res := &cmdResult{}
	h.s.RequestPowerChange(on, func(err error) {
		res.calls++
		res.err = err
	})
	return res
}

func (h *harness) countConn(state ConnectionState) int {
	n := 0
	for _, c := range h.connStates {
		if c == state {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")
