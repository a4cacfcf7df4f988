package projector

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSessionConnectSendsStatusQuery(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start()

	writes := conn.Writes()
	if len(writes) != 1 || writes[0] != "~01150 1\r\n" {
		t.Fatalf("writes = %q, want [\"~01150 1\\r\\n\"]", writes)
	}

	power, err := h.s.QueryPower()
	if err != nil {
		t.Errorf("QueryPower() error: %v", err)
	}
	if power != PowerUnknown {
		t.Errorf("QueryPower() = %v, want %v", power, PowerUnknown)
	}
	if h.s.pollMisses != 1 {
		t.Errorf("pollMisses = %d, want 1 (connect query counts as first poll)", h.s.pollMisses)
	}

	want := []ConnectionState{StateConnecting, StateConnected}
	if len(h.connStates) != len(want) {
		t.Fatalf("connection states = %v, want %v", h.connStates, want)
	}
	for i := range want {
		if h.connStates[i] != want[i] {
			t.Errorf("connection state[%d] = %v, want %v", i, h.connStates[i], want[i])
		}
	}
}

func TestSessionStartTwice(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	h.s.Start()

	if h.dialAttempts != 1 {
		t.Errorf("dialAttempts = %d, want 1", h.dialAttempts)
	}
}

func TestSessionPowerOnAcknowledged(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start()

	res := h.request(true)

	writes := conn.Writes()
	if len(writes) != 2 || writes[1] != "~0100 1\r\n" {
		t.Fatalf("writes = %q, want boot command second", writes)
	}
	if res.calls != 0 {
		t.Fatal("callback invoked before ack")
	}
	if len(h.states) != 1 || h.states[0] != PowerOn {
		t.Fatalf("notified states = %v, want [on] (optimistic)", h.states)
	}

	h.feed("P\r\n")

	if res.calls != 1 {
		t.Fatalf("callback calls = %d, want 1", res.calls)
	}
	if res.err != nil {
		t.Errorf("callback error: %v", res.err)
	}
	if power, _ := h.s.QueryPower(); power != PowerOn {
		t.Errorf("QueryPower() = %v, want %v", power, PowerOn)
	}
	if h.s.pending != nil {
		t.Error("pending command not cleared")
	}

	// A late duplicate ack must not resolve anything twice.
	h.feed("P\r\n")
	if res.calls != 1 {
		t.Errorf("callback calls = %d after duplicate ack, want 1", res.calls)
	}
}

func TestSessionPowerOffSendsShutdown(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.UnitID = 7 })
	conn := h.start()

	h.request(false)

	writes := conn.Writes()
	if len(writes) != 2 || writes[1] != "~0700 2\r\n" {
		t.Fatalf("writes = %q, want shutdown command for unit 07", writes)
	}
	if power, _ := h.s.QueryPower(); power != PowerOff {
		t.Errorf("QueryPower() = %v, want %v", power, PowerOff)
	}
}

func TestSessionCommandInProgress(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start()

	first := h.request(true)
	pending := h.s.pending
	deadline := pending.deadline
	retries := h.s.retries

	second := h.request(false)

	if second.calls != 1 {
		t.Fatalf("second callback calls = %d, want 1", second.calls)
	}
	if !errors.Is(second.err, ErrCommandInProgress) {
		t.Errorf("second error = %v, want ErrCommandInProgress", second.err)
	}
	if first.calls != 0 {
		t.Error("first command resolved by rejected second request")
	}
	if h.s.pending != pending || !h.s.pending.deadline.Equal(deadline) {
		t.Error("pending command changed by rejected request")
	}
	if h.s.retries != retries {
		t.Errorf("retries = %d, want %d", h.s.retries, retries)
	}
	if len(conn.Writes()) != 2 {
		t.Errorf("writes = %q, want no shutdown command", conn.Writes())
	}
	if power, _ := h.s.QueryPower(); power != PowerOn {
		t.Errorf("QueryPower() = %v, want %v", power, PowerOn)
	}
}

func TestSessionNotConnected(t *testing.T) {
	h := newHarness(t, nil)
	h.dialErr = errBoom
	h.s.Start()

	if got := h.s.ConnectionState(); got != StateConnecting {
		t.Fatalf("ConnectionState() = %v, want %v", got, StateConnecting)
	}

	res := h.request(true)
	if res.calls != 1 || !errors.Is(res.err, ErrNotConnected) {
		t.Errorf("request result = %+v, want ErrNotConnected once", res)
	}

	power, err := h.s.QueryPower()
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("QueryPower() error = %v, want ErrNotConnected", err)
	}
	if power != PowerUnknown {
		t.Errorf("QueryPower() = %v, want %v", power, PowerUnknown)
	}
}

func TestSessionSetPower(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		h := newHarness(t, nil)
		h.dialErr = errBoom
		h.s.Start()

		if err := h.s.SetPower(context.Background(), true); !errors.Is(err, ErrNotConnected) {
			t.Errorf("SetPower() error = %v, want ErrNotConnected", err)
		}
	})

	t.Run("caller gives up", func(t *testing.T) {
		h := newHarness(t, nil)
		h.start()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := h.s.SetPower(ctx, true); !errors.Is(err, context.Canceled) {
			t.Errorf("SetPower() error = %v, want context.Canceled", err)
		}
		// The command stays pending on the session.
		if h.s.pending == nil {
			t.Error("pending command dropped when caller gave up")
		}
	})
}

func TestSessionUnreachableRetriesWithBackoff(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.ReconnectInterval = time.Second
		c.ConnectionTimeout = 2 * time.Second
	})
	h.dialErr = errBoom
	h.s.Start()

	steps := []struct {
		advance time.Duration
		want    int
	}{
		{999 * time.Millisecond, 1},
		{time.Millisecond, 2},         // 1s
		{1500 * time.Millisecond, 3},  // 1.5s
		{2 * time.Second, 4},          // 2.25s capped to 2s
		{2 * time.Second, 5},          // stays at the cap
	}
	for i, st := range steps {
		h.clock.Advance(st.advance)
		if h.dialAttempts != st.want {
			t.Fatalf("step %d: dialAttempts = %d, want %d", i, h.dialAttempts, st.want)
		}
		if got := h.s.ConnectionState(); got != StateConnecting {
			t.Fatalf("step %d: ConnectionState() = %v, want %v", i, got, StateConnecting)
		}
	}

	if _, err := h.s.QueryPower(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("QueryPower() error = %v, want ErrNotConnected", err)
	}
}

func TestSessionConnectionTimeout(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.ConnectionTimeout = 30 * time.Second
		c.ReconnectInterval = time.Second
	})
	h.dialHang = true
	h.s.Start()

	h.clock.Advance(29 * time.Second)
	if h.dialAttempts != 1 {
		t.Fatalf("dialAttempts = %d before timeout, want 1", h.dialAttempts)
	}

	h.clock.Advance(time.Second)
	h.clock.Advance(time.Second)
	if h.dialAttempts != 2 {
		t.Fatalf("dialAttempts = %d after timeout and backoff, want 2", h.dialAttempts)
	}
	if got := h.s.ConnectionState(); got != StateConnecting {
		t.Errorf("ConnectionState() = %v, want %v", got, StateConnecting)
	}
}

func TestSessionLateDialResultIgnored(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ConnectionTimeout = 5 * time.Second })
	h.dialHang = true
	h.s.Start()
	h.clock.Advance(5 * time.Second)

	// The abandoned first attempt completes after being timed out.
	late := &fakeConn{}
	h.s.loop.post(func() { h.s.dialCompleted(1, late, nil) })

	if !late.closed {
		t.Error("late connection was not closed")
	}
	if got := h.s.ConnectionState(); got != StateConnecting {
		t.Errorf("ConnectionState() = %v, want %v", got, StateConnecting)
	}
}

func TestSessionCommandTimeout(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start()

	res := h.request(true)
	h.dialHang = true
	h.clock.Advance(5 * time.Second)

	if res.calls != 1 {
		t.Fatalf("callback calls = %d, want 1", res.calls)
	}
	if !errors.Is(res.err, ErrCommandTimeout) {
		t.Errorf("callback error = %v, want ErrCommandTimeout", res.err)
	}
	if got := h.s.ConnectionState(); got != StateConnecting {
		t.Errorf("ConnectionState() = %v, want %v", got, StateConnecting)
	}
	if !conn.writeClosed || !conn.closed {
		t.Error("old transport not torn down (want write-end closed then destroyed)")
	}
	if h.s.retries != 1 {
		t.Errorf("retries = %d, want 1", h.s.retries)
	}
	// The optimistic state is kept.
	if power, _ := h.s.QueryPower(); power != PowerOn {
		t.Errorf("QueryPower() = %v, want %v", power, PowerOn)
	}
}

func TestSessionCommandTimeoutRetryBudget(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxCommandRetries = 1 })
	h.start()

	first := h.request(true)
	h.clock.Advance(5 * time.Second)
	if !errors.Is(first.err, ErrCommandTimeout) {
		t.Fatalf("first error = %v, want ErrCommandTimeout", first.err)
	}
	if len(h.conns) != 2 {
		t.Fatalf("connections = %d, want 2 (first timeout redials at once)", len(h.conns))
	}

	// Past the budget the link is still reset, the redial just waits.
	tests := []struct {
		retries int
		delay   time.Duration
	}{
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 3 * time.Second},
	}
	for _, tt := range tests {
		conns := len(h.conns)
		h.feed("OK1\r\n")
		res := h.request(false)
		h.clock.Advance(5 * time.Second)

		if !errors.Is(res.err, ErrCommandTimeout) {
			t.Fatalf("timeout %d: error = %v, want ErrCommandTimeout", tt.retries, res.err)
		}
		if h.s.retries != tt.retries {
			t.Errorf("retries = %d, want %d", h.s.retries, tt.retries)
		}
		if got := h.s.ConnectionState(); got != StateConnecting {
			t.Fatalf("timeout %d: ConnectionState() = %v, want %v", tt.retries, got, StateConnecting)
		}
		if len(h.conns) != conns {
			t.Fatalf("timeout %d: redialled before the delay", tt.retries)
		}

		h.clock.Advance(tt.delay - time.Millisecond)
		if len(h.conns) != conns {
			t.Fatalf("timeout %d: redialled before %v", tt.retries, tt.delay)
		}
		h.clock.Advance(time.Millisecond)
		if len(h.conns) != conns+1 {
			t.Fatalf("timeout %d: connections = %d, want %d after %v", tt.retries, len(h.conns), conns+1, tt.delay)
		}
		if got := h.s.ConnectionState(); got != StateConnected {
			t.Fatalf("timeout %d: ConnectionState() = %v, want %v", tt.retries, got, StateConnected)
		}
	}

	h.request(true)
	h.feed("F\r\n")
	if h.s.retries != 0 {
		t.Errorf("retries = %d after ack, want 0", h.s.retries)
	}
}

func TestSessionCommandRedialDelayCapped(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.MaxCommandRetries = 0
		c.ReconnectInterval = 2 * time.Second
		c.ConnectionTimeout = 5 * time.Second
	})

	tests := []struct {
		retries int
		want    time.Duration
	}{
		{0, 0},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := h.s.commandRedialDelay(tt.retries); got != tt.want {
			t.Errorf("commandRedialDelay(%d) = %v, want %v", tt.retries, got, tt.want)
		}
	}
}

func TestSessionSilentLink(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start()

	h.clock.Advance(4 * time.Second)
	if got := h.s.ConnectionState(); got != StateConnected {
		t.Fatalf("ConnectionState() = %v after 4s, want %v", got, StateConnected)
	}
	if n := len(conn.Writes()); n != 5 {
		t.Fatalf("writes = %d, want 5 status queries", n)
	}

	h.dialHang = true
	h.clock.Advance(time.Second)

	if got := h.s.ConnectionState(); got != StateConnecting {
		t.Fatalf("ConnectionState() = %v after 5s, want %v", got, StateConnecting)
	}
	if h.s.pollMisses != 0 {
		t.Errorf("pollMisses = %d after reconnect, want 0", h.s.pollMisses)
	}

	h.clock.Advance(10 * time.Second)
	if n := h.countConn(StateConnecting); n != 2 {
		t.Errorf("entered connecting %d times, want 2 (start + one silent link)", n)
	}
	if st := h.s.Stats(); st.SilentLinks != 1 {
		t.Errorf("Stats().SilentLinks = %d, want 1", st.SilentLinks)
	}
}

func TestSessionClassifiedMessageResetsPollCounter(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.clock.Advance(3 * time.Second)
	if h.s.pollMisses != 4 {
		t.Fatalf("pollMisses = %d, want 4", h.s.pollMisses)
	}

	h.feed("garbage\r\n")
	if h.s.pollMisses != 4 {
		t.Errorf("pollMisses = %d after unclassified chunk, want 4", h.s.pollMisses)
	}

	h.feed("OK1\r\n")
	if h.s.pollMisses != 0 {
		t.Errorf("pollMisses = %d after status, want 0", h.s.pollMisses)
	}

	h.clock.Advance(4 * time.Second)
	if h.s.pollMisses != 4 {
		t.Errorf("pollMisses = %d, want 4", h.s.pollMisses)
	}
	if len(h.conns) != 1 {
		t.Errorf("connections = %d, want 1", len(h.conns))
	}
}

func TestSessionUnsolicitedStatusOff(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.feed("INFO0\r\n")

	if power, _ := h.s.QueryPower(); power != PowerOff {
		t.Errorf("QueryPower() = %v, want %v", power, PowerOff)
	}
	if len(h.states) != 1 || h.states[0] != PowerOff {
		t.Errorf("notified states = %v, want [off]", h.states)
	}
}

func TestSessionStatusIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.feed("INFO1\r\n")
	h.feed("INFO1\r\n")
	h.feed("OK1\r\n")

	if len(h.states) != 1 || h.states[0] != PowerOn {
		t.Errorf("notified states = %v, want [on]", h.states)
	}
}

func TestSessionUpAndDownInOneChunkEndsOff(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.feed("INFO1\r\nINFO0\r\n")

	if power, _ := h.s.QueryPower(); power != PowerOff {
		t.Errorf("QueryPower() = %v, want %v", power, PowerOff)
	}
}

func TestSessionSuppressionWindow(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	res := h.request(true)
	h.feed("P\r\n")
	if res.err != nil {
		t.Fatalf("callback error: %v", res.err)
	}

	// A stale status inside the window is recorded but not notified.
	h.feed("INFO0\r\n")
	if power, _ := h.s.QueryPower(); power != PowerOff {
		t.Errorf("QueryPower() = %v, want %v", power, PowerOff)
	}
	if len(h.states) != 1 {
		t.Fatalf("notified states = %v, want [on] while suppressed", h.states)
	}

	h.clock.Advance(5 * time.Second)
	if len(h.states) != 2 || h.states[1] != PowerOff {
		t.Errorf("notified states = %v, want [on off] after window", h.states)
	}
}

func TestSessionSuppressionDisabled(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.SuppressionDuration = 0 })
	h.start()

	if got := h.s.Config().SuppressionDuration; got != 0 {
		t.Fatalf("SuppressionDuration = %v, want 0 kept", got)
	}

	h.request(true)
	if h.s.timers.active(timerSuppression) {
		t.Fatal("suppression window opened with zero duration")
	}
	h.feed("INFO0\r\n")
	if len(h.states) != 2 || h.states[1] != PowerOff {
		t.Errorf("notified states = %v, want [on off] straight away", h.states)
	}
}

func TestSessionSuppressionNoFlapWhenStatusAgrees(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.request(true)
	h.feed("P\r\n")
	h.feed("INFO0\r\n")
	h.feed("INFO1\r\n")
	h.clock.Advance(5 * time.Second)

	if len(h.states) != 1 || h.states[0] != PowerOn {
		t.Errorf("notified states = %v, want [on]", h.states)
	}
}

func TestSessionPollsSkippedWhileSuppressed(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start()

	h.request(true)
	h.feed("P\r\n")

	h.clock.Advance(4 * time.Second)
	if n := len(conn.Writes()); n != 2 {
		t.Fatalf("writes = %d during suppression, want 2", n)
	}

	h.clock.Advance(time.Second)
	writes := conn.Writes()
	if len(writes) != 3 || writes[2] != "~01150 1\r\n" {
		t.Errorf("writes = %q, want polling to resume after window", writes)
	}
}

func TestSessionPollingDisabled(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PollInterval = 0 })
	conn := h.start()

	h.clock.Advance(time.Minute)

	if n := len(conn.Writes()); n != 1 {
		t.Errorf("writes = %d, want only the connect status query", n)
	}
	if got := h.s.ConnectionState(); got != StateConnected {
		t.Errorf("ConnectionState() = %v, want %v", got, StateConnected)
	}
}

func TestSessionAckFailurePolicy(t *testing.T) {
	tests := []struct {
		name    string
		policy  AckFailurePolicy
		chunk   string
		wantErr error
	}{
		{"failure resolves as success by default", AckFailureSuccess, "F\r\n", nil},
		{"failure rejected when configured", AckFailureError, "F\r\n", ErrCommandRejected},
		{"success wins over failure", AckFailureError, "PF\r\n", nil},
		{"success with success policy", AckFailureSuccess, "P\r\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *Config) { c.AckFailurePolicy = tt.policy })
			h.start()

			res := h.request(true)
			h.feed(tt.chunk)

			if res.calls != 1 {
				t.Fatalf("callback calls = %d, want 1", res.calls)
			}
			if !errors.Is(res.err, tt.wantErr) {
				t.Errorf("callback error = %v, want %v", res.err, tt.wantErr)
			}
			if h.s.retries != 0 {
				t.Errorf("retries = %d, want 0", h.s.retries)
			}
			if got := h.s.ConnectionState(); got != StateConnected {
				t.Errorf("ConnectionState() = %v, want %v", got, StateConnected)
			}
		})
	}
}

func TestSessionStatusDoesNotResolveCommand(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	res := h.request(true)
	h.feed("INFO1\r\n")

	if res.calls != 0 {
		t.Errorf("status chunk resolved the pending command")
	}
	if h.s.pending == nil {
		t.Error("pending command cleared by status chunk")
	}
}

func TestSessionTransportErrorFailsPending(t *testing.T) {
	h := newHarness(t, nil)
	old := h.start()

	res := h.request(true)
	h.readError(errBoom)

	if res.calls != 1 {
		t.Fatalf("callback calls = %d, want 1", res.calls)
	}
	if !errors.Is(res.err, ErrTransport) {
		t.Errorf("callback error = %v, want ErrTransport", res.err)
	}
	if !old.writeClosed || !old.closed {
		t.Error("old transport not torn down")
	}
	if len(h.conns) != 2 {
		t.Fatalf("connections = %d, want 2", len(h.conns))
	}
	if got := h.s.ConnectionState(); got != StateConnected {
		t.Errorf("ConnectionState() = %v, want %v after redial", got, StateConnected)
	}
	if st := h.s.Stats(); st.Reconnects != 1 {
		t.Errorf("Stats().Reconnects = %d, want 1", st.Reconnects)
	}
}

func TestSessionWriteErrorReconnects(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start()
	conn.writeErr = errBoom

	res := h.request(true)

	if !errors.Is(res.err, ErrTransport) {
		t.Errorf("callback error = %v, want ErrTransport", res.err)
	}
	if len(h.conns) != 2 {
		t.Errorf("connections = %d, want 2", len(h.conns))
	}
}

func TestSessionStaleEventsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	oldGen := h.s.gen

	h.readError(errBoom)
	h.s.loop.post(func() { h.s.handleData(oldGen, []byte("INFO1\r\n")) })
	h.s.loop.post(func() { h.s.handleReadError(oldGen, errBoom) })

	if power, _ := h.s.QueryPower(); power != PowerUnknown {
		t.Errorf("QueryPower() = %v, want %v (stale data ignored)", power, PowerUnknown)
	}
	if len(h.conns) != 2 {
		t.Errorf("connections = %d, want 2 (stale error ignored)", len(h.conns))
	}
}

func TestSessionPowerKeptAcrossReconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	h.feed("INFO1\r\n")

	h.dialHang = true
	h.readError(errBoom)

	power, err := h.s.QueryPower()
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("QueryPower() error = %v, want ErrNotConnected", err)
	}
	if power != PowerOn {
		t.Errorf("QueryPower() = %v, want cached %v", power, PowerOn)
	}
}

func TestSessionClose(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.start()

	res := h.request(true)
	if err := h.s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	if res.calls != 1 || !errors.Is(res.err, ErrSessionClosed) {
		t.Errorf("pending result = %+v, want ErrSessionClosed once", res)
	}
	if !conn.closed {
		t.Error("transport not closed")
	}
	if got := h.s.ConnectionState(); got != StateDisconnected {
		t.Errorf("ConnectionState() = %v, want %v", got, StateDisconnected)
	}

	after := h.request(false)
	if after.calls != 1 || !errors.Is(after.err, ErrSessionClosed) {
		t.Errorf("request after close = %+v, want ErrSessionClosed", after)
	}

	// Timers armed before close never run.
	h.clock.Advance(time.Minute)
	if len(h.conns) != 1 {
		t.Errorf("connections = %d after close, want 1", len(h.conns))
	}
}

func TestSessionListenerPanicRecovered(t *testing.T) {
	h := newHarness(t, nil)
	h.s.OnStateChanged(func(PowerState) { panic("listener bug") })
	h.start()

	res := h.request(true)
	h.feed("P\r\n")

	if res.calls != 1 || res.err != nil {
		t.Errorf("result = %+v, want success despite listener panic", res)
	}
}

func TestSessionBackoff(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.ReconnectInterval = time.Second
		c.ConnectionTimeout = 4 * time.Second
	})

	want := []time.Duration{
		time.Second,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
		4 * time.Second,
		4 * time.Second,
	}
	for i, w := range want {
		if got := h.s.nextBackoff(); got != w {
			t.Errorf("backoff[%d] = %v, want %v", i, got, w)
		}
	}
}

func TestSessionStats(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.request(true)
	h.feed("P\r\nINFO1\r\n")

	st := h.s.Stats()
	if st.Connection != StateConnected {
		t.Errorf("Connection = %v, want %v", st.Connection, StateConnected)
	}
	if st.Power != PowerOn {
		t.Errorf("Power = %v, want %v", st.Power, PowerOn)
	}
	if st.CommandsSent != 1 || st.CommandsSucceeded != 1 {
		t.Errorf("commands sent/succeeded = %d/%d, want 1/1", st.CommandsSent, st.CommandsSucceeded)
	}
	if st.PollsSent != 1 {
		t.Errorf("PollsSent = %d, want 1", st.PollsSent)
	}
	if st.BytesRx == 0 || st.LastActivity.IsZero() {
		t.Error("receive activity not recorded")
	}
	if st.ConnectedSince.IsZero() {
		t.Error("ConnectedSince not set")
	}
}

type recordingObserver struct {
	NopObserver
	conn     []ConnectionState
	results  []CommandResult
	polls    int
	failures int
}

func (o *recordingObserver) ConnectionChanged(s ConnectionState) { o.conn = append(o.conn, s) }
func (o *recordingObserver) CommandCompleted(r CommandResult)    { o.results = append(o.results, r) }
func (o *recordingObserver) PollSent()                           { o.polls++ }
func (o *recordingObserver) ConnectFailed(error)                 { o.failures++ }

func TestSessionObserver(t *testing.T) {
	clock := newFakeClock()
	obs := &recordingObserver{}
	var conns []*fakeConn

	s, err := New(testConfig(), Options{
		Clock:    clock,
		Observer: Observers{obs},
		Dialer: DialerFunc(func(ctx context.Context) (Conn, error) {
			c := &fakeConn{}
			conns = append(conns, c)
			return c, nil
		}),
		executor: &syncExecutor{},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s.startReader = func(uint64, Conn) {}
	s.startDial = func(ctx context.Context, attempt uint64) {
		c, err := s.dialer.Dial(ctx)
		s.loop.post(func() { s.dialCompleted(attempt, c, err) })
	}

	s.Start()
	s.RequestPowerChange(true, nil)
	clock.Advance(1200 * time.Millisecond)
	s.loop.post(func() { s.handleData(s.gen, []byte("P\r\n")) })

	if len(obs.conn) != 2 || obs.conn[1] != StateConnected {
		t.Errorf("observed connection states = %v", obs.conn)
	}
	if len(obs.results) != 1 {
		t.Fatalf("observed results = %d, want 1", len(obs.results))
	}
	if obs.results[0].Latency != 1200*time.Millisecond {
		t.Errorf("latency = %v, want 1.2s", obs.results[0].Latency)
	}
	if !obs.results[0].TargetOn || obs.results[0].Err != nil {
		t.Errorf("result = %+v", obs.results[0])
	}
	if obs.polls != 1 {
		t.Errorf("polls = %d, want 1 (connect query; later polls suppressed)", obs.polls)
	}
	if len(conns) != 1 {
		t.Errorf("connections = %d, want 1", len(conns))
	}
}
