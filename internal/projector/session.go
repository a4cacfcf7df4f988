package projector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// readBufferSize is the size of the transport read buffer.
const readBufferSize = 256

// Options carries the session's collaborators. Every field is optional.
type Options struct {
	// Codec builds and classifies device messages.
	// Default: OptomaCodec for Config.UnitID.
	Codec Codec

	// Dialer opens the device link. Default: TCPDialer for Config.Address
	// and Config.Port.
	Dialer Dialer

	// Clock drives every session timer. Default: wall clock.
	Clock Clock

	// Logger receives session logs filtered by Config.Verbosity.
	Logger Logger

	// Observer receives metrics and telemetry events.
	Observer Observer

	executor executor
}

// pendingCommand is the single in-flight power command.
type pendingCommand struct {
	targetOn bool
	onResult func(error)
	sentAt   time.Time
	deadline time.Time
}

// Session owns the link to one projector.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - Listeners, result callbacks and Observer methods run on the session's
//     event loop. They must not block, and must not call SetPower or Close.
//
// Reconnection:
//   - A lost link is torn down and redialled immediately.
//   - Failed dials back off from ReconnectInterval, growing 1.5x up to
//     ConnectionTimeout, and retry until Close is called.
type Session struct {
	cfg      Config
	codec    Codec
	dialer   Dialer
	clock    Clock
	logger   Logger
	observer Observer

	loop   executor
	timers *timerQueue
	fsm    *connectionFSM

	// startDial and startReader move blocking I/O off the loop.
	startDial   func(ctx context.Context, attempt uint64)
	startReader func(gen uint64, c Conn)

	// Loop-owned state. Only touched from the event loop.
	link        Conn
	gen         uint64 // bumped on every teardown; events from older links are dropped
	dialAttempt uint64
	dialCancel  context.CancelFunc
	power       PowerState
	notified    PowerState // last value delivered to state listeners
	pending     *pendingCommand
	pollMisses  int
	retries     int // consecutive command timeouts
	backoff     time.Duration
	closed      bool

	// Snapshot read by QueryPower and ConnectionState.
	snapMu    sync.RWMutex
	snapPower PowerState
	snapConn  ConnectionState

	listenerMu     sync.RWMutex
	stateListeners []func(PowerState)
	connListeners  []func(ConnectionState)

	closeOnce sync.Once

	// Statistics
	commandsSent      atomic.Uint64
	commandsSucceeded atomic.Uint64
	commandsFailed    atomic.Uint64
	commandTimeouts   atomic.Uint64
	pollsSent         atomic.Uint64
	reconnects        atomic.Uint64
	silentLinks       atomic.Uint64
	bytesRx           atomic.Uint64
	lastActivity      atomic.Int64
	connectedSince    atomic.Int64
}

// New creates a session for one projector. Nothing is dialled until Start.
//
// Zero-valued fields of cfg take the package defaults (port 23, unit 1,
// 5s command timeout and so on), then the result is validated. opts wires
// the collaborators:
//   - Dialer: defaults to a TCPDialer for cfg.Address and cfg.Port
//   - Codec: defaults to the Optoma codec for cfg.UnitID
//   - Clock: defaults to wall time
//   - Logger: filtered by cfg.Verbosity; nil discards output
//   - Observer: metrics and telemetry hooks; nil ignores events
//
// Returns ErrInvalidConfig when validation fails or no Dialer and no
// address are given.
func New(cfg Config, opts Options) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		if cfg.Address == "" {
			return nil, fmt.Errorf("%w: address is required", ErrInvalidConfig)
		}
		dialer = &TCPDialer{Address: cfg.Address, Port: cfg.Port, WriteTimeout: DefaultWriteTimeout}
	}

	s := &Session{
		cfg:       cfg,
		codec:     opts.Codec,
		dialer:    dialer,
		clock:     opts.Clock,
		logger:    newVerbosityLogger(opts.Logger, cfg.Verbosity),
		observer:  opts.Observer,
		loop:      opts.executor,
		snapConn:  StateDisconnected,
		snapPower: PowerUnknown,
	}
	if s.codec == nil {
		s.codec = NewOptomaCodec(cfg.UnitID)
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	if s.observer == nil {
		s.observer = NopObserver{}
	}
	if s.loop == nil {
		s.loop = newEventLoop()
	}
	s.timers = newTimerQueue(s.clock, s.loop.post)
	s.fsm = newConnectionFSM(s.enterConnectionState)
	s.startDial = s.dialAsync
	s.startReader = s.readAsync

	return s, nil
}

// Config returns the effective configuration, defaults applied.
func (s *Session) Config() Config {
	return s.cfg
}

// Start begins connecting. Calling Start more than once has no effect.
func (s *Session) Start() {
	s.loop.post(func() {
		if s.closed || !s.fsm.is(StateDisconnected) {
			return
		}
		s.fsm.fire(eventDial)
		s.dial()
	})
}

// Close tears down the link and stops the session. An outstanding command
// fails with ErrSessionClosed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		done := make(chan struct{})
		if s.loop.post(func() {
			s.shutdown()
			close(done)
		}) {
			<-done
		}
		s.loop.close()
	})
	return nil
}

// QueryPower returns the cached power state. The error is ErrNotConnected
// while the link is down; the state is then the last one observed.
func (s *Session) QueryPower() (PowerState, error) {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()

	if s.snapConn != StateConnected {
		return s.snapPower, ErrNotConnected
	}
	return s.snapPower, nil
}

// ConnectionState returns the current link state.
func (s *Session) ConnectionState() ConnectionState {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snapConn
}

// IsConnected returns true while the link is up.
func (s *Session) IsConnected() bool {
	return s.ConnectionState() == StateConnected
}

// RequestPowerChange asks the projector to switch on or off and returns
// at once.
//
// On a live link the boot or shutdown command is written, the cached power
// state moves to the target optimistically and status notifications are
// held back for SuppressionDuration. The command then resolves on the first
// P or F ack, or fails after CommandTimeout and resets the link.
//
// onResult runs exactly once, on the event loop, with:
//   - nil: acknowledged (an F ack too, unless AckFailurePolicy is error)
//   - ErrNotConnected: no live link
//   - ErrCommandInProgress: another command is pending; it is unaffected
//   - ErrCommandTimeout: no ack within CommandTimeout
//   - ErrCommandRejected: F ack under AckFailureError
//   - ErrTransport: the link failed while the command was pending
//   - ErrSessionClosed: Close ran first
func (s *Session) RequestPowerChange(targetOn bool, onResult func(error)) {
	if onResult == nil {
		onResult = func(error) {}
	}
	if !s.loop.post(func() { s.requestPowerChange(targetOn, onResult) }) {
		onResult(ErrSessionClosed)
	}
}

// SetPower is RequestPowerChange for callers that want to wait.
func (s *Session) SetPower(ctx context.Context, targetOn bool) error {
	result := make(chan error, 1)
	s.RequestPowerChange(targetOn, func(err error) { result <- err })

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnStateChanged registers a listener fired whenever the notified power
// state changes.
func (s *Session) OnStateChanged(listener func(PowerState)) {
	s.listenerMu.Lock()
	s.stateListeners = append(s.stateListeners, listener)
	s.listenerMu.Unlock()
}

// OnConnectionChanged registers a listener fired on every link transition.
func (s *Session) OnConnectionChanged(listener func(ConnectionState)) {
	s.listenerMu.Lock()
	s.connListeners = append(s.connListeners, listener)
	s.listenerMu.Unlock()
}

// Stats returns current operational statistics.
func (s *Session) Stats() Stats {
	s.snapMu.RLock()
	conn, power := s.snapConn, s.snapPower
	s.snapMu.RUnlock()

	st := Stats{
		Connection:        conn,
		Power:             power,
		CommandsSent:      s.commandsSent.Load(),
		CommandsSucceeded: s.commandsSucceeded.Load(),
		CommandsFailed:    s.commandsFailed.Load(),
		CommandTimeouts:   s.commandTimeouts.Load(),
		PollsSent:         s.pollsSent.Load(),
		Reconnects:        s.reconnects.Load(),
		SilentLinks:       s.silentLinks.Load(),
		BytesRx:           s.bytesRx.Load(),
	}
	if ts := s.lastActivity.Load(); ts != 0 {
		st.LastActivity = time.Unix(0, ts)
	}
	if ts := s.connectedSince.Load(); ts != 0 && conn == StateConnected {
		st.ConnectedSince = time.Unix(0, ts)
	}
	return st
}

// --- connection lifecycle (event loop) ---

func (s *Session) dial() {
	s.dialAttempt++
	attempt := s.dialAttempt

	ctx, cancel := context.WithCancel(context.Background())
	s.dialCancel = cancel
	s.timers.schedule(timerConnect, s.cfg.ConnectionTimeout, func() { s.dialTimedOut(attempt) })

	s.logger.Debug("dialing projector", "attempt", attempt)
	s.startDial(ctx, attempt)
}

func (s *Session) dialAsync(ctx context.Context, attempt uint64) {
	go func() {
		c, err := s.dialer.Dial(ctx)
		posted := s.loop.post(func() { s.dialCompleted(attempt, c, err) })
		if !posted && c != nil {
			c.Close() //nolint:errcheck // session already closed
		}
	}()
}

func (s *Session) dialCompleted(attempt uint64, c Conn, err error) {
	if s.closed || attempt != s.dialAttempt || !s.fsm.is(StateConnecting) {
		if c != nil {
			c.Close() //nolint:errcheck // stale attempt
		}
		return
	}
	s.timers.cancel(timerConnect)
	s.cancelDial()

	if err != nil {
		if !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		s.dialFailed(err)
		return
	}
	s.established(c)
}

func (s *Session) dialTimedOut(attempt uint64) {
	if s.closed || attempt != s.dialAttempt || !s.fsm.is(StateConnecting) {
		return
	}
	// A late result from the abandoned attempt no longer matches.
	s.dialAttempt++
	s.cancelDial()
	s.dialFailed(fmt.Errorf("%w: connection timed out after %s", ErrTransport, s.cfg.ConnectionTimeout))
}

func (s *Session) cancelDial() {
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
}

func (s *Session) dialFailed(err error) {
	delay := s.nextBackoff()
	s.logger.Warn("projector connection failed", "error", err, "retry_in", delay.String())
	s.observer.ConnectFailed(err)

	s.scheduleRedial(delay)
}

func (s *Session) scheduleRedial(delay time.Duration) {
	s.timers.schedule(timerReconnect, delay, func() {
		if s.closed || !s.fsm.is(StateConnecting) {
			return
		}
		s.dial()
	})
}

// nextBackoff grows the redial delay by 1.5x, capped at the connection
// timeout.
func (s *Session) nextBackoff() time.Duration {
	if s.backoff == 0 {
		s.backoff = s.cfg.ReconnectInterval
	} else {
		s.backoff = time.Duration(float64(s.backoff) * 1.5)
	}
	if s.backoff > s.cfg.ConnectionTimeout {
		s.backoff = s.cfg.ConnectionTimeout
	}
	return s.backoff
}

func (s *Session) established(c Conn) {
	s.gen++
	gen := s.gen
	s.link = c
	s.backoff = 0
	s.pollMisses = 0
	s.connectedSince.Store(s.clock.Now().UnixNano())

	s.fsm.fire(eventEstablish)
	s.logger.Info("connected to projector", "address", s.cfg.Address, "unit_id", FormatUnitID(s.cfg.UnitID))
	s.startReader(gen, c)

	// The status query sent on connect counts as the first poll.
	if !s.write(s.codec.QueryStatusCommand()) {
		return
	}
	s.pollMisses = 1
	s.pollsSent.Add(1)
	s.observer.PollSent()
	s.armPoll()
}

// reconnect drops a live link and dials again.
func (s *Session) reconnect(reason error) {
	s.reconnectAfter(reason, 0)
}

// reconnectAfter drops a live link and dials again once delay has passed.
// The session reports Connecting for the whole wait.
func (s *Session) reconnectAfter(reason error, delay time.Duration) {
	if s.closed || !s.fsm.is(StateConnected) {
		return
	}
	s.logger.Warn("projector link lost, reconnecting", "reason", reason, "redial_in", delay.String())
	s.reconnects.Add(1)
	s.observer.Reconnecting(reason)

	cause := reason
	if !errors.Is(cause, ErrTransport) {
		cause = fmt.Errorf("%w: %w", ErrTransport, reason)
	}
	s.teardown(cause)
	s.fsm.fire(eventDrop)
	if delay > 0 {
		s.scheduleRedial(delay)
		return
	}
	s.dial()
}

// teardown fails the pending command, then half-closes and destroys the
// link. Events still in flight from the old link are ignored afterwards.
func (s *Session) teardown(cause error) {
	s.failPending(cause)
	s.timers.cancel(timerPoll)
	s.timers.cancel(timerCommand)
	s.endSuppression()

	s.gen++
	if s.link != nil {
		s.link.CloseWrite() //nolint:errcheck // best-effort flush
		s.link.Close()      //nolint:errcheck // best-effort cleanup
		s.link = nil
	}
	s.pollMisses = 0
}

func (s *Session) shutdown() {
	if s.closed {
		return
	}
	s.teardown(ErrSessionClosed)
	s.closed = true
	s.dialAttempt++
	s.cancelDial()
	s.timers.cancelAll()
	s.fsm.fire(eventHalt)
	s.logger.Info("projector session closed")
}

func (s *Session) enterConnectionState(from, to ConnectionState) {
	s.snapMu.Lock()
	s.snapConn = to
	s.snapMu.Unlock()

	s.logger.Debug("connection state changed", "from", string(from), "to", string(to))
	s.observer.ConnectionChanged(to)

	s.listenerMu.RLock()
	listeners := append([]func(ConnectionState){}, s.connListeners...)
	s.listenerMu.RUnlock()

	for _, l := range listeners {
		s.safeCall("connection listener", func() { l(to) })
	}
}

// --- transport I/O ---

func (s *Session) readAsync(gen uint64, c Conn) {
	go func() {
		buf := make([]byte, readBufferSize)
		for {
			n, err := c.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				if !s.loop.post(func() { s.handleData(gen, chunk) }) {
					return
				}
			}
			if err != nil {
				s.loop.post(func() { s.handleReadError(gen, err) })
				return
			}
		}
	}()
}

func (s *Session) handleReadError(gen uint64, err error) {
	if gen != s.gen {
		return
	}
	if errors.Is(err, io.EOF) {
		s.reconnect(fmt.Errorf("%w: connection closed by device", ErrTransport))
		return
	}
	s.reconnect(fmt.Errorf("%w: read: %w", ErrTransport, err))
}

// write sends b on the live link. A failed write resets the connection.
func (s *Session) write(b []byte) bool {
	if s.link == nil {
		return false
	}
	if _, err := s.link.Write(b); err != nil {
		s.reconnect(fmt.Errorf("%w: write: %w", ErrTransport, err))
		return false
	}
	s.logger.Debug("sent to projector", "data", strconv.Quote(string(b)))
	return true
}

func (s *Session) handleData(gen uint64, chunk []byte) {
	if s.closed || gen != s.gen {
		return
	}
	s.bytesRx.Add(uint64(len(chunk)))
	s.lastActivity.Store(s.clock.Now().UnixNano())

	c := s.codec.Classify(chunk)
	s.logger.Debug("received from projector",
		"data", strconv.Quote(strings.TrimRight(string(chunk), "\r\n")),
		"status_up", c.StatusUp, "status_down", c.StatusDown,
		"ack_success", c.AckSuccess, "ack_failure", c.AckFailure)

	if !c.Classified() {
		return
	}
	s.pollMisses = 0

	// Status and ack are independent; one chunk may carry both.
	if c.StatusUp {
		s.setPower(PowerOn, false)
	}
	if c.StatusDown {
		s.setPower(PowerOff, false)
	}
	if c.IsAck() {
		s.retries = 0
		s.resolveAck(c)
	}
}

// --- power state ---

// setPower records p. Observed status is held back from listeners while
// the suppression window is open; optimistic updates are not.
func (s *Session) setPower(p PowerState, optimistic bool) {
	if p == s.power {
		return
	}
	s.power = p
	s.snapMu.Lock()
	s.snapPower = p
	s.snapMu.Unlock()
	s.observer.PowerChanged(p)

	if !optimistic && s.timers.active(timerSuppression) {
		s.logger.Debug("status notification suppressed", "power", p.String())
		return
	}
	s.notify(p)
}

func (s *Session) notify(p PowerState) {
	if p == s.notified {
		return
	}
	s.notified = p
	s.logger.Info("projector power state changed", "power", p.String())

	s.listenerMu.RLock()
	listeners := append([]func(PowerState){}, s.stateListeners...)
	s.listenerMu.RUnlock()

	for _, l := range listeners {
		s.safeCall("state listener", func() { l(p) })
	}
}

// endSuppression closes the suppression window and delivers any status held
// back while it was open.
func (s *Session) endSuppression() {
	s.timers.cancel(timerSuppression)
	if s.power != s.notified {
		s.notify(s.power)
	}
}

// --- polling ---

func (s *Session) armPoll() {
	if s.cfg.PollInterval > 0 {
		s.timers.schedule(timerPoll, s.cfg.PollInterval, s.pollTick)
	}
}

func (s *Session) pollTick() {
	if s.closed || !s.fsm.is(StateConnected) {
		return
	}
	if s.timers.active(timerSuppression) {
		s.armPoll()
		return
	}
	if s.pollMisses >= s.cfg.MaxPollMisses {
		s.silentLinks.Add(1)
		s.reconnect(fmt.Errorf("%w: %d polls unanswered", ErrSilentLink, s.pollMisses))
		return
	}
	if !s.write(s.codec.QueryStatusCommand()) {
		return
	}
	s.pollMisses++
	s.pollsSent.Add(1)
	s.observer.PollSent()
	s.armPoll()
}

// --- commands ---

func (s *Session) requestPowerChange(targetOn bool, onResult func(error)) {
	switch {
	case s.closed:
		s.deliver(onResult, ErrSessionClosed)
		return
	case !s.fsm.is(StateConnected):
		s.deliver(onResult, ErrNotConnected)
		return
	case s.pending != nil:
		s.deliver(onResult, ErrCommandInProgress)
		return
	}

	cmd := s.codec.ShutdownCommand()
	if targetOn {
		cmd = s.codec.BootCommand()
	}

	now := s.clock.Now()
	s.pending = &pendingCommand{
		targetOn: targetOn,
		onResult: onResult,
		sentAt:   now,
		deadline: now.Add(s.cfg.CommandTimeout),
	}
	s.commandsSent.Add(1)

	// A failed write reconnects, which fails the command just installed.
	if !s.write(cmd) {
		return
	}
	s.logger.Info("power command sent", "target", PowerStateFromBool(targetOn).String())

	s.setPower(PowerStateFromBool(targetOn), true)
	if s.cfg.SuppressionDuration > 0 {
		s.timers.schedule(timerSuppression, s.cfg.SuppressionDuration, s.endSuppression)
	}
	s.timers.schedule(timerCommand, s.cfg.CommandTimeout, s.commandTimedOut)
}

func (s *Session) resolveAck(c Classification) {
	if s.pending == nil {
		s.logger.Debug("ack received with no pending command")
		return
	}

	var err error
	if !c.AckSuccess {
		s.logger.Warn("projector acknowledged command with failure marker",
			"policy", string(s.cfg.AckFailurePolicy))
		if s.cfg.AckFailurePolicy == AckFailureError {
			err = ErrCommandRejected
		}
	}
	s.completePending(err)
}

func (s *Session) commandTimedOut() {
	if s.pending == nil {
		return
	}
	s.retries++
	s.commandTimeouts.Add(1)
	retries := s.retries

	s.completePending(fmt.Errorf("%w after %s", ErrCommandTimeout, s.cfg.CommandTimeout))

	if retries <= s.cfg.MaxCommandRetries {
		s.reconnect(ErrCommandTimeout)
		return
	}
	// Every timeout still resets the link. Past the budget the redial is
	// held back, one reconnect interval per extra timeout.
	delay := s.commandRedialDelay(retries)
	s.logger.Warn("command retry budget exhausted",
		"consecutive_timeouts", retries, "max_retries", s.cfg.MaxCommandRetries)
	s.reconnectAfter(ErrCommandTimeout, delay)
}

// commandRedialDelay grows linearly with the timeouts past the budget,
// capped at the connection timeout.
func (s *Session) commandRedialDelay(retries int) time.Duration {
	over := retries - s.cfg.MaxCommandRetries
	if over < 1 {
		return 0
	}
	return min(s.cfg.ReconnectInterval*time.Duration(over), s.cfg.ConnectionTimeout)
}

func (s *Session) failPending(err error) {
	if s.pending != nil {
		s.completePending(err)
	}
}

// completePending clears the slot before invoking the callback, so a
// command can never be resolved twice.
func (s *Session) completePending(err error) {
	p := s.pending
	s.pending = nil
	s.timers.cancel(timerCommand)

	latency := s.clock.Now().Sub(p.sentAt)
	if err != nil {
		s.commandsFailed.Add(1)
		s.logger.Warn("power command failed", "target", PowerStateFromBool(p.targetOn).String(), "error", err)
	} else {
		s.commandsSucceeded.Add(1)
		s.logger.Info("power command acknowledged", "target", PowerStateFromBool(p.targetOn).String(),
			"latency", latency.String())
	}
	s.observer.CommandCompleted(CommandResult{TargetOn: p.targetOn, Err: err, Latency: latency})
	s.deliver(p.onResult, err)
}

func (s *Session) deliver(onResult func(error), err error) {
	s.safeCall("result callback", func() { onResult(err) })
}

func (s *Session) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(what+" panic", "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
