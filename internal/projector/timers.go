package projector

import "time"

// timerKind names the session's timers. Each kind has at most one armed
// instance; arming a kind replaces the previous one.
type timerKind int

const (
	timerPoll timerKind = iota
	timerCommand
	timerSuppression
	timerConnect
	timerReconnect
)

func (k timerKind) String() string {
	switch k {
	case timerPoll:
		return "poll"
	case timerCommand:
		return "command"
	case timerSuppression:
		return "suppression"
	case timerConnect:
		return "connect"
	case timerReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

type armedTimer struct {
	seq   uint64
	timer Timer
}

// timerQueue multiplexes every session timer onto the event loop.
//
// Expiry does not run the handler directly: it posts to the loop, and the
// handler only runs if the timer is still the armed instance for its kind.
// A timer that was cancelled or re-armed after it fired is therefore a no-op.
//
// Not safe for concurrent use; only the event loop touches it.
type timerQueue struct {
	clock Clock
	post  func(func()) bool
	seq   uint64
	armed map[timerKind]armedTimer
}

func newTimerQueue(clock Clock, post func(func()) bool) *timerQueue {
	return &timerQueue{
		clock: clock,
		post:  post,
		armed: make(map[timerKind]armedTimer),
	}
}

// schedule arms kind to run fn after d, replacing any armed instance.
func (q *timerQueue) schedule(kind timerKind, d time.Duration, fn func()) {
	q.cancel(kind)
	q.seq++
	seq := q.seq
	t := q.clock.AfterFunc(d, func() {
		q.post(func() {
			cur, ok := q.armed[kind]
			if !ok || cur.seq != seq {
				return
			}
			delete(q.armed, kind)
			fn()
		})
	})
	q.armed[kind] = armedTimer{seq: seq, timer: t}
}

func (q *timerQueue) cancel(kind timerKind) {
	if cur, ok := q.armed[kind]; ok {
		cur.timer.Stop()
		delete(q.armed, kind)
	}
}

func (q *timerQueue) active(kind timerKind) bool {
	_, ok := q.armed[kind]
	return ok
}

func (q *timerQueue) cancelAll() {
	for kind := range q.armed {
		q.cancel(kind)
	}
}
