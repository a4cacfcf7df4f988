package history

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-projector/internal/metrics"
	"github.com/nerrad567/gray-logic-projector/internal/projector"
)

const (
	defaultQueueSize = 256
	writeTimeout     = 5 * time.Second
)

// Logger is the logging surface the recorder needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Recorder journals session events. It implements projector.Observer;
// only power changes and command outcomes are recorded.
//
// Thread Safety:
//   - Record methods never block; they are safe to call from the session loop.
type Recorder struct {
	projector.NopObserver

	repo     Repository
	deviceID string
	logger   Logger
	now      func() time.Time

	queue chan Event

	mu     sync.RWMutex
	closed bool

	done chan struct{}
}

// NewRecorder starts a recorder writing to repo. Call Close to flush.
func NewRecorder(repo Repository, deviceID string, logger Logger) *Recorder {
	if logger == nil {
		logger = nopLogger{}
	}
	r := &Recorder{
		repo:     repo,
		deviceID: deviceID,
		logger:   logger,
		now:      time.Now,
		queue:    make(chan Event, defaultQueueSize),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

// PowerChanged implements projector.Observer.
func (r *Recorder) PowerChanged(state projector.PowerState) {
	r.RecordPowerChange(state)
}

// CommandCompleted implements projector.Observer.
func (r *Recorder) CommandCompleted(result projector.CommandResult) {
	r.RecordCommand(result)
}

// RecordPowerChange queues a power event.
func (r *Recorder) RecordPowerChange(state projector.PowerState) {
	r.enqueue(Event{
		DeviceID:  r.deviceID,
		Kind:      KindPower,
		Power:     state.String(),
		CreatedAt: r.now(),
	})
}

// RecordCommand queues a command outcome event.
func (r *Recorder) RecordCommand(result projector.CommandResult) {
	e := Event{
		DeviceID:  r.deviceID,
		Kind:      KindCommand,
		Power:     projector.PowerStateFromBool(result.TargetOn).String(),
		Result:    metrics.ResultLabel(result.Err),
		Latency:   result.Latency,
		CreatedAt: r.now(),
	}
	if result.Err != nil {
		e.Error = result.Err.Error()
	}
	r.enqueue(e)
}

func (r *Recorder) enqueue(e Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("history queue full, event dropped", "kind", e.Kind, "power", e.Power)
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.repo.Insert(ctx, &e); err != nil {
			r.logger.Warn("history write failed", "kind", e.Kind, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	<-r.done
	return nil
}

// RunPruner deletes events older than retention every interval until ctx
// is cancelled. It prunes once immediately.
func RunPruner(ctx context.Context, repo Repository, retention, interval time.Duration, logger Logger) {
	if logger == nil {
		logger = nopLogger{}
	}
	if retention <= 0 || interval <= 0 {
		return
	}

	prune := func() {
		pctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()

		n, err := repo.Prune(pctx, time.Now().Add(-retention))
		if err != nil {
			logger.Warn("history prune failed", "error", err)
			return
		}
		if n > 0 {
			logger.Debug("history pruned", "deleted", n)
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

var _ projector.Observer = (*Recorder)(nil)
