// Package metrics exposes projector session metrics to Prometheus.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-projector/internal/projector"
)

const namespace = "projector"

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// SessionMetrics implements projector.Observer.
type SessionMetrics struct {
	Connection     *prometheus.GaugeVec   // labels: state; 1 for the current state
	ConnectFailed  prometheus.Counter     //
	Reconnects     *prometheus.CounterVec // labels: reason
	Polls          prometheus.Counter     //
	Power          prometheus.Gauge       // 1 on, 0 off, -1 unknown
	PowerChanges   prometheus.Counter     //
	Commands       *prometheus.CounterVec // labels: target, result
	CommandLatency prometheus.Histogram   //
}

// NewSessionMetrics creates and registers the session metrics. deviceID is
// attached to every series as a constant label.
func NewSessionMetrics(reg prometheus.Registerer, deviceID string) *SessionMetrics {
	constLabels := prometheus.Labels{"device_id": deviceID}

	m := &SessionMetrics{
		Connection: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "connection_state",
			Help:        "Current link state (1 for the active state).",
			ConstLabels: constLabels,
		}, []string{"state"}),
		ConnectFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "connect_failures_total",
			Help:        "Dial attempts that failed or timed out.",
			ConstLabels: constLabels,
		}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "reconnects_total",
			Help:        "Established links torn down for reconnection, by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "polls_total",
			Help:        "Status queries sent.",
			ConstLabels: constLabels,
		}),
		Power: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "power_state",
			Help:        "Last observed power state: 1 on, 0 off, -1 unknown.",
			ConstLabels: constLabels,
		}),
		PowerChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "power_changes_total",
			Help:        "Observed power state changes.",
			ConstLabels: constLabels,
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "commands_total",
			Help:        "Power commands by target and result.",
			ConstLabels: constLabels,
		}, []string{"target", "result"}),
		CommandLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "command_latency_seconds",
			Help:        "Time from sending a power command to its resolution.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}),
	}
	m.Power.Set(-1)

	reg.MustRegister(m.Connection, m.ConnectFailed, m.Reconnects, m.Polls,
		m.Power, m.PowerChanges, m.Commands, m.CommandLatency)
	return m
}

// ConnectionChanged implements projector.Observer.
func (m *SessionMetrics) ConnectionChanged(state projector.ConnectionState) {
	for _, s := range []projector.ConnectionState{
		projector.StateDisconnected, projector.StateConnecting, projector.StateConnected,
	} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.Connection.WithLabelValues(string(s)).Set(v)
	}
}

// ConnectFailed implements projector.Observer.
func (m *SessionMetrics) ConnectFailed(error) {
	m.ConnectFailed.Inc()
}

// Reconnecting implements projector.Observer.
func (m *SessionMetrics) Reconnecting(reason error) {
	m.Reconnects.WithLabelValues(ReasonLabel(reason)).Inc()
}

// PollSent implements projector.Observer.
func (m *SessionMetrics) PollSent() {
	m.Polls.Inc()
}

// PowerChanged implements projector.Observer.
func (m *SessionMetrics) PowerChanged(state projector.PowerState) {
	m.PowerChanges.Inc()
	switch state {
	case projector.PowerOn:
		m.Power.Set(1)
	case projector.PowerOff:
		m.Power.Set(0)
	default:
		m.Power.Set(-1)
	}
}

// CommandCompleted implements projector.Observer.
func (m *SessionMetrics) CommandCompleted(result projector.CommandResult) {
	target := projector.PowerStateFromBool(result.TargetOn).String()
	m.Commands.WithLabelValues(target, ResultLabel(result.Err)).Inc()
	if result.Latency > 0 {
		m.CommandLatency.Observe(result.Latency.Seconds())
	}
}

// ResultLabel maps a command error to a low-cardinality label.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, projector.ErrCommandTimeout):
		return "timeout"
	case errors.Is(err, projector.ErrCommandRejected):
		return "rejected"
	case errors.Is(err, projector.ErrCommandInProgress):
		return "busy"
	case errors.Is(err, projector.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, projector.ErrSessionClosed):
		return "closed"
	case errors.Is(err, projector.ErrTransport):
		return "transport"
	default:
		return "error"
	}
}

// ReasonLabel maps a reconnect cause to a low-cardinality label.
func ReasonLabel(err error) string {
	switch {
	case errors.Is(err, projector.ErrSilentLink):
		return "silent_link"
	case errors.Is(err, projector.ErrCommandTimeout):
		return "command_timeout"
	case errors.Is(err, projector.ErrTransport):
		return "transport"
	default:
		return "other"
	}
}

var _ projector.Observer = (*SessionMetrics)(nil)
