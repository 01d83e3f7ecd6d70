// Package ldpmetrics provides Prometheus instrumentation for the LDP
// speaker core, implementing the ldp.Metrics interface.
package ldpmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/soumyar-roy/ldpd-go/internal/ldp"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "ldpd"
	subsystem = "session"
)

// Label names for LDP metrics.
const (
	labelMessageType = "message_type"
	labelReason      = "reason"
	labelFromState   = "from_state"
	labelToState     = "to_state"
)

// -------------------------------------------------------------------------
// Collector — Prometheus LDP Metrics
// -------------------------------------------------------------------------

// Collector holds all LDP Prometheus metrics and implements ldp.Metrics.
type Collector struct {
	// MessagesReceived counts session messages received, labeled by
	// message type.
	MessagesReceived *prometheus.CounterVec

	// UnknownMessages counts messages with the Unknown Message Type bit
	// set or an unrecognized type (RFC 5036 Section 3.5.1 / Appendix A).
	UnknownMessages prometheus.Counter

	// SessionAttempts counts session-establishment attempts torn down by a
	// Shutdown while the neighbor was INITIAL, OPENSENT or OPENREC.
	SessionAttempts prometheus.Counter

	// DiscoveryDropped counts discovery (Hello) packets dropped, labeled
	// by drop reason.
	DiscoveryDropped *prometheus.CounterVec

	// PendingConnections tracks the current size of the pending-
	// connection table.
	PendingConnections prometheus.Gauge

	// AcceptPaused reports whether the TCP acceptor is currently paused
	// (1) or running (0).
	AcceptPaused prometheus.Gauge

	// StateTransitions counts neighbor FSM state transitions, labeled by
	// old and new state.
	StateTransitions *prometheus.CounterVec
}

// NewCollector creates a Collector with all LDP metrics registered against
// the provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.MessagesReceived,
		c.UnknownMessages,
		c.SessionAttempts,
		c.DiscoveryDropped,
		c.PendingConnections,
		c.AcceptPaused,
		c.StateTransitions,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_received_total",
			Help:      "Total LDP session messages received, by message type.",
		}, []string{labelMessageType}),

		UnknownMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "unknown_msg_total",
			Help:      "Total messages received with an unrecognized type or the Unknown Message Type bit set.",
		}),

		SessionAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "attempts_total",
			Help:      "Total session-establishment attempts torn down before reaching the operational state.",
		}),

		DiscoveryDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "packets_dropped_total",
			Help:      "Total discovery (Hello) packets dropped, by reason.",
		}, []string{labelReason}),

		PendingConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_connections",
			Help:      "Current number of TCP connections awaiting a matching Hello adjacency.",
		}),

		AcceptPaused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "accept_paused",
			Help:      "Whether the TCP session acceptor is currently paused (1) or running (0).",
		}),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Total neighbor FSM state transitions, by old and new state.",
		}, []string{labelFromState, labelToState}),
	}
}

// -------------------------------------------------------------------------
// ldp.Metrics implementation
// -------------------------------------------------------------------------

// IncUnknownMsg increments the unknown-message counter.
func (c *Collector) IncUnknownMsg() {
	c.UnknownMessages.Inc()
}

// IncSessionAttempts increments the session-attempt counter.
func (c *Collector) IncSessionAttempts() {
	c.SessionAttempts.Inc()
}

// IncMessageReceived increments the per-type received-message counter.
func (c *Collector) IncMessageReceived(msgType ldp.MessageType) {
	c.MessagesReceived.WithLabelValues(msgType.String()).Inc()
}

// IncDiscoveryDropped increments the discovery-drop counter for reason.
func (c *Collector) IncDiscoveryDropped(reason string) {
	c.DiscoveryDropped.WithLabelValues(reason).Inc()
}

// SetPendingConnections sets the pending-connection gauge to n.
func (c *Collector) SetPendingConnections(n int) {
	c.PendingConnections.Set(float64(n))
}

// SetAcceptPaused sets the accept-paused gauge.
func (c *Collector) SetAcceptPaused(paused bool) {
	if paused {
		c.AcceptPaused.Set(1)
		return
	}
	c.AcceptPaused.Set(0)
}

// RecordStateChange increments the state-transition counter for the
// oldState -> newState edge.
func (c *Collector) RecordStateChange(oldState, newState ldp.NeighborState) {
	c.StateTransitions.WithLabelValues(oldState.String(), newState.String()).Inc()
}
