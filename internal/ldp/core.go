package ldp

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
)

// StateChange describes a neighbor operational-state transition reported
// to external consumers (see Core.StateChanges).
type StateChange struct {
	NeighborID uint32
	OldState   NeighborState
	NewState   NeighborState
}

// Metrics is the subset of counters this core updates directly. A
// concrete Prometheus-backed implementation lives in internal/metrics;
// this interface exists so the ldp package never imports a metrics
// library directly.
type Metrics interface {
	IncUnknownMsg()
	IncSessionAttempts()
	IncMessageReceived(msgType MessageType)
	IncDiscoveryDropped(reason string)
	SetPendingConnections(n int)
	SetAcceptPaused(paused bool)
	RecordStateChange(oldState, newState NeighborState)
}

// NoopMetrics discards every call. Used internally when no Metrics is
// configured, and exported so other packages (e.g. the discovery
// receiver) that take an ldp.Metrics but may run without a collector
// attached (tests, tools) have a safe zero value to pass.
type NoopMetrics struct{}

func (NoopMetrics) IncUnknownMsg()                       {}
func (NoopMetrics) IncSessionAttempts()                  {}
func (NoopMetrics) IncMessageReceived(MessageType)       {}
func (NoopMetrics) IncDiscoveryDropped(string)           {}
func (NoopMetrics) SetPendingConnections(int)            {}
func (NoopMetrics) SetAcceptPaused(bool)                 {}
func (NoopMetrics) RecordStateChange(_, _ NeighborState) {}

// Core is the single process-wide struct through which every stateful
// piece of this package is reached: the message-id counter (package-level
// in packet.go, since it has no other state to live alongside), the
// pending-connection table, the accept-pause refcount, the metrics
// collector, and the state-change notification channel. Exactly one Core
// exists per daemon process.
type Core struct {
	logger  *slog.Logger
	metrics Metrics

	pending *pendingTable

	acceptPaused atomic.Int32

	stateChanges chan StateChange

	handlers MessageHandlers
	notifier NotificationSender
	auth     AuthPolicy
}

// CoreOption configures optional Core parameters.
type CoreOption func(*Core)

// WithMetrics installs a Metrics implementation. Without this option,
// Core uses a no-op implementation.
func WithMetrics(m Metrics) CoreOption {
	return func(c *Core) { c.metrics = m }
}

// WithHandlers installs the external per-message-type handler set.
func WithHandlers(h MessageHandlers) CoreOption {
	return func(c *Core) { c.handlers = h }
}

// WithNotificationSender installs the Notification-sending collaborator.
func WithNotificationSender(n NotificationSender) CoreOption {
	return func(c *Core) { c.notifier = n }
}

// WithAuthPolicy installs the pre-session authentication hook.
func WithAuthPolicy(a AuthPolicy) CoreOption {
	return func(c *Core) { c.auth = a }
}

// WithPendingConnTimeout overrides the default pending-connection timeout.
func WithPendingConnTimeout(timeout pendingTimeoutOption) CoreOption {
	return func(c *Core) { timeout(c.pending) }
}

// NewCore constructs a Core with its pending-connection table and
// state-change channel initialized.
func NewCore(logger *slog.Logger, opts ...CoreOption) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Core{
		logger:       logger.With(slog.String("component", "ldp.core")),
		metrics:      NoopMetrics{},
		pending:      newPendingTable(),
		stateChanges: make(chan StateChange, 64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StateChanges returns the channel external consumers (e.g. a
// label-advertisement bridge) read neighbor operational-state
// transitions from. Sends are non-blocking; a full channel drops the
// notification and logs at Warn, mirroring this codebase's established
// bounded-channel backpressure policy elsewhere in the stack.
func (c *Core) StateChanges() <-chan StateChange {
	return c.stateChanges
}

// notifyStateChange publishes a state transition, dropping it if no
// consumer is keeping up.
func (c *Core) notifyStateChange(nbr Neighbor, oldState, newState NeighborState) {
	c.metrics.RecordStateChange(oldState, newState)
	select {
	case c.stateChanges <- StateChange{NeighborID: nbr.ID(), OldState: oldState, NewState: newState}:
	default:
		c.logger.Warn("state change channel full, dropping notification",
			slog.Uint64("neighbor_id", uint64(nbr.ID())),
			slog.String("old_state", oldState.String()),
			slog.String("new_state", newState.String()),
		)
	}
}

// AcceptPaused reports whether the session acceptor is currently paused
// due to file-descriptor exhaustion.
func (c *Core) AcceptPaused() bool {
	return c.acceptPaused.Load() > 0
}

// AcceptPause increments the accept-pause refcount. Each call that pauses
// the acceptor (on ENFILE/EMFILE) MUST be balanced by exactly one
// AcceptUnpause call on the corresponding connection's close path.
func (c *Core) AcceptPause() {
	n := c.acceptPaused.Add(1)
	if n == 1 {
		c.metrics.SetAcceptPaused(true)
		c.logger.Warn("pausing accept loop: file descriptor exhaustion")
	}
}

// AcceptUnpause decrements the accept-pause refcount.
func (c *Core) AcceptUnpause() {
	n := c.acceptPaused.Add(-1)
	if n < 0 {
		c.acceptPaused.Store(0)
		n = 0
	}
	if n == 0 {
		c.metrics.SetAcceptPaused(false)
		c.logger.Info("resuming accept loop")
	}
}

// Close releases Core resources. It does not close any live TCP
// connections; callers drain sessions explicitly before calling Close.
func (c *Core) Close() {
	c.pending.closeAll()
}

// ServeSession starts conn's read-driving goroutine, deriving a
// cancellable context decoupled from ctx's own lifetime. The
// caller must have already attached conn to its Neighbor (SetTCP) and
// fired FSMEventMatchAdj before calling this.
func (c *Core) ServeSession(ctx context.Context, conn *TCPConn) {
	connCtx, cancel := backgroundContext(ctx)
	conn.cancel = cancel
	go conn.runReadLoop(connCtx, c)
}

// FindPendingConn reports whether a pending connection already exists for
// (af, addr), for the session acceptor's duplicate-accept check.
func (c *Core) FindPendingConn(af AddressFamily, addr netip.Addr) (net.Conn, bool) {
	pc, ok := c.pending.find(af, addr)
	if !ok {
		return nil, false
	}
	return pc.rawFD, true
}

// CreatePendingConn registers a newly accepted socket as pending, arming
// its PENDING_CONN_TIMEOUT timer.
func (c *Core) CreatePendingConn(af AddressFamily, addr netip.Addr, conn net.Conn) {
	c.pending.create(af, addr, conn, c.onPendingConnTimeout)
	c.metrics.SetPendingConnections(c.pending.size())
}

// PromotePendingConn removes and returns a pending connection ahead of
// its timeout, for the external Hello handler to call once it has
// matched a Hello to a waiting neighbor address.
func (c *Core) PromotePendingConn(af AddressFamily, addr netip.Addr) (net.Conn, bool) {
	pc, ok := c.pending.promote(af, addr)
	c.metrics.SetPendingConnections(c.pending.size())
	if !ok {
		return nil, false
	}
	return pc.rawFD, true
}

// PendingConnInfo describes one entry of the pending-connection table,
// for introspection.
type PendingConnInfo struct {
	Family  AddressFamily
	Address netip.Addr
}

// PendingConnections returns a snapshot of every connection currently
// awaiting a matching Hello adjacency.
func (c *Core) PendingConnections() []PendingConnInfo {
	keys := c.pending.snapshot()
	out := make([]PendingConnInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, PendingConnInfo{Family: k.af, Address: k.addr})
	}
	return out
}

// backgroundContext returns a context decoupled from any particular
// request's lifetime, for long-lived per-connection goroutines — the
// same pattern this codebase's session objects use to outlive the
// context that created them until explicitly cancelled. The caller owns
// the returned cancel function and must call it on connection close.
func backgroundContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(context.WithoutCancel(ctx))
}
