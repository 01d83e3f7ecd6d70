package neighbor

import (
	"log/slog"
	"net/netip"
	"sync"

	"github.com/soumyar-roy/ldpd-go/internal/ldp"
	"github.com/soumyar-roy/ldpd-go/internal/server"
)

// entry is the concrete ldp.Neighbor implementation: one per discovered
// adjacency, created the moment a Hello first names it and kept for the
// neighbor's entire lifetime thereafter (RFC 5036 never un-discovers a
// neighbor; it only tears down sessions).
type entry struct {
	id      uint32
	address netip.Addr
	af      ldp.AddressFamily

	mgr *Manager

	mu         sync.Mutex
	state      ldp.NeighborState
	tcp        *ldp.TCPConn
	activeRole bool // true once this neighbor has an inbound (passive-accepted) session
	sentInit   bool
	maxPDULen  uint16
}

// ID implements ldp.Neighbor.
func (e *entry) ID() uint32 { return e.id }

// State implements ldp.Neighbor.
func (e *entry) State() ldp.NeighborState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SessionActiveRole implements ldp.Neighbor.
func (e *entry) SessionActiveRole() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeRole
}

// SetTCP implements ldp.Neighbor.
func (e *entry) SetTCP(conn *ldp.TCPConn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tcp = conn
	e.activeRole = conn != nil
}

// TCP implements ldp.Neighbor.
func (e *entry) TCP() *ldp.TCPConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tcp
}

// MaxPDULen implements ldp.Neighbor.
func (e *entry) MaxPDULen() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.maxPDULen == 0 {
		return ldp.MaxPDULen
	}
	return e.maxPDULen
}

// FSM implements ldp.Neighbor, driving the minimal state progression this
// package supports. Message-driven advances (INITIAL/OPENSENT -> OPENREC,
// OPENREC -> OPER) happen in the RecvInit/RecvKeepalive handlers instead,
// since those transitions depend on message content this core never sees.
func (e *entry) FSM(event ldp.FSMEvent) {
	switch event {
	case ldp.FSMEventMatchAdj:
		e.transitionTo(ldp.NbrStateInitial)
		e.sendLocalInit()
	case ldp.FSMEventCloseSession:
		e.reset()
	case ldp.FSMEventPDURcvd:
		// Liveness only; message-specific handlers drive state transitions.
	}
}

func (e *entry) transitionTo(newState ldp.NeighborState) {
	e.mu.Lock()
	old := e.state
	e.state = newState
	e.mu.Unlock()

	if old == newState {
		return
	}
	e.mgr.publish(e.id, old, newState)
}

// reset returns the neighbor to PRESENT and reports the transition via
// Core.CloseSession, which also closes any live TCP connection.
func (e *entry) reset() {
	e.mu.Lock()
	old := e.state
	e.state = ldp.NbrStatePresent
	e.sentInit = false
	e.mu.Unlock()

	if old == ldp.NbrStatePresent {
		return
	}
	e.mgr.core.CloseSession(e, old, ldp.NbrStatePresent)
	e.mgr.publish(e.id, old, ldp.NbrStatePresent)
}

// sendLocalInit enqueues this daemon's own Initialization message, marking
// sentInit so a subsequent peer Init doesn't trigger a second one.
func (e *entry) sendLocalInit() {
	e.mu.Lock()
	tcp := e.tcp
	alreadySent := e.sentInit
	e.sentInit = true
	e.mu.Unlock()

	if tcp == nil || alreadySent {
		return
	}
	pdu := encodeInit(e.mgr.lsrID, uint16(e.mgr.session.KeepaliveHoldTime.Seconds()), e.mgr.session.MaxPDULen)
	if err := tcp.Enqueue(pdu); err != nil {
		e.mgr.logger.Warn("failed to send Initialization",
			slog.Uint64("neighbor_id", uint64(e.id)), slog.String("error", err.Error()))
	}
}

// sendKeepalive enqueues one Keepalive message on the neighbor's session.
func (e *entry) sendKeepalive() {
	e.mu.Lock()
	tcp := e.tcp
	e.mu.Unlock()

	if tcp == nil {
		return
	}
	if err := tcp.Enqueue(encodeKeepalive(e.mgr.lsrID)); err != nil {
		e.mgr.logger.Warn("failed to send Keepalive",
			slog.Uint64("neighbor_id", uint64(e.id)), slog.String("error", err.Error()))
	}
}

func (e *entry) snapshot() server.NeighborSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	maxPDULen := e.maxPDULen
	if maxPDULen == 0 {
		maxPDULen = ldp.MaxPDULen
	}
	return server.NeighborSnapshot{
		LSRID:     e.id,
		Address:   e.address,
		State:     e.state,
		StateName: e.state.String(),
		MaxPDULen: maxPDULen,
	}
}
