package neighbor

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net/netip"

	"github.com/soumyar-roy/ldpd-go/internal/ldp"
)

// -------------------------------------------------------------------------
// ldp.MessageHandlers
// -------------------------------------------------------------------------

// RecvHello implements ldp.MessageHandlers. It creates a neighbor entry the
// first time an address is seen, and promotes any pending connection
// already parked for that address once the adjacency is confirmed.
func (m *Manager) RecvHello(lsrID uint32, hdr ldp.MessageHeader, af ldp.AddressFamily, src netip.Addr, iface ldp.Interface, multicast bool, payload []byte) error {
	e := m.getOrCreate(lsrID, af, src)

	if e.State() != ldp.NbrStatePresent {
		return nil
	}

	conn, ok := m.core.PromotePendingConn(af, src)
	if !ok {
		return nil
	}

	tcpConn := ldp.NewTCPConn(conn, e, m.core, m.logger)
	e.SetTCP(tcpConn)
	e.FSM(ldp.FSMEventMatchAdj)
	m.core.ServeSession(context.Background(), tcpConn)
	return nil
}

// getOrCreate returns the existing entry for lsrID, or creates one in
// NbrStatePresent keyed by lsrID and indexed by (af, addr).
func (m *Manager) getOrCreate(lsrID uint32, af ldp.AddressFamily, addr netip.Addr) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.byID[lsrID]; ok {
		return e
	}

	e := &entry{
		id:      lsrID,
		address: addr,
		af:      af,
		mgr:     m,
		state:   ldp.NbrStatePresent,
	}
	m.byID[lsrID] = e
	m.byAddr[addrKey{af: af, addr: addr}] = lsrID
	m.logger.Info("neighbor discovered", slog.Uint64("neighbor_id", uint64(lsrID)), slog.String("address", addr.String()))
	return e
}

// RecvInit implements ldp.MessageHandlers. On receiving the peer's
// Initialization, it sends this daemon's own (if not already sent) and
// moves to OPENREC, negotiating MaxPDULen down to the peer's proposal.
func (m *Manager) RecvInit(nbr ldp.Neighbor, hdr ldp.MessageHeader, payload []byte) error {
	e, ok := nbr.(*entry)
	if !ok {
		return nil
	}

	if peerMax, ok := parsePeerMaxPDULen(payload); ok {
		e.mu.Lock()
		if e.maxPDULen == 0 || peerMax < e.maxPDULen {
			e.maxPDULen = peerMax
		}
		e.mu.Unlock()
	}

	e.sendLocalInit()
	e.sendKeepalive()
	e.transitionTo(ldp.NbrStateOpenRec)
	return nil
}

// parsePeerMaxPDULen extracts the Max PDU Length field from an
// Initialization message's Common Session Parameters TLV, if present.
func parsePeerMaxPDULen(payload []byte) (uint16, bool) {
	if len(payload) < 4 {
		return 0, false
	}
	tlvType := binary.BigEndian.Uint16(payload[0:2]) & 0x7FFF
	if tlvType != tlvCommonSessionParams {
		return 0, false
	}
	if len(payload) < 4+8 {
		return 0, false
	}
	return binary.BigEndian.Uint16(payload[4+6 : 4+8]), true
}

// RecvKeepalive implements ldp.MessageHandlers. The first Keepalive
// received while OPENREC completes the three-way handshake and declares the
// session operational; thereafter it is pure liveness.
func (m *Manager) RecvKeepalive(nbr ldp.Neighbor, hdr ldp.MessageHeader, payload []byte) error {
	e, ok := nbr.(*entry)
	if !ok {
		return nil
	}
	if e.State() == ldp.NbrStateOpenRec {
		e.transitionTo(ldp.NbrStateOper)
	}
	return nil
}

// RecvCapability implements ldp.MessageHandlers. Capability negotiation
// content is out of scope; received Capability messages are acknowledged
// only by virtue of having been legally dispatched.
func (m *Manager) RecvCapability(nbr ldp.Neighbor, hdr ldp.MessageHeader, payload []byte) error {
	return nil
}

// RecvAddress implements ldp.MessageHandlers. Address-list tracking (the
// neighbor's interface addresses, used elsewhere to validate label
// bindings) is out of scope.
func (m *Manager) RecvAddress(nbr ldp.Neighbor, hdr ldp.MessageHeader, payload []byte) error {
	return nil
}

// RecvLabelMessage implements ldp.MessageHandlers. Label-FIB manipulation
// is explicitly out of scope.
func (m *Manager) RecvLabelMessage(nbr ldp.Neighbor, hdr ldp.MessageHeader, payload []byte, msgType ldp.MessageType) error {
	return nil
}

// RecvNotification implements ldp.MessageHandlers. Every Notification from
// the peer is logged and tears the session down; the Status TLV is not
// parsed, so advisory notifications are not told apart from fatal ones.
func (m *Manager) RecvNotification(nbr ldp.Neighbor, hdr ldp.MessageHeader, payload []byte) error {
	e, ok := nbr.(*entry)
	if !ok {
		return nil
	}
	m.logger.Info("received Notification", slog.Uint64("neighbor_id", uint64(e.id)))
	e.FSM(ldp.FSMEventCloseSession)
	return nil
}
