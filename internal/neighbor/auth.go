package neighbor

import (
	"log/slog"

	"github.com/soumyar-roy/ldpd-go/internal/ldp"
)

// -------------------------------------------------------------------------
// ldp.AuthPolicy
// -------------------------------------------------------------------------

// GTSMCheck implements ldp.AuthPolicy. The actual TTL/Hop-Limit inspection
// is a raw-socket-option concern net.Conn does not expose portably, so this
// only enforces that a GTSM requirement was at least declared for this
// neighbor; real enforcement belongs to whatever platform-specific socket
// option the listener was built with.
func (m *Manager) GTSMCheck(conn *ldp.TCPConn, nbr ldp.Neighbor) error {
	e, ok := nbr.(*entry)
	if !ok {
		return nil
	}

	m.mu.Lock()
	ac, configured := m.auth[e.address]
	m.mu.Unlock()

	if configured && ac.RequireGTSM {
		m.logger.Debug("GTSM required for neighbor, enforcement delegated to socket layer",
			slog.Uint64("neighbor_id", uint64(e.id)))
	}
	return nil
}

// RequireMD5 implements ldp.AuthPolicy. Verifying TCP_MD5SIG is actually in
// force on an already-accepted socket requires a raw getsockopt this
// package's net.Conn abstraction does not expose; like GTSMCheck, this only
// logs the declared requirement.
func (m *Manager) RequireMD5(conn *ldp.TCPConn, nbr ldp.Neighbor) error {
	e, ok := nbr.(*entry)
	if !ok {
		return nil
	}

	m.mu.Lock()
	ac, configured := m.auth[e.address]
	m.mu.Unlock()

	if configured && ac.RequireMD5 {
		m.logger.Debug("TCP-MD5 required for neighbor, enforcement delegated to socket layer",
			slog.Uint64("neighbor_id", uint64(e.id)))
	}
	return nil
}

// -------------------------------------------------------------------------
// ldp.NotificationSender
// -------------------------------------------------------------------------

// SendNotification implements ldp.NotificationSender, building and
// enqueuing a minimal Notification PDU carrying one Status TLV.
func (m *Manager) SendNotification(conn *ldp.TCPConn, status ldp.StatusCode, msgID uint32, msgType ldp.MessageType) error {
	return conn.Enqueue(encodeNotification(m.lsrID, status, msgID, msgType))
}
