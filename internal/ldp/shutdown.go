package ldp

import (
	"fmt"
	"log/slog"
)

// Shutdown tears down a neighbor's session in response to a protocol
// violation. The behavior branches on the neighbor's current
// state: PRESENT has no session to notify, a connecting/negotiating
// neighbor's attempt is counted before closing, and an operational
// neighbor closes without that count. Any other state reaching here is a
// programming error.
func (c *Core) Shutdown(nbr Neighbor, status StatusCode, msgID uint32, msgType MessageType) {
	if nbr == nil {
		c.logger.Warn("Shutdown called with no neighbor, ignoring")
		return
	}

	switch state := nbr.State(); state {
	case NbrStatePresent:
		// No TCP session exists yet; the external FSM owns cancelling its
		// outbound-connect timer when it processes CLOSE_SESSION.
		nbr.FSM(FSMEventCloseSession)
	case NbrStateInitial, NbrStateOpenRec, NbrStateOpenSent:
		c.metrics.IncSessionAttempts()
		c.sendShutdownNotification(nbr, status, msgID, msgType)
		nbr.FSM(FSMEventCloseSession)
	case NbrStateOper:
		c.sendShutdownNotification(nbr, status, msgID, msgType)
		nbr.FSM(FSMEventCloseSession)
	default:
		panic(fmt.Sprintf("ldp: Shutdown called with neighbor in unexpected state %v", state))
	}
}

// sendShutdownNotification enqueues the Notification that accompanies a
// Shutdown call, if a TCP session and a NotificationSender both exist.
func (c *Core) sendShutdownNotification(nbr Neighbor, status StatusCode, msgID uint32, msgType MessageType) {
	conn := nbr.TCP()
	if conn == nil || c.notifier == nil {
		return
	}
	if err := c.notifier.SendNotification(conn, status, msgID, msgType); err != nil {
		c.logger.Warn("failed to send shutdown notification",
			slog.Uint64("neighbor_id", uint64(nbr.ID())),
			slog.String("status", fmt.Sprintf("0x%x", uint32(status))),
			slog.String("error", err.Error()),
		)
	}
}

// CloseSession is called by the external neighbor FSM once it has decided
// to tear a session down"). It reports the state
// transition to external consumers and closes the TCP connection; the
// FSM itself is responsible for stopping its own keepalive/init timers.
func (c *Core) CloseSession(nbr Neighbor, oldState, newState NeighborState) {
	c.notifyStateChange(nbr, oldState, newState)
	if conn := nbr.TCP(); conn != nil {
		conn.close()
	}
}

// onPendingConnTimeout implements the detached-close flow for a
// pending-connection timeout: a detached TCPConn is built around the
// raw fd, an S_NO_HELLO notification is enqueued and flushed
// synchronously, and the socket is closed once the queue has drained.
// This accepted socket may itself be the one whose eventual close
// balances an outstanding AcceptPause, so the detached TCPConn carries
// a reference back to this Core; close() performs the AcceptUnpause.
func (c *Core) onPendingConnTimeout(pc *pendingConn) {
	c.metrics.SetPendingConnections(c.pending.size())
	conn := newTCPConn(pc.rawFD, nil, c, c.logger)
	if c.notifier != nil {
		if err := c.notifier.SendNotification(conn, StatusNoHello, 0, 0); err != nil {
			c.logger.Warn("failed to send no-hello notification",
				slog.String("peer", conn.PeerAddrPort().String()),
				slog.String("error", err.Error()),
			)
		}
	}
	conn.close()
}
