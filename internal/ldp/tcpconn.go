package ldp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
)

// TCPConn owns one LDP session TCP socket: its read buffer, write buffer,
// and local/peer addresses. A TCPConn is created in one of two modes
//:
//
//   - attached: has a non-owning back-reference to the Neighbor it
//     belongs to; reads are scheduled and dispatched to the session
//     dispatcher.
//   - detached: no Neighbor; exists only to flush one outbound
//     Notification and then close (the pending-connection timeout path).
type TCPConn struct {
	conn net.Conn

	// core is used on close to balance any outstanding AcceptPause
	// against the descriptor this connection is about to free, matching
	// the original's tcp_close() calling accept_unpause() unconditionally
	// on every close.
	core *Core

	readBuf  *ReadBuffer
	writeMu  sync.Mutex
	writeBuf *WriteBuffer

	local netip.AddrPort
	peer  netip.AddrPort

	// nbr is a non-owning back-reference: TCPConn does not manage the
	// Neighbor's lifecycle, only reads its state for the dispatcher and
	// clears this field to nil on close. Nil for a detached connection.
	nbr Neighbor

	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}

	logger *slog.Logger
}

// NewTCPConn wraps an already-accepted/dialed net.Conn for an attached
// session. Exported for the session acceptor (internal/netio), which
// constructs TCPConns but has no access to this package's unexported
// state.
func NewTCPConn(conn net.Conn, nbr Neighbor, core *Core, logger *slog.Logger) *TCPConn {
	return newTCPConn(conn, nbr, core, logger)
}

// newTCPConn wraps an already-accepted/dialed net.Conn. nbr is nil for a
// detached connection.
func newTCPConn(conn net.Conn, nbr Neighbor, core *Core, logger *slog.Logger) *TCPConn {
	local, _ := netip.ParseAddrPort(conn.LocalAddr().String())
	peer, _ := netip.ParseAddrPort(conn.RemoteAddr().String())

	return &TCPConn{
		conn:     conn,
		core:     core,
		readBuf:  NewReadBuffer(),
		writeBuf: NewWriteBuffer(),
		local:    local,
		peer:     peer,
		nbr:      nbr,
		closed:   make(chan struct{}),
		logger: logger.With(
			slog.String("component", "ldp.tcpconn"),
			slog.String("peer", peer.String()),
		),
	}
}

// Attached reports whether this connection has an owning Neighbor.
func (c *TCPConn) Attached() bool {
	return c.nbr != nil
}

// Neighbor returns the owning Neighbor, or nil if detached.
func (c *TCPConn) Neighbor() Neighbor {
	return c.nbr
}

// PeerAddrPort returns the remote socket address.
func (c *TCPConn) PeerAddrPort() netip.AddrPort {
	return c.peer
}

// Enqueue appends bytes to the outbound queue and attempts an immediate
// flush. Safe to call from any goroutine (e.g. the dispatcher's own
// read-loop goroutine when replying with a Notification, or the
// pending-connection timeout goroutine for a detached connection).
func (c *TCPConn) Enqueue(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.writeBuf.Enqueue(b); err != nil {
		return fmt.Errorf("enqueue on %s: %w", c.peer, err)
	}
	_, err := c.writeBuf.Flush(c.conn)
	if err != nil {
		return fmt.Errorf("flush on %s: %w", c.peer, err)
	}
	return nil
}

// runReadLoop is the connection's single read-driving goroutine. It reads
// from the socket, extracts PDUs via the read buffer, and calls
// dispatchPDU for each one. It returns when the connection is closed or
// an unrecoverable read error occurs; the caller (Core's acceptor) has
// already fired FSMEventMatchAdj before starting this loop.
func (c *TCPConn) runReadLoop(ctx context.Context, core *Core) {
	defer close(c.closed)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := c.conn.Read(c.readBuf.WriteSlice())
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			c.handleReadError(err)
			return
		}
		if n == 0 {
			// Graceful remote close.
			if c.nbr != nil {
				c.nbr.FSM(FSMEventCloseSession)
			}
			return
		}
		c.readBuf.Written(n)

		if !c.drainPDUs(core) {
			return
		}
	}
}

// handleReadError classifies a read error : EOF and
// non-temporary errors fire CLOSE_SESSION; temporary/interrupted
// conditions are retried by the caller's loop (handled by returning
// without closing when the error is temporary).
func (c *TCPConn) handleReadError(err error) {
	if errors.Is(err, io.EOF) {
		c.logger.Debug("connection closed by remote end")
	} else {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		c.logger.Warn("read error", slog.String("error", err.Error()))
	}
	if c.nbr != nil {
		c.nbr.FSM(FSMEventCloseSession)
	}
}

// drainPDUs repeatedly extracts and dispatches PDUs from the read buffer.
// Returns false if a dispatch decided the connection must stop reading
// (e.g. a shutdown was triggered).
func (c *TCPConn) drainPDUs(core *Core) bool {
	for {
		pdu, ok, err := c.readBuf.TryTakePDU()
		if err != nil {
			// Malformed header in an already-buffered prefix: treat as a
			// protocol version violation, the most conservative bucket.
			core.Shutdown(c.nbr, StatusBadProtoVer, 0, 0)
			return false
		}
		if !ok {
			return true
		}
		if !core.dispatchPDU(c, pdu) {
			return false
		}
	}
}

// close tears down the socket exactly once, detaching from its Neighbor
// (if any), cancelling its read-loop context, and balancing any
// outstanding AcceptPause with exactly one AcceptUnpause — unconditional
// and harmless when the acceptor isn't currently paused, since
// AcceptUnpause clamps at zero.
func (c *TCPConn) close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.nbr != nil {
			c.nbr.SetTCP(nil)
		}
		_ = c.conn.Close()
		if c.core != nil {
			c.core.AcceptUnpause()
		}
	})
}
