package netio

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"syscall"
	"time"

	"github.com/soumyar-roy/ldpd-go/internal/ldp"
)

// pauseBackoffInterval is how often the accept loop rechecks
// AcceptPaused while paused for fd exhaustion.
const pauseBackoffInterval = 50 * time.Millisecond

func pauseBackoff() <-chan time.Time {
	return time.After(pauseBackoffInterval)
}

// Acceptor drives a listening TCP socket through the three-disposition
// accept logic: no neighbor known (park as pending), neighbor already
// active in the passive role (reject), or neighbor present and ready
// (promote to an attached session).
type Acceptor struct {
	ln        net.Listener
	core      *ldp.Core
	neighbors ldp.NeighborTable
	auth      ldp.AuthPolicy
	logger    *slog.Logger
}

// NewAcceptor wraps an already-listening TCP socket.
func NewAcceptor(ln net.Listener, core *ldp.Core, neighbors ldp.NeighborTable, auth ldp.AuthPolicy, logger *slog.Logger) *Acceptor {
	return &Acceptor{
		ln:        ln,
		core:      core,
		neighbors: neighbors,
		auth:      auth,
		logger:    logger.With(slog.String("component", "netio.acceptor")),
	}
}

// Run accepts connections until ctx is cancelled. While paused for fd
// exhaustion it keeps retrying Accept on a short backoff; the pause is
// balanced not here but on each connection's own close path (TCPConn's
// close and the detached pending-timeout close), one AcceptUnpause per
// prior AcceptPause, matching the per-close balance of the original's
// tcp_close().
func (a *Acceptor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := a.ln.Accept()
		if err != nil {
			a.handleAcceptError(ctx, err)
			if a.core.AcceptPaused() {
				select {
				case <-ctx.Done():
					return
				case <-pauseBackoff():
				}
			}
			continue
		}

		a.handleAccept(ctx, conn)
	}
}

// handleAcceptError classifies an Accept error: fd exhaustion pauses
// the loop, temporary errors are retried, everything else is logged
// and ignored.
func (a *Acceptor) handleAcceptError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}

	if errors.Is(err, syscall.ENFILE) || errors.Is(err, syscall.EMFILE) {
		a.core.AcceptPause()
		return
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}

	a.logger.Warn("accept error", slog.String("error", err.Error()))
}

// handleAccept applies the three-disposition logic to one newly
// accepted connection.
func (a *Acceptor) handleAccept(ctx context.Context, conn net.Conn) {
	peerAddrPort, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		a.logger.Warn("accepted connection with unparseable peer address",
			slog.String("error", err.Error()))
		_ = conn.Close()
		return
	}
	peer := peerAddrPort.Addr()
	af := ldp.AddressFamilyOf(peer)

	nbr, known := a.neighbors.FindByAddr(af, peer)
	if !known {
		a.acceptUnknownNeighbor(af, peer, conn)
		return
	}
	if nbr.SessionActiveRole() {
		a.logger.Debug("duplicate inbound connection for active session, closing",
			slog.String("peer", peer.String()))
		_ = conn.Close()
		return
	}
	if nbr.State() != ldp.NbrStatePresent {
		a.logger.Debug("connection accepted for neighbor in unexpected state, closing",
			slog.String("peer", peer.String()),
			slog.String("state", nbr.State().String()))
		_ = conn.Close()
		return
	}

	a.promote(ctx, nbr, conn)
}

// acceptUnknownNeighbor implements disposition 1: park the connection as
// pending, rejecting a duplicate for the same address.
func (a *Acceptor) acceptUnknownNeighbor(af ldp.AddressFamily, peer netip.Addr, conn net.Conn) {
	if _, exists := a.core.FindPendingConn(af, peer); exists {
		a.logger.Debug("duplicate pending connection, closing", slog.String("peer", peer.String()))
		_ = conn.Close()
		return
	}
	a.core.CreatePendingConn(af, peer, conn)
}

// promote implements disposition 3: run the pre-session auth hook, build
// an attached TCPConn, and fire MATCH_ADJ.
func (a *Acceptor) promote(ctx context.Context, nbr ldp.Neighbor, conn net.Conn) {
	tcpConn := ldp.NewTCPConn(conn, nbr, a.core, a.logger)

	if a.auth != nil {
		if err := a.auth.GTSMCheck(tcpConn, nbr); err != nil {
			a.logger.Info("GTSM check failed, closing connection",
				slog.Uint64("neighbor_id", uint64(nbr.ID())), slog.String("error", err.Error()))
			_ = conn.Close()
			return
		}
		if err := a.auth.RequireMD5(tcpConn, nbr); err != nil {
			// A TCP-MD5 hook failure closes this one connection rather
			// than aborting the process.
			a.logger.Info("TCP-MD5 check failed, closing connection",
				slog.Uint64("neighbor_id", uint64(nbr.ID())), slog.String("error", err.Error()))
			_ = conn.Close()
			return
		}
	}

	nbr.SetTCP(tcpConn)
	nbr.FSM(ldp.FSMEventMatchAdj)
	a.core.ServeSession(ctx, tcpConn)
}
