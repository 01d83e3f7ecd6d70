package netio

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/soumyar-roy/ldpd-go/internal/ldp"
)

// Sender implements the generic "send a message on a session or
// discovery socket" path: UDP Hello transmission with
// multicast interface selection, using golang.org/x/net's ipv4/ipv6
// packages the same way the discovery listener uses them for receive
// metadata.
type Sender struct {
	conn   *net.UDPConn
	p4     *ipv4.PacketConn
	p6     *ipv6.PacketConn
	isIPv6 bool
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewSender creates a sender bound to localAddr for the given address
// family. Pass a zero netip.Addr to bind to the wildcard address.
func NewSender(ctx context.Context, localAddr netip.Addr, logger *slog.Logger) (*Sender, error) {
	isIPv6 := localAddr.Is6() && !localAddr.Is4In6()

	network := "udp4"
	if isIPv6 {
		network = "udp6"
	}

	lc := net.ListenConfig{}
	pc, err := lc.ListenPacket(ctx, network, netip.AddrPortFrom(localAddr, 0).String())
	if err != nil {
		return nil, fmt.Errorf("create sender socket on %s: %w", localAddr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		closeErr := pc.Close()
		return nil, fmt.Errorf("create sender socket on %s: %w: %w", localAddr, ErrUnexpectedConnType, closeErr)
	}

	s := &Sender{
		conn:   conn,
		isIPv6: isIPv6,
		logger: logger.With(slog.String("component", "netio.sender"), slog.String("local", localAddr.String())),
	}
	if isIPv6 {
		s.p6 = ipv6.NewPacketConn(conn)
	} else {
		s.p4 = ipv4.NewPacketConn(conn)
	}
	return s, nil
}

// SendPacket writes pkt to dst. If dst is multicast, the outgoing
// interface is set on the socket before the write; failures are logged
// and returned for the caller to decide whether to retry.
func (s *Sender) SendPacket(dst netip.Addr, ifIndex int, pkt []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("send to %s: %w", dst, ErrSocketClosed)
	}
	s.mu.Unlock()

	if dst.IsMulticast() {
		if err := s.setMulticastInterface(ifIndex); err != nil {
			s.logger.Warn("failed to set multicast interface",
				slog.Int("ifindex", ifIndex), slog.String("error", err.Error()))
			return fmt.Errorf("set multicast interface %d: %w", ifIndex, err)
		}
	}

	udpDst := net.UDPAddrFromAddrPort(netip.AddrPortFrom(dst, ldp.Port))
	if _, err := s.conn.WriteToUDP(pkt, udpDst); err != nil {
		s.logger.Warn("send failed", slog.String("dst", dst.String()), slog.String("error", err.Error()))
		return fmt.Errorf("send packet to %s:%d: %w", dst, ldp.Port, err)
	}
	return nil
}

// setMulticastInterface selects the outgoing interface for multicast
// sends via golang.org/x/net's portable PacketConn wrappers, in place of
// hand-rolled IP_MULTICAST_IF/IPV6_MULTICAST_IF socket options.
func (s *Sender) setMulticastInterface(ifIndex int) error {
	iface, err := net.InterfaceByIndex(ifIndex)
	if err != nil {
		return fmt.Errorf("resolve interface %d: %w", ifIndex, err)
	}

	if s.isIPv6 {
		if err := s.p6.SetMulticastInterface(iface); err != nil {
			return fmt.Errorf("ipv6 set multicast interface: %w", err)
		}
		return nil
	}
	if err := s.p4.SetMulticastInterface(iface); err != nil {
		return fmt.Errorf("ipv4 set multicast interface: %w", err)
	}
	return nil
}

// Close closes the underlying socket.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close sender socket: %w", err)
	}
	return nil
}
