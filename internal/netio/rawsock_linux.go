package netio

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// discoveryPacketConn implements PacketConn using golang.org/x/net's
// ipv4/ipv6 packages, which expose portable per-packet control messages
// (destination address, receiving interface, TTL/hop limit) without this
// package hand-rolling IP_PKTINFO/IPV6_PKTINFO ancillary-data parsing —
// the same library this codebase's UDP send path already uses for
// multicast interface selection (see sender.go).
type discoveryPacketConn struct {
	conn      *net.UDPConn
	p4        *ipv4.PacketConn
	p6        *ipv6.PacketConn
	isIPv6    bool
	localAddr netip.AddrPort

	mu     sync.Mutex
	closed bool
}

// NewDiscoveryListener opens a UDP socket bound to addr:LDP_PORT and
// joins the all-routers multicast group on every interface in ifIndexes.
// Passing no interfaces yields a socket that still receives unicast
// Hellos (used for targeted/extended discovery).
func NewDiscoveryListener(ctx context.Context, addr netip.Addr, ifIndexes []int) (PacketConn, error) {
	isIPv6 := addr.Is6() && !addr.Is4In6()

	network := "udp4"
	if isIPv6 {
		network = "udp6"
	}

	laddr := netip.AddrPortFrom(addr, Port)
	lc := net.ListenConfig{}
	pc, err := lc.ListenPacket(ctx, network, laddr.String())
	if err != nil {
		return nil, fmt.Errorf("listen UDP %s: %w", laddr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		closeErr := pc.Close()
		return nil, fmt.Errorf("listen UDP %s: %w: %w", laddr, ErrUnexpectedConnType, closeErr)
	}

	d := &discoveryPacketConn{conn: conn, isIPv6: isIPv6, localAddr: laddr}

	if isIPv6 {
		d.p6 = ipv6.NewPacketConn(conn)
		if err := d.p6.SetControlMessage(ipv6.FlagDst|ipv6.FlagInterface|ipv6.FlagHopLimit, true); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set IPv6 control message flags: %w", err)
		}
		for _, ifIndex := range ifIndexes {
			if err := d.p6.JoinGroup(ifaceByIndex(ifIndex), &net.UDPAddr{IP: AllRoutersIPv6.AsSlice()}); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("join ff02::2 on ifindex %d: %w", ifIndex, err)
			}
		}
	} else {
		d.p4 = ipv4.NewPacketConn(conn)
		if err := d.p4.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface|ipv4.FlagTTL, true); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set IPv4 control message flags: %w", err)
		}
		for _, ifIndex := range ifIndexes {
			if err := d.p4.JoinGroup(ifaceByIndex(ifIndex), &net.UDPAddr{IP: AllRoutersIPv4.AsSlice()}); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("join 224.0.0.2 on ifindex %d: %w", ifIndex, err)
			}
		}
	}

	return d, nil
}

// ifaceByIndex resolves a kernel interface index to a *net.Interface,
// returning nil (meaning "let the kernel pick") if the lookup fails —
// JoinGroup tolerates a nil *net.Interface.
func ifaceByIndex(ifIndex int) *net.Interface {
	iface, err := net.InterfaceByIndex(ifIndex)
	if err != nil {
		return nil
	}
	return iface
}

// ReadPacket reads a single datagram, returning transport metadata
// decoded from the per-packet control message.
func (d *discoveryPacketConn) ReadPacket(buf []byte) (int, PacketMeta, error) {
	if d.isIPv6 {
		n, cm, src, err := d.p6.ReadFrom(buf)
		if err != nil {
			return 0, PacketMeta{}, fmt.Errorf("read discovery packet: %w", err)
		}
		return n, metaFromIPv6(src, cm), nil
	}

	n, cm, src, err := d.p4.ReadFrom(buf)
	if err != nil {
		return 0, PacketMeta{}, fmt.Errorf("read discovery packet: %w", err)
	}
	return n, metaFromIPv4(src, cm), nil
}

func metaFromIPv6(src net.Addr, cm *ipv6.ControlMessage) PacketMeta {
	meta := PacketMeta{}
	if udpAddr, ok := src.(*net.UDPAddr); ok {
		if a, ok := netip.AddrFromSlice(udpAddr.IP); ok {
			meta.SrcAddr = a.Unmap()
		}
	}
	if cm != nil {
		if a, ok := netip.AddrFromSlice(cm.Dst); ok {
			meta.DstAddr = a.Unmap()
		}
		meta.IfIndex = cm.IfIndex
		meta.TTL = uint8(cm.HopLimit) //nolint:gosec // hop limit is always in [0,255]
	}
	return meta
}

func metaFromIPv4(src net.Addr, cm *ipv4.ControlMessage) PacketMeta {
	meta := PacketMeta{}
	if udpAddr, ok := src.(*net.UDPAddr); ok {
		if a, ok := netip.AddrFromSlice(udpAddr.IP); ok {
			meta.SrcAddr = a.Unmap()
		}
	}
	if cm != nil {
		if a, ok := netip.AddrFromSlice(cm.Dst); ok {
			meta.DstAddr = a.Unmap()
		}
		meta.IfIndex = cm.IfIndex
		meta.TTL = uint8(cm.TTL) //nolint:gosec // TTL is always in [0,255]
	}
	return meta
}

// WritePacket sends buf to dst.
func (d *discoveryPacketConn) WritePacket(buf []byte, dst netip.AddrPort) error {
	_, err := d.conn.WriteToUDPAddrPort(buf, dst)
	if err != nil {
		return fmt.Errorf("write discovery packet to %s: %w", dst, err)
	}
	return nil
}

// Close releases the underlying socket.
func (d *discoveryPacketConn) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.conn.Close(); err != nil {
		return fmt.Errorf("close discovery socket: %w", err)
	}
	return nil
}

// LocalAddr returns the local address and port the socket is bound to.
func (d *discoveryPacketConn) LocalAddr() netip.AddrPort {
	return d.localAddr
}
