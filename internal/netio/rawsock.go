package netio

import (
	"errors"
	"net/netip"

	"github.com/soumyar-roy/ldpd-go/internal/ldp"
)

// Port is the well-known LDP UDP/TCP port (RFC 5036 Section 2.6).
const Port = ldp.Port

// -------------------------------------------------------------------------
// LDP Discovery Addresses — RFC 5036 Section 2.4.1, RFC 7552 Section 5.1
// -------------------------------------------------------------------------

// AllRoutersIPv4 is the "all routers on this subnet" multicast group used
// for Basic Discovery Hellos (RFC 5036 Section 2.4.1).
var AllRoutersIPv4 = netip.MustParseAddr("224.0.0.2")

// AllRoutersIPv6 is the IPv6 equivalent all-routers link-local multicast
// group (RFC 7552 Section 5.1).
var AllRoutersIPv6 = netip.MustParseAddr("ff02::2")

// -------------------------------------------------------------------------
// Transport Metadata
// -------------------------------------------------------------------------

// PacketMeta contains transport-layer metadata extracted from a received
// UDP discovery datagram via ancillary data (IP_PKTINFO/IPV6_PKTINFO).
// Used for multicast-vs-unicast classification and interface-scoped
// validation.
type PacketMeta struct {
	// SrcAddr is the source IP address from the IP header.
	SrcAddr netip.Addr

	// DstAddr is the destination IP address, obtained from PKTINFO
	// ancillary data. Its being a multicast address is the only portable
	// signal (on Linux) that this datagram arrived via multicast.
	DstAddr netip.Addr

	// TTL is the Time-to-Live / Hop Limit from the received IP header.
	TTL uint8

	// IfIndex is the interface index the datagram was received on.
	IfIndex int
}

// Multicast reports whether the datagram was delivered to a multicast
// destination address.
func (m PacketMeta) Multicast() bool {
	return m.DstAddr.IsValid() && m.DstAddr.IsMulticast()
}

// -------------------------------------------------------------------------
// PacketConn Interface
// -------------------------------------------------------------------------

// PacketConn abstracts LDP discovery packet send/receive over a UDP
// socket joined to the all-routers multicast group. Implementations
// handle platform-specific socket configuration (PKTINFO, multicast
// group membership).
type PacketConn interface {
	// ReadPacket reads a single datagram into buf. Returns the number of
	// bytes read and transport metadata.
	ReadPacket(buf []byte) (n int, meta PacketMeta, err error)

	// WritePacket sends buf to dst on the LDP discovery port.
	WritePacket(buf []byte, dst netip.AddrPort) error

	// Close releases the underlying socket resources.
	Close() error

	// LocalAddr returns the local address and port the socket is bound to.
	LocalAddr() netip.AddrPort
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrSocketClosed indicates an operation on a closed socket.
	ErrSocketClosed = errors.New("socket closed")

	// ErrPoolType indicates the packet pool returned an unexpected type.
	ErrPoolType = errors.New("packet pool returned unexpected type")

	// ErrUnexpectedConnType indicates net.ListenPacket/net.Dial returned
	// an unexpected connection type.
	ErrUnexpectedConnType = errors.New("unexpected connection type")
)
