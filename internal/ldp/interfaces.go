package ldp

import "net/netip"

// -------------------------------------------------------------------------
// Neighbor State & FSM Events — RFC 5036 Section 2.5.5
// -------------------------------------------------------------------------

// NeighborState is the subset of the external neighbor FSM's states this
// core inspects or branches on. The full FSM, including every other
// transition, lives outside this package (see Neighbor below).
type NeighborState int

const (
	// NbrStatePresent: discovered via Hello, no session established yet.
	NbrStatePresent NeighborState = iota
	// NbrStateInitial: TCP session established, Initialization not yet
	// exchanged in both directions.
	NbrStateInitial
	// NbrStateOpenSent: local Initialization sent, awaiting peer's.
	NbrStateOpenSent
	// NbrStateOpenRec: peer's Initialization received, local Keepalive
	// pending.
	NbrStateOpenRec
	// NbrStateOper: session fully operational.
	NbrStateOper
)

func (s NeighborState) String() string {
	switch s {
	case NbrStatePresent:
		return "PRESENT"
	case NbrStateInitial:
		return "INITIAL"
	case NbrStateOpenSent:
		return "OPENSENT"
	case NbrStateOpenRec:
		return "OPENREC"
	case NbrStateOper:
		return "OPER"
	default:
		return "UNKNOWN"
	}
}

// FSMEvent is a signal fired into the external neighbor FSM to drive a
// state transition. This core never interprets the resulting state
// change itself; it only fires events and later observes State() again.
type FSMEvent int

const (
	FSMEventMatchAdj FSMEvent = iota
	FSMEventPDURcvd
	FSMEventCloseSession
)

// -------------------------------------------------------------------------
// Address Family
// -------------------------------------------------------------------------

// AddressFamily identifies IPv4 vs IPv6 for neighbor/session lookups.
type AddressFamily int

const (
	AddressFamilyIPv4 AddressFamily = iota
	AddressFamilyIPv6
)

// AddressFamilyOf derives the AddressFamily of a netip.Addr.
func AddressFamilyOf(addr netip.Addr) AddressFamily {
	if addr.Is4() || addr.Is4In6() {
		return AddressFamilyIPv4
	}
	return AddressFamilyIPv6
}

// -------------------------------------------------------------------------
// External Interfaces
// -------------------------------------------------------------------------

// Neighbor is the external neighbor identity and FSM gate. This core
// mutates only the TCP back-reference (via SetTCP) and reads State/ID/
// MaxPDULen/SessionActiveRole; every other aspect of neighbor lifecycle —
// Hello processing, parameter negotiation, label bindings — lives outside
// this package.
type Neighbor interface {
	// ID returns the neighbor's LSR-Id.
	ID() uint32
	// State returns the neighbor's current FSM state.
	State() NeighborState
	// SessionActiveRole reports whether this neighbor already has an
	// established inbound (passive-role) TCP session, used by the
	// acceptor to reject a second simultaneous connection attempt.
	SessionActiveRole() bool
	// FSM fires an event into the external finite state machine.
	FSM(event FSMEvent)
	// SetTCP installs or clears (nil) the neighbor's TCP connection
	// back-reference. Non-owning: the neighbor does not manage the
	// TCPConn's lifecycle.
	SetTCP(conn *TCPConn)
	// TCP returns the neighbor's current TCP connection, or nil.
	TCP() *TCPConn
	// MaxPDULen returns the negotiated maximum PDU length once
	// operational, or MaxPDULen's default before negotiation.
	MaxPDULen() uint16
}

// NeighborTable looks up a Neighbor by address family and peer address.
// Label spaces are not supported, so the peer address alone is a
// sufficient key (RFC 5036's label-space disambiguation is unused).
type NeighborTable interface {
	FindByAddr(af AddressFamily, addr netip.Addr) (Neighbor, bool)
}

// Interface represents the external per-link configuration object
// (enabled address families, name) that the discovery receiver consults
// to validate multicast Hellos.
type Interface interface {
	Name() string
	Index() int
	AddressFamilyEnabled(af AddressFamily) bool
}

// InterfaceTable looks up an Interface by its kernel interface index.
type InterfaceTable interface {
	FindByIndex(ifIndex int) (Interface, bool)
}

// MessageHandlers is the set of per-message-type handlers this core
// dispatches into once a message has passed state-gated legality
// checking. Each returns an error only to signal "abort further
// processing of this PDU" — the handler itself is responsible for any
// protocol-level reporting (e.g. sending its own Notification); this core
// does not inspect the error's content.
type MessageHandlers interface {
	RecvHello(lsrID uint32, hdr MessageHeader, af AddressFamily, src netip.Addr, iface Interface, multicast bool, payload []byte) error
	RecvInit(nbr Neighbor, hdr MessageHeader, payload []byte) error
	RecvKeepalive(nbr Neighbor, hdr MessageHeader, payload []byte) error
	RecvCapability(nbr Neighbor, hdr MessageHeader, payload []byte) error
	RecvAddress(nbr Neighbor, hdr MessageHeader, payload []byte) error
	RecvLabelMessage(nbr Neighbor, hdr MessageHeader, payload []byte, msgType MessageType) error
	RecvNotification(nbr Neighbor, hdr MessageHeader, payload []byte) error
}

// AuthPolicy is the pre-session authentication hook consulted by the
// acceptor before promoting an accepted socket into an attached session
// (RFC 5082 GTSM, RFC 5036 Appendix A MD5 signatures). Policy content
// (which neighbors require which mechanism) lives entirely outside this
// package; this core only calls the hook and reacts to its verdict.
type AuthPolicy interface {
	// GTSMCheck rejects the connection if its observed TTL/Hop Limit does
	// not meet the neighbor's GTSM requirement.
	GTSMCheck(conn *TCPConn, nbr Neighbor) error
	// RequireMD5 verifies TCP-MD5 is actually in force on the socket when
	// policy requires it for this neighbor.
	RequireMD5(conn *TCPConn, nbr Neighbor) error
}

// NotificationSender enqueues a Notification message on a TCP connection.
// The message body itself (optional TLVs) is constructed by the external
// notification-message encoder; this core only supplies the status code
// and the correlating message id/type of whatever caused the
// notification.
type NotificationSender interface {
	SendNotification(conn *TCPConn, status StatusCode, msgID uint32, msgType MessageType) error
}
