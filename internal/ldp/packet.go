// Package ldp implements the packet I/O and session core of an LDP
// (Label Distribution Protocol, RFC 5036/7552) speaker: PDU/message wire
// framing, the per-connection read and write buffers, the pending-connection
// table, the TCP connection object, and the session dispatcher that gates
// incoming messages through neighbor-state legality rules before handing
// them to externally supplied handlers.
package ldp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// -------------------------------------------------------------------------
// Protocol Constants — RFC 5036 Section 3.5
// -------------------------------------------------------------------------

// Version is the LDP protocol version (RFC 5036 Section 3.5.2).
const Version uint16 = 1

// HdrSize is the PDU header size in bytes: Version(2) + Length(2) +
// LSR-Id(4) + Label Space(2).
const HdrSize = 10

// MsgHdrSize is the message header size in bytes: Type(2) + Length(2) +
// Message ID(4).
const MsgHdrSize = 8

// hdrDeadLen is the number of bytes excluded from the PDU Length field
// (Version + Length themselves, RFC 5036 Section 3.5.3).
const hdrDeadLen = 4

// msgDeadLen is the number of bytes excluded from the Message Length field
// (Type + Length themselves, RFC 5036 Section 3.5.3).
const msgDeadLen = 4

// MaxPDULen is the maximum PDU size accepted prior to parameter negotiation
// (RFC 5036 Section 3.5.3: "Prior to completion of the negotiation, the
// maximum allowable length is 4096 bytes").
const MaxPDULen = 4096

// Port is the well-known LDP UDP/TCP port (RFC 5036 Section 2.6).
const Port uint16 = 646

// minMsgLen is the minimum legal value of a Message Length field: the
// Message ID (4 bytes) plus at least some mandatory parameter data is
// represented upstream, but the wire minimum enforced here is 6 per
// RFC 5036 Section 3.5.3 (Message ID plus two bytes of the first
// mandatory parameter header).
const minMsgLen = 6

// UnknownFlag is the high bit (U bit) of the Message Type field. When set,
// a receiver that does not recognize the message type MUST silently ignore
// it rather than reply with a Notification (RFC 5036 Section 3.5.3).
const UnknownFlag uint16 = 0x8000

// msgTypeMask isolates the 15-bit Type field from the U bit.
const msgTypeMask uint16 = 0x7FFF

// -------------------------------------------------------------------------
// Message Types — RFC 5036 Section 3.5.1, RFC 7552
// -------------------------------------------------------------------------

// MessageType identifies an LDP message (the 15 low bits of the Type
// field; the U bit is tracked separately via RawType).
type MessageType uint16

const (
	MsgTypeNotification   MessageType = 0x0001
	MsgTypeHello          MessageType = 0x0100
	MsgTypeInit           MessageType = 0x0200
	MsgTypeKeepalive      MessageType = 0x0201
	MsgTypeAddr           MessageType = 0x0300
	MsgTypeAddrWithdraw   MessageType = 0x0301
	MsgTypeLabelMapping   MessageType = 0x0400
	MsgTypeLabelRequest   MessageType = 0x0401
	MsgTypeLabelWithdraw  MessageType = 0x0402
	MsgTypeLabelRelease   MessageType = 0x0403
	MsgTypeLabelAbortReq  MessageType = 0x0404
	MsgTypeCapability     MessageType = 0x0603
)

var msgTypeNames = map[MessageType]string{
	MsgTypeNotification:  "Notification",
	MsgTypeHello:         "Hello",
	MsgTypeInit:          "Initialization",
	MsgTypeKeepalive:     "Keepalive",
	MsgTypeAddr:          "Address",
	MsgTypeAddrWithdraw:  "AddressWithdraw",
	MsgTypeLabelMapping:  "LabelMapping",
	MsgTypeLabelRequest:  "LabelRequest",
	MsgTypeLabelWithdraw: "LabelWithdraw",
	MsgTypeLabelRelease:  "LabelRelease",
	MsgTypeLabelAbortReq: "LabelAbortRequest",
	MsgTypeCapability:    "Capability",
}

// String returns the human-readable name for the message type, or a
// numeric fallback for unrecognized types.
func (t MessageType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%04x)", uint16(t))
}

// -------------------------------------------------------------------------
// Status Codes — RFC 5036 Section 3.5.2.1
// -------------------------------------------------------------------------

// StatusCode identifies the reason reported in a Notification message.
type StatusCode uint32

const (
	StatusSuccess       StatusCode = 0x00000000
	StatusBadLDPID      StatusCode = 0x00000002
	StatusBadProtoVer   StatusCode = 0x00000007
	StatusBadPDULen     StatusCode = 0x00000008
	StatusUnknownMsg    StatusCode = 0x00000009
	StatusBadMsgLen     StatusCode = 0x0000000A
	StatusShutdown      StatusCode = 0x0000000B
	StatusNoHello       StatusCode = 0x00000012
)

// -------------------------------------------------------------------------
// PDU Header — RFC 5036 Section 3.5.2
// -------------------------------------------------------------------------

// PDUHeader is the decoded LDP PDU header.
type PDUHeader struct {
	// Version MUST be 1.
	Version uint16
	// Length excludes the Version and Length fields themselves.
	Length uint16
	// LSRID is the advertising LSR's router id (IPv4 address form).
	LSRID uint32
	// LabelSpace MUST be 0 (label spaces are not supported).
	LabelSpace uint16
}

// MessageHeader is the decoded LDP message header common to every message.
type MessageHeader struct {
	// RawType is the on-wire Type field, including the U bit.
	RawType uint16
	// Length excludes the Type and Length fields themselves.
	Length uint16
	// ID is the message identifier, used only to correlate notifications.
	ID uint32
}

// Type returns the message type with the U bit masked off.
func (h MessageHeader) Type() MessageType {
	return MessageType(h.RawType & msgTypeMask)
}

// Unknown reports whether the U bit is set, meaning an unrecognized type
// must be silently ignored rather than triggering a Notification.
func (h MessageHeader) Unknown() bool {
	return h.RawType&UnknownFlag != 0
}

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

var (
	// ErrHdrTooShort indicates fewer than HdrSize bytes are available.
	ErrHdrTooShort = errors.New("PDU header too short")
	// ErrMsgHdrTooShort indicates fewer than MsgHdrSize bytes are available.
	ErrMsgHdrTooShort = errors.New("message header too short")
	// ErrBadVersion indicates the PDU Version field is not 1.
	ErrBadVersion = errors.New("bad LDP version")
	// ErrBadLabelSpace indicates the Label Space field is nonzero.
	ErrBadLabelSpace = errors.New("bad label space")
	// ErrBadPDULen indicates the PDU Length field is out of the legal range.
	ErrBadPDULen = errors.New("bad PDU length")
	// ErrBadMsgLen indicates a Message Length field is out of the legal range.
	ErrBadMsgLen = errors.New("bad message length")
	// ErrBufTooSmall indicates the caller-provided buffer cannot hold the
	// encoded PDU or message.
	ErrBufTooSmall = errors.New("buffer too small")
)

// -------------------------------------------------------------------------
// Encode — RFC 5036 Section 3.5.2/3.5.3
// -------------------------------------------------------------------------

// msgIDCounter is the process-wide monotonically increasing message
// identifier source. Collisions after wraparound are acceptable: message
// IDs exist only to correlate Notifications with the PDU that caused them.
var msgIDCounter atomic.Uint32

// NextMessageID returns the next monotonically increasing message ID.
func NextMessageID() uint32 {
	return msgIDCounter.Add(1)
}

// EncodePDUHeader writes a PDU header into buf[0:HdrSize]. totalSize is the
// full on-wire PDU size including this header.
func EncodePDUHeader(buf []byte, lsrID uint32, totalSize int) error {
	if len(buf) < HdrSize {
		return fmt.Errorf("encode PDU header: need %d bytes, got %d: %w", HdrSize, len(buf), ErrBufTooSmall)
	}
	binary.BigEndian.PutUint16(buf[0:2], Version)
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalSize-hdrDeadLen))
	binary.BigEndian.PutUint32(buf[4:8], lsrID)
	binary.BigEndian.PutUint16(buf[8:10], 0)
	return nil
}

// EncodeMessageHeader writes a message header into buf[0:MsgHdrSize],
// assigning it a fresh message ID from the process-wide counter. totalSize
// is the full on-wire message size including this header.
func EncodeMessageHeader(buf []byte, msgType MessageType, totalSize int) error {
	if len(buf) < MsgHdrSize {
		return fmt.Errorf("encode message header: need %d bytes, got %d: %w", MsgHdrSize, len(buf), ErrBufTooSmall)
	}
	binary.BigEndian.PutUint16(buf[0:2], uint16(msgType))
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalSize-msgDeadLen))
	binary.BigEndian.PutUint32(buf[4:8], NextMessageID())
	return nil
}

// -------------------------------------------------------------------------
// Decode — RFC 5036 Section 3.5.2/3.5.3
// -------------------------------------------------------------------------

// DecodePDUHeader decodes the fixed 10-byte PDU header from buf. It does not
// validate any field; callers apply the validation rules appropriate to
// their path (discovery vs. session, see ValidateDiscoveryHeader /
// ValidateSessionHeader).
func DecodePDUHeader(buf []byte) (PDUHeader, error) {
	if len(buf) < HdrSize {
		return PDUHeader{}, fmt.Errorf("decode PDU header: %w", ErrHdrTooShort)
	}
	return PDUHeader{
		Version:    binary.BigEndian.Uint16(buf[0:2]),
		Length:     binary.BigEndian.Uint16(buf[2:4]),
		LSRID:      binary.BigEndian.Uint32(buf[4:8]),
		LabelSpace: binary.BigEndian.Uint16(buf[8:10]),
	}, nil
}

// DecodeMessageHeader decodes the fixed 8-byte message header from buf.
func DecodeMessageHeader(buf []byte) (MessageHeader, error) {
	if len(buf) < MsgHdrSize {
		return MessageHeader{}, fmt.Errorf("decode message header: %w", ErrMsgHdrTooShort)
	}
	return MessageHeader{
		RawType: binary.BigEndian.Uint16(buf[0:2]),
		Length:  binary.BigEndian.Uint16(buf[2:4]),
		ID:      binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}

// ValidateDiscoveryHeader applies the discovery-path PDU validation rules
// (RFC 5036 Section 3.5.3, applied in the order the original ldpd applies
// them): version, label space, and length bounds relative to the received
// datagram length.
func ValidateDiscoveryHeader(hdr PDUHeader, datagramLen int) error {
	if hdr.Version != Version {
		return fmt.Errorf("discovery PDU: version %d: %w", hdr.Version, ErrBadVersion)
	}
	if hdr.LabelSpace != 0 {
		return fmt.Errorf("discovery PDU: label space %d: %w", hdr.LabelSpace, ErrBadLabelSpace)
	}
	minLen := MsgHdrSize + 2
	maxLen := datagramLen - hdrDeadLen
	if int(hdr.Length) < minLen || int(hdr.Length) > maxLen {
		return fmt.Errorf("discovery PDU: length %d not in [%d, %d]: %w", hdr.Length, minLen, maxLen, ErrBadPDULen)
	}
	return nil
}

// ValidateSessionHeader applies the session-path PDU validation rules
// (RFC 5036 Section 3.5.3): version and length bounds relative to maxPDULen
// (4096 prior to negotiation, or the neighbor's negotiated value once
// operational). The LSR-Id/label-space identity check is performed
// separately by the dispatcher, which has access to the owning neighbor.
func ValidateSessionHeader(hdr PDUHeader, maxPDULen uint16) error {
	if hdr.Version != Version {
		return fmt.Errorf("session PDU: version %d: %w", hdr.Version, ErrBadVersion)
	}
	minLen := MsgHdrSize + 2
	if int(hdr.Length) < minLen || hdr.Length > maxPDULen {
		return fmt.Errorf("session PDU: length %d not in [%d, %d]: %w", hdr.Length, minLen, maxPDULen, ErrBadPDULen)
	}
	return nil
}

// ValidateMessageLength checks a Message Length field against the bytes
// remaining in the enclosing PDU (RFC 5036 Section 3.5.3). remainingPDULen
// is the number of PDU bytes still unconsumed, counting this message's own
// Type and Length fields.
func ValidateMessageLength(msgLen uint16, remainingPDULen uint16) error {
	if msgLen < minMsgLen {
		return fmt.Errorf("message: length %d below minimum %d: %w", msgLen, minMsgLen, ErrBadMsgLen)
	}
	if uint32(msgLen)+msgDeadLen > uint32(remainingPDULen) {
		return fmt.Errorf("message: length %d exceeds remaining PDU %d: %w", msgLen, remainingPDULen, ErrBadMsgLen)
	}
	return nil
}

// -------------------------------------------------------------------------
// PacketPool — sync.Pool for zero-allocation scratch buffers
// -------------------------------------------------------------------------

// ScratchBufSize is the capacity of pooled discovery/read scratch buffers —
// sized to the largest legal pre-negotiation PDU.
const ScratchBufSize = MaxPDULen

// PacketPool provides reusable scratch buffers for discovery-datagram and
// read-buffer staging I/O. Callers Get() a *[]byte before receiving and
// Put() it back after the bytes have been copied out or consumed.
var PacketPool = sync.Pool{
	New: func() any {
		buf := make([]byte, ScratchBufSize)
		return &buf
	},
}
