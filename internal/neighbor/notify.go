package neighbor

import (
	"encoding/binary"

	"github.com/soumyar-roy/ldpd-go/internal/ldp"
)

// This file builds the handful of message bodies a minimal neighbor FSM
// must be able to send itself (Initialization, Keepalive, Notification).
// Every other message type's content — Hello parameters beyond the bare
// Common Hello Parameters check, Address, Capability, and all four Label
// message bodies — is genuinely out of scope and this
// package never constructs or parses them.

const (
	tlvCommonSessionParams uint16 = 0x0500
	tlvCommonSessionLen           = 14 // value length, excluding the TLV header
	tlvStatus              uint16 = 0x0300
	tlvStatusLen                  = 10
)

// putTLVHeader writes a 4-byte TLV header (no U/F bits set) at buf[0:4].
func putTLVHeader(buf []byte, tlvType uint16, valueLen int) {
	binary.BigEndian.PutUint16(buf[0:2], tlvType)
	binary.BigEndian.PutUint16(buf[2:4], uint16(valueLen))
}

// encodeCommonSessionParams writes the Common Session Parameters TLV (RFC
// 5036 Section 3.5.3) this daemon proposes: protocol version 1, the
// configured keepalive timers, downstream-unsolicited label advertisement
// (the A bit unset), and the locally configured max PDU length.
func encodeCommonSessionParams(buf []byte, keepaliveHoldTime, maxPDULen uint16, lsrID uint32) {
	putTLVHeader(buf, tlvCommonSessionParams, tlvCommonSessionLen)
	binary.BigEndian.PutUint16(buf[4:6], ldp.Version)
	binary.BigEndian.PutUint16(buf[6:8], keepaliveHoldTime)
	binary.BigEndian.PutUint16(buf[8:10], 0) // A/D bits + reserved: DU, loop detection off
	binary.BigEndian.PutUint16(buf[10:12], maxPDULen)
	binary.BigEndian.PutUint32(buf[12:16], lsrID)
	binary.BigEndian.PutUint16(buf[16:18], 0) // receiver label space
}

const commonSessionParamsTLVSize = 4 + tlvCommonSessionLen // header + value

// encodeInit builds a complete Initialization PDU: PDU header, message
// header, and one Common Session Parameters TLV.
func encodeInit(lsrID uint32, keepaliveHoldTime, maxPDULen uint16) []byte {
	total := ldp.HdrSize + ldp.MsgHdrSize + commonSessionParamsTLVSize
	buf := make([]byte, total)

	_ = ldp.EncodePDUHeader(buf, lsrID, total)
	_ = ldp.EncodeMessageHeader(buf[ldp.HdrSize:], ldp.MsgTypeInit, total-ldp.HdrSize)
	encodeCommonSessionParams(buf[ldp.HdrSize+ldp.MsgHdrSize:], keepaliveHoldTime, maxPDULen, lsrID)

	return buf
}

// encodeKeepalive builds a complete Keepalive PDU: PDU header and message
// header only, no TLVs (RFC 5036 Section 3.5.5).
func encodeKeepalive(lsrID uint32) []byte {
	total := ldp.HdrSize + ldp.MsgHdrSize
	buf := make([]byte, total)

	_ = ldp.EncodePDUHeader(buf, lsrID, total)
	_ = ldp.EncodeMessageHeader(buf[ldp.HdrSize:], ldp.MsgTypeKeepalive, total-ldp.HdrSize)

	return buf
}

// encodeNotification builds a complete Notification PDU carrying exactly
// one mandatory Status TLV (RFC 5036 Section 3.5.10), correlated to the
// message that provoked it via msgID/msgType (both zero when there is no
// correlating message, e.g. a spontaneous Shutdown).
func encodeNotification(lsrID uint32, status ldp.StatusCode, corrMsgID uint32, corrMsgType ldp.MessageType) []byte {
	total := ldp.HdrSize + ldp.MsgHdrSize + 4 + tlvStatusLen
	buf := make([]byte, total)

	_ = ldp.EncodePDUHeader(buf, lsrID, total)
	_ = ldp.EncodeMessageHeader(buf[ldp.HdrSize:], ldp.MsgTypeNotification, total-ldp.HdrSize)

	tlv := buf[ldp.HdrSize+ldp.MsgHdrSize:]
	putTLVHeader(tlv, tlvStatus, tlvStatusLen)
	binary.BigEndian.PutUint32(tlv[4:8], uint32(status))
	binary.BigEndian.PutUint32(tlv[8:12], corrMsgID)
	binary.BigEndian.PutUint16(tlv[12:14], uint16(corrMsgType))

	return buf
}
