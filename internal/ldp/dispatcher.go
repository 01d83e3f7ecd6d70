package ldp

import "log/slog"

// legalStates gates a message type against the neighbor states allowed to
// receive it, expressed as a lookup table rather than a chain
// of per-type conditionals so that adding a message type never touches
// the gating logic itself.
var legalStates = map[MessageType]map[NeighborState]bool{
	MsgTypeInit: {
		NbrStateInitial:  true,
		NbrStateOpenSent: true,
	},
	MsgTypeKeepalive: {
		NbrStatePresent: true,
		NbrStateOpenRec: true,
		NbrStateOper:    true,
	},
	MsgTypeNotification: {
		NbrStatePresent:  true,
		NbrStateInitial:  true,
		NbrStateOpenSent: true,
		NbrStateOpenRec:  true,
		NbrStateOper:     true,
	},
}

// messageLegalInState reports whether msgType may be processed while the
// neighbor is in state. Any type absent from legalStates falls back to
// the "all others: OPER only" default row.
func messageLegalInState(msgType MessageType, state NeighborState) bool {
	if allowed, ok := legalStates[msgType]; ok {
		return allowed[state]
	}
	return state == NbrStateOper
}

// dispatchPDU validates, frames, and dispatches every message in one
// already-extracted PDU. It returns false if the PDU caused a
// Shutdown, in which case the caller's read loop must stop.
func (c *Core) dispatchPDU(conn *TCPConn, pdu []byte) bool {
	nbr := conn.Neighbor()
	if nbr == nil {
		c.logger.Warn("dispatch called on detached connection, dropping PDU")
		return true
	}

	hdr, err := DecodePDUHeader(pdu)
	if err != nil {
		c.Shutdown(nbr, StatusBadProtoVer, 0, 0)
		return false
	}

	maxPDULen := uint16(MaxPDULen)
	if nbr.State() == NbrStateOper {
		maxPDULen = nbr.MaxPDULen()
	}
	if hdr.Version != Version {
		c.Shutdown(nbr, StatusBadProtoVer, 0, 0)
		return false
	}
	if err := ValidateSessionHeader(hdr, maxPDULen); err != nil {
		c.Shutdown(nbr, StatusBadPDULen, 0, 0)
		return false
	}
	if hdr.LSRID != nbr.ID() || hdr.LabelSpace != 0 {
		c.Shutdown(nbr, StatusBadLDPID, 0, 0)
		return false
	}

	nbr.FSM(FSMEventPDURcvd)

	remaining := pdu[HdrSize:]
	left := len(remaining)
	for left > 0 {
		if left < MsgHdrSize {
			c.Shutdown(nbr, StatusBadPDULen, 0, 0)
			return false
		}
		msgHdr, err := DecodeMessageHeader(remaining[:left])
		if err != nil {
			c.Shutdown(nbr, StatusBadPDULen, 0, 0)
			return false
		}
		if err := ValidateMessageLength(msgHdr.Length, uint16(left)); err != nil {
			c.Shutdown(nbr, StatusBadMsgLen, msgHdr.ID, msgHdr.Type())
			return false
		}

		total := int(msgHdr.Length) + msgDeadLen
		payload := remaining[MsgHdrSize:total]
		msgType := msgHdr.Type()

		if !messageLegalInState(msgType, nbr.State()) {
			c.Shutdown(nbr, StatusShutdown, msgHdr.ID, msgType)
			return false
		}

		if !c.dispatchMessage(conn, nbr, msgHdr, msgType, payload) {
			return false
		}

		remaining = remaining[total:]
		left -= total
	}

	if left != 0 {
		c.Shutdown(nbr, StatusBadPDULen, 0, 0)
		return false
	}
	return true
}

// dispatchMessage routes one already-legality-checked message to its
// handler, handling the unknown-type branch and counter bookkeeping.
// Returns false when the handler returned an error, as a stop signal to
// abandon the PDU without further processing; it does not itself call
// Shutdown, and handlers are trusted to call Shutdown/Close themselves.
func (c *Core) dispatchMessage(conn *TCPConn, nbr Neighbor, hdr MessageHeader, msgType MessageType, payload []byte) bool {
	if _, known := msgTypeNames[msgType]; !known {
		c.metrics.IncUnknownMsg()
		if !hdr.Unknown() {
			if c.notifier != nil {
				_ = c.notifier.SendNotification(conn, StatusUnknownMsg, hdr.ID, msgType)
			}
		}
		return true
	}

	if c.handlers == nil {
		return true
	}

	var err error
	switch msgType {
	case MsgTypeInit:
		err = c.handlers.RecvInit(nbr, hdr, payload)
	case MsgTypeKeepalive:
		err = c.handlers.RecvKeepalive(nbr, hdr, payload)
	case MsgTypeCapability:
		err = c.handlers.RecvCapability(nbr, hdr, payload)
	case MsgTypeAddr, MsgTypeAddrWithdraw:
		err = c.handlers.RecvAddress(nbr, hdr, payload)
	case MsgTypeLabelMapping, MsgTypeLabelRequest, MsgTypeLabelWithdraw, MsgTypeLabelRelease, MsgTypeLabelAbortReq:
		err = c.handlers.RecvLabelMessage(nbr, hdr, payload, msgType)
	case MsgTypeNotification:
		err = c.handlers.RecvNotification(nbr, hdr, payload)
	}

	if err != nil {
		c.logger.Debug("handler returned error, abandoning PDU",
			slog.String("msg_type", msgType.String()),
			slog.String("error", err.Error()),
		)
		return false
	}

	c.metrics.IncMessageReceived(msgType)
	return true
}
