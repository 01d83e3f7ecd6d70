package ldp_test

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/soumyar-roy/ldpd-go/internal/ldp"
)

// fakeNeighbor is a minimal ldp.Neighbor, mirroring internal/neighbor's own
// FSM-reset-on-close behavior closely enough to exercise Core's dispatch and
// shutdown paths end to end over a real net.Conn pair.
type fakeNeighbor struct {
	id uint32

	core *ldp.Core

	mu         sync.Mutex
	state      ldp.NeighborState
	tcp        *ldp.TCPConn
	maxPDULen  uint16
	activeRole bool
	events     []ldp.FSMEvent
}

func newFakeNeighbor(id uint32, state ldp.NeighborState) *fakeNeighbor {
	return &fakeNeighbor{id: id, state: state}
}

func (n *fakeNeighbor) ID() uint32 { return n.id }

func (n *fakeNeighbor) SessionActiveRole() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.activeRole
}

func (n *fakeNeighbor) State() ldp.NeighborState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *fakeNeighbor) SetTCP(conn *ldp.TCPConn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tcp = conn
	n.activeRole = conn != nil
}

func (n *fakeNeighbor) TCP() *ldp.TCPConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tcp
}

func (n *fakeNeighbor) MaxPDULen() uint16 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.maxPDULen == 0 {
		return ldp.MaxPDULen
	}
	return n.maxPDULen
}

// FSM mirrors internal/neighbor's entry.FSM closely enough for dispatcher
// tests: CLOSE_SESSION resets to PRESENT and, like the real FSM, reports the
// transition through Core.CloseSession (which closes the TCP connection).
func (n *fakeNeighbor) FSM(event ldp.FSMEvent) {
	n.mu.Lock()
	n.events = append(n.events, event)
	old := n.state
	if event == ldp.FSMEventCloseSession {
		n.state = ldp.NbrStatePresent
	}
	n.mu.Unlock()

	if event == ldp.FSMEventCloseSession && old != ldp.NbrStatePresent && n.core != nil {
		n.core.CloseSession(n, old, ldp.NbrStatePresent)
	}
}

func (n *fakeNeighbor) firedEvent(event ldp.FSMEvent) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

// fakeHandlers records every call it receives and lets tests force an error
// return from any single handler.
type fakeHandlers struct {
	mu         sync.Mutex
	keepalives int
	inits      int
	failInit   error
}

func (h *fakeHandlers) RecvHello(uint32, ldp.MessageHeader, ldp.AddressFamily, netip.Addr, ldp.Interface, bool, []byte) error {
	return nil
}

func (h *fakeHandlers) RecvInit(nbr ldp.Neighbor, hdr ldp.MessageHeader, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inits++
	return h.failInit
}

func (h *fakeHandlers) RecvKeepalive(nbr ldp.Neighbor, hdr ldp.MessageHeader, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.keepalives++
	return nil
}

func (h *fakeHandlers) RecvCapability(ldp.Neighbor, ldp.MessageHeader, []byte) error { return nil }
func (h *fakeHandlers) RecvAddress(ldp.Neighbor, ldp.MessageHeader, []byte) error    { return nil }
func (h *fakeHandlers) RecvLabelMessage(ldp.Neighbor, ldp.MessageHeader, []byte, ldp.MessageType) error {
	return nil
}
func (h *fakeHandlers) RecvNotification(ldp.Neighbor, ldp.MessageHeader, []byte) error { return nil }

func (h *fakeHandlers) keepaliveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.keepalives
}

// readNotificationStatus reads one PDU off conn and returns the Status TLV's
// code, for asserting what Shutdown sent before closing.
func readNotificationStatus(t *testing.T, conn net.Conn) ldp.StatusCode {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	data := buf[:n]
	if len(data) < ldp.HdrSize+ldp.MsgHdrSize+8 {
		t.Fatalf("short read, got %d bytes", len(data))
	}
	msgHdr, err := ldp.DecodeMessageHeader(data[ldp.HdrSize:])
	if err != nil {
		t.Fatalf("DecodeMessageHeader() error: %v", err)
	}
	if msgHdr.Type() != ldp.MsgTypeNotification {
		t.Fatalf("message type = %v, want Notification", msgHdr.Type())
	}
	tlv := data[ldp.HdrSize+ldp.MsgHdrSize:]
	status := ldp.StatusCode(uint32(tlv[4])<<24 | uint32(tlv[5])<<16 | uint32(tlv[6])<<8 | uint32(tlv[7]))
	return status
}

func newServedSession(t *testing.T, core *ldp.Core, nbr *fakeNeighbor) (serverTCP *ldp.TCPConn, peer net.Conn) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close() })

	tcp := ldp.NewTCPConn(serverConn, nbr, core, discardLogger())
	nbr.SetTCP(tcp)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	core.ServeSession(ctx, tcp)
	return tcp, clientConn
}

// buildKeepaliveFor builds a Keepalive message padded to the minimum legal
// message length (6 bytes: the 4-byte ID plus 2 bytes of padding) — a bare
// Keepalive with no trailing bytes falls below ValidateMessageLength's
// minimum and would itself be rejected before ever reaching a handler.
func buildKeepaliveFor(lsrID uint32) []byte {
	const pad = 2
	total := ldp.HdrSize + ldp.MsgHdrSize + pad
	buf := make([]byte, total)
	_ = ldp.EncodePDUHeader(buf, lsrID, total)
	_ = ldp.EncodeMessageHeader(buf[ldp.HdrSize:], ldp.MsgTypeKeepalive, total-ldp.HdrSize)
	return buf
}

func TestDispatchLegalMessageReachesHandler(t *testing.T) {
	t.Parallel()

	handlers := &fakeHandlers{}
	core := ldp.NewCore(discardLogger(), ldp.WithHandlers(handlers))
	nbr := newFakeNeighbor(0x0a000001, ldp.NbrStateOper)
	nbr.core = core

	_, peer := newServedSession(t, core, nbr)

	if _, err := peer.Write(buildKeepaliveFor(nbr.ID())); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if handlers.keepaliveCount() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("keepalive count = %d, want 1", handlers.keepaliveCount())
}

func TestDispatchIllegalStateTriggersShutdown(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	handlers := &fakeHandlers{}
	core := ldp.NewCore(discardLogger(), ldp.WithHandlers(handlers), ldp.WithNotificationSender(notifier))
	// Keepalive is illegal in OPENSENT (see legalStates): PRESENT, OPENREC,
	// OPER are the only legal states for it.
	nbr := newFakeNeighbor(0x0a000002, ldp.NbrStateOpenSent)
	nbr.core = core

	_, peer := newServedSession(t, core, nbr)

	if _, err := peer.Write(buildKeepaliveFor(nbr.ID())); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	status := readNotificationStatus(t, peer)
	if status != ldp.StatusShutdown {
		t.Errorf("status = %#x, want StatusShutdown", status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if nbr.firedEvent(ldp.FSMEventCloseSession) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("FSMEventCloseSession never fired after an illegal-state message")
}

func TestDispatchBadLSRIDTriggersShutdown(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	core := ldp.NewCore(discardLogger(), ldp.WithHandlers(&fakeHandlers{}), ldp.WithNotificationSender(notifier))
	nbr := newFakeNeighbor(0x0a000003, ldp.NbrStateOper)
	nbr.core = core

	_, peer := newServedSession(t, core, nbr)

	// Mismatched LSR-Id in the PDU header vs. the neighbor's own ID.
	if _, err := peer.Write(buildKeepaliveFor(0xffffffff)); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	status := readNotificationStatus(t, peer)
	if status != ldp.StatusBadLDPID {
		t.Errorf("status = %#x, want StatusBadLDPID", status)
	}
}

func TestDispatchUnknownMessageTypeWithoutUBitNotifies(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	core := ldp.NewCore(discardLogger(), ldp.WithHandlers(&fakeHandlers{}), ldp.WithNotificationSender(notifier))
	nbr := newFakeNeighbor(0x0a000004, ldp.NbrStateOper)
	nbr.core = core

	_, peer := newServedSession(t, core, nbr)

	const unknownType = ldp.MessageType(0x7e00)
	const pad = 2
	total := ldp.HdrSize + ldp.MsgHdrSize + pad
	pdu := make([]byte, total)
	_ = ldp.EncodePDUHeader(pdu, nbr.ID(), total)
	_ = ldp.EncodeMessageHeader(pdu[ldp.HdrSize:], unknownType, total-ldp.HdrSize)

	if _, err := peer.Write(pdu); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		notifier.mu.Lock()
		n := len(notifier.calls)
		notifier.mu.Unlock()
		if n == 1 {
			if notifier.calls[0].status != ldp.StatusUnknownMsg {
				t.Errorf("status = %#x, want StatusUnknownMsg", notifier.calls[0].status)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no SendNotification call observed for an unknown message type without the U bit")
}

func TestDispatchUnknownMessageTypeWithUBitIsSilentlyIgnored(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	handlers := &fakeHandlers{}
	core := ldp.NewCore(discardLogger(), ldp.WithHandlers(handlers), ldp.WithNotificationSender(notifier))
	nbr := newFakeNeighbor(0x0a000005, ldp.NbrStateOper)
	nbr.core = core

	_, peer := newServedSession(t, core, nbr)

	const unknownType = uint16(0x7e00) | ldp.UnknownFlag
	const pad = 2
	total := ldp.HdrSize + ldp.MsgHdrSize + pad
	pdu := make([]byte, total)
	_ = ldp.EncodePDUHeader(pdu, nbr.ID(), total)
	msgLen := total - ldp.HdrSize - 4
	hdrBytes := pdu[ldp.HdrSize:]
	hdrBytes[0] = byte(unknownType >> 8)
	hdrBytes[1] = byte(unknownType & 0xff)
	hdrBytes[2] = byte(msgLen >> 8)
	hdrBytes[3] = byte(msgLen)

	if _, err := peer.Write(pdu); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	// Follow with a legal Keepalive; if the unknown-with-U-bit message had
	// wedged the stream or triggered a Shutdown, this would never arrive.
	if _, err := peer.Write(buildKeepaliveFor(nbr.ID())); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if handlers.keepaliveCount() == 1 {
			notifier.mu.Lock()
			n := len(notifier.calls)
			notifier.mu.Unlock()
			if n != 0 {
				t.Errorf("SendNotification call count = %d, want 0 for a silently-ignored unknown type", n)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("keepalive after the unknown U-bit message never reached the handler")
}

func TestDispatchHandlerErrorAbandonsPDU(t *testing.T) {
	t.Parallel()

	handlers := &fakeHandlers{}
	core := ldp.NewCore(discardLogger(), ldp.WithHandlers(handlers))
	nbr := newFakeNeighbor(0x0a000006, ldp.NbrStateInitial)
	nbr.core = core

	_, peer := newServedSession(t, core, nbr)

	// Two Initialization messages in one PDU: the first handler error must
	// abandon the PDU before the second one is dispatched.
	const msgTotal = ldp.MsgHdrSize + 8
	total := ldp.HdrSize + 2*msgTotal
	pdu := make([]byte, total)
	_ = ldp.EncodePDUHeader(pdu, nbr.ID(), total)
	_ = ldp.EncodeMessageHeader(pdu[ldp.HdrSize:], ldp.MsgTypeInit, msgTotal)
	_ = ldp.EncodeMessageHeader(pdu[ldp.HdrSize+msgTotal:], ldp.MsgTypeInit, msgTotal)

	handlers.failInit = context.Canceled // any non-nil error abandons the PDU

	if _, err := peer.Write(pdu); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		handlers.mu.Lock()
		n := handlers.inits
		handlers.mu.Unlock()
		if n == 1 {
			time.Sleep(50 * time.Millisecond)
			handlers.mu.Lock()
			n = handlers.inits
			handlers.mu.Unlock()
			if n != 1 {
				t.Errorf("RecvInit call count = %d, want 1 (the second message of the abandoned PDU was dispatched)", n)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("RecvInit was never called despite a legal Initialization message")
}
