package ldp_test

import (
	"errors"
	"testing"

	"github.com/soumyar-roy/ldpd-go/internal/ldp"
)

func TestEncodeDecodePDUHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	buf := make([]byte, ldp.HdrSize)
	if err := ldp.EncodePDUHeader(buf, 0x0a000001, ldp.HdrSize+4); err != nil {
		t.Fatalf("EncodePDUHeader() error: %v", err)
	}

	hdr, err := ldp.DecodePDUHeader(buf)
	if err != nil {
		t.Fatalf("DecodePDUHeader() error: %v", err)
	}
	if hdr.Version != ldp.Version {
		t.Errorf("Version = %d, want %d", hdr.Version, ldp.Version)
	}
	if hdr.Length != 10 {
		t.Errorf("Length = %d, want 10 (total minus the 4 dead-length bytes)", hdr.Length)
	}
	if hdr.LSRID != 0x0a000001 {
		t.Errorf("LSRID = %#x, want 0x0a000001", hdr.LSRID)
	}
	if hdr.LabelSpace != 0 {
		t.Errorf("LabelSpace = %d, want 0", hdr.LabelSpace)
	}
}

func TestEncodePDUHeaderBufTooSmall(t *testing.T) {
	t.Parallel()

	err := ldp.EncodePDUHeader(make([]byte, ldp.HdrSize-1), 1, ldp.HdrSize)
	if !errors.Is(err, ldp.ErrBufTooSmall) {
		t.Errorf("error = %v, want ErrBufTooSmall", err)
	}
}

func TestDecodePDUHeaderTooShort(t *testing.T) {
	t.Parallel()

	_, err := ldp.DecodePDUHeader(make([]byte, ldp.HdrSize-1))
	if !errors.Is(err, ldp.ErrHdrTooShort) {
		t.Errorf("error = %v, want ErrHdrTooShort", err)
	}
}

func TestEncodeMessageHeaderAssignsIncreasingIDs(t *testing.T) {
	t.Parallel()

	buf := make([]byte, ldp.MsgHdrSize)
	if err := ldp.EncodeMessageHeader(buf, ldp.MsgTypeKeepalive, ldp.MsgHdrSize); err != nil {
		t.Fatalf("EncodeMessageHeader() error: %v", err)
	}
	first, err := ldp.DecodeMessageHeader(buf)
	if err != nil {
		t.Fatalf("DecodeMessageHeader() error: %v", err)
	}
	if first.Type() != ldp.MsgTypeKeepalive {
		t.Errorf("Type() = %v, want Keepalive", first.Type())
	}
	if first.Length != 4 {
		t.Errorf("Length = %d, want 4", first.Length)
	}

	if err := ldp.EncodeMessageHeader(buf, ldp.MsgTypeKeepalive, ldp.MsgHdrSize); err != nil {
		t.Fatalf("EncodeMessageHeader() error: %v", err)
	}
	second, err := ldp.DecodeMessageHeader(buf)
	if err != nil {
		t.Fatalf("DecodeMessageHeader() error: %v", err)
	}
	if second.ID <= first.ID {
		t.Errorf("second ID = %d, want greater than first ID %d", second.ID, first.ID)
	}
}

func TestMessageHeaderUnknownFlag(t *testing.T) {
	t.Parallel()

	hdr := ldp.MessageHeader{RawType: uint16(ldp.MsgTypeCapability) | ldp.UnknownFlag}
	if !hdr.Unknown() {
		t.Error("Unknown() = false, want true when the U bit is set")
	}
	if hdr.Type() != ldp.MsgTypeCapability {
		t.Errorf("Type() = %v, want Capability (U bit masked off)", hdr.Type())
	}

	plain := ldp.MessageHeader{RawType: uint16(ldp.MsgTypeCapability)}
	if plain.Unknown() {
		t.Error("Unknown() = true, want false when the U bit is clear")
	}
}

func TestValidateSessionHeaderRejectsBadVersion(t *testing.T) {
	t.Parallel()

	hdr := ldp.PDUHeader{Version: 2, Length: 10}
	err := ldp.ValidateSessionHeader(hdr, ldp.MaxPDULen)
	if !errors.Is(err, ldp.ErrBadVersion) {
		t.Errorf("error = %v, want ErrBadVersion", err)
	}
}

func TestValidateSessionHeaderRejectsLengthAboveNegotiatedMax(t *testing.T) {
	t.Parallel()

	hdr := ldp.PDUHeader{Version: ldp.Version, Length: 1501}
	if err := ldp.ValidateSessionHeader(hdr, 1500); !errors.Is(err, ldp.ErrBadPDULen) {
		t.Errorf("error = %v, want ErrBadPDULen", err)
	}
	// Exactly at the negotiated max is legal.
	hdr.Length = 1500
	if err := ldp.ValidateSessionHeader(hdr, 1500); err != nil {
		t.Errorf("error = %v, want nil at exactly the negotiated max", err)
	}
}

func TestValidateSessionHeaderRejectsLengthBelowMinimum(t *testing.T) {
	t.Parallel()

	hdr := ldp.PDUHeader{Version: ldp.Version, Length: 9}
	if err := ldp.ValidateSessionHeader(hdr, ldp.MaxPDULen); !errors.Is(err, ldp.ErrBadPDULen) {
		t.Errorf("error = %v, want ErrBadPDULen", err)
	}
}

func TestValidateDiscoveryHeaderBoundsRelativeToDatagram(t *testing.T) {
	t.Parallel()

	hdr := ldp.PDUHeader{Version: ldp.Version, Length: 20}
	// datagramLen too small to hold the claimed PDU length.
	if err := ldp.ValidateDiscoveryHeader(hdr, 20); !errors.Is(err, ldp.ErrBadPDULen) {
		t.Errorf("error = %v, want ErrBadPDULen", err)
	}
	// datagramLen exactly matching Length+hdrDeadLen is legal.
	if err := ldp.ValidateDiscoveryHeader(hdr, 24); err != nil {
		t.Errorf("error = %v, want nil", err)
	}
}

func TestValidateDiscoveryHeaderRejectsNonzeroLabelSpace(t *testing.T) {
	t.Parallel()

	hdr := ldp.PDUHeader{Version: ldp.Version, Length: 20, LabelSpace: 1}
	if err := ldp.ValidateDiscoveryHeader(hdr, 24); !errors.Is(err, ldp.ErrBadLabelSpace) {
		t.Errorf("error = %v, want ErrBadLabelSpace", err)
	}
}

func TestValidateMessageLengthBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		msgLen        uint16
		remainingPDU  uint16
		wantErr       error
	}{
		{"below minimum", 5, 100, ldp.ErrBadMsgLen},
		{"exceeds remaining PDU", 100, 50, ldp.ErrBadMsgLen},
		{"exactly at minimum", 6, 100, nil},
		{"exactly fills remaining PDU", 96, 100, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ldp.ValidateMessageLength(tt.msgLen, tt.remainingPDU)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageTypeStringUnknownFallback(t *testing.T) {
	t.Parallel()

	if got := ldp.MessageType(0x7fff).String(); got != "Unknown(0x7fff)" {
		t.Errorf("String() = %q, want numeric fallback", got)
	}
	if got := ldp.MsgTypeHello.String(); got != "Hello" {
		t.Errorf("String() = %q, want %q", got, "Hello")
	}
}

func TestPacketPoolReturnsScratchSizedBuffers(t *testing.T) {
	t.Parallel()

	v := ldp.PacketPool.Get()
	buf, ok := v.(*[]byte)
	if !ok {
		t.Fatalf("PacketPool.Get() type = %T, want *[]byte", v)
	}
	if len(*buf) != ldp.ScratchBufSize {
		t.Errorf("len(*buf) = %d, want %d", len(*buf), ldp.ScratchBufSize)
	}
	ldp.PacketPool.Put(buf)
}
