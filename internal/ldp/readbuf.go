package ldp

// IbufReadSize is the fixed capacity of a per-connection read buffer.
// Sized to hold the largest pre-negotiation PDU plus headroom for a
// partial follow-on PDU accumulating behind it.
const IbufReadSize = 2 * MaxPDULen

// ReadBuffer accumulates bytes from a TCP stream and hands out complete
// PDUs once enough bytes have arrived. Bytes [0, wpos) are always a prefix
// of the peer's byte stream that has not yet been framed into a PDU.
type ReadBuffer struct {
	buf  [IbufReadSize]byte
	wpos int
}

// NewReadBuffer returns an empty ReadBuffer.
func NewReadBuffer() *ReadBuffer {
	return &ReadBuffer{}
}

// Free returns the number of bytes still available to fill via Written.
func (r *ReadBuffer) Free() int {
	return len(r.buf) - r.wpos
}

// WriteSlice returns the unused tail of the buffer, suitable as the
// destination of a single Read call.
func (r *ReadBuffer) WriteSlice() []byte {
	return r.buf[r.wpos:]
}

// Written advances the write cursor after n bytes have been copied into
// the slice previously returned by WriteSlice.
func (r *ReadBuffer) Written(n int) {
	r.wpos += n
}

// TryTakePDU extracts one complete PDU from the buffer if enough bytes
// have accumulated. It returns ok=false (with no error) if more bytes are
// needed. On success it allocates a fresh slice holding exactly the PDU's
// bytes, shifts any trailing bytes down to offset 0, and returns the PDU.
//
// This never resizes the underlying buffer and never exposes a slice whose
// backing array is shared with the buffer's own storage — the PDU returned
// to the caller is independently owned and outlives the next Read.
func (r *ReadBuffer) TryTakePDU() (pdu []byte, ok bool, err error) {
	if r.wpos < HdrSize {
		return nil, false, nil
	}

	hdr, err := DecodePDUHeader(r.buf[:r.wpos])
	if err != nil {
		return nil, false, err
	}

	needed := int(hdr.Length) + hdrDeadLen
	if needed > r.wpos {
		return nil, false, nil
	}

	out := make([]byte, needed)
	copy(out, r.buf[:needed])

	left := r.wpos - needed
	if left > 0 {
		copy(r.buf[:left], r.buf[needed:r.wpos])
	}
	r.wpos = left

	return out, true, nil
}
