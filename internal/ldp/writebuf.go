package ldp

import (
	"errors"
	"fmt"
	"io"
)

// ErrWriteBufferClosed indicates an Enqueue after the connection's write
// side has already been closed.
var ErrWriteBufferClosed = errors.New("write buffer closed")

// chunk is one owned byte slice awaiting transmission, with a cursor
// marking how much of it has already been written to the socket.
type chunk struct {
	data []byte
	off  int
}

func (c *chunk) remaining() []byte {
	return c.data[c.off:]
}

// WriteBuffer is a per-connection FIFO of owned byte chunks. Flush writes
// the chunks in order, one write call per chunk, and stops at the first
// partial write; a partial write advances the head chunk's cursor rather
// than requeuing a new chunk. The buffer tracks whether it is non-empty so the
// owning connection can decide whether its writable-event registration
// should be armed — that invariant (armed iff non-empty) is enforced by
// the caller, not this type, since arming is a socket-level operation this
// package does not perform directly.
type WriteBuffer struct {
	queue  []chunk
	closed bool
}

// NewWriteBuffer returns an empty WriteBuffer.
func NewWriteBuffer() *WriteBuffer {
	return &WriteBuffer{}
}

// Enqueue appends bytes to the tail of the queue. The caller must not
// mutate b afterward; WriteBuffer takes ownership.
func (w *WriteBuffer) Enqueue(b []byte) error {
	if w.closed {
		return ErrWriteBufferClosed
	}
	if len(b) == 0 {
		return nil
	}
	w.queue = append(w.queue, chunk{data: b})
	return nil
}

// Empty reports whether the queue currently holds no unwritten bytes.
func (w *WriteBuffer) Empty() bool {
	return len(w.queue) == 0
}

// Flush writes the queued chunks in order, one wr.Write call per chunk,
// and returns at the first write error or partial write, leaving the
// unwritten remainder queued. wr is expected to be a non-blocking writer
// (a TCP connection running inside the owning goroutine's single-select
// loop); Flush itself adds no blocking of its own.
//
// Flush returns done=true once the queue is fully drained.
func (w *WriteBuffer) Flush(wr io.Writer) (done bool, err error) {
	for len(w.queue) > 0 {
		head := &w.queue[0]
		n, werr := wr.Write(head.remaining())
		if n > 0 {
			head.off += n
		}
		if werr != nil {
			return false, fmt.Errorf("flush write buffer: %w", werr)
		}
		if head.off < len(head.data) {
			// Partial write: kernel accepted fewer bytes than offered.
			// Caller re-arms the writable-event registration and retries
			// on the next readiness notification.
			return false, nil
		}
		w.queue = w.queue[1:]
	}
	return true, nil
}

// Close marks the buffer closed; further Enqueue calls fail.
func (w *WriteBuffer) Close() {
	w.closed = true
}
