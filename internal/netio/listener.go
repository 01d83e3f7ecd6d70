package netio

import (
	"context"
	"fmt"

	"github.com/soumyar-roy/ldpd-go/internal/ldp"
)

// Listener wraps a PacketConn and provides a context-aware receive loop
// for LDP discovery datagrams, using ldp.PacketPool for zero-allocation
// scratch buffers.
type Listener struct {
	conn PacketConn
}

// NewListener wraps an existing PacketConn (e.g. one built by
// NewDiscoveryListener).
func NewListener(conn PacketConn) *Listener {
	return &Listener{conn: conn}
}

// Recv blocks until one datagram is received or ctx is cancelled. The
// returned slice is borrowed from ldp.PacketPool; the caller must call
// ReleaseBuf once done with it.
func (l *Listener) Recv(ctx context.Context) ([]byte, PacketMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, PacketMeta{}, fmt.Errorf("listener recv: %w", err)
	}

	bufp, ok := ldp.PacketPool.Get().(*[]byte)
	if !ok {
		return nil, PacketMeta{}, fmt.Errorf("listener recv: %w", ErrPoolType)
	}

	n, meta, err := l.conn.ReadPacket(*bufp)
	if err != nil {
		ldp.PacketPool.Put(bufp)
		return nil, PacketMeta{}, fmt.Errorf("listener read: %w", err)
	}

	return (*bufp)[:n], meta, nil
}

// ReleaseBuf returns a buffer obtained from Recv back to ldp.PacketPool.
// Callers must pass the buffer's backing array at its original capacity;
// since Recv always hands out *bufp re-sliced only in length, slicing it
// back to the pool's scratch size is done by the pool itself on reuse.
func ReleaseBuf(buf []byte) {
	full := buf[:cap(buf)]
	ldp.PacketPool.Put(&full)
}

// Close closes the underlying PacketConn.
func (l *Listener) Close() error {
	if err := l.conn.Close(); err != nil {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}
