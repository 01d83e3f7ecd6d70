package ldp

import (
	"net"
	"net/netip"
	"sync"
	"time"
)

// PendingConnTimeout is the default time a pending connection waits for a
// matching Hello before being promoted to a detached "No Hello"
// notification-and-close.
const PendingConnTimeout = 5 * time.Second

type pendingKey struct {
	af   AddressFamily
	addr netip.Addr
}

// pendingConn is an accepted TCP socket held briefly while waiting for the
// discovery side to produce a matching adjacency.
type pendingConn struct {
	key   pendingKey
	rawFD net.Conn
	timer *time.Timer
}

// pendingTimeoutOption is returned by PendingConnTimeoutOption and
// accepted by WithPendingConnTimeout, to keep Core's functional-options
// surface uniform; see core.go.
type pendingTimeoutOption func(*pendingTable)

// PendingConnTimeoutOption overrides the pending-connection timeout used
// for entries created after this call.
func PendingConnTimeoutOption(d time.Duration) pendingTimeoutOption {
	return func(t *pendingTable) { t.timeout = d }
}

// pendingTable holds at most one entry per (family, address).
type pendingTable struct {
	mu      sync.Mutex
	entries map[pendingKey]*pendingConn
	timeout time.Duration
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		entries: make(map[pendingKey]*pendingConn),
		timeout: PendingConnTimeout,
	}
}

// find looks up an existing pending connection for (af, addr).
func (t *pendingTable) find(af AddressFamily, addr netip.Addr) (*pendingConn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc, ok := t.entries[pendingKey{af: af, addr: addr}]
	return pc, ok
}

// create registers a new pending connection and arms its timeout timer.
// onTimeout is invoked (on its own goroutine, per time.AfterFunc) if no
// Hello promotes the entry before the timer fires; it receives the
// pendingConn so the caller can build a detached TCPConn from its fd.
func (t *pendingTable) create(af AddressFamily, addr netip.Addr, conn net.Conn, onTimeout func(*pendingConn)) *pendingConn {
	key := pendingKey{af: af, addr: addr}
	pc := &pendingConn{key: key, rawFD: conn}

	t.mu.Lock()
	t.entries[key] = pc
	timeout := t.timeout
	t.mu.Unlock()

	pc.timer = time.AfterFunc(timeout, func() {
		if _, stillPresent := t.delete(key); stillPresent {
			onTimeout(pc)
		}
	})
	return pc
}

// delete removes and returns a pending connection by key, cancelling its
// timer. Returns ok=false if no entry existed (already promoted or
// already timed out).
func (t *pendingTable) delete(key pendingKey) (*pendingConn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc, ok := t.entries[key]
	if !ok {
		return nil, false
	}
	delete(t.entries, key)
	pc.timer.Stop()
	return pc, true
}

// promote removes a pending connection by (af, addr) ahead of its timeout,
// for the case where a matching Hello arrives in time.
func (t *pendingTable) promote(af AddressFamily, addr netip.Addr) (*pendingConn, bool) {
	return t.delete(pendingKey{af: af, addr: addr})
}

// size returns the current number of pending entries, for metrics.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// snapshot returns the (family, address) key of every currently pending
// connection, for introspection.
func (t *pendingTable) snapshot() []pendingKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]pendingKey, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	return keys
}

// closeAll cancels every pending entry's timer and closes its raw fd,
// used during process shutdown.
func (t *pendingTable) closeAll() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[pendingKey]*pendingConn)
	t.mu.Unlock()

	for _, pc := range entries {
		pc.timer.Stop()
		_ = pc.rawFD.Close()
	}
}
