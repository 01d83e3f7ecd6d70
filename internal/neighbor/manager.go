// Package neighbor implements the external neighbor FSM collaborator that
// internal/ldp's packet-I/O core is deliberately built without: Hello/Init/
// Keepalive/Capability/Address/Label* message content, and the full
// neighbor lifecycle those messages drive. internal/ldp only gates which
// message types are legal in which
// state and fires the external FSM's events; this package owns the state
// itself, the interface/auth tables the packet core consults, and a minimal
// wire encoding of the handful of session message bodies a working daemon
// must be able to send (its own Initialization, Keepalive, and
// Notification). It does not build Hello messages.
//
// This is intentionally a thin implementation: label bindings, capability
// negotiation beyond the bare minimum to reach NbrStateOper, and address-list
// tracking are out of scope per the same boundary. What it does implement is
// enough to drive a real neighbor through PRESENT -> INITIAL -> OPENREC ->
// OPER and back down again, so the daemon entrypoint (cmd/ldpd) has a
// concrete ldp.NeighborTable/ldp.InterfaceTable/ldp.MessageHandlers/
// ldp.AuthPolicy/ldp.NotificationSender to wire the packet core against.
package neighbor

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"github.com/soumyar-roy/ldpd-go/internal/config"
	"github.com/soumyar-roy/ldpd-go/internal/ldp"
	"github.com/soumyar-roy/ldpd-go/internal/server"
)

// -------------------------------------------------------------------------
// Manager
// -------------------------------------------------------------------------

// Manager owns every neighbor's FSM state, the configured interface table,
// and the per-neighbor authentication policy, and implements every
// collaborator interface internal/ldp's Core consumes. Exactly one Manager
// exists per daemon process, paired one-to-one with one ldp.Core.
type Manager struct {
	core    *ldp.Core
	lsrID   uint32
	session config.SessionDefaults
	logger  *slog.Logger

	mu        sync.Mutex
	byID      map[uint32]*entry
	byAddr    map[addrKey]uint32
	ifaces    map[int]*ifaceEntry
	ifaceName map[string]*ifaceEntry
	auth      map[netip.Addr]config.AuthConfig

	stateChanges chan ldp.StateChange
}

type addrKey struct {
	af   ldp.AddressFamily
	addr netip.Addr
}

// NewManager builds a Manager from the daemon's loaded configuration. It
// resolves configured interface names to kernel indexes via
// net.InterfaceByName, skipping (with a warning) any interface not present
// on this host. The returned Manager has no Core attached yet — callers
// must call BindCore once the Core that will dispatch into this Manager's
// handlers has been constructed (see BindCore).
func NewManager(cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	lsrID, err := cfg.LSRIDUint32()
	if err != nil {
		return nil, fmt.Errorf("neighbor manager: %w", err)
	}

	logger = logger.With(slog.String("component", "neighbor.manager"))

	m := &Manager{
		lsrID:        lsrID,
		session:      cfg.Session,
		logger:       logger,
		byID:         make(map[uint32]*entry),
		byAddr:       make(map[addrKey]uint32),
		ifaces:       make(map[int]*ifaceEntry),
		ifaceName:    make(map[string]*ifaceEntry),
		auth:         make(map[netip.Addr]config.AuthConfig, len(cfg.Auth)),
		stateChanges: make(chan ldp.StateChange, 64),
	}

	for _, ic := range cfg.Interfaces {
		ifi, err := net.InterfaceByName(ic.Name)
		if err != nil {
			logger.Warn("configured interface not found on this host, skipping",
				slog.String("interface", ic.Name), slog.String("error", err.Error()))
			continue
		}
		ie := &ifaceEntry{name: ic.Name, index: ifi.Index, ipv4: ic.IPv4Enabled, ipv6: ic.IPv6Enabled}
		m.ifaces[ifi.Index] = ie
		m.ifaceName[ic.Name] = ie
	}

	for _, ac := range cfg.Auth {
		addr, err := ac.NeighborAddr()
		if err != nil {
			// Already validated by config.Validate before this point;
			// defensive only.
			continue
		}
		m.auth[addr] = ac
	}

	return m, nil
}

// BindCore attaches the Core this Manager's handlers are wired into. Core
// and Manager are mutually referential (Core dispatches into Manager as its
// ldp.MessageHandlers/ldp.AuthPolicy/ldp.NotificationSender, while Manager
// calls back into Core to promote pending connections and drain sessions)
// but ldp.CoreOptions can only be supplied at ldp.NewCore's call site, so
// the cycle is broken by constructing the Manager first and binding its
// Core once that Core exists: cfg := ...; mgr, _ := NewManager(cfg, logger);
// core := ldp.NewCore(logger, ldp.WithHandlers(mgr), ...); mgr.BindCore(core).
// Must be called exactly once, before core is used to serve any session.
func (m *Manager) BindCore(core *ldp.Core) {
	m.core = core
}

// StateChanges returns the channel neighbor operational-state transitions
// are published to, in both directions (unlike ldp.Core.StateChanges, which
// only ever reports the teardown/down direction since Core's own channel is
// fed exclusively from CloseSession). internal/labelbridge reads this
// channel, not Core's.
func (m *Manager) StateChanges() <-chan ldp.StateChange {
	return m.stateChanges
}

// DrainAll shuts every known neighbor down with the given status, for
// graceful daemon shutdown: every attached session
// sends a Notification carrying status before its connection closes.
func (m *Manager) DrainAll(status ldp.StatusCode) {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.byID))
	for _, e := range m.byID {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		m.core.Shutdown(e, status, 0, 0)
	}
}

// Interfaces returns every interface this Manager resolved at construction,
// for the daemon entrypoint to build discovery listeners against.
func (m *Manager) Interfaces() []ResolvedInterface {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ResolvedInterface, 0, len(m.ifaces))
	for _, ie := range m.ifaces {
		out = append(out, ResolvedInterface{Name: ie.name, Index: ie.index, IPv4: ie.ipv4, IPv6: ie.ipv6})
	}
	return out
}

// ResolvedInterface is a configured interface after its kernel index has
// been resolved.
type ResolvedInterface struct {
	Name  string
	Index int
	IPv4  bool
	IPv6  bool
}

// publish sends a state-change notification, dropping it under backpressure
// like ldp.Core's own channel does.
func (m *Manager) publish(id uint32, oldState, newState ldp.NeighborState) {
	select {
	case m.stateChanges <- ldp.StateChange{NeighborID: id, OldState: oldState, NewState: newState}:
	default:
		m.logger.Warn("state change channel full, dropping notification",
			slog.Uint64("neighbor_id", uint64(id)),
			slog.String("old_state", oldState.String()),
			slog.String("new_state", newState.String()),
		)
	}
}

// -------------------------------------------------------------------------
// ldp.NeighborTable
// -------------------------------------------------------------------------

// FindByAddr implements ldp.NeighborTable.
func (m *Manager) FindByAddr(af ldp.AddressFamily, addr netip.Addr) (ldp.Neighbor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byAddr[addrKey{af: af, addr: addr}]
	if !ok {
		return nil, false
	}
	e, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return e, true
}

// NeighborAddr implements internal/labelbridge.AddressResolver.
func (m *Manager) NeighborAddr(id uint32) (netip.Addr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return netip.Addr{}, false
	}
	return e.address, true
}

// -------------------------------------------------------------------------
// server.NeighborSource
// -------------------------------------------------------------------------

// ListNeighbors implements server.NeighborSource.
func (m *Manager) ListNeighbors() []server.NeighborSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]server.NeighborSnapshot, 0, len(m.byID))
	for _, e := range m.byID {
		out = append(out, e.snapshot())
	}
	return out
}

// FindNeighbor implements server.NeighborSource.
func (m *Manager) FindNeighbor(addr netip.Addr) (server.NeighborSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	af := ldp.AddressFamilyOf(addr)
	id, ok := m.byAddr[addrKey{af: af, addr: addr}]
	if !ok {
		return server.NeighborSnapshot{}, false
	}
	e, ok := m.byID[id]
	if !ok {
		return server.NeighborSnapshot{}, false
	}
	return e.snapshot(), true
}

// -------------------------------------------------------------------------
// ldp.InterfaceTable
// -------------------------------------------------------------------------

type ifaceEntry struct {
	name  string
	index int
	ipv4  bool
	ipv6  bool
}

func (i *ifaceEntry) Name() string { return i.name }
func (i *ifaceEntry) Index() int   { return i.index }
func (i *ifaceEntry) AddressFamilyEnabled(af ldp.AddressFamily) bool {
	if af == ldp.AddressFamilyIPv4 {
		return i.ipv4
	}
	return i.ipv6
}

// FindByIndex implements ldp.InterfaceTable.
func (m *Manager) FindByIndex(ifIndex int) (ldp.Interface, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ie, ok := m.ifaces[ifIndex]
	if !ok {
		return nil, false
	}
	return ie, true
}
