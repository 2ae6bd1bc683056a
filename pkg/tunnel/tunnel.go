// Package tunnel holds the TunnelManager's message surface: reserving a
// WireGuard listen port for an in-flight peer handshake, and the two
// callbacks that must resolve it exactly once (spec.md §6, §7 "port-leak
// guard", §8 property 6). Everything else a real TunnelManager would do
// (bringing up interfaces, writing WireGuard config) is out of scope here;
// see pkg/kernel for that side of the system.
package tunnel

import (
	"log"
	"sync"

	"go.uber.org/atomic"

	"github.com/althea-mesh/tollwatch/pkg/identity"
)

// Manager tracks WireGuard ports reserved for in-flight peer handshakes.
// Mutex-guarded, mirroring the teacher's PeerStore rather than an actor,
// since reservation bookkeeping has no per-round semantics to serialize.
type Manager struct {
	mu       sync.Mutex
	reserved map[uint16]struct{}
	leaseSeq atomic.Int64 // monotonic id assigned to each reservation, for log correlation
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{reserved: make(map[uint16]struct{})}
}

// Reserve claims a WireGuard listen port for an in-flight hello handshake.
// Returns false if the port is already reserved.
func (m *Manager) Reserve(port uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reserved[port]; ok {
		return false
	}
	m.reserved[port] = struct{}{}
	lease := m.leaseSeq.Add(1)
	log.Printf("[TunnelManager] reserved port %d (lease %d)", port, lease)
	return true
}

// PortCallback releases a reserved port after a failed handshake. Every
// failure branch of the hello path must call this exactly once for the
// port it reserved (spec.md §7).
func (m *Manager) PortCallback(port uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reserved[port]; !ok {
		log.Printf("[TunnelManager] PortCallback for port %d that was never reserved (or already released)", port)
		return
	}
	delete(m.reserved, port)
}

// IdentityCallback commits a successful handshake: the port stays reserved
// (a tunnel now uses it) and the resolved peer identity is logged.
func (m *Manager) IdentityCallback(peerIdentity identity.Identity, peerAddr string, wgPort uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reserved[wgPort]; !ok {
		log.Printf("[TunnelManager] IdentityCallback for port %d that was never reserved", wgPort)
	}
	log.Printf("[TunnelManager] established tunnel to %s at %s on port %d", peerIdentity.Key(), peerAddr, wgPort)
}

// IsReserved reports whether port is currently held. Exposed for tests that
// verify the port-leak-guard property end to end.
func (m *Manager) IsReserved(port uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.reserved[port]
	return ok
}
