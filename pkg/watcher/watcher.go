// Package watcher implements the two traffic-accounting actors: the client
// side watches a single upstream exit tunnel, the exit side watches every
// connected client. Both compose a routing-daemon client and a kernel
// counter reader into per-round debt deltas pushed to the DebtKeeper
// (spec.md §4.3, §4.4).
package watcher

import (
	"net"
	"time"

	"github.com/althea-mesh/tollwatch/pkg/babel"
	"github.com/althea-mesh/tollwatch/pkg/identity"
)

// RoutingClient is the subset of *babel.Client a watcher round needs. A
// narrow local interface keeps watcher tests independent of net.Pipe/TCP
// machinery; *babel.Client satisfies it as-is.
type RoutingClient interface {
	StartConnection() error
	ParseRoutes() ([]babel.Route, error)
	GetLocalFee() (uint32, error)
	Close() error
}

// Dialer opens a fresh routing-daemon connection for one round. Watchers
// never reuse connections across rounds (spec.md §4.2).
type Dialer func() (RoutingClient, error)

// CounterReader is the subset of *kernel.KI a watcher round needs.
type CounterReader interface {
	ReadWGCounters(iface string) (map[identity.WgKey]identity.WgUsage, error)
}

// ExitKernel is the subset of *kernel.KI the exit watcher needs: counter
// reads plus the tunnel/NAT bring-up and diagnostic calls its original made
// at service start and at the end of each round
// (original_source/rita/src/rita_exit/traffic_watcher/mod.rs's
// service_started and get_wg_exit_clients_online).
type ExitKernel interface {
	CounterReader
	SetupWGIfNamed(iface string) error
	SetupNAT(externalNIC string) error
	GetWGExitClientsOnline() (int, error)
}

// RTTProbe queries an exit's /rtt endpoint. Only exitRx/exitTx come from the
// exit; the caller samples its own clientTx/clientRx around the call.
type RTTProbe interface {
	Probe(exitMeshIP net.IP, registrationPort uint16) (exitRx, exitTx time.Time, err error)
}

const wgExitInterface = "wg_exit"
