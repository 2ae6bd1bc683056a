// tollwatchd runs the traffic-accounting and billing core of a mesh node:
// a client watcher on endpoint nodes, an exit watcher on gateway nodes, and
// the DebtKeeper both feed.
//
// Usage:
//
//	tollwatchd -role client -mesh-ip fd00::2 -eth-address 0x... -wg-key ... -babel-port 8080 -exit-mesh-ip fd00::1 -exit-eth-address 0x... -exit-wg-key ... -exit-price 7
//	tollwatchd -role exit -mesh-ip fd00::1 -eth-address 0x... -wg-key ... -babel-port 8080 -registration-port 4875
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/althea-mesh/tollwatch/pkg/babel"
	"github.com/althea-mesh/tollwatch/pkg/debt"
	"github.com/althea-mesh/tollwatch/pkg/hello"
	"github.com/althea-mesh/tollwatch/pkg/identity"
	"github.com/althea-mesh/tollwatch/pkg/kernel"
	otelinit "github.com/althea-mesh/tollwatch/pkg/otel"
	"github.com/althea-mesh/tollwatch/pkg/watcher"
)

// settings holds everything the daemon needs at startup. Configuration
// loading and persistence are out of scope; a real deployment wires these in
// from an external loader instead of flags.
type settings struct {
	role             string
	babelPort        uint16
	registrationPort uint16
	roundInterval    time.Duration

	exit      identity.Identity // client role only
	exitPrice uint64            // client role only

	externalNIC string // exit role only: NAT egress interface

	self identity.Identity
	// clients is the exit role's client roster, normally maintained by the
	// peer-discovery sibling (pkg/hello / the dropped lighthouse directory
	// service, both out of scope per spec.md §1). This entrypoint has no
	// loader for it, so it starts empty; a deployment wires it from
	// whatever keeps that roster current.
	clients []identity.Identity // exit role only
}

func main() {
	role := flag.String("role", "client", "node role: client or exit")
	babelPort := flag.Uint("babel-port", 8080, "local routing daemon port")
	registrationPort := flag.Uint("registration-port", 4875, "exit registration/RTT port")
	roundInterval := flag.Duration("round-interval", 10*time.Second, "watcher round interval")

	selfMeshIP := flag.String("mesh-ip", "", "this node's mesh IPv6 address")
	selfEth := flag.String("eth-address", "", "this node's 0x-prefixed Ethereum address")
	selfWgKey := flag.String("wg-key", "", "this node's base64 WireGuard public key")

	exitMeshIP := flag.String("exit-mesh-ip", "", "client role: exit's mesh IPv6 address")
	exitEth := flag.String("exit-eth-address", "", "client role: exit's Ethereum address")
	exitWgKey := flag.String("exit-wg-key", "", "client role: exit's WireGuard public key")
	exitPrice := flag.Uint64("exit-price", 0, "client role: exit's advertised per-byte price")

	externalNIC := flag.String("external-nic", "eth0", "exit role: NIC to masquerade client traffic out of")
	flag.Parse()

	ctx := context.Background()
	shutdown, err := otelinit.Init(ctx, "tollwatchd", "dev")
	if err != nil {
		log.Printf("otel init: %v", err)
	}
	defer shutdown(ctx)

	self, err := identity.New(net.ParseIP(*selfMeshIP), *selfEth, *selfWgKey)
	if err != nil {
		log.Fatalf("invalid local identity: %v", err)
	}

	s := settings{
		role:             *role,
		babelPort:        uint16(*babelPort),
		registrationPort: uint16(*registrationPort),
		roundInterval:    *roundInterval,
		self:             self,
		exitPrice:        *exitPrice,
		externalNIC:      *externalNIC,
	}

	ki := kernel.New(&kernel.RealCommandExecutor{})
	keeper := debt.New()
	defer keeper.Stop()

	dial := func() (watcher.RoutingClient, error) {
		return babel.Dial(s.babelPort)
	}

	switch s.role {
	case "client":
		exit, err := identity.New(net.ParseIP(*exitMeshIP), *exitEth, *exitWgKey)
		if err != nil {
			log.Fatalf("invalid exit identity: %v", err)
		}
		s.exit = exit
		runClient(ki, keeper, dial, s)
	case "exit":
		runExit(ki, keeper, dial, s)
	default:
		log.Fatalf("unknown role %q (want client or exit)", s.role)
	}
}

func runClient(ki *kernel.KI, keeper *debt.Keeper, dial watcher.Dialer, s settings) {
	w := watcher.NewClientWatcher(dial, ki, keeper, hello.NewRTTClient(nil), s.registrationPort)
	ticker := time.NewTicker(s.roundInterval)
	defer ticker.Stop()

	log.Printf("[tollwatchd] client watcher started, round interval %s", s.roundInterval)
	for range ticker.C {
		if err := w.Watch(s.exit, s.exitPrice); err != nil {
			log.Printf("[tollwatchd] client round failed: %v", err)
		}
	}
}

func runExit(ki *kernel.KI, keeper *debt.Keeper, dial watcher.Dialer, s settings) {
	w := watcher.NewExitWatcher(dial, ki, keeper, s.self, s.externalNIC)

	mux := http.NewServeMux()
	mux.Handle("/rtt", hello.Handler())
	addr := fmt.Sprintf(":%d", s.registrationPort)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("[tollwatchd] /rtt server on %s exited: %v", addr, err)
		}
	}()

	ticker := time.NewTicker(s.roundInterval)
	defer ticker.Stop()

	log.Printf("[tollwatchd] exit watcher started, round interval %s", s.roundInterval)
	for range ticker.C {
		if err := w.Watch(s.clients); err != nil {
			log.Printf("[tollwatchd] exit round failed: %v", err)
		}
	}
}
