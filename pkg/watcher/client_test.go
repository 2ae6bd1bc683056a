package watcher

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/althea-mesh/tollwatch/pkg/babel"
	"github.com/althea-mesh/tollwatch/pkg/debt"
	"github.com/althea-mesh/tollwatch/pkg/identity"
	"github.com/althea-mesh/tollwatch/pkg/money"
)

const testWgKeyA = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAE="
const testWgKeyB = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAI="

func mustTestIdentity(t *testing.T, meshIP, ethAddress, wgKey string) identity.Identity {
	t.Helper()
	id, err := identity.New(net.ParseIP(meshIP), ethAddress, wgKey)
	if err != nil {
		t.Fatalf("building identity: %v", err)
	}
	return id
}

const testEthA = "0x0000000000000000000000000000000000000001"
const testEthB = "0x0000000000000000000000000000000000000002"

// fakeRoutingClient is an in-memory RoutingClient stand-in; it never touches
// the network, so these tests exercise the watcher algorithm in isolation.
type fakeRoutingClient struct {
	routes      []babel.Route
	localFee    uint32
	startErr    error
	parseErr    error
	localFeeErr error
	closed      bool
}

func (f *fakeRoutingClient) StartConnection() error       { return f.startErr }
func (f *fakeRoutingClient) ParseRoutes() ([]babel.Route, error) {
	return f.routes, f.parseErr
}
func (f *fakeRoutingClient) GetLocalFee() (uint32, error) { return f.localFee, f.localFeeErr }
func (f *fakeRoutingClient) Close() error                 { f.closed = true; return nil }

type fakeCounterReader struct {
	counters map[identity.WgKey]identity.WgUsage
	err      error
}

func (f *fakeCounterReader) ReadWGCounters(iface string) (map[identity.WgKey]identity.WgUsage, error) {
	return f.counters, f.err
}

// fakeRTTProbe is an RTTProbe stand-in that always fails, for exercising the
// transient-network failure path (spec.md §5, §7).
type fakeRTTProbe struct {
	err error
}

func (f *fakeRTTProbe) Probe(exitMeshIP net.IP, registrationPort uint16) (exitRx, exitTx time.Time, err error) {
	return time.Time{}, time.Time{}, f.err
}

func billableRoute(prefix string, price uint32) babel.Route {
	_, network, err := net.ParseCIDR(prefix)
	if err != nil {
		panic(err)
	}
	return babel.Route{Prefix: network, Installed: true, Price: price}
}

func TestClientWatcherS1HappyPath(t *testing.T) {
	exit := mustTestIdentity(t, "2:2:2:2:2:2:2:2", testEthA, testWgKeyA)
	rc := &fakeRoutingClient{routes: []babel.Route{billableRoute("2:2:2:2:2:2:2:2/128", 2)}}
	cr := &fakeCounterReader{counters: map[identity.WgKey]identity.WgUsage{
		exit.WgKey: {Download: 1000, Upload: 500},
	}}
	keeper := debt.New()
	defer keeper.Stop()

	w := NewClientWatcher(func() (RoutingClient, error) { return rc, nil }, cr, keeper, nil, 0)
	if err := w.Watch(exit, 3); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	got := keeper.Balance(exit)
	want := money.FromInt64(6500)
	if got.Cmp(want) != 0 {
		t.Fatalf("balance = %s, want %s", got, want)
	}
	if w.history != (clientHistory{input: 1000, output: 500}) {
		t.Fatalf("unexpected history: %+v", w.history)
	}
}

func TestClientWatcherS2CounterReset(t *testing.T) {
	exit := mustTestIdentity(t, "2:2:2:2:2:2:2:2", testEthA, testWgKeyA)
	rc := &fakeRoutingClient{routes: []babel.Route{billableRoute("2:2:2:2:2:2:2:2/128", 2)}}
	cr := &fakeCounterReader{counters: map[identity.WgKey]identity.WgUsage{
		exit.WgKey: {Download: 100, Upload: 50},
	}}
	keeper := debt.New()
	defer keeper.Stop()

	w := NewClientWatcher(func() (RoutingClient, error) { return rc, nil }, cr, keeper, nil, 0)
	w.history = clientHistory{input: 2000, output: 1000}

	if err := w.Watch(exit, 3); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	got := keeper.Balance(exit)
	want := money.FromInt64(650)
	if got.Cmp(want) != 0 {
		t.Fatalf("balance = %s, want %s", got, want)
	}
	if w.history != (clientHistory{input: 100, output: 50}) {
		t.Fatalf("unexpected history: %+v", w.history)
	}
}

func TestClientWatcherS3MissingRoute(t *testing.T) {
	exit := mustTestIdentity(t, "2:2:2:2:2:2:2:2", testEthA, testWgKeyA)
	rc := &fakeRoutingClient{routes: nil}
	cr := &fakeCounterReader{counters: map[identity.WgKey]identity.WgUsage{
		exit.WgKey: {Download: 900, Upload: 100},
	}}
	keeper := debt.New()
	defer keeper.Stop()

	w := NewClientWatcher(func() (RoutingClient, error) { return rc, nil }, cr, keeper, nil, 0)
	if err := w.Watch(exit, 3); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	got := keeper.Balance(exit)
	if !got.IsZero() {
		t.Fatalf("expected no TrafficUpdate to have been sent, balance = %s", got)
	}
	if w.history != (clientHistory{input: 900, output: 100}) {
		t.Fatalf("unexpected history: %+v", w.history)
	}
}

func TestClientWatcherNoPeerLeavesHistoryUntouched(t *testing.T) {
	exit := mustTestIdentity(t, "2:2:2:2:2:2:2:2", testEthA, testWgKeyA)
	rc := &fakeRoutingClient{routes: []babel.Route{billableRoute("2:2:2:2:2:2:2:2/128", 2)}}
	cr := &fakeCounterReader{counters: map[identity.WgKey]identity.WgUsage{}}
	keeper := debt.New()
	defer keeper.Stop()

	w := NewClientWatcher(func() (RoutingClient, error) { return rc, nil }, cr, keeper, nil, 0)
	w.history = clientHistory{input: 42, output: 7}

	err := w.Watch(exit, 3)
	if err != ErrNoPeer {
		t.Fatalf("expected ErrNoPeer, got %v", err)
	}
	if w.history != (clientHistory{input: 42, output: 7}) {
		t.Fatalf("history must be untouched on error: %+v", w.history)
	}
}

func TestClientWatcherRTTProbeFailureFailsRoundWithoutUpdate(t *testing.T) {
	exit := mustTestIdentity(t, "2:2:2:2:2:2:2:2", testEthA, testWgKeyA)
	rc := &fakeRoutingClient{routes: []babel.Route{billableRoute("2:2:2:2:2:2:2:2/128", 2)}}
	cr := &fakeCounterReader{counters: map[identity.WgKey]identity.WgUsage{
		exit.WgKey: {Download: 1000, Upload: 500},
	}}
	keeper := debt.New()
	defer keeper.Stop()

	rtt := &fakeRTTProbe{err: fmt.Errorf("rtt probe timed out")}
	w := NewClientWatcher(func() (RoutingClient, error) { return rc, nil }, cr, keeper, rtt, 4875)

	if err := w.Watch(exit, 3); err == nil {
		t.Fatal("expected error from failed rtt probe")
	}

	got := keeper.Balance(exit)
	if !got.IsZero() {
		t.Fatalf("expected no TrafficUpdate to have been sent, balance = %s", got)
	}
}

func TestClientWatcherDialFailureLeavesHistoryUntouched(t *testing.T) {
	exit := mustTestIdentity(t, "2:2:2:2:2:2:2:2", testEthA, testWgKeyA)
	keeper := debt.New()
	defer keeper.Stop()

	dialErr := fmt.Errorf("connection refused")
	w := NewClientWatcher(func() (RoutingClient, error) { return nil, dialErr }, &fakeCounterReader{}, keeper, nil, 0)
	w.history = clientHistory{input: 1, output: 2}

	if err := w.Watch(exit, 3); err == nil {
		t.Fatal("expected error")
	}
	if w.history != (clientHistory{input: 1, output: 2}) {
		t.Fatalf("history must be untouched on dial failure: %+v", w.history)
	}
}
