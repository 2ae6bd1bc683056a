package watcher

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/althea-mesh/tollwatch/pkg/actor"
	"github.com/althea-mesh/tollwatch/pkg/babel"
	"github.com/althea-mesh/tollwatch/pkg/debt"
	"github.com/althea-mesh/tollwatch/pkg/identity"
	"github.com/althea-mesh/tollwatch/pkg/money"
)

// ErrNoPeer is returned when the exit tunnel's counter read comes back
// empty: the client watcher expects exactly one peer on wg_exit.
var ErrNoPeer = fmt.Errorf("watcher: wg_exit interface reports no peers")

// clientHistory is the client watcher's per-round-carried state: cumulative
// bytes last seen on the single upstream exit tunnel.
type clientHistory struct {
	input  uint64
	output uint64
}

// ClientWatcher watches the single upstream exit tunnel and bills the
// exit's usage to the DebtKeeper each round (spec.md §4.3).
type ClientWatcher struct {
	mailbox *actor.Mailbox
	dial    Dialer
	ki      CounterReader
	debts   *debt.Keeper
	rtt     RTTProbe // may be nil, in which case the RTT probe is skipped
	rttPort uint16

	history clientHistory
}

// NewClientWatcher starts a ClientWatcher actor. rtt may be nil to disable
// the informational RTT probe (e.g. in tests that don't model the exit's
// HTTP surface). rttPort is the exit's registration port the probe targets.
func NewClientWatcher(dial Dialer, ki CounterReader, debts *debt.Keeper, rtt RTTProbe, rttPort uint16) *ClientWatcher {
	w := &ClientWatcher{dial: dial, ki: ki, debts: debts, rtt: rtt, rttPort: rttPort}
	w.mailbox = actor.New("client-watcher", func() {
		w.history = clientHistory{}
	})
	return w
}

// Watch runs one billing round against the given exit, blocking until the
// round completes. It returns an error if the round failed before any
// history commit; history is untouched in that case (spec.md §8 property 5).
func (w *ClientWatcher) Watch(exit identity.Identity, exitPrice uint64) error {
	start := time.Now()
	err := actor.Ask(w.mailbox, func() error {
		return w.watchRound(exit, exitPrice)
	})
	metricRoundDurMs.Record(context.Background(), float64(time.Since(start).Milliseconds()))
	if err != nil {
		metricRoundErrors.Add(context.Background(), 1)
	}
	return err
}

func (w *ClientWatcher) watchRound(exit identity.Identity, exitPrice uint64) error {
	conn, err := w.dial()
	if err != nil {
		return fmt.Errorf("watcher: dial routing daemon: %w", err)
	}
	defer conn.Close()

	if err := conn.StartConnection(); err != nil {
		return fmt.Errorf("watcher: start connection: %w", err)
	}
	routes, err := conn.ParseRoutes()
	if err != nil {
		return fmt.Errorf("watcher: parse routes: %w", err)
	}

	destinations := make(map[string]babel.Route)
	for _, r := range routes {
		if r.IsBillableHostRoute() {
			destinations[r.Prefix.IP.String()] = r
		}
	}

	counters, err := w.ki.ReadWGCounters(wgExitInterface)
	if err != nil {
		return fmt.Errorf("watcher: read wg counters: %w", err)
	}
	if len(counters) == 0 {
		return ErrNoPeer
	}
	if len(counters) > 1 {
		log.Printf("[ClientWatcher] wg_exit reports %d peers, expected 1; using one arbitrarily", len(counters))
	}

	var cur identity.WgUsage
	for _, usage := range counters {
		cur = usage
		break
	}

	history := w.history
	if history.input > cur.Download || history.output > cur.Upload {
		history = clientHistory{}
	}
	inputDelta := cur.Download - history.input
	outputDelta := cur.Upload - history.output
	next := clientHistory{input: cur.Download, output: cur.Upload}

	route, ok := destinations[exit.MeshIP.String()]
	if !ok {
		w.history = next
		log.Printf("[ClientWatcher] no route to exit %s yet", exit.Key())
		return nil
	}

	if w.rtt != nil {
		if err := w.probeRTT(exit); err != nil {
			return fmt.Errorf("watcher: rtt probe: %w", err)
		}
	}
	w.history = next

	exitDestPrice := money.FromUint64(uint64(route.Price)).Add(money.FromUint64(exitPrice))
	owes := money.FromUint64(exitPrice).MulUint64(outputDelta).Add(exitDestPrice.MulUint64(inputDelta))

	w.debts.Update(debt.TrafficUpdate{From: exit, Amount: owes})
	metricDebtEmittedTotal.Add(context.Background(), owes.AbsFloat64())
	return nil
}

// probeRTT measures round-trip latency against the exit's /rtt endpoint. The
// measured inner_rtt value is logged only; it is not used in this round's
// billing (spec.md §4.3 step 7, open question in §9). A probe failure
// (connect error or the 5-second hard timeout) is a transient-network error
// and fails the round before any debt is computed (spec.md §5, §7), matching
// original_source/rita/src/rita_client/traffic_watcher/mod.rs, which
// propagates the RTT request's error and never reaches the TrafficUpdate send.
func (w *ClientWatcher) probeRTT(exit identity.Identity) error {
	clientTx := time.Now()
	exitRx, exitTx, err := w.rtt.Probe(exit.MeshIP, w.rttPort)
	clientRx := time.Now()
	if err != nil {
		log.Printf("[ClientWatcher] rtt probe against %s failed: %v", exit.Key(), err)
		return err
	}
	innerRTT := clientRx.Sub(clientTx) - exitTx.Sub(exitRx)
	log.Printf("[ClientWatcher] inner_rtt to %s: %s", exit.Key(), innerRTT)
	return nil
}
