package watcher

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/althea-mesh/tollwatch/pkg/actor"
	"github.com/althea-mesh/tollwatch/pkg/debt"
	"github.com/althea-mesh/tollwatch/pkg/identity"
	"github.com/althea-mesh/tollwatch/pkg/money"
)

// ExitWatcher watches every connected client's tunnel usage and bills each
// one to the DebtKeeper every round (spec.md §4.4).
type ExitWatcher struct {
	mailbox *actor.Mailbox
	dial    Dialer
	ki      ExitKernel
	debts   *debt.Keeper
	self    identity.Identity

	// lastSeen is the per-peer last-seen cumulative usage. Retained for
	// the lifetime of the watcher; this codebase's open-question decision
	// (SPEC_FULL.md) is to never evict, since a disappeared client simply
	// stops contributing counter updates and costs one map entry.
	lastSeen map[identity.WgKey]identity.WgUsage
}

// NewExitWatcher starts an ExitWatcher actor. self is the exit's own
// identity, inserted into the per-round identity tables under its own
// mesh IP with the locally configured fee as its price (spec.md §4.4 step 2).
// externalNIC is the NIC the exit's NAT rule masquerades traffic out of.
//
// Before the first round, it brings up the wg_exit interface and installs
// the exit's NAT rule, mirroring
// original_source/rita_exit/traffic_watcher/mod.rs's service_started. Both
// calls are idempotent (pkg/kernel); a failure here is logged, not fatal —
// a subsequent round's ReadWGCounters call will surface a missing interface
// on its own if bring-up never actually succeeded.
func NewExitWatcher(dial Dialer, ki ExitKernel, debts *debt.Keeper, self identity.Identity, externalNIC string) *ExitWatcher {
	if err := ki.SetupWGIfNamed(wgExitInterface); err != nil {
		log.Printf("[ExitWatcher] setup_wg_if_named(%s) failed: %v", wgExitInterface, err)
	}
	if err := ki.SetupNAT(externalNIC); err != nil {
		log.Printf("[ExitWatcher] setup_nat(%s) failed: %v", externalNIC, err)
	}

	w := &ExitWatcher{
		dial:     dial,
		ki:       ki,
		debts:    debts,
		self:     self,
		lastSeen: make(map[identity.WgKey]identity.WgUsage),
	}
	w.mailbox = actor.New("exit-watcher", func() {
		w.lastSeen = make(map[identity.WgKey]identity.WgUsage)
	})
	return w
}

// Watch runs one billing round against the given client roster, blocking
// until the round completes.
func (w *ExitWatcher) Watch(clients []identity.Identity) error {
	start := time.Now()
	err := actor.Ask(w.mailbox, func() error {
		return w.watchRound(clients)
	})
	metricRoundDurMs.Record(context.Background(), float64(time.Since(start).Milliseconds()))
	if err != nil {
		metricRoundErrors.Add(context.Background(), 1)
	}
	return err
}

func (w *ExitWatcher) watchRound(clients []identity.Identity) error {
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
	localFee, err := conn.GetLocalFee()
	if err != nil {
		return fmt.Errorf("watcher: get local fee: %w", err)
	}

	identities := make(map[identity.WgKey]identity.Identity, len(clients)+1)
	idFromIP := make(map[string]identity.Identity, len(clients)+1)
	for _, id := range clients {
		identities[id.WgKey] = id
		idFromIP[id.MeshIP.String()] = id
	}
	identities[w.self.WgKey] = w.self
	idFromIP[w.self.MeshIP.String()] = w.self

	destinations := make(map[identity.WgKey]money.Int256, len(identities))
	destinations[w.self.WgKey] = money.FromUint64(uint64(localFee))
	for _, r := range routes {
		if !r.IsBillableHostRoute() {
			continue
		}
		id, ok := idFromIP[r.Prefix.IP.String()]
		if !ok {
			log.Printf("[ExitWatcher] installed route to %s has no matching client identity", r.Prefix.IP)
			continue
		}
		destinations[id.WgKey] = money.FromUint64(uint64(r.Price))
	}

	counters, err := w.ki.ReadWGCounters(wgExitInterface)
	if err != nil {
		return fmt.Errorf("watcher: read wg counters: %w", err)
	}

	// Seed history for peers never seen before: first sighting yields a
	// zero delta by construction (spec.md §4.4 step 5, §8 property 3).
	for key, cur := range counters {
		if _, ok := w.lastSeen[key]; !ok {
			w.lastSeen[key] = cur
		}
	}

	debts := make(map[string]money.Int256, len(identities))
	for _, id := range identities {
		debts[id.Key()] = money.Zero()
	}

	for key, cur := range counters {
		id, hasID := identities[key]
		destPrice, hasDest := destinations[key]
		history, hasHistory := w.lastSeen[key]
		if !hasHistory {
			// Seeding above guarantees this can't happen for any key
			// present in counters.
			continue
		}
		if !hasID || !hasDest {
			log.Printf("[ExitWatcher] counter for unknown peer %s: identity known=%v destination known=%v", key, hasID, hasDest)
			continue
		}

		// Input: bytes the client forwarded to us, billed at our own
		// forwarding fee (spec.md §4.4 step 7).
		if history.Download > cur.Download {
			history.Download = 0
		}
		inputDelta := cur.Download - history.Download
		debts[id.Key()] = debts[id.Key()].Sub(money.FromUint64(uint64(localFee)).MulUint64(inputDelta))
		history.Download = cur.Download

		// Output: bytes we forwarded to the client, billed at our fee
		// plus the route cost of reaching that client (step 8).
		if history.Upload > cur.Upload {
			history.Upload = 0
		}
		outputDelta := cur.Upload - history.Upload
		outputPrice := destPrice.Add(money.FromUint64(uint64(localFee)))
		debts[id.Key()] = debts[id.Key()].Sub(outputPrice.MulUint64(outputDelta))
		history.Upload = cur.Upload

		w.lastSeen[key] = history
	}

	for _, id := range identities {
		amount := debts[id.Key()]
		w.debts.Update(debt.TrafficUpdate{From: id, Amount: amount})
		metricDebtEmittedTotal.Add(context.Background(), amount.AbsFloat64())
	}

	// Diagnostic only, not billed: logs how many peers currently have a
	// live endpoint on wg_exit (original_source's
	// get_wg_exit_clients_online, called at the end of every exit round).
	if online, err := w.ki.GetWGExitClientsOnline(); err != nil {
		log.Printf("[ExitWatcher] get_wg_exit_clients_online failed: %v", err)
	} else {
		log.Printf("[ExitWatcher] %d clients online", online)
	}
	return nil
}
