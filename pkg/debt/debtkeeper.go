// Package debt holds the singleton per-peer balance ledger. A DebtKeeper is
// the sole writer of the ledger; watchers are write-only clients, reaching it
// only through the TrafficUpdate message (spec.md §4 point 3, §6).
package debt

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log"

	"golang.org/x/crypto/hkdf"

	"github.com/althea-mesh/tollwatch/pkg/actor"
	"github.com/althea-mesh/tollwatch/pkg/identity"
	"github.com/althea-mesh/tollwatch/pkg/money"
)

// TrafficUpdate is the only message a DebtKeeper accepts. Positive Amount
// means the counterparty owes us more; negative means we owe them more.
type TrafficUpdate struct {
	From   identity.Identity
	Amount money.Int256
}

// correlationToken derives a short fingerprint for a TrafficUpdate via HKDF
// over its (peer, amount) pair, logged alongside each applied update so two
// log lines can be tied back to the same update content. It is
// diagnostic only: the keeper always applies every update it receives, since
// two distinct rounds can legitimately bill the same peer the same amount
// and both must still be accumulated (the actor's mailbox already guarantees
// at-most-once delivery per send, so no redelivery-suppression is needed
// here — spec.md §5).
func correlationToken(u TrafficUpdate) string {
	secret := []byte(u.From.Key() + "|" + u.Amount.String())
	r := hkdf.New(sha256.New, secret, nil, []byte("tollwatchd-traffic-update"))
	out := make([]byte, 16)
	io.ReadFull(r, out)
	return hex.EncodeToString(out)
}

// Keeper is the DebtKeeper actor: a mailbox-guarded map from peer identity to
// signed running balance.
type Keeper struct {
	mailbox *actor.Mailbox
	debts   map[string]money.Int256
}

// New starts a Keeper. Its mailbox panic-recovery resets the ledger to
// empty, matching every other actor in this codebase (pkg/watcher): a lost
// update is recoverable because a correcting one arrives next round, but a
// stale or partially-applied ledger is not something this actor can reason
// about once it is in an unknown state.
func New() *Keeper {
	k := &Keeper{
		debts: make(map[string]money.Int256),
	}
	k.mailbox = actor.New("debtkeeper", func() {
		k.debts = make(map[string]money.Int256)
	})
	return k
}

// Update applies a TrafficUpdate to the ledger. Fire-and-forget: the caller
// does not block on the ledger mutation completing, matching the watchers'
// cross-actor call contract (spec.md §5). Every update is accumulated, even
// one that happens to repeat the previous round's amount for the same peer —
// dropping it as a "duplicate" would under-bill a peer whose usage is
// genuinely steady across rounds.
func (k *Keeper) Update(u TrafficUpdate) {
	k.mailbox.Send(func() {
		key := u.From.Key()
		bal, ok := k.debts[key]
		if !ok {
			bal = money.Int256{}
		}
		k.debts[key] = bal.Add(u.Amount)
		log.Printf("[DebtKeeper] applied update from %s (tok=%s): %s (balance now %s)", key, correlationToken(u), u.Amount, k.debts[key])
	})
}

// Balance returns the current balance owed by/to the given peer. Used by
// tests and by any out-of-band reporting path; it is not part of the
// watcher-facing contract.
func (k *Keeper) Balance(id identity.Identity) money.Int256 {
	return actor.Ask(k.mailbox, func() money.Int256 {
		bal, ok := k.debts[id.Key()]
		if !ok {
			return money.Int256{}
		}
		return bal
	})
}

// Stop shuts down the keeper's mailbox.
func (k *Keeper) Stop() {
	k.mailbox.Stop()
}
