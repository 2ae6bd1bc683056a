package debt

import (
	"net"
	"testing"

	"github.com/althea-mesh/tollwatch/pkg/identity"
	"github.com/althea-mesh/tollwatch/pkg/money"
)

func mustIdentity(t *testing.T, ethSuffix string, wgKey string) identity.Identity {
	t.Helper()
	ip := net.ParseIP("1:1:1:1:1:1:1:" + ethSuffix)
	id, err := identity.New(ip, "0x000000000000000000000000000000000000000"+ethSuffix, wgKey)
	if err != nil {
		t.Fatalf("building test identity: %v", err)
	}
	return id
}

const wgKeyA = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAE="
const wgKeyB = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAI="

func TestUpdateAccumulatesBalance(t *testing.T) {
	k := New()
	defer k.Stop()

	id := mustIdentity(t, "1", wgKeyA)
	k.Update(TrafficUpdate{From: id, Amount: money.FromInt64(6500)})
	k.Update(TrafficUpdate{From: id, Amount: money.FromInt64(650)})

	got := k.Balance(id)
	want := money.FromInt64(7150)
	if got.Cmp(want) != 0 {
		t.Fatalf("balance = %s, want %s", got, want)
	}
}

func TestUpdateTracksPeersIndependently(t *testing.T) {
	k := New()
	defer k.Stop()

	a := mustIdentity(t, "1", wgKeyA)
	b := mustIdentity(t, "2", wgKeyB)

	k.Update(TrafficUpdate{From: a, Amount: money.FromInt64(100)})
	k.Update(TrafficUpdate{From: b, Amount: money.FromInt64(-1900)})

	if got := k.Balance(a); got.Cmp(money.FromInt64(100)) != 0 {
		t.Fatalf("balance a = %s", got)
	}
	if got := k.Balance(b); got.Cmp(money.FromInt64(-1900)) != 0 {
		t.Fatalf("balance b = %s", got)
	}
}

func TestBalanceOfUnseenPeerIsZero(t *testing.T) {
	k := New()
	defer k.Stop()

	got := k.Balance(mustIdentity(t, "1", wgKeyA))
	if !got.IsZero() {
		t.Fatalf("expected zero balance for unseen peer, got %s", got)
	}
}
