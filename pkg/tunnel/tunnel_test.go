package tunnel

import (
	"net"
	"testing"

	"github.com/althea-mesh/tollwatch/pkg/identity"
)

func TestReserveRejectsDuplicate(t *testing.T) {
	m := New()
	if !m.Reserve(5000) {
		t.Fatal("first reservation should succeed")
	}
	if m.Reserve(5000) {
		t.Fatal("second reservation of the same port should fail")
	}
}

func TestPortCallbackReleasesReservation(t *testing.T) {
	m := New()
	m.Reserve(5000)
	m.PortCallback(5000)
	if m.IsReserved(5000) {
		t.Fatal("port should be released after PortCallback")
	}
	if !m.Reserve(5000) {
		t.Fatal("port should be reservable again after release")
	}
}

func TestIdentityCallbackKeepsReservation(t *testing.T) {
	m := New()
	m.Reserve(5000)

	id, err := identity.New(net.ParseIP("1:1:1:1:1:1:1:1"), "0x0000000000000000000000000000000000000001", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAE=")
	if err != nil {
		t.Fatalf("building identity: %v", err)
	}

	m.IdentityCallback(id, "1:1:1:1:1:1:1:1:5000", 5000)
	if !m.IsReserved(5000) {
		t.Fatal("port should remain reserved after a successful handshake")
	}
}
