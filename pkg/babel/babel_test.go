package babel

import (
	"bufio"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// pipePair returns a Client wired to one end of an in-memory net.Pipe, with
// the other end available for the test to act as the routing daemon.
func pipePair(t *testing.T) (*Client, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	return NewClient(clientConn), serverConn
}

func writeLine(t *testing.T, conn net.Conn, s string) {
	t.Helper()
	if _, err := conn.Write([]byte(s + "\n")); err != nil {
		t.Errorf("write: %v", err)
		return
	}
}

func TestStartConnectionAcceptsPreamble(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()
	defer server.Close()

	go writeLine(t, server, "ALTHEA 0.1")

	if err := client.StartConnection(); err != nil {
		t.Fatalf("StartConnection: %v", err)
	}
}

func TestStartConnectionRejectsBadPreamble(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()
	defer server.Close()

	go writeLine(t, server, "GARBAGE")

	err := client.StartConnection()
	if err == nil {
		t.Fatal("expected protocol error")
	}
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("expected *ProtocolError, got %T", err)
	}
}

func TestParseRoutesSkipsUnknownLinesAndHonorsUnknownKeys(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()
	defer server.Close()

	go func() {
		serverReader := bufio.NewReader(server)
		cmd, _ := serverReader.ReadString('\n')
		if cmd != dumpCommand {
			t.Errorf("expected dump command, got %q", cmd)
			return
		}
		writeLine(t, server, "not a route line, ignore me")
		writeLine(t, server, "add route prefix 2001:db8::1/128 installed yes price 5 refmetric 128 full-path-rtt 12.5 weird-future-key zzz")
		writeLine(t, server, "add route prefix 10.0.0.0/8 installed yes price 2 refmetric 128 full-path-rtt 1.0")
		writeLine(t, server, "ok")
	}()

	routes, err := client.ParseRoutes()
	if err != nil {
		t.Fatalf("ParseRoutes: %v", err)
	}

	_, hostPrefix, _ := net.ParseCIDR("2001:db8::1/128")
	_, widePrefix, _ := net.ParseCIDR("10.0.0.0/8")
	want := []Route{
		{Prefix: hostPrefix, Installed: true, Price: 5, RefMetric: 128, FullPathRTT: 12.5},
		{Prefix: widePrefix, Installed: true, Price: 2, RefMetric: 128, FullPathRTT: 1.0},
	}
	if diff := cmp.Diff(want, routes); diff != "" {
		t.Fatalf("ParseRoutes() mismatch (-want +got):\n%s", diff)
	}
	if !routes[0].IsBillableHostRoute() {
		t.Fatalf("expected first route to be a billable /128 host route: %+v", routes[0])
	}
	if routes[1].IsBillableHostRoute() {
		t.Fatalf("expected second route (IPv4 /8) to not be billable: %+v", routes[1])
	}
}

func TestParseRoutesFailsOnTruncatedReply(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()

	go func() {
		serverReader := bufio.NewReader(server)
		serverReader.ReadString('\n')
		writeLine(t, server, "add route prefix 2001:db8::1/128 installed yes price 5 refmetric 1 full-path-rtt 1.0")
		server.Close() // hang up before sending the "ok" terminator
	}()

	_, err := client.ParseRoutes()
	if err == nil {
		t.Fatal("expected ParseError for truncated reply")
	}
	if _, ok := err.(*ParseError); !ok {
		t.Fatalf("expected *ParseError, got %T: %v", err, err)
	}
}

func TestGetLocalFee(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()
	defer server.Close()

	go func() {
		serverReader := bufio.NewReader(server)
		serverReader.ReadString('\n')
		writeLine(t, server, "fee 2")
	}()

	fee, err := client.GetLocalFee()
	if err != nil {
		t.Fatalf("GetLocalFee: %v", err)
	}
	if fee != 2 {
		t.Fatalf("got fee %d, want 2", fee)
	}
}
