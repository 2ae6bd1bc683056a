// Package hello implements the peer-discovery handshake contracted in
// spec.md §6: POST our LocalIdentity to a candidate peer's /hello endpoint,
// decode its LocalIdentity back. Every exit from SayHello calls back to the
// TunnelManager exactly once — PortCallback on any failure, IdentityCallback
// on success — so a reserved WireGuard port is never leaked (spec.md §7, §8
// property 6). Grounded on the teacher's HTTP-client idiom in
// pkg/lighthouse/health.go; the callback shape is grounded on
// original_source/rita/src/rita_common/http_client/mod.rs.
package hello

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/althea-mesh/tollwatch/pkg/identity"
)

const defaultHelloTimeout = 5 * time.Second

// TunnelManager is the subset of *tunnel.Manager the hello handler drives.
type TunnelManager interface {
	PortCallback(port uint16)
	IdentityCallback(peerIdentity identity.Identity, peerAddr string, wgPort uint16)
}

// Client sends hello handshakes to candidate peers.
type Client struct {
	http    *http.Client
	tunnels TunnelManager
}

// New builds a hello Client. httpClient may be nil to use a default client
// with a 5-second request timeout.
func New(httpClient *http.Client, tunnels TunnelManager) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHelloTimeout}
	}
	return &Client{http: httpClient, tunnels: tunnels}
}

// SayHello POSTs myID to peerAddr's /hello endpoint and reports the result
// to the TunnelManager. Exactly one of PortCallback(myID.WgPort) or
// IdentityCallback fires, regardless of which step fails.
func (c *Client) SayHello(ctx context.Context, myID identity.LocalIdentity, peerAddr string) {
	body, err := json.Marshal(myID)
	if err != nil {
		log.Printf("[hello] serializing our identity: %v", err)
		c.tunnels.PortCallback(myID.WgPort)
		return
	}

	endpoint := fmt.Sprintf("http://%s/hello", peerAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		log.Printf("[hello] building request to %s: %v", peerAddr, err)
		c.tunnels.PortCallback(myID.WgPort)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("[hello] request to %s failed: %v", peerAddr, err)
		c.tunnels.PortCallback(myID.WgPort)
		return
	}
	defer resp.Body.Close()

	var peerID identity.LocalIdentity
	if err := json.NewDecoder(resp.Body).Decode(&peerID); err != nil {
		log.Printf("[hello] decoding response from %s: %v", peerAddr, err)
		c.tunnels.PortCallback(myID.WgPort)
		return
	}

	c.tunnels.IdentityCallback(peerID.GlobalIdentity, peerAddr, myID.WgPort)
}
