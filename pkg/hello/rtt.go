package hello

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// rttResponse mirrors the exit's /rtt JSON body (spec.md §6): wall-clock
// instants the exit sampled around its handling of the request.
type rttResponse struct {
	ExitRx time.Time `json:"exit_rx"`
	ExitTx time.Time `json:"exit_tx"`
}

// RTTClient queries an exit's /rtt endpoint for the client watcher's
// informational inner_rtt measurement (spec.md §4.3 step 7). It satisfies
// watcher.RTTProbe.
type RTTClient struct {
	http *http.Client
}

// NewRTTClient builds an RTTClient. httpClient may be nil to use a default
// client with a 5-second request timeout (spec.md §5's hard RTT timeout).
func NewRTTClient(httpClient *http.Client) *RTTClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHelloTimeout}
	}
	return &RTTClient{http: httpClient}
}

// Probe issues GET http://[exitMeshIP]:registrationPort/rtt and returns the
// exit-reported timestamps.
func (c *RTTClient) Probe(exitMeshIP net.IP, registrationPort uint16) (exitRx, exitTx time.Time, err error) {
	url := fmt.Sprintf("http://[%s]:%d/rtt", exitMeshIP, registrationPort)
	resp, err := c.http.Get(url)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("hello: rtt probe to %s: %w", url, err)
	}
	defer resp.Body.Close()

	var body rttResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("hello: decoding rtt response from %s: %w", url, err)
	}
	return body.ExitRx, body.ExitTx, nil
}

// Handler serves the exit side of the /rtt endpoint: it stamps exit_rx on
// entry and exit_tx just before writing the response, so the client can
// subtract the exit's own handling time from its round-trip measurement.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exitRx := time.Now()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rttResponse{ExitRx: exitRx, ExitTx: time.Now()})
	}
}
