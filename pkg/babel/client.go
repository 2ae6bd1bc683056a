// Package babel is a blocking, single-connection client for the local
// distance-vector routing daemon's text protocol (spec.md §4.2, §6). Each
// watcher round dials a fresh connection; connections are never reused.
package babel

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Preamble is the text the routing daemon is expected to send immediately
// on connect, before any command is accepted.
const Preamble = "ALTHEA 0.1"

// Client is a single connection to the routing daemon.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the routing daemon listening on [::1]:port. The dialer
// sets SO_REUSEADDR on the socket so a watcher round that reconnects
// immediately after a previous round's close doesn't collide with the
// kernel's TIME_WAIT bookkeeping on a busy exit node.
func Dial(port uint16) (*Client, error) {
	addr := fmt.Sprintf("[::1]:%d", port)
	dialer := net.Dialer{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("babel: dial %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an already-established connection (or, in tests, a
// net.Pipe() end) as a routing-daemon client.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, reader: bufio.NewReader(conn)}
}

// Close releases the underlying connection. Babel connections are never
// reused across rounds, so every caller that Dial()s also defer Close()s.
func (c *Client) Close() error {
	return c.conn.Close()
}

// StartConnection performs the protocol handshake: it reads the daemon's
// preamble line and fails with a ProtocolError if it doesn't match what
// this client understands.
func (c *Client) StartConnection() error {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return &ProtocolError{Detail: "reading preamble: " + err.Error()}
	}
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "ALTHEA") {
		return &ProtocolError{Detail: "unexpected preamble: " + strconv.Quote(line)}
	}
	return nil
}
