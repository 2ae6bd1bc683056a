package babel

import "fmt"

// ProtocolError indicates the routing daemon's preamble or reply did not
// match the expected text protocol framing.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("babel: protocol error: %s", e.Detail)
}

// ParseError indicates a `dump` response was structurally truncated —
// it stopped mid-record rather than simply containing lines this client
// doesn't understand (those are skipped silently, not an error).
type ParseError struct {
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("babel: parse error: %s", e.Detail)
}
