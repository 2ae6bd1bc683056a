// Package identity holds the wire-level account and usage types shared by
// the kernel interface, the routing-daemon client, and the traffic watchers:
// Identity, WgKey, WgUsage, the ExitState discriminated union, and the
// LocalIdentity payload exchanged with peers over the hello endpoint.
package identity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"

	"golang.org/x/crypto/curve25519"
)

// WgKey is a WireGuard Curve25519 public key, compared and hashed by raw
// bytes rather than its base64 textual form so that padding (`=`) never
// causes two equal keys to compare unequal (spec.md §9).
type WgKey [32]byte

// ParseWgKey decodes a 44-character base64 WireGuard public key and checks
// that it is not a known low-order Curve25519 point before accepting it as a
// billing identity.
func ParseWgKey(s string) (WgKey, error) {
	var key WgKey
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("identity: invalid wg key encoding: %w", err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("identity: wg key must decode to 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	if err := key.validateCurvePoint(); err != nil {
		return key, err
	}
	return key, nil
}

// validateCurvePoint rejects known low-order points. curve25519.X25519
// returns an error for these regardless of scalar, which is what we use here
// as a cheap sanity check that the key is a plausible peer identity and not
// a zeroed or corrupted field.
func (k WgKey) validateCurvePoint() error {
	scalar := make([]byte, 32)
	scalar[0] = 1
	if _, err := curve25519.X25519(scalar, k[:]); err != nil {
		return fmt.Errorf("identity: wg key is a low-order curve point: %w", err)
	}
	return nil
}

// String returns the 44-character base64 textual form.
func (k WgKey) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

func (k WgKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *WgKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseWgKey(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// WgUsage is the cumulative byte total reported by a tunnel since interface
// creation. Must be treated as monotonically increasing by callers, but
// every consumer of this type (KernelInterface.ReadWGCounters callers) is
// required to tolerate decreases caused by a tunnel reset.
type WgUsage struct {
	Download uint64
	Upload   uint64
}

// EthAddress is a 20-byte Ethereum-style account address.
type EthAddress [20]byte

func ParseEthAddress(s string) (EthAddress, error) {
	var addr EthAddress
	if len(s) != 42 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return addr, fmt.Errorf("identity: eth address must be 0x-prefixed 40 hex chars, got %q", s)
	}
	return decodeHex20(s[2:])
}

func decodeHex20(s string) (EthAddress, error) {
	var out EthAddress
	if len(s) != 40 {
		return out, fmt.Errorf("identity: eth address hex must be 40 chars, got %d", len(s))
	}
	for i := 0; i < 20; i++ {
		var b byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return out, fmt.Errorf("identity: invalid eth address hex at byte %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

func (a EthAddress) String() string {
	return fmt.Sprintf("0x%x", [20]byte(a))
}

func (a EthAddress) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *EthAddress) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEthAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Identity identifies one mesh account. Equality and the map key derived by
// Key() are structural over all three fields — two endpoints sharing a
// mesh_ip but holding different keys are distinct accounts (spec.md §3).
type Identity struct {
	MeshIP     net.IP     `json:"mesh_ip"`
	EthAddress EthAddress `json:"eth_address"`
	WgKey      WgKey      `json:"wg_public_key"`
}

// New validates and constructs an Identity from its wire representations.
func New(meshIP net.IP, ethAddress string, wgPublicKey string) (Identity, error) {
	if meshIP == nil || meshIP.To4() != nil {
		return Identity{}, fmt.Errorf("identity: mesh_ip must be a non-nil IPv6 address")
	}
	eth, err := ParseEthAddress(ethAddress)
	if err != nil {
		return Identity{}, err
	}
	key, err := ParseWgKey(wgPublicKey)
	if err != nil {
		return Identity{}, err
	}
	return Identity{MeshIP: meshIP, EthAddress: eth, WgKey: key}, nil
}

// Key returns a comparable value suitable as a map key, structural over all
// three identity fields.
func (id Identity) Key() string {
	return id.MeshIP.String() + "|" + id.EthAddress.String() + "|" + id.WgKey.String()
}

// Equal reports structural equality over all three fields.
func (id Identity) Equal(other Identity) bool {
	return id.Key() == other.Key()
}

// identityJSON mirrors Identity's field order for bit-exact wire encoding
// (spec.md §6): mesh_ip, eth_address, wg_public_key, with mesh_ip rendered
// in RFC 5952 form via net.IP's default String/MarshalText.
type identityJSON struct {
	MeshIP     string     `json:"mesh_ip"`
	EthAddress EthAddress `json:"eth_address"`
	WgKey      WgKey      `json:"wg_public_key"`
}

func (id Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(identityJSON{
		MeshIP:     id.MeshIP.String(),
		EthAddress: id.EthAddress,
		WgKey:      id.WgKey,
	})
}

func (id *Identity) UnmarshalJSON(data []byte) error {
	var raw identityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ip := net.ParseIP(raw.MeshIP)
	if ip == nil {
		return fmt.Errorf("identity: invalid mesh_ip %q", raw.MeshIP)
	}
	id.MeshIP = ip
	id.EthAddress = raw.EthAddress
	id.WgKey = raw.WgKey
	return nil
}

// LocalIdentity is the payload exchanged by the hello peer-discovery
// handshake (spec.md §6): our Identity plus the WireGuard listen port the
// caller wants the peer to dial back on.
type LocalIdentity struct {
	GlobalIdentity Identity `json:"global_identity"`
	WgPort         uint16   `json:"wg_port"`
	HasTunnel      bool     `json:"has_tunnel"`
}
