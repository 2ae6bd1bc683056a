// Package money implements the signed 256-bit saturating arithmetic used to
// track per-peer debt deltas. No library in the retrieval pack ships a
// signed 256-bit integer with saturating semantics, so this wraps math/big
// (see DESIGN.md for why holiman/uint256, the pack's only bignum dependency,
// doesn't fit: it is unsigned only).
package money

import (
	"fmt"
	"math/big"
)

// bitWidth is the width of the two's-complement range debts saturate to.
const bitWidth = 256

var (
	maxInt256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), bitWidth-1), big.NewInt(1))
	minInt256 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), bitWidth-1))
)

// Int256 is a signed 256-bit integer that saturates instead of overflowing.
// The zero value is zero.
type Int256 struct {
	v big.Int
}

// Zero returns the additive identity.
func Zero() Int256 {
	return Int256{}
}

// FromInt64 builds an Int256 from a machine int64.
func FromInt64(n int64) Int256 {
	return Int256{v: *big.NewInt(n)}
}

// FromUint64 builds an Int256 from a machine uint64.
func FromUint64(n uint64) Int256 {
	var b big.Int
	b.SetUint64(n)
	return Int256{v: b}
}

func clamp(v *big.Int) big.Int {
	if v.Cmp(maxInt256) > 0 {
		return *new(big.Int).Set(maxInt256)
	}
	if v.Cmp(minInt256) < 0 {
		return *new(big.Int).Set(minInt256)
	}
	return *v
}

// Add returns a + b, saturating on overflow.
func (a Int256) Add(b Int256) Int256 {
	r := new(big.Int).Add(&a.v, &b.v)
	return Int256{v: clamp(r)}
}

// Sub returns a - b, saturating on overflow.
func (a Int256) Sub(b Int256) Int256 {
	r := new(big.Int).Sub(&a.v, &b.v)
	return Int256{v: clamp(r)}
}

// Neg returns -a, saturating on overflow (only relevant at the min bound).
func (a Int256) Neg() Int256 {
	r := new(big.Int).Neg(&a.v)
	return Int256{v: clamp(r)}
}

// MulUint64 returns a * n, saturating on overflow. This is the shape every
// billing computation in pkg/watcher takes: a price (Int256, because a
// route price plus a local fee can itself already be summed) times a byte
// count (uint64, because counters never go negative).
func (a Int256) MulUint64(n uint64) Int256 {
	var bn big.Int
	bn.SetUint64(n)
	r := new(big.Int).Mul(&a.v, &bn)
	return Int256{v: clamp(r)}
}

// IsZero reports whether a is zero.
func (a Int256) IsZero() bool {
	return a.v.Sign() == 0
}

// Sign returns -1, 0, or 1 matching math/big.Int.Sign.
func (a Int256) Sign() int {
	return a.v.Sign()
}

// Cmp compares a and b the way math/big.Int.Cmp does.
func (a Int256) Cmp(b Int256) int {
	return a.v.Cmp(&b.v)
}

// String returns the base-10 representation.
func (a Int256) String() string {
	return a.v.String()
}

// AbsFloat64 returns the magnitude of a as a float64, for metrics reporting
// where losing precision at these magnitudes is acceptable.
func (a Int256) AbsFloat64() float64 {
	mag := new(big.Int).Abs(&a.v)
	f := new(big.Float).SetInt(mag)
	out, _ := f.Float64()
	return out
}

// MarshalJSON encodes the value as a signed hex string, e.g. "0x1a" or
// "-0x1a", matching the wire convention of the num256 crate this core was
// ported from (see original_source/althea_types/src/lib.rs's PaymentTx
// amount field, serialized as "0x1").
func (a Int256) MarshalJSON() ([]byte, error) {
	sign := ""
	mag := &a.v
	if a.v.Sign() < 0 {
		sign = "-"
		mag = new(big.Int).Neg(&a.v)
	}
	return []byte(fmt.Sprintf(`"%s0x%s"`, sign, mag.Text(16))), nil
}

// UnmarshalJSON decodes a signed hex string as produced by MarshalJSON.
func (a *Int256) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("money: Int256 must be a JSON string, got %q", data)
	}
	s := string(data[1 : len(data)-1])
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	if len(s) < 2 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return fmt.Errorf("money: Int256 hex string missing 0x prefix: %q", s)
	}
	var mag big.Int
	if _, ok := mag.SetString(s[2:], 16); !ok {
		return fmt.Errorf("money: invalid hex digits in %q", s)
	}
	if neg {
		mag.Neg(&mag)
	}
	a.v = clamp(&mag)
	return nil
}
