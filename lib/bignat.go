package lib

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

// ErrLiquidityMath is returned by pool and BigNat operations that cannot
// produce a mathematically valid result (underflow, divide by zero, a ratio
// outside the pool's tolerance, and so on).
var ErrLiquidityMath = errors.New("liquidity math")

// BigNat is an arbitrary-precision integer that is never negative. Every
// constructor and mutator either clamps to zero or returns an error rather
// than letting a negative value escape, so callers never have to re-check
// the sign themselves.
type BigNat struct {
	v *big.Int
}

// ZeroNat returns the BigNat value 0.
func ZeroNat() BigNat {
	return BigNat{v: new(big.Int)}
}

// NatFromUint64 builds a BigNat from a uint64.
func NatFromUint64(n uint64) BigNat {
	return BigNat{v: new(big.Int).SetUint64(n)}
}

// NatFromString parses a base-10 string into a BigNat. Returns an error if
// the string is not a valid non-negative integer.
func NatFromString(s string) (BigNat, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return BigNat{}, fmt.Errorf("%w: %q is not a valid integer", ErrLiquidityMath, s)
	}
	if v.Sign() < 0 {
		return BigNat{}, fmt.Errorf("%w: negative value %q", ErrLiquidityMath, s)
	}
	return BigNat{v: v}, nil
}

func natFromBig(v *big.Int) BigNat {
	if v.Sign() < 0 {
		return ZeroNat()
	}
	return BigNat{v: new(big.Int).Set(v)}
}

// IsZero reports whether n is zero.
func (n BigNat) IsZero() bool {
	return n.v == nil || n.v.Sign() == 0
}

// String renders n as a base-10 string.
func (n BigNat) String() string {
	if n.v == nil {
		return "0"
	}
	return n.v.String()
}

// Uint64 returns n truncated to a uint64, and whether the value fit without
// truncation.
func (n BigNat) Uint64() (uint64, bool) {
	if n.v == nil {
		return 0, true
	}
	if !n.v.IsUint64() {
		return n.v.Uint64(), false
	}
	return n.v.Uint64(), true
}

func (n BigNat) big() *big.Int {
	if n.v == nil {
		return new(big.Int)
	}
	return n.v
}

// Add returns n + other.
func (n BigNat) Add(other BigNat) BigNat {
	return natFromBig(new(big.Int).Add(n.big(), other.big()))
}

// Sub returns n - other, or an error if the result would be negative.
func (n BigNat) Sub(other BigNat) (BigNat, error) {
	r := new(big.Int).Sub(n.big(), other.big())
	if r.Sign() < 0 {
		return BigNat{}, fmt.Errorf("%w: %s - %s underflows", ErrLiquidityMath, n, other)
	}
	return natFromBig(r), nil
}

// SaturatingSub returns n - other, clamped to zero instead of erroring.
func (n BigNat) SaturatingSub(other BigNat) BigNat {
	r := new(big.Int).Sub(n.big(), other.big())
	if r.Sign() < 0 {
		return ZeroNat()
	}
	return natFromBig(r)
}

// Mul returns n * other.
func (n BigNat) Mul(other BigNat) BigNat {
	return natFromBig(new(big.Int).Mul(n.big(), other.big()))
}

// Div returns n / other (floor division), or an error on division by zero.
func (n BigNat) Div(other BigNat) (BigNat, error) {
	if other.IsZero() {
		return BigNat{}, fmt.Errorf("%w: division by zero", ErrLiquidityMath)
	}
	return natFromBig(new(big.Int).Div(n.big(), other.big())), nil
}

// MulDiv returns floor(n * mul / div), the workhorse of every fee and ratio
// calculation in the pool engine — doing the multiply before the divide
// keeps the intermediate precise instead of truncating twice.
func (n BigNat) MulDiv(mul, div BigNat) (BigNat, error) {
	if div.IsZero() {
		return BigNat{}, fmt.Errorf("%w: division by zero", ErrLiquidityMath)
	}
	num := new(big.Int).Mul(n.big(), mul.big())
	return natFromBig(num.Div(num, div.big())), nil
}

// Cmp compares n to other: -1, 0, or 1.
func (n BigNat) Cmp(other BigNat) int {
	return n.big().Cmp(other.big())
}

// LessThan reports whether n < other.
func (n BigNat) LessThan(other BigNat) bool { return n.Cmp(other) < 0 }

// GreaterThan reports whether n > other.
func (n BigNat) GreaterThan(other BigNat) bool { return n.Cmp(other) > 0 }

// Min returns the smaller of n and other.
func (n BigNat) Min(other BigNat) BigNat {
	if n.LessThan(other) {
		return n
	}
	return other
}

// Sqrt returns floor(sqrt(n)), used by the bootstrap liquidity formula.
func (n BigNat) Sqrt() BigNat {
	return natFromBig(new(big.Int).Sqrt(n.big()))
}

// Rescale converts n from a value expressed with fromDecimals fractional
// digits to one expressed with toDecimals fractional digits — the
// cross-token precision conversion §4.1/§4.2 require whenever two tokens in
// a pool have different decimals. Scaling down truncates (floors), matching
// the rest of the engine's floor-biased rounding so the pool never pays out
// more than it holds.
func (n BigNat) Rescale(fromDecimals, toDecimals int) BigNat {
	if fromDecimals == toDecimals {
		return n
	}
	if toDecimals > fromDecimals {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(toDecimals-fromDecimals)), nil)
		return natFromBig(new(big.Int).Mul(n.big(), scale))
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(fromDecimals-toDecimals)), nil)
	return natFromBig(new(big.Int).Div(n.big(), scale))
}

// MarshalJSON encodes the BigNat as a JSON string so large values survive
// round-tripping through float64-based JSON numbers unharmed.
func (n BigNat) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.String())
}

// UnmarshalJSON decodes a BigNat from a JSON string or number.
func (n *BigNat) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// fall back to a bare JSON number
		var num json.Number
		if err2 := json.Unmarshal(data, &num); err2 != nil {
			return err
		}
		s = num.String()
	}
	parsed, err := NatFromString(s)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
