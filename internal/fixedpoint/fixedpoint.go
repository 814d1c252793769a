// Package fixedpoint provides deterministic decimal arithmetic for all
// monetary and token quantities. Values carry 8 fractional digits and every
// lossy operation takes an explicit rounding mode, so two nodes replaying the
// same trade sequence always land on identical balances. No other package is
// allowed to do float math on a balance.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by every Value.
const Scale = 8

var (
	// ErrOverflow is returned when a result leaves the representable range.
	ErrOverflow = errors.New("fixedpoint: overflow")
	// ErrDivisionByZero is returned on a zero denominator.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")

	// maxAbs bounds the representable range at 10^18 whole units.
	maxAbs = decimal.New(1, 18)

	two   = big.NewInt(2)
	three = big.NewInt(3)
)

// Rounding selects how a result is snapped onto the 8-digit grid.
type Rounding int

const (
	// RoundDown truncates toward zero: used for amounts paid out.
	RoundDown Rounding = iota
	// RoundUp rounds away from zero: used for amounts owed.
	RoundUp
)

// Value is an immutable fixed-point quantity.
type Value struct {
	dec decimal.Decimal
}

// Zero returns the zero value.
func Zero() Value { return Value{} }

// New returns a Value of n whole units.
func New(n int64) Value {
	return Value{dec: decimal.New(n, 0)}
}

// FromUnits builds a Value from raw units of 10^-8 (the smallest step).
func FromUnits(raw int64) Value {
	return Value{dec: decimal.New(raw, -Scale)}
}

// FromString parses a decimal string such as "0.0001".
func FromString(s string) (Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Value{}, fmt.Errorf("fixedpoint: parse %q: %w", s, err)
	}
	v := Value{dec: d.RoundDown(Scale)}
	if err := v.checkRange(); err != nil {
		return Value{}, err
	}
	return v, nil
}

// MustFromString is FromString for trusted constants; it panics on error.
func MustFromString(s string) Value {
	v, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromBps converts basis points (1/10000) into a fraction, e.g. 50 -> 0.005.
func FromBps(bps int64) Value {
	return Value{dec: decimal.New(bps, -4)}
}

func (v Value) checkRange() error {
	if v.dec.Abs().GreaterThan(maxAbs) {
		return ErrOverflow
	}
	return nil
}

func (v Value) round(mode Rounding) Value {
	if mode == RoundUp {
		return Value{dec: v.dec.RoundUp(Scale)}
	}
	return Value{dec: v.dec.RoundDown(Scale)}
}

// Add returns v + o.
func (v Value) Add(o Value) (Value, error) {
	r := Value{dec: v.dec.Add(o.dec)}
	if err := r.checkRange(); err != nil {
		return Value{}, err
	}
	return r, nil
}

// Sub returns v - o.
func (v Value) Sub(o Value) (Value, error) {
	r := Value{dec: v.dec.Sub(o.dec)}
	if err := r.checkRange(); err != nil {
		return Value{}, err
	}
	return r, nil
}

// Mul returns v * o rounded with mode.
func (v Value) Mul(o Value, mode Rounding) (Value, error) {
	r := Value{dec: v.dec.Mul(o.dec)}.round(mode)
	if err := r.checkRange(); err != nil {
		return Value{}, err
	}
	return r, nil
}

// Div returns v / o rounded with mode. The quotient is truncated exactly on
// the grid via QuoRem, so RoundDown never inherits a half-up carry from a
// guard digit and RoundUp moves by exactly one step when a remainder exists.
func (v Value) Div(o Value, mode Rounding) (Value, error) {
	if o.dec.IsZero() {
		return Value{}, ErrDivisionByZero
	}
	q, rem := v.dec.QuoRem(o.dec, Scale)
	if mode == RoundUp && !rem.IsZero() {
		step := decimal.New(1, -Scale)
		if v.dec.Sign()*o.dec.Sign() < 0 {
			q = q.Sub(step)
		} else {
			q = q.Add(step)
		}
	}
	r := Value{dec: q}
	if err := r.checkRange(); err != nil {
		return Value{}, err
	}
	return r, nil
}

// Pow returns v^n for a small non-negative integer exponent, rounding each
// multiplication with mode.
func (v Value) Pow(n uint, mode Rounding) (Value, error) {
	r := New(1)
	var err error
	for i := uint(0); i < n; i++ {
		r, err = r.Mul(v, mode)
		if err != nil {
			return Value{}, err
		}
	}
	return r, nil
}

// Sqrt returns the square root of v, rounded down to the grid. Computed as an
// integer square root over raw units so the result is exact and deterministic.
func (v Value) Sqrt() (Value, error) {
	if v.dec.IsNegative() {
		return Value{}, fmt.Errorf("fixedpoint: sqrt of negative %s: %w", v, ErrOverflow)
	}
	// raw(result)^2 == raw(v) * 10^Scale
	n := v.dec.Shift(Scale).BigInt()
	n.Mul(n, pow10(Scale))
	root := new(big.Int).Sqrt(n)
	return Value{dec: decimal.NewFromBigInt(root, -Scale)}, nil
}

// Cbrt returns the cube root of v, rounded down to the grid. Newton iteration
// over big integers; input must be non-negative.
func (v Value) Cbrt() (Value, error) {
	if v.dec.IsNegative() {
		return Value{}, fmt.Errorf("fixedpoint: cbrt of negative %s: %w", v, ErrOverflow)
	}
	if v.dec.IsZero() {
		return Value{}, nil
	}
	// raw(result)^3 == raw(v) * 10^(2*Scale)
	n := v.dec.Shift(Scale).BigInt()
	n.Mul(n, pow10(2*Scale))
	root := icbrt(n)
	return Value{dec: decimal.NewFromBigInt(root, -Scale)}, nil
}

// icbrt is the floor integer cube root of n > 0.
func icbrt(n *big.Int) *big.Int {
	// Start from 2^(ceil(bits/3)) which is always >= cbrt(n).
	x := new(big.Int).Lsh(big.NewInt(1), uint(n.BitLen()+2)/3)
	for {
		// y = (2x + n/x^2) / 3
		sq := new(big.Int).Mul(x, x)
		y := new(big.Int).Div(n, sq)
		y.Add(y, new(big.Int).Mul(two, x))
		y.Div(y, three)
		if y.Cmp(x) >= 0 {
			return x
		}
		x = y
	}
}

func pow10(exp int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// Cmp compares v and o: -1, 0 or +1.
func (v Value) Cmp(o Value) int { return v.dec.Cmp(o.dec) }

// Equal reports v == o.
func (v Value) Equal(o Value) bool { return v.dec.Equal(o.dec) }

// LessThan reports v < o.
func (v Value) LessThan(o Value) bool { return v.dec.LessThan(o.dec) }

// GreaterThan reports v > o.
func (v Value) GreaterThan(o Value) bool { return v.dec.GreaterThan(o.dec) }

// IsZero reports v == 0.
func (v Value) IsZero() bool { return v.dec.IsZero() }

// IsPositive reports v > 0.
func (v Value) IsPositive() bool { return v.dec.IsPositive() }

// IsNegative reports v < 0.
func (v Value) IsNegative() bool { return v.dec.IsNegative() }

// String renders the value as a plain decimal string.
func (v Value) String() string { return v.dec.String() }

// Float64 returns an approximate float, for logging and metrics only.
func (v Value) Float64() float64 {
	f, _ := v.dec.Float64()
	return f
}
