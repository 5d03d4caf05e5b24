// internal/math/fixedpoint.go
package math

import (
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

// Protocol accounting units. Token amounts are wads, rates and prices are rays,
// and stablecoin balances (wad * ray) are rads.
const (
	WadDecimals = 18
	RayDecimals = 27
	RadDecimals = 45
)

var (
	wadOne = new(big.Int).Exp(big.NewInt(10), big.NewInt(WadDecimals), nil)
	rayOne = new(big.Int).Exp(big.NewInt(10), big.NewInt(RayDecimals), nil)
	radOne = new(big.Int).Exp(big.NewInt(10), big.NewInt(RadDecimals), nil)
)

// Pooled big.Int for intermediate products
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	intPool.Put(v)
}

// Wad is a fixed-point number with 18 decimals.
type Wad struct{ n *big.Int }

// Ray is a fixed-point number with 27 decimals.
type Ray struct{ n *big.Int }

// Rad is a fixed-point number with 45 decimals.
type Rad struct{ n *big.Int }

func NewWad(v *big.Int) Wad { return Wad{n: copyInt(v)} }
func NewRay(v *big.Int) Ray { return Ray{n: copyInt(v)} }
func NewRad(v *big.Int) Rad { return Rad{n: copyInt(v)} }

// WadFromInt returns v whole units as a wad.
func WadFromInt(v int64) Wad { return Wad{n: scale(v, wadOne)} }

// RayFromInt returns v whole units as a ray.
func RayFromInt(v int64) Ray { return Ray{n: scale(v, rayOne)} }

// RadFromInt returns v whole units as a rad.
func RadFromInt(v int64) Rad { return Rad{n: scale(v, radOne)} }

func (w Wad) Int() *big.Int  { return copyInt(w.n) }
func (w Wad) IsZero() bool   { return w.n == nil || w.n.Sign() == 0 }
func (w Wad) Sign() int      { return value(w.n).Sign() }
func (w Wad) Cmp(o Wad) int  { return value(w.n).Cmp(value(o.n)) }
func (w Wad) String() string { return format(w.n, WadDecimals) }
func (w Wad) Sub(o Wad) Wad  { return Wad{n: new(big.Int).Sub(value(w.n), value(o.n))} }
func (w Wad) Add(o Wad) Wad  { return Wad{n: new(big.Int).Add(value(w.n), value(o.n))} }
func (r Ray) Int() *big.Int  { return copyInt(r.n) }
func (r Ray) IsZero() bool   { return r.n == nil || r.n.Sign() == 0 }
func (r Ray) Cmp(o Ray) int  { return value(r.n).Cmp(value(o.n)) }
func (r Ray) String() string { return format(r.n, RayDecimals) }
func (d Rad) Int() *big.Int  { return copyInt(d.n) }
func (d Rad) IsZero() bool   { return d.n == nil || d.n.Sign() == 0 }
func (d Rad) Sign() int      { return value(d.n).Sign() }
func (d Rad) Cmp(o Rad) int  { return value(d.n).Cmp(value(o.n)) }
func (d Rad) String() string { return format(d.n, RadDecimals) }
func (d Rad) Add(o Rad) Rad  { return Rad{n: new(big.Int).Add(value(d.n), value(o.n))} }
func (d Rad) Sub(o Rad) Rad  { return Rad{n: new(big.Int).Sub(value(d.n), value(o.n))} }

// MinRad returns the smaller of a and b.
func MinRad(a, b Rad) Rad {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// ClampRad returns d, or zero when d is negative.
func ClampRad(d Rad) Rad {
	if d.Sign() < 0 {
		return Rad{}
	}
	return d
}

// DebtValue returns art * rate, which is exact in rad precision.
func DebtValue(art Wad, rate Ray) Rad {
	return Rad{n: new(big.Int).Mul(value(art.n), value(rate.n))}
}

// DebtExceedsCollateral reports whether art * rate > ink * spot * mat.
//
// Both sides are brought to 72 decimals by multiplication only:
// art(18) * rate(27) * RAY(27) against ink(18) * spot(27) * mat(27).
func DebtExceedsCollateral(art Wad, rate Ray, ink Wad, spot Ray, mat Ray) bool {
	debt := getInt()
	collateral := getInt()
	defer putInt(debt)
	defer putInt(collateral)

	debt.Mul(value(art.n), value(rate.n))
	debt.Mul(debt, rayOne)

	collateral.Mul(value(ink.n), value(spot.n))
	collateral.Mul(collateral, value(mat.n))

	return debt.Cmp(collateral) > 0
}

// Decimal converts a raw fixed-point integer into a decimal for display.
func Decimal(v *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(value(v), -decimals)
}

func format(v *big.Int, decimals int32) string {
	return Decimal(v, decimals).String()
}

func scale(v int64, one *big.Int) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), one)
}

var zero = new(big.Int)

func value(v *big.Int) *big.Int {
	if v == nil {
		return zero
	}
	return v
}

func copyInt(v *big.Int) *big.Int {
	return new(big.Int).Set(value(v))
}
