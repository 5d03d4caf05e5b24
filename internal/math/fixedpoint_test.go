package math_test

import (
	"math/big"
	"testing"

	fpmath "CageKeeper/internal/math"
)

func TestDebtExceedsCollateral_Boundary(t *testing.T) {
	rate := fpmath.RayFromInt(2)
	spot := fpmath.RayFromInt(4)
	mat := fpmath.RayFromInt(1)
	ink := fpmath.WadFromInt(10) // collateral value 40

	// art * 2 == 40 is not underwater
	if fpmath.DebtExceedsCollateral(fpmath.WadFromInt(20), rate, ink, spot, mat) {
		t.Error("equal debt and collateral should not exceed")
	}

	// One wei of art over the boundary
	over := new(big.Int).Add(fpmath.WadFromInt(20).Int(), big.NewInt(1))
	if !fpmath.DebtExceedsCollateral(fpmath.NewWad(over), rate, ink, spot, mat) {
		t.Error("one wei over the boundary should exceed")
	}
}

func TestDebtExceedsCollateral_ZeroValues(t *testing.T) {
	var zeroWad fpmath.Wad
	var zeroRay fpmath.Ray
	if fpmath.DebtExceedsCollateral(zeroWad, zeroRay, zeroWad, zeroRay, zeroRay) {
		t.Error("zero debt never exceeds")
	}
}

func TestDebtValue(t *testing.T) {
	got := fpmath.DebtValue(fpmath.WadFromInt(3), fpmath.RayFromInt(2))
	if got.Cmp(fpmath.RadFromInt(6)) != 0 {
		t.Errorf("got %s, want 6", got)
	}
}

func TestRadHelpers(t *testing.T) {
	a := fpmath.RadFromInt(50)
	b := fpmath.RadFromInt(30)

	if fpmath.MinRad(a, b).Cmp(b) != 0 {
		t.Errorf("min: got %s, want %s", fpmath.MinRad(a, b), b)
	}
	if !fpmath.ClampRad(b.Sub(a)).IsZero() {
		t.Error("clamp of a negative rad should be zero")
	}
	if a.Sub(b).Cmp(fpmath.RadFromInt(20)) != 0 {
		t.Errorf("sub: got %s", a.Sub(b))
	}
}

func TestString(t *testing.T) {
	if s := fpmath.WadFromInt(5).String(); s != "5" {
		t.Errorf("got %q, want %q", s, "5")
	}
	half := fpmath.NewRay(new(big.Int).Div(fpmath.RayFromInt(1).Int(), big.NewInt(2)))
	if s := half.String(); s != "0.5" {
		t.Errorf("got %q, want %q", s, "0.5")
	}
	var nilWad fpmath.Wad
	if !nilWad.IsZero() || nilWad.String() != "0" {
		t.Errorf("zero value wad: %q", nilWad.String())
	}
}
