package state

import (
	fpmath "CageKeeper/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// Urn is a position: collateral locked and normalised debt drawn by one owner
// in one collateral class.
type Urn struct {
	Ilk     string
	Address common.Address
	Ink     fpmath.Wad // Locked collateral
	Art     fpmath.Wad // Normalised debt
}

// HasDebt returns true if the position still owes anything.
func (u Urn) HasDebt() bool {
	return !u.Art.IsZero()
}

// IsUnderwater reports whether the position's debt value strictly exceeds its
// discounted collateral value: art * rate > ink * spot * mat.
// Exact equality is not underwater.
func IsUnderwater(urn Urn, ilk Ilk) bool {
	return fpmath.DebtExceedsCollateral(urn.Art, ilk.Rate, urn.Ink, ilk.Spot, ilk.Mat)
}
