package state

import (
	fpmath "CageKeeper/internal/math"
)

// LegacyIlk is the deprecated single-collateral symbol that is never caged.
const LegacyIlk = "SAI"

// Ilk is a collateral class snapshot. Risk parameters move between blocks,
// so an Ilk is re-read every time it is needed and never cached.
type Ilk struct {
	Name string
	Art  fpmath.Wad // Total normalised debt
	Rate fpmath.Ray // Accumulated stability fee rate
	Spot fpmath.Ray // Price with safety margin
	Mat  fpmath.Ray // Liquidation ratio
	Line fpmath.Rad // Debt ceiling
	Dust fpmath.Rad // Minimum position debt
}

// HasDebt returns true if any position of the class carries debt.
func (i Ilk) HasDebt() bool {
	return !i.Art.IsZero()
}

// IlkID encodes an ilk name the way the protocol keys it on chain.
func IlkID(name string) [32]byte {
	var id [32]byte
	copy(id[:], name)
	return id
}

// IlkName decodes a right-padded bytes32 ilk identifier.
func IlkName(id [32]byte) string {
	n := len(id)
	for n > 0 && id[n-1] == 0 {
		n--
	}
	return string(id[:n])
}
