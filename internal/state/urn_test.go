package state_test

import (
	"math/big"
	"testing"

	fpmath "CageKeeper/internal/math"
	"CageKeeper/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestIsUnderwater(t *testing.T) {
	// rate 1.0, spot 1.0, mat 1.5: threshold at art = 1.5 * ink
	ilk := state.Ilk{
		Name: "ETH-A",
		Rate: fpmath.RayFromInt(1),
		Spot: fpmath.RayFromInt(1),
		Mat:  fpmath.NewRay(new(big.Int).Div(fpmath.RayFromInt(3).Int(), big.NewInt(2))),
	}
	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	tests := []struct {
		name string
		ink  int64
		art  int64
		want bool
	}{
		{"healthy", 100, 100, false},
		{"exact equality", 100, 150, false},
		{"just over", 100, 151, true},
		{"no debt", 100, 0, false},
		{"no collateral", 0, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			urn := state.Urn{
				Ilk:     ilk.Name,
				Address: owner,
				Ink:     fpmath.WadFromInt(tt.ink),
				Art:     fpmath.WadFromInt(tt.art),
			}
			assert.Equal(t, tt.want, state.IsUnderwater(urn, ilk))
		})
	}
}

func TestIlkID_RoundTrip(t *testing.T) {
	id := state.IlkID("ETH-A")
	assert.Equal(t, byte('E'), id[0])
	assert.Equal(t, byte(0), id[5])
	assert.Equal(t, "ETH-A", state.IlkName(id))
}

func TestIlk_HasDebt(t *testing.T) {
	assert.False(t, state.Ilk{Name: "BAT-A"}.HasDebt())
	assert.True(t, state.Ilk{Name: "BAT-A", Art: fpmath.WadFromInt(1)}.HasDebt())
}
