package dss

import (
	"context"
	"fmt"
	"math/big"

	"CageKeeper/internal/chain"
	fpmath "CageKeeper/internal/math"
	"CageKeeper/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

// Vat is the core accounting ledger. Ilk reads also pull the liquidation
// ratio from the Spotter so that a state.Ilk is complete.
type Vat struct {
	contract
	spotter contract
}

func NewVat(address, spotter common.Address, reader chain.Reader) *Vat {
	return &Vat{
		contract: newContract("Vat", address, VatABI, reader, nil),
		spotter:  newContract("Spotter", spotter, SpotterABI, reader, nil),
	}
}

func (v *Vat) Ilk(ctx context.Context, name string) (state.Ilk, error) {
	id := state.IlkID(name)
	values, err := v.call(ctx, "ilks", id)
	if err != nil {
		return state.Ilk{}, err
	}
	if len(values) != 5 {
		return state.Ilk{}, state.Unavailable(fmt.Errorf("Vat.ilks(%s): %d values", name, len(values)))
	}

	spot, err := v.spotter.call(ctx, "ilks", id)
	if err != nil {
		return state.Ilk{}, err
	}

	return state.Ilk{
		Name: name,
		Art:  fpmath.NewWad(values[0].(*big.Int)),
		Rate: fpmath.NewRay(values[1].(*big.Int)),
		Spot: fpmath.NewRay(values[2].(*big.Int)),
		Line: fpmath.NewRad(values[3].(*big.Int)),
		Dust: fpmath.NewRad(values[4].(*big.Int)),
		Mat:  fpmath.NewRay(spot[1].(*big.Int)),
	}, nil
}

func (v *Vat) Urn(ctx context.Context, ilk string, address common.Address) (state.Urn, error) {
	values, err := v.call(ctx, "urns", state.IlkID(ilk), address)
	if err != nil {
		return state.Urn{}, err
	}
	return state.Urn{
		Ilk:     ilk,
		Address: address,
		Ink:     fpmath.NewWad(values[0].(*big.Int)),
		Art:     fpmath.NewWad(values[1].(*big.Int)),
	}, nil
}

func (v *Vat) Dai(ctx context.Context, address common.Address) (fpmath.Rad, error) {
	n, err := v.callUint(ctx, "dai", address)
	if err != nil {
		return fpmath.Rad{}, err
	}
	return fpmath.NewRad(n), nil
}

func (v *Vat) Sin(ctx context.Context, address common.Address) (fpmath.Rad, error) {
	n, err := v.callUint(ctx, "sin", address)
	if err != nil {
		return fpmath.Rad{}, err
	}
	return fpmath.NewRad(n), nil
}
