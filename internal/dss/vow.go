package dss

import (
	"context"

	"CageKeeper/internal/chain"
	fpmath "CageKeeper/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// Vow is the system balance sheet.
type Vow struct {
	contract
}

func NewVow(address common.Address, reader chain.Reader, sender chain.Sender) *Vow {
	return &Vow{newContract("Vow", address, VowABI, reader, sender)}
}

// Sin is the queued bad debt.
func (v *Vow) Sin(ctx context.Context) (fpmath.Rad, error) {
	n, err := v.callUint(ctx, "Sin")
	if err != nil {
		return fpmath.Rad{}, err
	}
	return fpmath.NewRad(n), nil
}

// Ash is the bad debt on auction.
func (v *Vow) Ash(ctx context.Context) (fpmath.Rad, error) {
	n, err := v.callUint(ctx, "Ash")
	if err != nil {
		return fpmath.Rad{}, err
	}
	return fpmath.NewRad(n), nil
}

func (v *Vow) Heal(ctx context.Context, rad fpmath.Rad) (common.Hash, error) {
	return v.transact(ctx, "heal", rad.Int())
}

func (v *Vow) Kiss(ctx context.Context, rad fpmath.Rad) (common.Hash, error) {
	return v.transact(ctx, "kiss", rad.Int())
}
