package dss

import (
	"context"

	"CageKeeper/internal/chain"
	fpmath "CageKeeper/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// ERC20 binds the balance read of a token.
type ERC20 struct {
	contract
}

func NewERC20(address common.Address, reader chain.Reader) *ERC20 {
	return &ERC20{newContract("ERC20", address, ERC20ABI, reader, nil)}
}

func (t *ERC20) BalanceOf(ctx context.Context, owner common.Address) (fpmath.Wad, error) {
	v, err := t.callUint(ctx, "balanceOf", owner)
	if err != nil {
		return fpmath.Wad{}, err
	}
	return fpmath.NewWad(v), nil
}
