package dss

import (
	"context"

	"CageKeeper/internal/chain"
	fpmath "CageKeeper/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// ESM is the emergency shutdown module.
type ESM struct {
	contract
}

func NewESM(address common.Address, reader chain.Reader, sender chain.Sender) *ESM {
	return &ESM{newContract("ESM", address, ESMABI, reader, sender)}
}

// Sum is the governance token deposited towards firing.
func (e *ESM) Sum(ctx context.Context) (fpmath.Wad, error) {
	v, err := e.callUint(ctx, "Sum")
	if err != nil {
		return fpmath.Wad{}, err
	}
	return fpmath.NewWad(v), nil
}

// Min is the deposit threshold for firing.
func (e *ESM) Min(ctx context.Context) (fpmath.Wad, error) {
	v, err := e.callUint(ctx, "min")
	if err != nil {
		return fpmath.Wad{}, err
	}
	return fpmath.NewWad(v), nil
}

func (e *ESM) Fired(ctx context.Context) (bool, error) {
	v, err := e.callUint(ctx, "fired")
	if err != nil {
		return false, err
	}
	return v.Sign() != 0, nil
}

// ESMState is the deposit progress of the module.
type ESMState struct {
	Sum   fpmath.Wad
	Min   fpmath.Wad
	Fired bool
}

// State reads Sum, min and fired.
func (e *ESM) State(ctx context.Context) (ESMState, error) {
	var s ESMState
	var err error
	if s.Sum, err = e.Sum(ctx); err != nil {
		return ESMState{}, err
	}
	if s.Min, err = e.Min(ctx); err != nil {
		return ESMState{}, err
	}
	if s.Fired, err = e.Fired(ctx); err != nil {
		return ESMState{}, err
	}
	return s, nil
}

// Proxy is the address whose authority deny revokes.
func (e *ESM) Proxy(ctx context.Context) (common.Address, error) {
	return e.callAddress(ctx, "proxy")
}

// GemBalance is the governance token held by the module, burnable after shutdown.
func (e *ESM) GemBalance(ctx context.Context) (fpmath.Wad, error) {
	gem, err := e.callAddress(ctx, "gem")
	if err != nil {
		return fpmath.Wad{}, err
	}
	return NewERC20(gem, e.reader).BalanceOf(ctx, e.address)
}

func (e *ESM) Deny(ctx context.Context, target common.Address) (common.Hash, error) {
	return e.transact(ctx, "deny", target)
}

func (e *ESM) Burn(ctx context.Context) (common.Hash, error) {
	return e.transact(ctx, "burn")
}
