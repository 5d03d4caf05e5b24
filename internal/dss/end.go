package dss

import (
	"context"
	"math/big"
	"time"

	"CageKeeper/internal/chain"
	fpmath "CageKeeper/internal/math"
	"CageKeeper/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

// End is the shutdown coordinator.
type End struct {
	contract
}

func NewEnd(address common.Address, reader chain.Reader, sender chain.Sender) *End {
	return &End{newContract("End", address, EndABI, reader, sender)}
}

// Live is false once the shutdown trigger has fired.
func (e *End) Live(ctx context.Context) (bool, error) {
	v, err := e.callUint(ctx, "live")
	if err != nil {
		return false, err
	}
	return v.Sign() != 0, nil
}

// When is the time the shutdown trigger fired.
func (e *End) When(ctx context.Context) (time.Time, error) {
	v, err := e.callUint(ctx, "when")
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(uint64Of(v)), 0).UTC(), nil
}

// Wait is the processing period length.
func (e *End) Wait(ctx context.Context) (time.Duration, error) {
	v, err := e.callUint(ctx, "wait")
	if err != nil {
		return 0, err
	}
	return time.Duration(uint64Of(v)) * time.Second, nil
}

// Debt is the outstanding stablecoin supply fixed at thaw. Zero before thaw.
func (e *End) Debt(ctx context.Context) (fpmath.Rad, error) {
	v, err := e.callUint(ctx, "debt")
	if err != nil {
		return fpmath.Rad{}, err
	}
	return fpmath.NewRad(v), nil
}

// Tag is the cage price of an ilk. Zero until the ilk is caged.
func (e *End) Tag(ctx context.Context, ilk string) (fpmath.Ray, error) {
	v, err := e.callUint(ctx, "tag", state.IlkID(ilk))
	if err != nil {
		return fpmath.Ray{}, err
	}
	return fpmath.NewRay(v), nil
}

// Fix is the final redemption ratio of an ilk. Zero until flowed.
func (e *End) Fix(ctx context.Context, ilk string) (fpmath.Ray, error) {
	v, err := e.callUint(ctx, "fix", state.IlkID(ilk))
	if err != nil {
		return fpmath.Ray{}, err
	}
	return fpmath.NewRay(v), nil
}

// Art is the normalised debt of an ilk recorded when it was caged. Skims do
// not lower it.
func (e *End) Art(ctx context.Context, ilk string) (fpmath.Wad, error) {
	v, err := e.callUint(ctx, "Art", state.IlkID(ilk))
	if err != nil {
		return fpmath.Wad{}, err
	}
	return fpmath.NewWad(v), nil
}

func (e *End) Cage(ctx context.Context, ilk string) (common.Hash, error) {
	return e.transact(ctx, "cage", state.IlkID(ilk))
}

func (e *End) Skim(ctx context.Context, ilk string, urn common.Address) (common.Hash, error) {
	return e.transact(ctx, "skim", state.IlkID(ilk), urn)
}

func (e *End) Skip(ctx context.Context, ilk string, id uint64) (common.Hash, error) {
	return e.transact(ctx, "skip", state.IlkID(ilk), new(big.Int).SetUint64(id))
}

func (e *End) Snip(ctx context.Context, ilk string, id uint64) (common.Hash, error) {
	return e.transact(ctx, "snip", state.IlkID(ilk), new(big.Int).SetUint64(id))
}

func (e *End) Thaw(ctx context.Context) (common.Hash, error) {
	return e.transact(ctx, "thaw")
}

func (e *End) Flow(ctx context.Context, ilk string) (common.Hash, error) {
	return e.transact(ctx, "flow", state.IlkID(ilk))
}
