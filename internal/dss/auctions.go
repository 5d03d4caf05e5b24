package dss

import (
	"context"
	"fmt"
	"math/big"

	"CageKeeper/internal/chain"
	"CageKeeper/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

// house is the part shared by every auction house binding.
type house struct {
	contract
	variant state.AuctionVariant
	ilk     string
}

func (h *house) Variant() state.AuctionVariant {
	return h.variant
}

func (h *house) Kicks(ctx context.Context) (uint64, error) {
	v, err := h.callUint(ctx, "kicks")
	if err != nil {
		return 0, err
	}
	return uint64Of(v), nil
}

// Ward reports whether who is authorized on the house.
func (h *house) Ward(ctx context.Context, who common.Address) (bool, error) {
	v, err := h.callUint(ctx, "wards", who)
	if err != nil {
		return false, err
	}
	return v.Sign() != 0, nil
}

// Flipper is the legacy fixed-duration collateral auction house.
type Flipper struct {
	house
}

func NewFlipper(ilk string, address common.Address, reader chain.Reader) *Flipper {
	return &Flipper{house{newContract("Flipper", address, FlipperABI, reader, nil), state.VariantFlip, ilk}}
}

func (f *Flipper) Auction(ctx context.Context, id uint64) (state.Auction, error) {
	values, err := f.call(ctx, "bids", new(big.Int).SetUint64(id))
	if err != nil {
		return state.Auction{}, err
	}
	if len(values) != 8 {
		return state.Auction{}, state.Unavailable(fmt.Errorf("Flipper.bids(%d): %d values", id, len(values)))
	}
	return state.Auction{
		Variant: state.VariantFlip,
		ID:      id,
		Ilk:     f.ilk,
		Bid:     values[0].(*big.Int),
		Lot:     values[1].(*big.Int),
		Guy:     values[2].(common.Address),
		Tab:     values[7].(*big.Int),
	}, nil
}

// Clipper is the continuous Dutch collateral auction house. A sale has no
// bidder; the owner of the liquidated position stands in for it.
type Clipper struct {
	house
}

func NewClipper(ilk string, address common.Address, reader chain.Reader) *Clipper {
	return &Clipper{house{newContract("Clipper", address, ClipperABI, reader, nil), state.VariantClip, ilk}}
}

func (c *Clipper) Auction(ctx context.Context, id uint64) (state.Auction, error) {
	values, err := c.call(ctx, "sales", new(big.Int).SetUint64(id))
	if err != nil {
		return state.Auction{}, err
	}
	if len(values) != 6 {
		return state.Auction{}, state.Unavailable(fmt.Errorf("Clipper.sales(%d): %d values", id, len(values)))
	}
	return state.Auction{
		Variant: state.VariantClip,
		ID:      id,
		Ilk:     c.ilk,
		Bid:     new(big.Int),
		Tab:     values[1].(*big.Int),
		Lot:     values[2].(*big.Int),
		Guy:     values[3].(common.Address),
	}, nil
}

// SurplusDebtHouse binds a Flapper or a Flopper. Both can be yanked.
type SurplusDebtHouse struct {
	house
}

func NewFlapper(address common.Address, reader chain.Reader, sender chain.Sender) *SurplusDebtHouse {
	return &SurplusDebtHouse{house{newContract("Flapper", address, AuctionABI, reader, sender), state.VariantFlap, ""}}
}

func NewFlopper(address common.Address, reader chain.Reader, sender chain.Sender) *SurplusDebtHouse {
	return &SurplusDebtHouse{house{newContract("Flopper", address, AuctionABI, reader, sender), state.VariantFlop, ""}}
}

func (s *SurplusDebtHouse) Auction(ctx context.Context, id uint64) (state.Auction, error) {
	values, err := s.call(ctx, "bids", new(big.Int).SetUint64(id))
	if err != nil {
		return state.Auction{}, err
	}
	if len(values) != 5 {
		return state.Auction{}, state.Unavailable(fmt.Errorf("%s.bids(%d): %d values", s.name, id, len(values)))
	}
	return state.Auction{
		Variant: s.variant,
		ID:      id,
		Bid:     values[0].(*big.Int),
		Lot:     values[1].(*big.Int),
		Guy:     values[2].(common.Address),
	}, nil
}

func (s *SurplusDebtHouse) Yank(ctx context.Context, id uint64) (common.Hash, error) {
	return s.transact(ctx, "yank", new(big.Int).SetUint64(id))
}
