package core

import (
	"context"
	"fmt"

	"CageKeeper/internal/state"
)

// Inventory is every auction that is still eligible to be forcibly closed.
type Inventory struct {
	Collateral map[string][]state.Auction // By ilk
	Surplus    []state.Auction
	Debt       []state.Auction
}

// CollateralCount returns the number of open collateral auctions.
func (inv Inventory) CollateralCount() int {
	n := 0
	for _, list := range inv.Collateral {
		n += len(list)
	}
	return n
}

// ActiveAuctions scans ids 1..kicks of a house in ascending order and keeps
// the active ones. Id 0 is never a valid auction.
func ActiveAuctions(ctx context.Context, house AuctionHouse) ([]state.Auction, error) {
	if house == nil {
		return nil, nil
	}
	kicks, err := house.Kicks(ctx)
	if err != nil {
		return nil, err
	}

	var active []state.Auction
	for id := uint64(1); id <= kicks; id++ {
		a, err := house.Auction(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%s auction %d: %w", house.Variant(), id, err)
		}
		if a.Active() {
			active = append(active, a)
		}
	}
	return active, nil
}

// AggregateActiveAuctions scans the collateral houses and the surplus and
// debt houses. It always reads fresh.
func AggregateActiveAuctions(ctx context.Context, collaterals []Collateral, flap, flop AuctionHouse) (Inventory, error) {
	inv := Inventory{Collateral: make(map[string][]state.Auction, len(collaterals))}

	for _, c := range collaterals {
		active, err := ActiveAuctions(ctx, c.House)
		if err != nil {
			return Inventory{}, fmt.Errorf("scan %s: %w", c.Ilk, err)
		}
		if len(active) > 0 {
			inv.Collateral[c.Ilk] = active
		}
	}

	var err error
	if inv.Surplus, err = ActiveAuctions(ctx, flap); err != nil {
		return Inventory{}, fmt.Errorf("scan surplus auctions: %w", err)
	}
	if inv.Debt, err = ActiveAuctions(ctx, flop); err != nil {
		return Inventory{}, fmt.Errorf("scan debt auctions: %w", err)
	}
	return inv, nil
}
