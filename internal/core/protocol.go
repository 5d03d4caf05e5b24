package core

import (
	"context"
	"time"

	fpmath "CageKeeper/internal/math"
	"CageKeeper/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

// ShutdownModule is the shutdown coordinator (End).
type ShutdownModule interface {
	Live(ctx context.Context) (bool, error)
	When(ctx context.Context) (time.Time, error)
	Wait(ctx context.Context) (time.Duration, error)
	Debt(ctx context.Context) (fpmath.Rad, error)
	Tag(ctx context.Context, ilk string) (fpmath.Ray, error)
	Fix(ctx context.Context, ilk string) (fpmath.Ray, error)
	Art(ctx context.Context, ilk string) (fpmath.Wad, error)

	Cage(ctx context.Context, ilk string) (common.Hash, error)
	Skim(ctx context.Context, ilk string, urn common.Address) (common.Hash, error)
	Skip(ctx context.Context, ilk string, id uint64) (common.Hash, error)
	Snip(ctx context.Context, ilk string, id uint64) (common.Hash, error)
	Thaw(ctx context.Context) (common.Hash, error)
	Flow(ctx context.Context, ilk string) (common.Hash, error)
}

// Ledger is the core accounting ledger (Vat).
type Ledger interface {
	Ilk(ctx context.Context, name string) (state.Ilk, error)
	Urn(ctx context.Context, ilk string, address common.Address) (state.Urn, error)
	Dai(ctx context.Context, address common.Address) (fpmath.Rad, error)
	Sin(ctx context.Context, address common.Address) (fpmath.Rad, error)
}

// Settlement is the system balance sheet (Vow).
type Settlement interface {
	Address() common.Address
	Sin(ctx context.Context) (fpmath.Rad, error)
	Ash(ctx context.Context) (fpmath.Rad, error)
	Heal(ctx context.Context, rad fpmath.Rad) (common.Hash, error)
	Kiss(ctx context.Context, rad fpmath.Rad) (common.Hash, error)
}

// AuctionHouse enumerates the auctions of one house.
type AuctionHouse interface {
	Address() common.Address
	Variant() state.AuctionVariant
	Kicks(ctx context.Context) (uint64, error)
	Auction(ctx context.Context, id uint64) (state.Auction, error)
	Ward(ctx context.Context, who common.Address) (bool, error)
}

// YankableHouse is a surplus or debt auction house.
type YankableHouse interface {
	AuctionHouse
	Yank(ctx context.Context, id uint64) (common.Hash, error)
}

// EmergencyModule is the emergency shutdown module (ESM).
type EmergencyModule interface {
	Address() common.Address
	Proxy(ctx context.Context) (common.Address, error)
	GemBalance(ctx context.Context) (fpmath.Wad, error)
	Deny(ctx context.Context, target common.Address) (common.Hash, error)
	Burn(ctx context.Context) (common.Hash, error)
}

// PositionSource lists the open positions of a collateral class. Every
// returned position has non-zero debt.
type PositionSource interface {
	PositionsFor(ctx context.Context, ilk string) ([]state.Urn, error)
}

// IlkDiscoverer lists the collateral classes that have seen position changes.
type IlkDiscoverer interface {
	DiscoverIlks(ctx context.Context) ([]string, error)
}

// Collateral pairs a configured collateral class with its auction house.
type Collateral struct {
	Ilk   string
	House AuctionHouse
}

// Protocol is every contract the keeper touches.
type Protocol struct {
	End     ShutdownModule
	Vat     Ledger
	Vow     Settlement
	Flapper YankableHouse
	Flopper YankableHouse
	ESM     EmergencyModule // Optional

	// In deployment descriptor order
	Collaterals []Collateral

	Positions  PositionSource
	Discoverer IlkDiscoverer // Optional
}

// IlkNames returns the configured collateral class names in order.
func (p Protocol) IlkNames() []string {
	names := make([]string, 0, len(p.Collaterals))
	for _, c := range p.Collaterals {
		names = append(names, c.Ilk)
	}
	return names
}

func (p Protocol) house(ilk string) AuctionHouse {
	for _, c := range p.Collaterals {
		if c.Ilk == ilk {
			return c.House
		}
	}
	return nil
}
