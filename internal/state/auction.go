// internal/state/auction.go
package state

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Nobody is the sentinel bidder of an auction that has no live bid.
var Nobody = common.Address{}

// AuctionKind is what an auction sells.
type AuctionKind int32

const (
	AuctionKindCollateral AuctionKind = iota
	AuctionKindSurplus
	AuctionKindDebt
)

func (k AuctionKind) String() string {
	switch k {
	case AuctionKindCollateral:
		return "collateral"
	case AuctionKindSurplus:
		return "surplus"
	case AuctionKindDebt:
		return "debt"
	default:
		return "unknown"
	}
}

// AuctionVariant is the concrete auction house contract.
type AuctionVariant int32

const (
	VariantFlip AuctionVariant = iota // Fixed-duration collateral auction
	VariantClip                       // Continuous Dutch collateral auction
	VariantFlap                       // Surplus auction
	VariantFlop                       // Debt auction
)

func (v AuctionVariant) String() string {
	switch v {
	case VariantFlip:
		return "flip"
	case VariantClip:
		return "clip"
	case VariantFlap:
		return "flap"
	case VariantFlop:
		return "flop"
	default:
		return "unknown"
	}
}

// Kind returns the auction kind sold by the variant.
func (v AuctionVariant) Kind() AuctionKind {
	switch v {
	case VariantFlap:
		return AuctionKindSurplus
	case VariantFlop:
		return AuctionKindDebt
	default:
		return AuctionKindCollateral
	}
}

// Auction is one entry of an auction house. Units of Bid, Lot and Tab depend
// on the variant; Tab is only meaningful for collateral auctions. Clip sales
// carry no bid, so Bid is zero and Guy is the position owner.
type Auction struct {
	Variant AuctionVariant
	ID      uint64
	Ilk     string // Collateral auctions only
	Guy     common.Address
	Bid     *big.Int
	Lot     *big.Int
	Tab     *big.Int
}

// Kind returns the auction kind.
func (a Auction) Kind() AuctionKind {
	return a.Variant.Kind()
}

// Active reports whether the auction is still eligible to be forcibly closed.
// Every kind needs a real bidder; a collateral auction must also still be
// short of its tab.
func (a Auction) Active() bool {
	if a.ID == 0 || a.Guy == Nobody {
		return false
	}
	if a.Kind() != AuctionKindCollateral {
		return true
	}
	return bigOrZero(a.Bid).Cmp(bigOrZero(a.Tab)) < 0
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
