package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"
)

// Fees is the pricing of one transaction. Either GasPrice is set (legacy) or
// both TipCap and FeeCap are set (dynamic fee).
type Fees struct {
	GasPrice *big.Int
	TipCap   *big.Int
	FeeCap   *big.Int
}

// IsDynamic reports whether the fees describe a dynamic fee transaction.
func (f Fees) IsDynamic() bool {
	return f.GasPrice == nil
}

func (f Fees) newTx(chainID *big.Int, nonce uint64, to common.Address, gas uint64, data []byte) *types.Transaction {
	if f.IsDynamic() {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: f.TipCap,
			GasFeeCap: f.FeeCap,
			Gas:       gas,
			To:        &to,
			Data:      data,
		})
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: f.GasPrice,
		Gas:      gas,
		To:       &to,
		Data:     data,
	})
}

// GasStrategy prices transactions.
type GasStrategy interface {
	Fees(ctx context.Context) (Fees, error)
}

// FixedGasPrice always uses the same legacy gas price.
type FixedGasPrice struct {
	Price *big.Int
}

// FixedGasPriceGwei builds a FixedGasPrice from a gwei amount.
func FixedGasPriceGwei(gwei decimal.Decimal) (FixedGasPrice, error) {
	if !gwei.IsPositive() {
		return FixedGasPrice{}, fmt.Errorf("gas price must be positive, got %s gwei", gwei)
	}
	wei := gwei.Mul(decimal.NewFromInt(params.GWei)).BigInt()
	return FixedGasPrice{Price: wei}, nil
}

func (f FixedGasPrice) Fees(context.Context) (Fees, error) {
	return Fees{GasPrice: new(big.Int).Set(f.Price)}, nil
}

// FeeSource is the subset of the JSON-RPC API used to price transactions.
type FeeSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// NodeGasPrice asks the node. On chains with a base fee it pays the suggested
// tip and caps at tip + 2 * base fee; otherwise it uses the suggested price.
type NodeGasPrice struct {
	src FeeSource
}

func NewNodeGasPrice(src FeeSource) NodeGasPrice {
	return NodeGasPrice{src: src}
}

func (n NodeGasPrice) Fees(ctx context.Context) (Fees, error) {
	head, err := n.src.HeaderByNumber(ctx, nil)
	if err != nil {
		return Fees{}, fmt.Errorf("fetch head: %w", err)
	}

	if head == nil || head.BaseFee == nil {
		price, err := n.src.SuggestGasPrice(ctx)
		if err != nil {
			return Fees{}, fmt.Errorf("suggest gas price: %w", err)
		}
		return Fees{GasPrice: price}, nil
	}

	tip, err := n.src.SuggestGasTipCap(ctx)
	if err != nil {
		return Fees{}, fmt.Errorf("suggest tip: %w", err)
	}
	feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	return Fees{TipCap: tip, FeeCap: feeCap}, nil
}
