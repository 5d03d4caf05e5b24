package dss

import (
	"context"
	"fmt"
	"math/big"

	"CageKeeper/internal/chain"
	"CageKeeper/internal/state"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// contract is a thin ABI binding over a Reader and a Sender.
type contract struct {
	name    string
	address common.Address
	abi     abi.ABI
	reader  chain.Reader
	sender  chain.Sender
}

func newContract(name string, address common.Address, parsed abi.ABI, reader chain.Reader, sender chain.Sender) contract {
	return contract{
		name:    name,
		address: address,
		abi:     parsed,
		reader:  reader,
		sender:  sender,
	}
}

// Address returns the contract address.
func (c contract) Address() common.Address {
	return c.address
}

func (c contract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s.%s: %w", c.name, method, err)
	}
	out, err := c.reader.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, state.Unavailable(fmt.Errorf("%s.%s: %w", c.name, method, err))
	}
	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, state.Unavailable(fmt.Errorf("unpack %s.%s: %w", c.name, method, err))
	}
	return values, nil
}

func (c contract) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	values, err := c.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, state.Unavailable(fmt.Errorf("%s.%s: unexpected return %T", c.name, method, values[0]))
	}
	return v, nil
}

func (c contract) callAddress(ctx context.Context, method string, args ...interface{}) (common.Address, error) {
	values, err := c.call(ctx, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	v, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, state.Unavailable(fmt.Errorf("%s.%s: unexpected return %T", c.name, method, values[0]))
	}
	return v, nil
}

func (c contract) transact(ctx context.Context, method string, args ...interface{}) (common.Hash, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s.%s: %w", c.name, method, err)
	}
	receipt, err := c.sender.Send(ctx, c.address, data, c.name+"."+method)
	if receipt != nil {
		return receipt.TxHash, err
	}
	return common.Hash{}, err
}

func uint64Of(v *big.Int) uint64 {
	if v == nil || !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}
