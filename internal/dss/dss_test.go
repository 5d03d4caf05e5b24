package dss_test

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"CageKeeper/internal/dss"
	fpmath "CageKeeper/internal/math"
	"CageKeeper/internal/state"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	vatAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	spotAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	endAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	flipAddr = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	clipAddr = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	other    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

// ============================================================================
// Fakes
// ============================================================================

type responder func(method string, args []interface{}) ([]interface{}, error)

// fakeReader answers eth_call by decoding the selector with the contract's
// ABI and packing whatever the responder returns.
type fakeReader struct {
	abis       map[common.Address]abi.ABI
	responders map[common.Address]responder
	logs       []types.Log
	head       uint64
	queries    []ethereum.FilterQuery
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		abis:       make(map[common.Address]abi.ABI),
		responders: make(map[common.Address]responder),
	}
}

func (f *fakeReader) on(addr common.Address, parsed abi.ABI, r responder) {
	f.abis[addr] = parsed
	f.responders[addr] = r
}

func (f *fakeReader) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	parsed, ok := f.abis[*msg.To]
	if !ok {
		return nil, errors.New("no code at address")
	}
	method, err := parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	out, err := f.responders[*msg.To](method.Name, args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

func (f *fakeReader) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.queries = append(f.queries, q)
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeReader) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: new(big.Int).SetUint64(f.head)}, nil
}

func (f *fakeReader) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeReader) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

type fakeSender struct {
	calls []string
	data  [][]byte
}

func (f *fakeSender) Send(_ context.Context, to common.Address, data []byte, label string) (*types.Receipt, error) {
	f.calls = append(f.calls, label)
	f.data = append(f.data, data)
	return &types.Receipt{TxHash: common.BytesToHash([]byte(label)), Status: types.ReceiptStatusSuccessful}, nil
}

func ray(v int64) *big.Int { return fpmath.RayFromInt(v).Int() }
func wad(v int64) *big.Int { return fpmath.WadFromInt(v).Int() }

// ============================================================================
// Test: Deployment descriptor
// ============================================================================

const descriptor = `{
  "MCD_VAT": "0x00000000000000000000000000000000000000a0",
  "MCD_SPOT": "0x00000000000000000000000000000000000000a1",
  "MCD_END": "0x00000000000000000000000000000000000000a2",
  "MCD_VOW": "0x00000000000000000000000000000000000000a5",
  "MCD_FLAP": "0x00000000000000000000000000000000000000a6",
  "MCD_FLOP": "0x00000000000000000000000000000000000000a7",
  "MCD_FLIP_ETH_A": "0x00000000000000000000000000000000000000c1",
  "MCD_FLIP_BAT_A": "0x00000000000000000000000000000000000000c2",
  "MCD_CLIP_CALC_ETH_A": "0x00000000000000000000000000000000000000c3",
  "MCD_CLIP_ETH_A": "0x00000000000000000000000000000000000000c4",
  "MCD_CLIP_PSM_USDC_A": "0x00000000000000000000000000000000000000c5",
  "SAI": "0x00000000000000000000000000000000000000c6",
  "ILK_COUNT": 3
}`

func TestParseDeployment(t *testing.T) {
	d, err := dss.ParseDeployment(strings.NewReader(descriptor))
	require.NoError(t, err)

	assert.Equal(t, vatAddr, d.Vat)
	assert.Equal(t, spotAddr, d.Spotter)
	assert.Equal(t, common.Address{}, d.ESM)
	assert.Equal(t, []string{"ETH-A", "BAT-A", "PSM-USDC-A"}, d.Ilks())

	// Clip replaces flip in place
	assert.Equal(t, state.VariantClip, d.Collaterals[0].Variant)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000c4"), d.Collaterals[0].Address)
	assert.Equal(t, state.VariantFlip, d.Collaterals[1].Variant)
}

func TestParseDeployment_MissingCore(t *testing.T) {
	_, err := dss.ParseDeployment(strings.NewReader(`{"MCD_VAT": "0x00000000000000000000000000000000000000a0"}`))
	assert.Error(t, err)
}

func TestParseDeployment_BadAddress(t *testing.T) {
	_, err := dss.ParseDeployment(strings.NewReader(`{"MCD_VAT": "not-an-address"}`))
	assert.ErrorContains(t, err, "MCD_VAT")
}

// ============================================================================
// Test: Bindings
// ============================================================================

func TestVat_IlkIncludesMat(t *testing.T) {
	r := newFakeReader()
	r.on(vatAddr, dss.VatABI, func(method string, args []interface{}) ([]interface{}, error) {
		id := args[0].([32]byte)
		require.Equal(t, "ETH-A", state.IlkName(id))
		return []interface{}{wad(1000), ray(1), ray(2), big.NewInt(0), big.NewInt(0)}, nil
	})
	r.on(spotAddr, dss.SpotterABI, func(method string, args []interface{}) ([]interface{}, error) {
		return []interface{}{common.Address{}, ray(3)}, nil
	})

	ilk, err := dss.NewVat(vatAddr, spotAddr, r).Ilk(context.Background(), "ETH-A")
	require.NoError(t, err)
	assert.Equal(t, 0, ilk.Art.Cmp(fpmath.WadFromInt(1000)))
	assert.Equal(t, 0, ilk.Spot.Cmp(fpmath.RayFromInt(2)))
	assert.Equal(t, 0, ilk.Mat.Cmp(fpmath.RayFromInt(3)))
}

func TestEnd_ReadFailureIsUnavailable(t *testing.T) {
	r := newFakeReader()
	r.on(endAddr, dss.EndABI, func(string, []interface{}) ([]interface{}, error) {
		return nil, errors.New("timeout")
	})

	_, err := dss.NewEnd(endAddr, r, nil).Live(context.Background())
	assert.ErrorIs(t, err, state.ErrDataUnavailable)
}

func TestEnd_TransactLabels(t *testing.T) {
	sender := &fakeSender{}
	end := dss.NewEnd(endAddr, newFakeReader(), sender)
	ctx := context.Background()

	_, err := end.Cage(ctx, "ETH-A")
	require.NoError(t, err)
	_, err = end.Skim(ctx, "ETH-A", owner)
	require.NoError(t, err)
	hash, err := end.Thaw(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"End.cage", "End.skim", "End.thaw"}, sender.calls)
	assert.Equal(t, common.BytesToHash([]byte("End.thaw")), hash)
	assert.Equal(t, dss.EndABI.Methods["cage"].ID, sender.data[0][:4])
}

func TestEnd_ArtRecordedAtCage(t *testing.T) {
	r := newFakeReader()
	r.on(endAddr, dss.EndABI, func(method string, args []interface{}) ([]interface{}, error) {
		require.Equal(t, "Art", method)
		require.Equal(t, "ETH-A", state.IlkName(args[0].([32]byte)))
		return []interface{}{wad(250)}, nil
	})

	art, err := dss.NewEnd(endAddr, r, nil).Art(context.Background(), "ETH-A")
	require.NoError(t, err)
	assert.Equal(t, 0, art.Cmp(fpmath.WadFromInt(250)))
}

func TestESM_State(t *testing.T) {
	esmAddr := common.HexToAddress("0x00000000000000000000000000000000000000a8")
	r := newFakeReader()
	r.on(esmAddr, dss.ESMABI, func(method string, _ []interface{}) ([]interface{}, error) {
		switch method {
		case "Sum":
			return []interface{}{wad(40_000)}, nil
		case "min":
			return []interface{}{wad(50_000)}, nil
		case "fired":
			return []interface{}{big.NewInt(1)}, nil
		}
		return nil, errors.New("unexpected " + method)
	})

	st, err := dss.NewESM(esmAddr, r, nil).State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, st.Sum.Cmp(fpmath.WadFromInt(40_000)))
	assert.Equal(t, 0, st.Min.Cmp(fpmath.WadFromInt(50_000)))
	assert.True(t, st.Fired)
}

func TestFlipper_Auction(t *testing.T) {
	r := newFakeReader()
	r.on(flipAddr, dss.FlipperABI, func(method string, args []interface{}) ([]interface{}, error) {
		switch method {
		case "kicks":
			return []interface{}{big.NewInt(2)}, nil
		default:
			return []interface{}{big.NewInt(40), big.NewInt(5), owner, big.NewInt(0), big.NewInt(0), other, other, big.NewInt(100)}, nil
		}
	})

	flip := dss.NewFlipper("ETH-A", flipAddr, r)
	kicks, err := flip.Kicks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), kicks)

	a, err := flip.Auction(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, owner, a.Guy)
	assert.Equal(t, "ETH-A", a.Ilk)
	assert.Equal(t, int64(100), a.Tab.Int64())
	assert.True(t, a.Active())
}

func TestClipper_AuctionUsesOwnerAsBidder(t *testing.T) {
	r := newFakeReader()
	r.on(clipAddr, dss.ClipperABI, func(method string, args []interface{}) ([]interface{}, error) {
		return []interface{}{big.NewInt(0), big.NewInt(100), big.NewInt(5), owner, big.NewInt(0), big.NewInt(0)}, nil
	})

	a, err := dss.NewClipper("ETH-A", clipAddr, r).Auction(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, state.VariantClip, a.Variant)
	assert.Equal(t, owner, a.Guy)
	assert.Equal(t, int64(0), a.Bid.Int64())
	assert.True(t, a.Active())
}

// ============================================================================
// Test: Log replay
// ============================================================================

type fakeUrns map[common.Address]int64

func (f fakeUrns) Urn(_ context.Context, ilk string, addr common.Address) (state.Urn, error) {
	return state.Urn{Ilk: ilk, Address: addr, Ink: fpmath.WadFromInt(10), Art: fpmath.WadFromInt(f[addr])}, nil
}

func note(block uint64, topic common.Hash, ilk string, addrs ...common.Address) types.Log {
	topics := []common.Hash{topic, common.Hash(state.IlkID(ilk))}
	for _, a := range addrs {
		topics = append(topics, common.BytesToHash(a.Bytes()))
	}
	return types.Log{Address: vatAddr, BlockNumber: block, Topics: topics}
}

func TestUrnHistory(t *testing.T) {
	third := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	r := newFakeReader()
	r.head = 25
	r.logs = []types.Log{
		note(3, dss.FrobTopic, "ETH-A", owner, owner, owner),
		note(12, dss.FrobTopic, "BAT-A", other, other, other),
		note(20, dss.ForkTopic, "ETH-A", owner, other),
		note(21, dss.FrobTopic, "ETH-A", owner, owner, owner),
	}
	urns := fakeUrns{owner: 5, other: 7}

	h := dss.NewUrnHistory(r, vatAddr, urns, 0, zerolog.Nop())
	h.SetChunkSize(10)

	ilks, err := h.DiscoverIlks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH-A", "BAT-A"}, ilks)
	assert.Len(t, r.queries, 3, "0-9, 10-19, 20-25")

	positions, err := h.PositionsFor(context.Background(), "ETH-A")
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, owner, positions[0].Address)
	assert.Equal(t, other, positions[1].Address)

	// Zero debt positions are dropped; later logs are picked up incrementally
	urns[other] = 0
	r.logs = append(r.logs, note(30, dss.FrobTopic, "ETH-A", third, third, third))
	r.head = 30
	urns[third] = 1

	positions, err = h.PositionsFor(context.Background(), "ETH-A")
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, third, positions[1].Address)
	assert.Equal(t, uint64(26), r.queries[len(r.queries)-1].FromBlock.Uint64())

	owners, err := h.Owners(context.Background(), "ETH-A")
	require.NoError(t, err)
	assert.Equal(t, []common.Address{owner, other, third}, owners, "owners keep zero-debt positions")
}
