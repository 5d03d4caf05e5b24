package dss

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABI fragments: only the members the keeper reads or calls.

const endABI = `[
{"type":"function","name":"live","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"when","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"wait","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"debt","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"tag","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"fix","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"Art","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"cage","stateMutability":"nonpayable","inputs":[{"name":"ilk","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"skim","stateMutability":"nonpayable","inputs":[{"name":"ilk","type":"bytes32"},{"name":"urn","type":"address"}],"outputs":[]},
{"type":"function","name":"skip","stateMutability":"nonpayable","inputs":[{"name":"ilk","type":"bytes32"},{"name":"id","type":"uint256"}],"outputs":[]},
{"type":"function","name":"snip","stateMutability":"nonpayable","inputs":[{"name":"ilk","type":"bytes32"},{"name":"id","type":"uint256"}],"outputs":[]},
{"type":"function","name":"thaw","stateMutability":"nonpayable","inputs":[],"outputs":[]},
{"type":"function","name":"flow","stateMutability":"nonpayable","inputs":[{"name":"ilk","type":"bytes32"}],"outputs":[]}
]`

const vatABI = `[
{"type":"function","name":"ilks","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"Art","type":"uint256"},{"name":"rate","type":"uint256"},{"name":"spot","type":"uint256"},{"name":"line","type":"uint256"},{"name":"dust","type":"uint256"}]},
{"type":"function","name":"urns","stateMutability":"view","inputs":[{"name":"","type":"bytes32"},{"name":"","type":"address"}],"outputs":[{"name":"ink","type":"uint256"},{"name":"art","type":"uint256"}]},
{"type":"function","name":"dai","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"sin","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const spotterABI = `[
{"type":"function","name":"ilks","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"pip","type":"address"},{"name":"mat","type":"uint256"}]}
]`

const vowABI = `[
{"type":"function","name":"Sin","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"Ash","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"heal","stateMutability":"nonpayable","inputs":[{"name":"rad","type":"uint256"}],"outputs":[]},
{"type":"function","name":"kiss","stateMutability":"nonpayable","inputs":[{"name":"rad","type":"uint256"}],"outputs":[]}
]`

const flipperABI = `[
{"type":"function","name":"kicks","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"wards","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"bids","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"bid","type":"uint256"},{"name":"lot","type":"uint256"},{"name":"guy","type":"address"},{"name":"tic","type":"uint48"},{"name":"end","type":"uint48"},{"name":"usr","type":"address"},{"name":"gal","type":"address"},{"name":"tab","type":"uint256"}]}
]`

const clipperABI = `[
{"type":"function","name":"kicks","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"wards","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"sales","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"pos","type":"uint256"},{"name":"tab","type":"uint256"},{"name":"lot","type":"uint256"},{"name":"usr","type":"address"},{"name":"tic","type":"uint96"},{"name":"top","type":"uint256"}]}
]`

// Flapper and Flopper share the bid layout.
const auctionABI = `[
{"type":"function","name":"kicks","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"wards","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"bids","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"bid","type":"uint256"},{"name":"lot","type":"uint256"},{"name":"guy","type":"address"},{"name":"tic","type":"uint48"},{"name":"end","type":"uint48"}]},
{"type":"function","name":"yank","stateMutability":"nonpayable","inputs":[{"name":"id","type":"uint256"}],"outputs":[]}
]`

const esmABI = `[
{"type":"function","name":"Sum","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"min","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"fired","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"gem","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"proxy","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"deny","stateMutability":"nonpayable","inputs":[{"name":"target","type":"address"}],"outputs":[]},
{"type":"function","name":"burn","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

const erc20ABI = `[
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	EndABI     = mustParseABI("End", endABI)
	VatABI     = mustParseABI("Vat", vatABI)
	SpotterABI = mustParseABI("Spotter", spotterABI)
	VowABI     = mustParseABI("Vow", vowABI)
	FlipperABI = mustParseABI("Flipper", flipperABI)
	ClipperABI = mustParseABI("Clipper", clipperABI)
	AuctionABI = mustParseABI("Auction", auctionABI)
	ESMABI     = mustParseABI("ESM", esmABI)
	ERC20ABI   = mustParseABI("ERC20", erc20ABI)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("dss: invalid " + name + " abi: " + err.Error())
	}
	return parsed
}
