package dss

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"CageKeeper/internal/state"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// The Vat emits anonymous notes for its position-mutating calls: topic0 is
// the call selector left-aligned, topic1..3 are the first three arguments.
var (
	FrobTopic = noteTopic("frob(bytes32,address,address,address,int256,int256)")
	ForkTopic = noteTopic("fork(bytes32,address,address,int256,int256)")
)

func noteTopic(signature string) common.Hash {
	var h common.Hash
	copy(h[:], crypto.Keccak256([]byte(signature))[:4])
	return h
}

// NoteQuery selects the Vat's frob and fork notes in [from, to].
func NoteQuery(vat common.Address, from, to uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{vat},
		Topics:    [][]common.Hash{{FrobTopic, ForkTopic}},
	}
}

// LogSource is the subset of the JSON-RPC API used for log replay.
type LogSource interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// UrnReader reads one position.
type UrnReader interface {
	Urn(ctx context.Context, ilk string, address common.Address) (state.Urn, error)
}

// UrnHistory discovers positions by replaying the Vat's frob and fork notes
// from the deployment block. Discovered addresses are cached and extended
// incrementally; position state is always read fresh.
type UrnHistory struct {
	logs      LogSource
	vat       common.Address
	urns      UrnReader
	fromBlock uint64
	chunk     uint64
	logger    zerolog.Logger

	mu      sync.Mutex
	scanned uint64 // Last block included in the cache
	started bool
	ilks    []string
	byIlk   map[string][]common.Address
	seen    map[string]map[common.Address]struct{}
}

func NewUrnHistory(logs LogSource, vat common.Address, urns UrnReader, fromBlock uint64, logger zerolog.Logger) *UrnHistory {
	return &UrnHistory{
		logs:      logs,
		vat:       vat,
		urns:      urns,
		fromBlock: fromBlock,
		chunk:     10_000,
		logger:    logger,
		byIlk:     make(map[string][]common.Address),
		seen:      make(map[string]map[common.Address]struct{}),
	}
}

// SetChunkSize bounds the block range of a single log query.
func (h *UrnHistory) SetChunkSize(blocks uint64) {
	if blocks > 0 {
		h.chunk = blocks
	}
}

// PositionsFor returns every position of ilk with non-zero debt, in the
// order positions were first seen on chain.
func (h *UrnHistory) PositionsFor(ctx context.Context, ilk string) ([]state.Urn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.refresh(ctx); err != nil {
		return nil, err
	}

	var out []state.Urn
	for _, addr := range h.byIlk[ilk] {
		urn, err := h.urns.Urn(ctx, ilk, addr)
		if err != nil {
			return nil, err
		}
		if urn.HasDebt() {
			out = append(out, urn)
		}
	}
	return out, nil
}

// Owners returns every address that has held a position in ilk, in the
// order first seen.
func (h *UrnHistory) Owners(ctx context.Context, ilk string) ([]common.Address, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.refresh(ctx); err != nil {
		return nil, err
	}
	out := make([]common.Address, len(h.byIlk[ilk]))
	copy(out, h.byIlk[ilk])
	return out, nil
}

// DiscoverIlks returns every ilk that has seen a position change, in the
// order first seen.
func (h *UrnHistory) DiscoverIlks(ctx context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.refresh(ctx); err != nil {
		return nil, err
	}
	out := make([]string, len(h.ilks))
	copy(out, h.ilks)
	return out, nil
}

func (h *UrnHistory) refresh(ctx context.Context) error {
	head, err := h.logs.BlockNumber(ctx)
	if err != nil {
		return state.Unavailable(fmt.Errorf("block number: %w", err))
	}

	from := h.fromBlock
	if h.started {
		from = h.scanned + 1
	}
	if from > head {
		return nil
	}

	for start := from; start <= head; start += h.chunk {
		end := start + h.chunk - 1
		if end > head {
			end = head
		}
		logs, err := h.logs.FilterLogs(ctx, NoteQuery(h.vat, start, end))
		if err != nil {
			return state.Unavailable(fmt.Errorf("vat logs %d-%d: %w", start, end, err))
		}
		for _, l := range logs {
			h.apply(l)
		}
		// Commit progress per chunk so a failure resumes where it stopped
		h.scanned = end
		h.started = true
	}

	h.logger.Debug().
		Uint64("from", from).
		Uint64("to", head).
		Int("ilks", len(h.ilks)).
		Msg("urn history refreshed")
	return nil
}

func (h *UrnHistory) apply(l types.Log) {
	ilk, owners, ok := NoteParticipants(l)
	if !ok {
		return
	}
	for _, owner := range owners {
		h.add(ilk, owner)
	}
}

// NoteParticipants decodes a frob or fork note into its ilk and the
// positions it touched.
func NoteParticipants(l types.Log) (string, []common.Address, bool) {
	if len(l.Topics) < 3 {
		return "", nil, false
	}
	ilk := state.IlkName(l.Topics[1])
	switch l.Topics[0] {
	case FrobTopic:
		return ilk, []common.Address{common.BytesToAddress(l.Topics[2].Bytes())}, true
	case ForkTopic:
		owners := []common.Address{common.BytesToAddress(l.Topics[2].Bytes())}
		if len(l.Topics) > 3 {
			owners = append(owners, common.BytesToAddress(l.Topics[3].Bytes()))
		}
		return ilk, owners, true
	}
	return "", nil, false
}

func (h *UrnHistory) add(ilk string, addr common.Address) {
	set, ok := h.seen[ilk]
	if !ok {
		set = make(map[common.Address]struct{})
		h.seen[ilk] = set
		h.ilks = append(h.ilks, ilk)
	}
	if _, dup := set[addr]; dup {
		return
	}
	set[addr] = struct{}{}
	h.byIlk[ilk] = append(h.byIlk[ilk], addr)
}
