package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"CageKeeper/internal/dss"
	"CageKeeper/internal/state"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Open connects to the urn index database and checks it is reachable.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open urn index: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, state.Unavailable(fmt.Errorf("ping urn index: %w", err))
	}
	return db, nil
}

// DefaultMaxLag is how far the index may trail the chain head before it is
// reported unavailable.
const DefaultMaxLag = 100_000

// UrnIndex is a position source backed by the urn index. The index supplies
// addresses only; every position is read fresh from the Vat. Blocks past the
// index's recorded progress are covered by replaying Vat notes, so positions
// opened after the last backfill are still returned.
type UrnIndex struct {
	db      *sql.DB
	vat     common.Address
	logs    dss.LogSource
	urns    dss.UrnReader
	timeout time.Duration
	maxLag  uint64
	logger  zerolog.Logger

	mu      sync.Mutex
	gap     *dss.UrnHistory
	gapFrom uint64
}

func NewUrnIndex(db *sql.DB, vat common.Address, logs dss.LogSource, urns dss.UrnReader, logger zerolog.Logger) *UrnIndex {
	return &UrnIndex{
		db:      db,
		vat:     vat,
		logs:    logs,
		urns:    urns,
		timeout: 5 * time.Second,
		maxLag:  DefaultMaxLag,
		logger:  logger,
	}
}

// SetQueryTimeout bounds each index query.
func (x *UrnIndex) SetQueryTimeout(d time.Duration) {
	if d > 0 {
		x.timeout = d
	}
}

// SetMaxLag sets how many blocks the index may trail the head. Within it the
// gap is replayed from Vat logs; beyond it reads fail as unavailable.
func (x *UrnIndex) SetMaxLag(blocks uint64) {
	x.maxLag = blocks
}

// PositionsFor returns every known position of ilk that still carries debt.
func (x *UrnIndex) PositionsFor(ctx context.Context, ilk string) ([]state.Urn, error) {
	indexed, err := x.owners(ctx, ilk)
	if err != nil {
		return nil, err
	}
	gap, err := x.coverage(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := gap.Owners(ctx, ilk)
	if err != nil {
		return nil, err
	}
	owners := mergeOwners(indexed, recent)

	var out []state.Urn
	for _, owner := range owners {
		urn, err := x.urns.Urn(ctx, ilk, owner)
		if err != nil {
			return nil, err
		}
		if urn.HasDebt() {
			out = append(out, urn)
		}
	}
	x.logger.Debug().
		Str("ilk", ilk).
		Int("indexed", len(indexed)).
		Int("unindexed", len(owners)-len(indexed)).
		Int("with_debt", len(out)).
		Msg("positions from index")
	return out, nil
}

// coverage checks the index is recent enough and returns the replay that
// covers the blocks after its progress.
func (x *UrnIndex) coverage(ctx context.Context) (*dss.UrnHistory, error) {
	qctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	last, ok, err := progressOf(qctx, x.db, x.vat)
	if err != nil {
		return nil, state.Unavailable(fmt.Errorf("read index progress: %w", err))
	}
	if !ok {
		return nil, state.Unavailable(fmt.Errorf("urn index has no progress for vat %s", x.vat.Hex()))
	}

	head, err := x.logs.BlockNumber(ctx)
	if err != nil {
		return nil, state.Unavailable(fmt.Errorf("block number: %w", err))
	}
	if head > last && head-last > x.maxLag {
		return nil, state.Unavailable(fmt.Errorf("urn index at block %d trails head %d by more than %d blocks", last, head, x.maxLag))
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	// A replay started earlier still covers everything after last
	if x.gap == nil || last+1 < x.gapFrom {
		x.gap = dss.NewUrnHistory(x.logs, x.vat, x.urns, last+1, x.logger)
		x.gapFrom = last + 1
		x.logger.Info().Uint64("from_block", last+1).Uint64("head", head).Msg("replaying blocks past the urn index")
	}
	return x.gap, nil
}

// mergeOwners appends the addresses of b missing from a.
func mergeOwners(a, b []common.Address) []common.Address {
	seen := make(map[common.Address]struct{}, len(a))
	for _, addr := range a {
		seen[addr] = struct{}{}
	}
	out := append([]common.Address(nil), a...)
	for _, addr := range b {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

func (x *UrnIndex) owners(ctx context.Context, ilk string) ([]common.Address, error) {
	qctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	rows, err := x.db.QueryContext(qctx,
		`SELECT DISTINCT urn FROM urn_index.urns WHERE ilk = $1 ORDER BY urn`, ilk)
	if err != nil {
		return nil, state.Unavailable(fmt.Errorf("query urns of %s: %w", ilk, err))
	}
	defer rows.Close()

	var owners []common.Address
	for rows.Next() {
		var urn string
		if err := rows.Scan(&urn); err != nil {
			return nil, state.Unavailable(fmt.Errorf("scan urn: %w", err))
		}
		owners = append(owners, common.HexToAddress(urn))
	}
	if err := rows.Err(); err != nil {
		return nil, state.Unavailable(fmt.Errorf("read urns of %s: %w", ilk, err))
	}
	return owners, nil
}

// DiscoverIlks returns every known ilk in the order first seen on chain.
func (x *UrnIndex) DiscoverIlks(ctx context.Context) ([]string, error) {
	qctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	rows, err := x.db.QueryContext(qctx,
		`SELECT ilk FROM urn_index.urns GROUP BY ilk ORDER BY MIN(first_block), ilk`)
	if err != nil {
		return nil, state.Unavailable(fmt.Errorf("query ilks: %w", err))
	}
	defer rows.Close()

	var ilks []string
	for rows.Next() {
		var ilk string
		if err := rows.Scan(&ilk); err != nil {
			return nil, state.Unavailable(fmt.Errorf("scan ilk: %w", err))
		}
		ilks = append(ilks, ilk)
	}
	if err := rows.Err(); err != nil {
		return nil, state.Unavailable(fmt.Errorf("read ilks: %w", err))
	}

	gap, err := x.coverage(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := gap.DiscoverIlks(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(ilks))
	for _, ilk := range ilks {
		known[ilk] = struct{}{}
	}
	for _, ilk := range recent {
		if _, ok := known[ilk]; !ok {
			ilks = append(ilks, ilk)
		}
	}
	return ilks, nil
}

// Close closes the database.
func (x *UrnIndex) Close() error {
	return x.db.Close()
}
