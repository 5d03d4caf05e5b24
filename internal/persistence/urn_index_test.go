package persistence_test

import (
	"context"
	"testing"

	"CageKeeper/internal/dss"
	fpmath "CageKeeper/internal/math"
	"CageKeeper/internal/persistence"
	"CageKeeper/internal/state"
	"CageKeeper/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVat serves art per owner; ink is irrelevant to the index.
type fakeVat map[common.Address]int64

func (f fakeVat) Urn(_ context.Context, ilk string, addr common.Address) (state.Urn, error) {
	return state.Urn{Ilk: ilk, Address: addr, Art: fpmath.WadFromInt(f[addr])}, nil
}

func TestUrnIndex_Integration(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	m := persistence.NewMigrator(db, zerolog.Nop())
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx), "migrations are idempotent")

	w := persistence.NewIndexWriter(db)
	_, ok, err := w.Progress(ctx, vatAddr)
	require.NoError(t, err)
	assert.False(t, ok)

	third := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	require.NoError(t, w.WriteBatch(ctx, vatAddr, []persistence.IndexRow{
		{Ilk: "BAT-A", Urn: other, Block: 4},
		{Ilk: "ETH-A", Urn: owner, Block: 9},
	}, 10))
	require.NoError(t, w.WriteBatch(ctx, vatAddr, []persistence.IndexRow{
		{Ilk: "ETH-A", Urn: owner, Block: 12}, // already indexed
		{Ilk: "ETH-A", Urn: third, Block: 15},
	}, 20))

	last, ok, err := w.Progress(ctx, vatAddr)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(20), last)

	logs := &fakeLogs{head: 20}
	idx := persistence.NewUrnIndex(db, vatAddr, logs, fakeVat{owner: 5, third: 0, other: 1}, zerolog.Nop())

	urns, err := idx.PositionsFor(ctx, "ETH-A")
	require.NoError(t, err)
	require.Len(t, urns, 1, "positions without debt are dropped")
	assert.Equal(t, owner, urns[0].Address)

	ilks, err := idx.DiscoverIlks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BAT-A", "ETH-A"}, ilks)

	require.NoError(t, m.Down(ctx))
	_, err = idx.DiscoverIlks(ctx)
	assert.ErrorIs(t, err, state.ErrDataUnavailable, "an index without progress is not trusted")
}

func TestUrnIndex_StaleIndexReplaysGap(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, persistence.NewMigrator(db, zerolog.Nop()).Up(ctx))
	w := persistence.NewIndexWriter(db)
	require.NoError(t, w.WriteBatch(ctx, vatAddr, []persistence.IndexRow{
		{Ilk: "ETH-A", Urn: owner, Block: 9},
	}, 20))

	// Opened after the last backfill, in a class the index has never seen
	late := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	logs := &fakeLogs{head: 40, logs: []types.Log{
		note(25, dss.FrobTopic, "ETH-A", late),
		note(30, dss.FrobTopic, "WBTC-A", late),
	}}
	idx := persistence.NewUrnIndex(db, vatAddr, logs, fakeVat{owner: 5, late: 100}, zerolog.Nop())

	urns, err := idx.PositionsFor(ctx, "ETH-A")
	require.NoError(t, err)
	require.Len(t, urns, 2)
	assert.Equal(t, owner, urns[0].Address)
	assert.Equal(t, late, urns[1].Address)
	assert.Equal(t, uint64(21), logs.queries[0][0], "replay starts after the indexed block")

	ilks, err := idx.DiscoverIlks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH-A", "WBTC-A"}, ilks)

	idx.SetMaxLag(10)
	_, err = idx.PositionsFor(ctx, "ETH-A")
	assert.ErrorIs(t, err, state.ErrDataUnavailable)
}

func TestUrnIndex_UnavailableWithoutProgress(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, persistence.NewMigrator(db, zerolog.Nop()).Up(ctx))
	idx := persistence.NewUrnIndex(db, vatAddr, &fakeLogs{head: 5}, fakeVat{}, zerolog.Nop())
	_, err := idx.PositionsFor(ctx, "ETH-A")
	assert.ErrorIs(t, err, state.ErrDataUnavailable, "an empty index is not an empty position set")
}

func TestUrnIndex_UnavailableWithoutSchema(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	idx := persistence.NewUrnIndex(db, vatAddr, &fakeLogs{}, fakeVat{}, zerolog.Nop())
	_, err := idx.PositionsFor(context.Background(), "ETH-A")
	assert.ErrorIs(t, err, state.ErrDataUnavailable)
}
