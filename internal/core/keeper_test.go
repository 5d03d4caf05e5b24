package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"CageKeeper/internal/core"
	"CageKeeper/internal/event"
	fpmath "CageKeeper/internal/math"
	"CageKeeper/internal/observability"
	"CageKeeper/internal/state"
	"CageKeeper/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	triggerTime = time.Unix(1_700_000_000, 0).UTC()

	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	flipAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	clipAddr = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	bidder   = common.HexToAddress("0x00000000000000000000000000000000000000bd")
)

// ============================================================================
// Helpers
// ============================================================================

func newKeeper(t *testing.T, c *testutil.FakeChain, mutate ...func(*core.Config)) (*core.Keeper, *event.Memory) {
	t.Helper()
	cfg := core.DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	mem := &event.Memory{}
	k := core.NewKeeper(c.Protocol(), cfg, event.NewBuilder(uuid.New(), mem), zerolog.Nop(),
		observability.NewMetrics(prometheus.NewRegistry()))
	return k, mem
}

// tick runs one block at triggerTime + offset.
func tick(k *core.Keeper, c *testutil.FakeChain, s *state.FacilitationState, number uint64, offset time.Duration) error {
	ts := triggerTime.Add(offset)
	c.SetNow(ts)
	return k.Tick(context.Background(), s, state.Block{Number: number, Timestamp: ts})
}

// confirmed returns a state that has reached the confirmation threshold.
func confirmed() state.FacilitationState {
	return state.FacilitationState{Confirmations: state.ConfirmationThreshold}
}

// singleIlk is a fired system with one flip-auctioned class at rate = spot = mat = 1.
func singleIlk() (*testutil.FakeChain, *testutil.FakeHouse) {
	c := testutil.NewFakeChain()
	c.AddIlk("ETH-A", 1, 1, 1)
	house := c.AddHouse(state.VariantFlip, "ETH-A", flipAddr)
	return c, house
}

// ============================================================================
// Test: Trigger and wait
// ============================================================================

func TestKeeper_TriggerAndWaitScenario(t *testing.T) {
	c, house := singleIlk()
	c.AddUrn("ETH-A", alice, 20, 1)
	k, mem := newKeeper(t, c)
	s := state.NewFacilitationState(false)

	// Live: nothing happens
	require.NoError(t, tick(k, c, &s, 1, -10*time.Second))
	assert.Equal(t, 0, s.Confirmations)

	c.Fire(triggerTime, time.Hour)

	for i := 1; i <= 11; i++ {
		require.NoError(t, tick(k, c, &s, uint64(1+i), time.Duration(i)*time.Second))
		assert.Equal(t, i, s.Confirmations)
		assert.False(t, s.CageFacilitated)
	}
	assert.Empty(t, c.CallLog(), "no calls before the confirmation threshold")

	// Twelfth confirmation runs the processing period in the same tick
	require.NoError(t, tick(k, c, &s, 13, 12*time.Second))
	assert.Equal(t, state.ConfirmationThreshold, s.Confirmations)
	assert.True(t, s.CageFacilitated)
	assert.False(t, s.Complete)
	assert.Equal(t, []string{"End.cage(ETH-A)"}, c.CallLog())

	for i, offset := range []time.Duration{13 * time.Second, 3000 * time.Second, 3599 * time.Second} {
		require.NoError(t, tick(k, c, &s, uint64(14+i), offset))
		assert.False(t, s.Complete)
	}
	assert.Empty(t, c.CallsWithPrefix("End.thaw"))

	// Thaw is due at when + wait exactly, not when + wait + 12
	require.NoError(t, tick(k, c, &s, 20, 3600*time.Second))
	assert.True(t, s.Complete)
	assert.Equal(t, []string{"End.thaw()"}, c.CallsWithPrefix("End.thaw"))
	assert.Equal(t, []string{"End.flow(ETH-A)"}, c.CallsWithPrefix("End.flow"))
	assert.Len(t, c.CallsWithPrefix("ESM.deny"), 1)
	assert.False(t, house.IsWard(c.Proxy))

	// Complete is terminal
	calls := len(c.CallLog())
	require.NoError(t, tick(k, c, &s, 21, 4000*time.Second))
	assert.Len(t, c.CallLog(), calls)

	kinds := mem.Kinds()
	assert.Contains(t, kinds, "processing_started")
	assert.Contains(t, kinds, "processing_done")
	assert.Equal(t, "complete", kinds[len(kinds)-1])
}

func TestKeeper_ConfirmationsBoundedAndMonotonic(t *testing.T) {
	c, _ := singleIlk()
	c.AddUrn("ETH-A", alice, 20, 1)
	c.Fire(triggerTime, 24*time.Hour)
	k, _ := newKeeper(t, c)
	s := state.NewFacilitationState(false)

	prev := 0
	for i := 1; i <= 30; i++ {
		if i == 5 {
			// A read glitch reporting live must not reset the counter
			c.SetLive(true)
		}
		if i == 6 {
			c.SetLive(false)
		}
		require.NoError(t, tick(k, c, &s, uint64(i), time.Duration(i)*time.Second))
		assert.GreaterOrEqual(t, s.Confirmations, prev)
		assert.LessOrEqual(t, s.Confirmations, state.ConfirmationThreshold)
		prev = s.Confirmations
	}
	assert.Equal(t, state.ConfirmationThreshold, s.Confirmations)
	assert.Len(t, c.CallsWithPrefix("End.cage"), 1, "processing runs once")
}

func TestKeeper_UnavailableTriggerLeavesStateUntouched(t *testing.T) {
	c, _ := singleIlk()
	c.Fire(triggerTime, time.Hour)
	k, _ := newKeeper(t, c)
	s := state.FacilitationState{Confirmations: 4}

	c.Fail("End.live", 1)
	err := tick(k, c, &s, 1, time.Second)
	assert.ErrorIs(t, err, state.ErrDataUnavailable)
	assert.Equal(t, state.FacilitationState{Confirmations: 4}, s)

	require.NoError(t, tick(k, c, &s, 2, 2*time.Second))
	assert.Equal(t, 5, s.Confirmations)
}

func TestKeeper_PreviouslyFacilitatedSkipsProcessing(t *testing.T) {
	c, _ := singleIlk()
	c.AddUrn("ETH-A", alice, 20, 1)
	c.SetTag("ETH-A")
	c.Fire(triggerTime, time.Hour)
	k, _ := newKeeper(t, c)
	s := state.NewFacilitationState(true)

	require.NoError(t, tick(k, c, &s, 1, 10*time.Second))
	assert.Empty(t, c.CallLog())

	require.NoError(t, tick(k, c, &s, 2, 2*time.Hour))
	assert.True(t, s.Complete)
	assert.Empty(t, c.CallsWithPrefix("End.cage"))
}

// ============================================================================
// Test: Processing period
// ============================================================================

func TestProcessing_SkimsOnlyUnderwater(t *testing.T) {
	c, _ := singleIlk()
	c.AddUrn("ETH-A", alice, 1, 100) // debt 100 > collateral 1
	c.AddUrn("ETH-A", bob, 20, 1)
	c.Fire(triggerTime, time.Hour)
	k, _ := newKeeper(t, c)
	s := confirmed()

	require.NoError(t, tick(k, c, &s, 1, time.Second))
	assert.True(t, s.CageFacilitated)
	assert.Equal(t, []string{"End.skim(ETH-A," + alice.Hex() + ")"}, c.CallsWithPrefix("End.skim"))
	assert.True(t, c.UrnState("ETH-A", alice).Art.IsZero())
	assert.Equal(t, 0, c.UrnState("ETH-A", bob).Art.Cmp(fpmath.WadFromInt(1)))
}

func TestProcessing_CageIsIdempotent(t *testing.T) {
	c, _ := singleIlk()
	c.AddIlk("BAT-A", 1, 1, 1)
	c.AddHouse(state.VariantFlip, "BAT-A", common.HexToAddress("0x00000000000000000000000000000000000000f2"))
	c.AddUrn("ETH-A", alice, 20, 1)
	c.AddUrn("BAT-A", alice, 20, 1)
	c.SetTag("ETH-A")
	c.Fire(triggerTime, time.Hour)
	k, _ := newKeeper(t, c)
	s := confirmed()

	require.NoError(t, tick(k, c, &s, 1, time.Second))
	assert.Equal(t, []string{"End.cage(BAT-A)"}, c.CallsWithPrefix("End.cage"))
}

func TestProcessing_FilterSkipsLegacyAndDebtFree(t *testing.T) {
	c, _ := singleIlk()
	c.AddIlk("SAI", 1, 1, 1)
	c.AddIlk("ZRX-A", 1, 1, 1)
	c.AddUrn("ETH-A", alice, 20, 1)
	c.AddUrn("SAI", alice, 20, 1)
	c.Fire(triggerTime, time.Hour)
	k, _ := newKeeper(t, c)
	s := confirmed()

	require.NoError(t, tick(k, c, &s, 1, time.Second))
	assert.Equal(t, []string{"End.cage(ETH-A)"}, c.CallsWithPrefix("End.cage"))
}

func TestProcessing_CageFailureBlocksSkip(t *testing.T) {
	c, house := singleIlk()
	c.AddUrn("ETH-A", alice, 20, 1)
	id := house.Kick(bidder, 50, 100)
	c.Fire(triggerTime, time.Hour)
	k, _ := newKeeper(t, c)
	s := confirmed()

	c.Fail("End.cage", 1)
	err := tick(k, c, &s, 1, time.Second)
	assert.ErrorIs(t, err, state.ErrTransactionRejected)
	assert.False(t, s.CageFacilitated)
	assert.Empty(t, c.CallsWithPrefix("End.skip"))

	require.NoError(t, tick(k, c, &s, 2, 2*time.Second))
	assert.True(t, s.CageFacilitated)
	assert.Equal(t, []string{"End.cage(ETH-A)"}, c.CallsWithPrefix("End.cage"))
	assert.Len(t, c.CallsWithPrefix("End.skip"), 1)

	a, err := house.Auction(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, a.Active())
}

func TestProcessing_YanksAndForceCloses(t *testing.T) {
	c, flip := singleIlk()
	c.AddIlk("WBTC-A", 1, 1, 1)
	clip := c.AddHouse(state.VariantClip, "WBTC-A", clipAddr)
	c.AddUrn("ETH-A", alice, 20, 1)
	c.AddUrn("WBTC-A", alice, 20, 1)

	flip.Kick(bidder, 50, 100)      // active
	flip.Kick(bidder, 100, 100)     // bid reached tab
	flip.Kick(state.Nobody, 0, 100) // no bidder
	clip.Kick(alice, 0, 100)        // active sale

	p := c.Protocol()
	flap := p.Flapper.(*testutil.FakeHouse)
	flop := p.Flopper.(*testutil.FakeHouse)
	flap.Kick(bidder, 10, 0)
	flap.Kick(state.Nobody, 0, 0)
	flop.Kick(bidder, 10, 0)

	c.Fire(triggerTime, time.Hour)
	k, _ := newKeeper(t, c)
	s := confirmed()

	require.NoError(t, tick(k, c, &s, 1, time.Second))
	assert.Equal(t, []string{"flap.yank(1)"}, c.CallsWithPrefix("flap.yank"))
	assert.Equal(t, []string{"flop.yank(1)"}, c.CallsWithPrefix("flop.yank"))
	assert.Equal(t, []string{"End.skip(ETH-A,1)"}, c.CallsWithPrefix("End.skip"))
	assert.Equal(t, []string{"End.snip(WBTC-A,1)"}, c.CallsWithPrefix("End.snip"))

	// Yanks happen before cages, force closes after
	log := c.CallLog()
	assert.Equal(t, "flap.yank(1)", log[0])
	assert.Equal(t, "flop.yank(1)", log[1])
	assert.Equal(t, "End.cage(ETH-A)", log[2])
}

func TestProcessing_PositionReadFailureAborts(t *testing.T) {
	c, _ := singleIlk()
	c.AddUrn("ETH-A", alice, 1, 100)
	c.Fire(triggerTime, time.Hour)
	k, _ := newKeeper(t, c)
	s := confirmed()

	c.Fail("positions", 1)
	err := tick(k, c, &s, 1, time.Second)
	assert.ErrorIs(t, err, state.ErrDataUnavailable)
	assert.False(t, s.CageFacilitated)

	require.NoError(t, tick(k, c, &s, 2, 2*time.Second))
	assert.True(t, s.CageFacilitated)
	assert.Len(t, c.CallsWithPrefix("End.cage"), 1)
	assert.Len(t, c.CallsWithPrefix("End.skim"), 1)
}

// ============================================================================
// Test: Thaw
// ============================================================================

func TestThaw_SkimsAllWhenSurplusRemains(t *testing.T) {
	c, _ := singleIlk()
	c.AddUrn("ETH-A", alice, 1, 100)
	c.AddUrn("ETH-A", bob, 20, 1)
	c.SetBalances(101, 0, 0)
	c.Fire(triggerTime, time.Hour)
	k, _ := newKeeper(t, c, func(cfg *core.Config) { cfg.ReconcileEvery = 1 })
	s := confirmed()

	require.NoError(t, tick(k, c, &s, 1, time.Second))
	require.Len(t, c.CallsWithPrefix("End.skim"), 1)

	require.NoError(t, tick(k, c, &s, 2, 2*time.Hour))
	assert.True(t, s.Complete)
	assert.Len(t, c.CallsWithPrefix("End.skim"), 2, "solvent position skimmed to absorb surplus")
	assert.True(t, c.UrnState("ETH-A", bob).Art.IsZero())
	assert.True(t, c.Joy().IsZero())
	assert.Len(t, c.CallsWithPrefix("End.thaw"), 1)
}

func TestThaw_NoFullSkimWithoutSurplus(t *testing.T) {
	c, _ := singleIlk()
	c.AddUrn("ETH-A", alice, 1, 100)
	c.AddUrn("ETH-A", bob, 20, 1)
	c.Fire(triggerTime, time.Hour)
	k, _ := newKeeper(t, c)
	s := confirmed()

	require.NoError(t, tick(k, c, &s, 1, time.Second))
	require.NoError(t, tick(k, c, &s, 2, 2*time.Hour))
	assert.True(t, s.Complete)
	assert.Len(t, c.CallsWithPrefix("End.skim"), 1)
	assert.Equal(t, 0, c.UrnState("ETH-A", bob).Art.Cmp(fpmath.WadFromInt(1)))
}

func TestThaw_ResumesAfterFailedFlow(t *testing.T) {
	c, _ := singleIlk()
	c.AddUrn("ETH-A", alice, 20, 1)
	c.Fire(triggerTime, time.Hour)
	k, _ := newKeeper(t, c)
	s := confirmed()

	require.NoError(t, tick(k, c, &s, 1, time.Second))

	c.Fail("End.flow", 1)
	err := tick(k, c, &s, 2, 2*time.Hour)
	assert.ErrorIs(t, err, state.ErrTransactionRejected)
	assert.False(t, s.Complete)

	require.NoError(t, tick(k, c, &s, 3, 2*time.Hour+time.Second))
	assert.True(t, s.Complete)
	assert.Len(t, c.CallsWithPrefix("End.thaw"), 1, "thaw is not repeated once debt is fixed")
	assert.Len(t, c.CallsWithPrefix("End.flow"), 1)
}

func TestThaw_BurnsGem(t *testing.T) {
	c, _ := singleIlk()
	c.AddUrn("ETH-A", alice, 20, 1)
	c.GemHeld = fpmath.WadFromInt(50_000)
	c.Fire(triggerTime, time.Hour)
	k, mem := newKeeper(t, c, func(cfg *core.Config) { cfg.BurnESMGem = true })
	s := state.NewFacilitationState(true)
	c.SetTag("ETH-A")

	require.NoError(t, tick(k, c, &s, 1, 2*time.Hour))
	assert.True(t, s.Complete)
	assert.Equal(t, []string{"ESM.burn()"}, c.CallsWithPrefix("ESM.burn"))
	assert.Contains(t, mem.Kinds(), "burn")
}

func TestThaw_FlowAllIlks(t *testing.T) {
	for _, all := range []bool{true, false} {
		c, _ := singleIlk()
		c.AddIlk("BAT-A", 1, 1, 1)
		c.AddUrn("ETH-A", alice, 20, 1)
		c.SetTag("ETH-A")
		c.SetTag("BAT-A") // caged, but carries no debt
		c.Fire(triggerTime, time.Hour)
		k, _ := newKeeper(t, c, func(cfg *core.Config) { cfg.FlowAllIlks = all })
		s := state.NewFacilitationState(true)

		require.NoError(t, tick(k, c, &s, 1, 2*time.Hour))
		if all {
			assert.Equal(t, []string{"End.flow(ETH-A)", "End.flow(BAT-A)"}, c.CallsWithPrefix("End.flow"))
		} else {
			assert.Equal(t, []string{"End.flow(ETH-A)"}, c.CallsWithPrefix("End.flow"))
		}
	}
}

func TestThaw_FilteredFlowKeepsFullySkimmedIlk(t *testing.T) {
	c, _ := singleIlk()
	c.AddUrn("ETH-A", alice, 1, 100) // the only position, underwater
	c.Fire(triggerTime, time.Hour)
	k, _ := newKeeper(t, c, func(cfg *core.Config) { cfg.FlowAllIlks = false })
	s := confirmed()

	require.NoError(t, tick(k, c, &s, 1, time.Second))
	require.Len(t, c.CallsWithPrefix("End.skim"), 1)
	require.True(t, c.Ilks["ETH-A"].Art.IsZero(), "skim cleared the class debt")

	require.NoError(t, tick(k, c, &s, 2, 2*time.Hour))
	assert.True(t, s.Complete)
	assert.Equal(t, []string{"End.flow(ETH-A)"}, c.CallsWithPrefix("End.flow"))
	assert.False(t, c.Fixes["ETH-A"].IsZero())
}

// ============================================================================
// Test: Errors surface through errors.Is
// ============================================================================

func TestKeeper_JoinedErrorsKeepSentinels(t *testing.T) {
	c, house := singleIlk()
	c.AddUrn("ETH-A", alice, 1, 100)
	house.Kick(bidder, 1, 100)
	c.Fire(triggerTime, time.Hour)
	k, _ := newKeeper(t, c)
	s := confirmed()

	c.Fail("End.skim", 1)
	c.Fail("End.skip", 1)
	err := tick(k, c, &s, 1, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, state.ErrTransactionRejected)
	assert.False(t, errors.Is(err, state.ErrDataUnavailable))
}
