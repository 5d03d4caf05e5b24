package state_test

import (
	"errors"
	"testing"

	"CageKeeper/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: FacilitationState
// ============================================================================

func TestFacilitationState_Initial(t *testing.T) {
	s := state.NewFacilitationState(false)
	assert.Equal(t, 0, s.Confirmations)
	assert.False(t, s.CageFacilitated)
	assert.False(t, s.Complete)
	assert.Equal(t, state.PhaseWaitingForTrigger, s.Phase(state.ConfirmationThreshold))
}

func TestFacilitationState_PreviouslyFacilitated(t *testing.T) {
	s := state.NewFacilitationState(true)
	assert.Equal(t, state.ConfirmationThreshold, s.Confirmations)
	assert.True(t, s.CageFacilitated)
	assert.False(t, s.Complete)
	assert.Equal(t, state.PhaseAwaitingCooldown, s.Phase(state.ConfirmationThreshold))
}

func TestFacilitationState_ConfirmSaturates(t *testing.T) {
	s := state.NewFacilitationState(false)
	prev := 0
	for i := 1; i <= 20; i++ {
		reached := s.Confirm(state.ConfirmationThreshold)
		assert.GreaterOrEqual(t, s.Confirmations, prev, "counter decreased at block %d", i)
		assert.LessOrEqual(t, s.Confirmations, state.ConfirmationThreshold)
		assert.Equal(t, i >= state.ConfirmationThreshold, reached, "block %d", i)
		prev = s.Confirmations
	}
	assert.Equal(t, state.ConfirmationThreshold, s.Confirmations)
	assert.Equal(t, state.PhaseProcessingPending, s.Phase(state.ConfirmationThreshold))
}

func TestFacilitationState_CountingPhase(t *testing.T) {
	s := state.NewFacilitationState(false)
	s.Confirm(state.ConfirmationThreshold)
	assert.Equal(t, state.PhaseCountingConfirmations, s.Phase(state.ConfirmationThreshold))
}

func TestFacilitationState_MarkOnce(t *testing.T) {
	s := state.NewFacilitationState(false)

	err := s.MarkComplete()
	require.Error(t, err)
	assert.True(t, errors.Is(err, state.ErrInconsistentState))

	require.NoError(t, s.MarkCageFacilitated())
	assert.ErrorIs(t, s.MarkCageFacilitated(), state.ErrInconsistentState)

	require.NoError(t, s.MarkComplete())
	assert.ErrorIs(t, s.MarkComplete(), state.ErrInconsistentState)
	assert.Equal(t, state.PhaseComplete, s.Phase(state.ConfirmationThreshold))
}

// ============================================================================
// Test: Phase transitions
// ============================================================================

func TestPhase_Transitions(t *testing.T) {
	tests := []struct {
		from, to state.Phase
		valid    bool
	}{
		{state.PhaseWaitingForTrigger, state.PhaseCountingConfirmations, true},
		{state.PhaseCountingConfirmations, state.PhaseProcessingPending, true},
		{state.PhaseProcessingPending, state.PhaseAwaitingCooldown, true},
		{state.PhaseAwaitingCooldown, state.PhaseComplete, true},
		{state.PhaseAwaitingCooldown, state.PhaseAwaitingCooldown, true},
		{state.PhaseComplete, state.PhaseAwaitingCooldown, false},
		{state.PhaseAwaitingCooldown, state.PhaseProcessingPending, false},
		{state.PhaseCountingConfirmations, state.PhaseWaitingForTrigger, false},
		{state.PhaseWaitingForTrigger, state.PhaseComplete, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.from.CanTransitionTo(tt.to))
		})
	}
}

// ============================================================================
// Test: Errors
// ============================================================================

func TestErrorWrapping(t *testing.T) {
	base := errors.New("connection refused")

	u := state.Unavailable(base)
	assert.ErrorIs(t, u, state.ErrDataUnavailable)
	assert.ErrorIs(t, u, base)
	assert.Equal(t, u, state.Unavailable(u), "must not double wrap")

	r := state.Rejected(base)
	assert.ErrorIs(t, r, state.ErrTransactionRejected)
	assert.NotErrorIs(t, r, state.ErrDataUnavailable)

	assert.Nil(t, state.Unavailable(nil))
	assert.Equal(t, "data_unavailable", state.ErrorKind(u))
	assert.Equal(t, "transaction_rejected", state.ErrorKind(r))
	assert.Equal(t, "other", state.ErrorKind(base))
	assert.Equal(t, "none", state.ErrorKind(nil))
}
