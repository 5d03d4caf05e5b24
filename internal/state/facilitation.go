// internal/state/facilitation.go
package state

import (
	"fmt"
	"time"
)

// ConfirmationThreshold is the number of consecutive observed blocks the
// shutdown trigger must hold before the keeper acts on it.
const ConfirmationThreshold = 12

// Block is one observed chain head.
type Block struct {
	Number    uint64
	Timestamp time.Time // UTC
}

// Phase is the externally visible facilitation phase
type Phase int32

const (
	PhaseWaitingForTrigger Phase = iota
	PhaseCountingConfirmations
	PhaseProcessingPending
	PhaseAwaitingCooldown
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseWaitingForTrigger:
		return "WaitingForTrigger"
	case PhaseCountingConfirmations:
		return "CountingConfirmations"
	case PhaseProcessingPending:
		return "ProcessingPending"
	case PhaseAwaitingCooldown:
		return "AwaitingCooldown"
	case PhaseComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates phase transitions. Staying in a phase is always valid.
func (p Phase) CanTransitionTo(next Phase) bool {
	if p == next {
		return true
	}

	validTransitions := map[Phase][]Phase{
		PhaseWaitingForTrigger: {
			PhaseCountingConfirmations,
			PhaseProcessingPending, // Threshold of one
		},
		PhaseCountingConfirmations: {
			PhaseProcessingPending,
			PhaseAwaitingCooldown, // Last confirmation and processing in one tick
		},
		PhaseProcessingPending: {
			PhaseAwaitingCooldown,
		},
		PhaseAwaitingCooldown: {
			PhaseComplete,
		},
	}

	for _, allowed := range validTransitions[p] {
		if next == allowed {
			return true
		}
	}
	return false
}

// FacilitationState is the whole mutable state of one shutdown episode.
// It is owned by the tick; everything else reads copies.
type FacilitationState struct {
	Confirmations   int
	CageFacilitated bool
	Complete        bool
}

// NewFacilitationState returns the initial state. A keeper restarted after the
// processing period already ran resumes directly in the cooldown phase.
func NewFacilitationState(previouslyFacilitated bool) FacilitationState {
	if previouslyFacilitated {
		return FacilitationState{
			Confirmations:   ConfirmationThreshold,
			CageFacilitated: true,
		}
	}
	return FacilitationState{}
}

// Confirm counts one more block with the trigger set. The counter saturates at
// threshold and never decreases. Returns true once the threshold is reached.
func (s *FacilitationState) Confirm(threshold int) bool {
	if s.Confirmations < threshold {
		s.Confirmations++
	}
	return s.Confirmations >= threshold
}

// MarkCageFacilitated records the one-shot processing period.
func (s *FacilitationState) MarkCageFacilitated() error {
	if s.CageFacilitated {
		return fmt.Errorf("%w: processing period already facilitated", ErrInconsistentState)
	}
	s.CageFacilitated = true
	return nil
}

// MarkComplete records the terminal thaw.
func (s *FacilitationState) MarkComplete() error {
	if !s.CageFacilitated {
		return fmt.Errorf("%w: complete before processing period", ErrInconsistentState)
	}
	if s.Complete {
		return fmt.Errorf("%w: already complete", ErrInconsistentState)
	}
	s.Complete = true
	return nil
}

// Phase derives the phase from the counters.
func (s FacilitationState) Phase(threshold int) Phase {
	switch {
	case s.Complete:
		return PhaseComplete
	case s.CageFacilitated:
		return PhaseAwaitingCooldown
	case s.Confirmations >= threshold:
		return PhaseProcessingPending
	case s.Confirmations > 0:
		return PhaseCountingConfirmations
	default:
		return PhaseWaitingForTrigger
	}
}
