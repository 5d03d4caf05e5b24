package state

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the chain adapters and the keeper.
var (
	// ErrDataUnavailable marks a read that could not be served. The tick that
	// hit it aborts without touching the facilitation counters.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrTransactionRejected marks a state-mutating call that reverted, failed
	// gas estimation or never confirmed. The sub-step is retried next tick.
	ErrTransactionRejected = errors.New("transaction rejected")

	// ErrInconsistentState marks chain state that disagrees with configuration.
	// It is logged; processing continues with the configured view.
	ErrInconsistentState = errors.New("inconsistent state")
)

// Unavailable wraps err as ErrDataUnavailable.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrDataUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDataUnavailable, err)
}

// Rejected wraps err as ErrTransactionRejected.
func Rejected(err error) error {
	if err == nil || errors.Is(err, ErrTransactionRejected) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransactionRejected, err)
}

// ErrorKind classifies err for metrics labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrDataUnavailable):
		return "data_unavailable"
	case errors.Is(err, ErrTransactionRejected):
		return "transaction_rejected"
	case errors.Is(err, ErrInconsistentState):
		return "inconsistent_state"
	default:
		return "other"
	}
}
