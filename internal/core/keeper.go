package core

import (
	"context"
	"fmt"

	"CageKeeper/internal/event"
	"CageKeeper/internal/observability"
	"CageKeeper/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds the facilitation options.
type Config struct {
	// Consecutive non-live blocks required before acting
	Threshold int

	// Flow every configured ilk, not only those still carrying debt
	FlowAllIlks bool

	// Burn the governance token held by the ESM once complete
	BurnESMGem bool

	// Upper bound on reconciliation passes before thaw
	ReconcileRounds int

	// Skims between reconciliation passes while surplus remains
	ReconcileEvery int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Threshold:       state.ConfirmationThreshold,
		FlowAllIlks:     true,
		ReconcileRounds: 10,
		ReconcileEvery:  5,
	}
}

// Keeper drives the shutdown procedure one block at a time. It holds no
// facilitation state of its own; every tick re-derives what remains to be
// done from the chain.
type Keeper struct {
	p          Protocol
	cfg        Config
	events     *event.Builder
	reconciler *Reconciler
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

func NewKeeper(p Protocol, cfg Config, events *event.Builder, logger zerolog.Logger, metrics *observability.Metrics) *Keeper {
	if cfg.Threshold <= 0 {
		cfg.Threshold = state.ConfirmationThreshold
	}
	if cfg.ReconcileRounds <= 0 {
		cfg.ReconcileRounds = 1
	}
	if cfg.ReconcileEvery <= 0 {
		cfg.ReconcileEvery = 1
	}
	if events == nil {
		events = event.NewBuilder(uuid.Nil, event.Discard)
	}
	return &Keeper{
		p:          p,
		cfg:        cfg,
		events:     events,
		reconciler: NewReconciler(p.Vat, p.Vow, events, logger.With().Str("component", "reconciler").Logger(), metrics),
		logger:     logger,
		metrics:    metrics,
	}
}

// Config returns the effective configuration.
func (k *Keeper) Config() Config {
	return k.cfg
}

// Tick advances the facilitation state by one block. Counters are untouched
// when the trigger cannot be read. A phase that fails part way leaves its
// flag unset and is resumed on the next tick.
func (k *Keeper) Tick(ctx context.Context, s *state.FacilitationState, block state.Block) error {
	if s.Complete {
		return nil
	}

	live, err := k.p.End.Live(ctx)
	if err != nil {
		return fmt.Errorf("read live: %w", err)
	}
	if live {
		if s.Confirmations > 0 {
			k.logger.Warn().
				Err(state.ErrInconsistentState).
				Int("confirmations", s.Confirmations).
				Uint64("block", block.Number).
				Msg("shutdown trigger reads live again; keeping confirmation count")
		}
		return nil
	}

	if s.Confirmations < k.cfg.Threshold {
		s.Confirm(k.cfg.Threshold)
		k.events.Emit(event.EventTypeConfirmation, block.Number, event.Envelope{
			Amount: fmt.Sprintf("%d/%d", s.Confirmations, k.cfg.Threshold),
		})
		k.logger.Info().
			Int("confirmations", s.Confirmations).
			Int("threshold", k.cfg.Threshold).
			Uint64("block", block.Number).
			Msg("shutdown trigger confirmed")
		if s.Confirmations < k.cfg.Threshold {
			return nil
		}
	}

	when, err := k.p.End.When(ctx)
	if err != nil {
		return fmt.Errorf("read when: %w", err)
	}
	wait, err := k.p.End.Wait(ctx)
	if err != nil {
		return fmt.Errorf("read wait: %w", err)
	}
	thawedAt := when.Add(wait)

	switch {
	case !s.CageFacilitated:
		if err := k.processingPeriod(ctx, block); err != nil {
			return fmt.Errorf("processing period: %w", err)
		}
		return s.MarkCageFacilitated()

	case !block.Timestamp.Before(thawedAt):
		if err := k.thaw(ctx, block); err != nil {
			return fmt.Errorf("thaw: %w", err)
		}
		if err := s.MarkComplete(); err != nil {
			return err
		}
		k.events.Emit(event.EventTypeComplete, block.Number, event.Envelope{})
		k.logger.Info().Uint64("block", block.Number).Msg("shutdown facilitation complete")
		return nil

	default:
		k.logger.Info().
			Time("thawed_at", thawedAt).
			Dur("remaining", thawedAt.Sub(block.Timestamp)).
			Uint64("block", block.Number).
			Msg("waiting for processing period to elapse")
		return nil
	}
}

// action records the outcome of one external call.
func (k *Keeper) action(t event.EventType, block uint64, env event.Envelope, hash common.Hash, err error) {
	if err != nil {
		env.Error = err.Error()
	} else {
		env.TxHash = hash.Hex()
	}
	k.events.Emit(t, block, env)

	if k.metrics != nil {
		k.metrics.ObserveAction(t.String(), err)
	}

	logEvent := k.logger.Info()
	if err != nil {
		logEvent = k.logger.Warn().Err(err)
	}
	logEvent = logEvent.Str("action", t.String()).Uint64("block", block)
	if env.Ilk != "" {
		logEvent = logEvent.Str("ilk", env.Ilk)
	}
	if env.AuctionID != 0 {
		logEvent = logEvent.Uint64("auction", env.AuctionID)
	}
	if env.Urn != "" {
		logEvent = logEvent.Str("urn", env.Urn)
	}
	if env.TxHash != "" {
		logEvent = logEvent.Str("tx", env.TxHash)
	}
	logEvent.Msg("keeper action")
}
