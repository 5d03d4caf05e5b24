package core

import (
	"context"
	"errors"
	"fmt"

	"CageKeeper/internal/event"
	"CageKeeper/internal/state"
)

// thaw settles the remaining surplus, fixes the outstanding supply, computes
// the redemption ratio of every class and revokes the auction houses. Each
// step checks the chain first, so a partly done thaw resumes where it failed.
func (k *Keeper) thaw(ctx context.Context, block state.Block) error {
	debt, err := k.p.End.Debt(ctx)
	if err != nil {
		return err
	}

	if debt.IsZero() {
		if err := k.settleSurplus(ctx, block); err != nil {
			return err
		}
		hash, err := k.p.End.Thaw(ctx)
		k.action(event.EventTypeThaw, block.Number, event.Envelope{}, hash, err)
		if err != nil {
			return fmt.Errorf("thaw: %w", err)
		}
	} else {
		k.logger.Info().Str("debt", debt.String()).Msg("already thawed")
	}

	var errs []error
	flowErrs, err := k.flow(ctx, block)
	if err != nil {
		return err
	}
	errs = append(errs, flowErrs...)

	denyErrs, err := k.deny(ctx, block)
	if err != nil {
		return err
	}
	errs = append(errs, denyErrs...)

	if k.cfg.BurnESMGem {
		if err := k.burn(ctx, block); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// settleSurplus reconciles until the Vow holds no surplus. When reconciling
// alone cannot clear it, every remaining position is skimmed so its debt
// lands on the Vow and can be healed.
func (k *Keeper) settleSurplus(ctx context.Context, block state.Block) error {
	for round := 0; round < k.cfg.ReconcileRounds; round++ {
		progressed, err := k.reconciler.Reconcile(ctx, block.Number)
		k.observeReconcile(err)
		if err != nil {
			return err
		}
		if !progressed {
			break
		}
	}

	b, err := k.reconciler.Read(ctx)
	if err != nil {
		return err
	}
	if b.Joy.IsZero() {
		return nil
	}
	k.logger.Info().Str("joy", b.Joy.String()).Msg("surplus remains; skimming all positions")

	ilks, err := FilterIlks(ctx, k.p.Vat, k.p.IlkNames())
	if err != nil {
		return err
	}

	skims := 0
	for _, ilk := range ilks {
		urns, err := k.p.Positions.PositionsFor(ctx, ilk.Name)
		if err != nil {
			return err
		}
		for _, urn := range urns {
			if !urn.HasDebt() {
				continue
			}
			hash, err := k.p.End.Skim(ctx, ilk.Name, urn.Address)
			k.action(event.EventTypeSkim, block.Number, event.Envelope{Ilk: ilk.Name, Urn: urn.Address.Hex()}, hash, err)
			if err != nil {
				return fmt.Errorf("skim %s %s: %w", ilk.Name, urn.Address.Hex(), err)
			}
			skims++
			if skims%k.cfg.ReconcileEvery != 0 {
				continue
			}

			done, err := k.reconcileUntilClear(ctx, block)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}

	_, err = k.reconcileUntilClear(ctx, block)
	return err
}

// reconcileUntilClear runs one reconciliation pass and reports whether the
// surplus is gone.
func (k *Keeper) reconcileUntilClear(ctx context.Context, block state.Block) (bool, error) {
	_, err := k.reconciler.Reconcile(ctx, block.Number)
	k.observeReconcile(err)
	if err != nil {
		return false, err
	}
	b, err := k.reconciler.Read(ctx)
	if err != nil {
		return false, err
	}
	return b.Joy.IsZero(), nil
}

func (k *Keeper) observeReconcile(err error) {
	if k.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = state.ErrorKind(err)
	}
	k.metrics.Reconciles.WithLabelValues(outcome).Inc()
}

// flowScope returns the classes whose redemption ratio is computed. The
// filtered scope uses the debt End recorded at cage time; the Vat's Art has
// already been lowered by every skim.
func (k *Keeper) flowScope(ctx context.Context) ([]string, error) {
	var names []string
	for _, name := range k.p.IlkNames() {
		if name == state.LegacyIlk {
			continue
		}
		if !k.cfg.FlowAllIlks {
			art, err := k.p.End.Art(ctx, name)
			if err != nil {
				return nil, err
			}
			if art.IsZero() {
				continue
			}
		}
		names = append(names, name)
	}
	return names, nil
}

func (k *Keeper) flow(ctx context.Context, block state.Block) ([]error, error) {
	names, err := k.flowScope(ctx)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, name := range names {
		fix, err := k.p.End.Fix(ctx, name)
		if err != nil {
			return nil, err
		}
		if !fix.IsZero() {
			continue
		}
		tag, err := k.p.End.Tag(ctx, name)
		if err != nil {
			return nil, err
		}
		if tag.IsZero() {
			k.logger.Info().Str("ilk", name).Msg("never caged; no redemption ratio")
			continue
		}

		hash, err := k.p.End.Flow(ctx, name)
		k.action(event.EventTypeFlow, block.Number, event.Envelope{Ilk: name}, hash, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("flow %s: %w", name, err))
		}
	}
	return errs, nil
}

// deny revokes governance authority over the auction house of every caged class.
func (k *Keeper) deny(ctx context.Context, block state.Block) ([]error, error) {
	if k.p.ESM == nil {
		k.logger.Warn().Msg("no emergency shutdown module configured; skipping deny")
		return nil, nil
	}
	proxy, err := k.p.ESM.Proxy(ctx)
	if err != nil {
		return nil, err
	}
	if proxy == state.Nobody {
		k.logger.Info().Msg("emergency shutdown module has no proxy; nothing to deny")
		return nil, nil
	}

	var errs []error
	for _, c := range k.p.Collaterals {
		if c.House == nil {
			continue
		}
		tag, err := k.p.End.Tag(ctx, c.Ilk)
		if err != nil {
			return nil, err
		}
		if tag.IsZero() {
			continue
		}
		ward, err := c.House.Ward(ctx, proxy)
		if err != nil {
			return nil, err
		}
		if !ward {
			continue
		}

		hash, err := k.p.ESM.Deny(ctx, c.House.Address())
		k.action(event.EventTypeDeny, block.Number, event.Envelope{Ilk: c.Ilk, Target: c.House.Address().Hex()}, hash, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("deny %s house: %w", c.Ilk, err))
		}
	}
	return errs, nil
}

func (k *Keeper) burn(ctx context.Context, block state.Block) error {
	if k.p.ESM == nil {
		return nil
	}
	balance, err := k.p.ESM.GemBalance(ctx)
	if err != nil {
		return err
	}
	if balance.Sign() <= 0 {
		return nil
	}
	hash, err := k.p.ESM.Burn(ctx)
	k.action(event.EventTypeBurn, block.Number, event.Envelope{Amount: balance.String()}, hash, err)
	if err != nil {
		return fmt.Errorf("burn: %w", err)
	}
	return nil
}
