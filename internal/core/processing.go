package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"CageKeeper/internal/event"
	"CageKeeper/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

// closer force-closes one collateral auction through End.
type closer func(ctx context.Context, ilk string, id uint64) (common.Hash, error)

func (k *Keeper) closers() map[state.AuctionVariant]closer {
	return map[state.AuctionVariant]closer{
		state.VariantFlip: k.p.End.Skip,
		state.VariantClip: k.p.End.Snip,
	}
}

// processingPeriod freezes auctions, cages every collateral class and
// confiscates collateral from underwater positions. Read failures abort at
// once. Transaction failures are collected so independent steps still run.
func (k *Keeper) processingPeriod(ctx context.Context, block state.Block) error {
	k.events.Emit(event.EventTypeProcessingStarted, block.Number, event.Envelope{})
	k.logger.Info().Uint64("block", block.Number).Msg("facilitating processing period")

	k.checkDiscoveredIlks(ctx)

	ilks, err := FilterIlks(ctx, k.p.Vat, k.p.IlkNames())
	if err != nil {
		return err
	}
	names := make([]string, len(ilks))
	collaterals := make([]Collateral, 0, len(ilks))
	for i, ilk := range ilks {
		names[i] = ilk.Name
		if h := k.p.house(ilk.Name); h != nil {
			collaterals = append(collaterals, Collateral{Ilk: ilk.Name, House: h})
		}
	}
	k.logger.Info().Strs("ilks", names).Msg("collateral classes to cage")

	inv, err := AggregateActiveAuctions(ctx, collaterals, k.p.Flapper, k.p.Flopper)
	if err != nil {
		return err
	}
	k.logger.Info().
		Int("collateral", inv.CollateralCount()).
		Int("surplus", len(inv.Surplus)).
		Int("debt", len(inv.Debt)).
		Msg("active auctions")

	var errs []error

	errs = append(errs, k.yank(ctx, block, k.p.Flapper, inv.Surplus)...)
	errs = append(errs, k.yank(ctx, block, k.p.Flopper, inv.Debt)...)

	caged, cageErrs, err := k.cage(ctx, block, names)
	if err != nil {
		return err
	}
	errs = append(errs, cageErrs...)

	if len(cageErrs) == 0 {
		errs = append(errs, k.forceClose(ctx, block, names, inv)...)
	} else {
		k.logger.Warn().Int("failed", len(cageErrs)).Msg("cage incomplete; collateral auctions stay open until retried")
	}

	skimErrs, err := k.skimUnderwater(ctx, block, ilks, caged)
	if err != nil {
		return err
	}
	errs = append(errs, skimErrs...)

	if err := errors.Join(errs...); err != nil {
		return err
	}
	k.events.Emit(event.EventTypeProcessingDone, block.Number, event.Envelope{})
	return nil
}

// checkDiscoveredIlks warns when the collateral classes seen on chain differ
// from the deployment descriptor. The descriptor is always used.
func (k *Keeper) checkDiscoveredIlks(ctx context.Context) {
	if k.p.Discoverer == nil {
		return
	}
	discovered, err := k.p.Discoverer.DiscoverIlks(ctx)
	if err != nil {
		k.logger.Warn().Err(err).Msg("could not discover collateral classes from chain")
		return
	}
	configured := k.p.IlkNames()
	unknown := missingFrom(discovered, configured)
	unused := missingFrom(configured, discovered)
	if len(unknown) == 0 && len(unused) == 0 {
		return
	}
	k.logger.Warn().
		Err(state.ErrInconsistentState).
		Strs("discovered", discovered).
		Strs("configured", configured).
		Str("not_configured", strings.Join(unknown, ",")).
		Str("not_discovered", strings.Join(unused, ",")).
		Msg("collateral classes on chain differ from deployment; continuing with deployment")
}

func (k *Keeper) yank(ctx context.Context, block state.Block, house YankableHouse, auctions []state.Auction) []error {
	var errs []error
	for _, a := range auctions {
		hash, err := house.Yank(ctx, a.ID)
		k.action(event.EventTypeYank, block.Number, event.Envelope{AuctionID: a.ID, Amount: a.Variant.String()}, hash, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("yank %s %d: %w", a.Variant, a.ID, err))
		}
	}
	return errs
}

// cage cages every ilk not yet caged and returns the set that is caged
// afterwards. The returned error is a read failure.
func (k *Keeper) cage(ctx context.Context, block state.Block, names []string) (map[string]bool, []error, error) {
	caged := make(map[string]bool, len(names))
	var errs []error
	for _, name := range names {
		tag, err := k.p.End.Tag(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		if !tag.IsZero() {
			k.logger.Debug().Str("ilk", name).Str("tag", tag.String()).Msg("already caged")
			caged[name] = true
			continue
		}

		hash, err := k.p.End.Cage(ctx, name)
		k.action(event.EventTypeCage, block.Number, event.Envelope{Ilk: name}, hash, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("cage %s: %w", name, err))
			continue
		}
		caged[name] = true
	}
	return caged, errs, nil
}

func (k *Keeper) forceClose(ctx context.Context, block state.Block, names []string, inv Inventory) []error {
	closers := k.closers()
	var errs []error
	for _, name := range names {
		for _, a := range inv.Collateral[name] {
			closeAuction, ok := closers[a.Variant]
			if !ok {
				errs = append(errs, fmt.Errorf("%w: no closer for %s auction %d", state.ErrInconsistentState, a.Variant, a.ID))
				continue
			}
			t := event.EventTypeSkip
			if a.Variant == state.VariantClip {
				t = event.EventTypeSnip
			}
			hash, err := closeAuction(ctx, name, a.ID)
			k.action(t, block.Number, event.Envelope{Ilk: name, AuctionID: a.ID}, hash, err)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s %d: %w", t, name, a.ID, err))
			}
		}
	}
	return errs
}

// skimUnderwater skims every underwater position of the caged classes.
func (k *Keeper) skimUnderwater(ctx context.Context, block state.Block, ilks []state.Ilk, caged map[string]bool) ([]error, error) {
	var errs []error
	for _, cached := range ilks {
		if !caged[cached.Name] {
			continue
		}
		ilk, err := k.p.Vat.Ilk(ctx, cached.Name)
		if err != nil {
			return nil, err
		}
		urns, err := k.p.Positions.PositionsFor(ctx, ilk.Name)
		if err != nil {
			return nil, err
		}

		underwater := 0
		for _, urn := range urns {
			if !urn.HasDebt() || !state.IsUnderwater(urn, ilk) {
				continue
			}
			underwater++
			hash, err := k.p.End.Skim(ctx, ilk.Name, urn.Address)
			k.action(event.EventTypeSkim, block.Number, event.Envelope{Ilk: ilk.Name, Urn: urn.Address.Hex()}, hash, err)
			if err != nil {
				errs = append(errs, fmt.Errorf("skim %s %s: %w", ilk.Name, urn.Address.Hex(), err))
			}
		}
		k.logger.Info().
			Str("ilk", ilk.Name).
			Int("positions", len(urns)).
			Int("underwater", underwater).
			Msg("underwater positions skimmed")
	}
	return errs, nil
}
