package core

import (
	"context"

	"CageKeeper/internal/event"
	fpmath "CageKeeper/internal/math"
	"CageKeeper/internal/observability"

	"github.com/rs/zerolog"
)

// Balances is the surplus/debt position of the system balance sheet.
type Balances struct {
	Joy fpmath.Rad // Surplus stablecoin held by the Vow
	Ash fpmath.Rad // Debt on auction
	Woe fpmath.Rad // Debt neither queued nor on auction
}

// Settled reports whether there is nothing left to net.
func (b Balances) Settled() bool {
	return b.Ash.IsZero() && b.Woe.IsZero()
}

// Reconciler nets bad debt against surplus.
type Reconciler struct {
	vat     Ledger
	vow     Settlement
	events  *event.Builder
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewReconciler(vat Ledger, vow Settlement, events *event.Builder, logger zerolog.Logger, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{
		vat:     vat,
		vow:     vow,
		events:  events,
		logger:  logger,
		metrics: metrics,
	}
}

// Read returns the current balances. Woe is clamped at zero.
func (r *Reconciler) Read(ctx context.Context) (Balances, error) {
	joy, err := r.vat.Dai(ctx, r.vow.Address())
	if err != nil {
		return Balances{}, err
	}
	ash, err := r.vow.Ash(ctx)
	if err != nil {
		return Balances{}, err
	}
	sin, err := r.vat.Sin(ctx, r.vow.Address())
	if err != nil {
		return Balances{}, err
	}
	queued, err := r.vow.Sin(ctx)
	if err != nil {
		return Balances{}, err
	}
	woe := fpmath.ClampRad(sin.Sub(queued).Sub(ash))
	return Balances{Joy: joy, Ash: ash, Woe: woe}, nil
}

// Reconcile runs one pass: debt on auction is kissed first, then whatever
// surplus is left heals the remaining debt. Returns whether any call was made.
func (r *Reconciler) Reconcile(ctx context.Context, block uint64) (bool, error) {
	b, err := r.Read(ctx)
	if err != nil {
		return false, err
	}
	progressed := false

	if b.Ash.Sign() > 0 {
		amount := fpmath.MinRad(b.Joy, b.Ash)
		if amount.Sign() > 0 {
			hash, err := r.vow.Kiss(ctx, amount)
			r.record(event.EventTypeKiss, block, amount, hash.Hex(), err)
			if err != nil {
				return progressed, err
			}
			progressed = true
		}
		if b.Joy.Cmp(b.Ash) < 0 {
			r.logger.Info().
				Str("joy", b.Joy.String()).
				Str("ash", b.Ash.String()).
				Msg("surplus does not cover debt on auction")
			return progressed, nil
		}
	}

	if b.Woe.Sign() > 0 {
		joy, err := r.vat.Dai(ctx, r.vow.Address())
		if err != nil {
			return progressed, err
		}
		amount := fpmath.MinRad(joy, b.Woe)
		if amount.Sign() > 0 {
			hash, err := r.vow.Heal(ctx, amount)
			r.record(event.EventTypeHeal, block, amount, hash.Hex(), err)
			if err != nil {
				return progressed, err
			}
			progressed = true
		}
	}
	return progressed, nil
}

func (r *Reconciler) record(t event.EventType, block uint64, amount fpmath.Rad, tx string, err error) {
	env := event.Envelope{Amount: amount.String(), TxHash: tx}
	if err != nil {
		env.Error = err.Error()
		env.TxHash = ""
	}
	r.events.Emit(t, block, env)

	if r.metrics != nil {
		r.metrics.ObserveAction(t.String(), err)
	}
	logEvent := r.logger.Info()
	if err != nil {
		logEvent = r.logger.Warn().Err(err)
	}
	logEvent.Str("action", t.String()).Str("amount", amount.String()).Msg("reconcile")
}
