package core

import (
	"context"

	"CageKeeper/internal/state"
)

// FilterIlks reads every named collateral class fresh and keeps those with
// outstanding debt. The legacy class is always excluded. Order is preserved.
func FilterIlks(ctx context.Context, vat Ledger, names []string) ([]state.Ilk, error) {
	var out []state.Ilk
	for _, name := range names {
		if name == state.LegacyIlk {
			continue
		}
		ilk, err := vat.Ilk(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ilk.HasDebt() {
			continue
		}
		out = append(out, ilk)
	}
	return out, nil
}

// missingFrom returns the names in a that are not in b.
func missingFrom(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, n := range b {
		set[n] = struct{}{}
	}
	var out []string
	for _, n := range a {
		if _, ok := set[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}
