package dss

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"CageKeeper/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

const (
	flipPrefix = "MCD_FLIP_"
	clipPrefix = "MCD_CLIP_"
	calcPrefix = "MCD_CLIP_CALC_"
)

// CollateralHouse is the auction house of one collateral class.
type CollateralHouse struct {
	Ilk     string
	Variant state.AuctionVariant
	Address common.Address
}

// Deployment is the parsed deployment descriptor.
type Deployment struct {
	Vat     common.Address
	Vow     common.Address
	End     common.Address
	Spotter common.Address
	Flapper common.Address
	Flopper common.Address
	ESM     common.Address // Zero when the descriptor has no MCD_ESM

	// In descriptor order
	Collaterals []CollateralHouse
}

// Ilks returns the collateral class names in descriptor order.
func (d *Deployment) Ilks() []string {
	names := make([]string, 0, len(d.Collaterals))
	for _, c := range d.Collaterals {
		names = append(names, c.Ilk)
	}
	return names
}

// LoadDeployment reads a deployment descriptor file.
func LoadDeployment(path string) (*Deployment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open deployment file: %w", err)
	}
	defer f.Close()
	return ParseDeployment(f)
}

// ParseDeployment parses a JSON object of NAME: address. Key order is
// preserved because it defines the collateral class order. When an ilk has
// both a flip and a clip house, the clip house is used.
func ParseDeployment(r io.Reader) (*Deployment, error) {
	entries, err := orderedEntries(r)
	if err != nil {
		return nil, err
	}

	d := &Deployment{}
	required := map[string]*common.Address{
		"MCD_VAT":  &d.Vat,
		"MCD_VOW":  &d.Vow,
		"MCD_END":  &d.End,
		"MCD_SPOT": &d.Spotter,
		"MCD_FLAP": &d.Flapper,
		"MCD_FLOP": &d.Flopper,
	}
	index := map[string]int{}

	for _, e := range entries {
		if dst, ok := required[e.key]; ok {
			addr, err := parseAddress(e)
			if err != nil {
				return nil, err
			}
			*dst = addr
			continue
		}

		var variant state.AuctionVariant
		var suffix string
		switch {
		case e.key == "MCD_ESM":
			addr, err := parseAddress(e)
			if err != nil {
				return nil, err
			}
			d.ESM = addr
			continue
		case strings.HasPrefix(e.key, calcPrefix):
			continue
		case strings.HasPrefix(e.key, flipPrefix):
			variant, suffix = state.VariantFlip, strings.TrimPrefix(e.key, flipPrefix)
		case strings.HasPrefix(e.key, clipPrefix):
			variant, suffix = state.VariantClip, strings.TrimPrefix(e.key, clipPrefix)
		default:
			continue
		}

		if suffix == "" {
			continue
		}
		addr, err := parseAddress(e)
		if err != nil {
			return nil, err
		}
		ilk := strings.ReplaceAll(suffix, "_", "-")
		house := CollateralHouse{Ilk: ilk, Variant: variant, Address: addr}

		if i, seen := index[ilk]; seen {
			if variant == state.VariantClip {
				d.Collaterals[i] = house
			}
			continue
		}
		index[ilk] = len(d.Collaterals)
		d.Collaterals = append(d.Collaterals, house)
	}

	for key, dst := range required {
		if *dst == (common.Address{}) {
			return nil, fmt.Errorf("deployment descriptor missing %s", key)
		}
	}
	return d, nil
}

type entry struct {
	key   string
	value string
}

func orderedEntries(r io.Reader) ([]entry, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode deployment: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("decode deployment: expected object")
	}

	var entries []entry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode deployment: %w", err)
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode deployment value %s: %w", key, err)
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			continue // Non-address metadata
		}
		entries = append(entries, entry{key: key, value: value})
	}
	return entries, nil
}

func parseAddress(e entry) (common.Address, error) {
	if !common.IsHexAddress(e.value) {
		return common.Address{}, fmt.Errorf("deployment descriptor %s: invalid address %q", e.key, e.value)
	}
	return common.HexToAddress(e.value), nil
}
