package testutil

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"CageKeeper/internal/core"
	fpmath "CageKeeper/internal/math"
	"CageKeeper/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

// FakeChain is an in-memory model of the shutdown contracts. It keeps just
// enough accounting for the keeper's phases to run end to end, and it
// reverts the same calls the real contracts revert.
type FakeChain struct {
	mu sync.Mutex

	Live bool
	When time.Time
	Wait time.Duration
	Now  time.Time // Timestamp checked by thaw
	Debt fpmath.Rad

	Ilks     map[string]*state.Ilk
	IlkOrder []string
	Tags     map[string]fpmath.Ray
	Fixes    map[string]fpmath.Ray
	CagedArt map[string]fpmath.Wad // End.Art, recorded by cage

	urns     map[string]map[common.Address]*state.Urn
	urnOrder map[string][]common.Address

	VowAddress common.Address
	Dai        map[common.Address]fpmath.Rad
	Sin        map[common.Address]fpmath.Rad
	VowSin     fpmath.Rad
	VowAsh     fpmath.Rad

	Houses  map[common.Address]*FakeHouse
	Proxy   common.Address
	GemHeld fpmath.Wad

	// Discovered overrides the collateral classes reported by the discoverer
	Discovered []string

	// Injected failures: method label -> remaining failures
	FailTx   map[string]int
	FailRead map[string]int

	Calls []string
	txs   int
}

// NewFakeChain returns a live system with no collateral classes.
func NewFakeChain() *FakeChain {
	return &FakeChain{
		Live:       true,
		Ilks:       make(map[string]*state.Ilk),
		Tags:       make(map[string]fpmath.Ray),
		Fixes:      make(map[string]fpmath.Ray),
		CagedArt:   make(map[string]fpmath.Wad),
		urns:       make(map[string]map[common.Address]*state.Urn),
		urnOrder:   make(map[string][]common.Address),
		VowAddress: common.HexToAddress("0x000000000000000000000000000000000000f0e0"),
		Dai:        make(map[common.Address]fpmath.Rad),
		Sin:        make(map[common.Address]fpmath.Rad),
		Houses:     make(map[common.Address]*FakeHouse),
		Proxy:      common.HexToAddress("0x000000000000000000000000000000000000f0f0"),
		FailTx:     make(map[string]int),
		FailRead:   make(map[string]int),
	}
}

// Fire sets the shutdown trigger at t.
func (c *FakeChain) Fire(t time.Time, wait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Live = false
	c.When = t
	c.Wait = wait
}

// SetNow sets the timestamp the fake contracts compare against.
func (c *FakeChain) SetNow(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Now = t
}

// SetLive overrides the shutdown trigger.
func (c *FakeChain) SetLive(live bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Live = live
}

// SetTag marks an ilk as caged with its current debt.
func (c *FakeChain) SetTag(ilk string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cage(ilk)
}

func (c *FakeChain) cage(ilk string) {
	c.Tags[ilk] = fpmath.RayFromInt(1)
	if i, ok := c.Ilks[ilk]; ok {
		c.CagedArt[ilk] = i.Art
	}
}

// Fail makes the next n calls of label fail. Labels are "End.cage",
// "Vow.heal", "flap.yank" and so on for transactions, "End.live",
// "Vat.ilks" and so on for reads.
func (c *FakeChain) Fail(label string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.Contains(label, ".") && isTx(label) {
		c.FailTx[label] = n
		return
	}
	c.FailRead[label] = n
}

func isTx(label string) bool {
	_, method, _ := strings.Cut(label, ".")
	switch method {
	case "cage", "skim", "skip", "snip", "thaw", "flow", "kiss", "heal", "yank", "deny", "burn":
		return true
	}
	return false
}

// AddIlk registers a collateral class. Rate, spot and mat are whole units.
func (c *FakeChain) AddIlk(name string, rate, spot, mat int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Ilks[name] = &state.Ilk{
		Name: name,
		Rate: fpmath.RayFromInt(rate),
		Spot: fpmath.RayFromInt(spot),
		Mat:  fpmath.RayFromInt(mat),
	}
	c.IlkOrder = append(c.IlkOrder, name)
}

// AddUrn opens a position. Ink and art are whole units.
func (c *FakeChain) AddUrn(ilk string, owner common.Address, ink, art int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.urns[ilk] == nil {
		c.urns[ilk] = make(map[common.Address]*state.Urn)
	}
	c.urns[ilk][owner] = &state.Urn{Ilk: ilk, Address: owner, Ink: fpmath.WadFromInt(ink), Art: fpmath.WadFromInt(art)}
	c.urnOrder[ilk] = append(c.urnOrder[ilk], owner)
	i := c.Ilks[ilk]
	i.Art = i.Art.Add(fpmath.WadFromInt(art))
}

// UrnState returns a copy of a position.
func (c *FakeChain) UrnState(ilk string, owner common.Address) state.Urn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.urns[ilk][owner]
}

// SetBalances sets the Vow's surplus, debt on auction and unqueued debt.
func (c *FakeChain) SetBalances(joy, ash, woe int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Dai[c.VowAddress] = fpmath.RadFromInt(joy)
	c.VowAsh = fpmath.RadFromInt(ash)
	c.VowSin = fpmath.Rad{}
	c.Sin[c.VowAddress] = fpmath.RadFromInt(ash + woe)
}

// Woe returns the Vow's unqueued debt.
func (c *FakeChain) Woe() fpmath.Rad {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.woe()
}

// Joy returns the Vow's surplus.
func (c *FakeChain) Joy() fpmath.Rad {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Dai[c.VowAddress]
}

// CallLog returns the state-mutating calls made so far, in order.
func (c *FakeChain) CallLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Calls...)
}

// CallsWithPrefix returns the logged calls that start with prefix.
func (c *FakeChain) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, call := range c.CallLog() {
		if strings.HasPrefix(call, prefix) {
			out = append(out, call)
		}
	}
	return out
}

func (c *FakeChain) woe() fpmath.Rad {
	return fpmath.ClampRad(c.Sin[c.VowAddress].Sub(c.VowSin).Sub(c.VowAsh))
}

// read must be called with mu held.
func (c *FakeChain) read(label string) error {
	if c.FailRead[label] > 0 {
		c.FailRead[label]--
		return state.Unavailable(fmt.Errorf("%s: injected read failure", label))
	}
	return nil
}

// tx runs fn as one transaction. Must be called with mu held.
func (c *FakeChain) tx(label string, fn func() error) (common.Hash, error) {
	if c.FailTx[label] > 0 {
		c.FailTx[label]--
		return common.Hash{}, state.Rejected(fmt.Errorf("%s: injected failure", label))
	}
	if err := fn(); err != nil {
		return common.Hash{}, state.Rejected(fmt.Errorf("%s: %w", label, err))
	}
	c.txs++
	return common.BigToHash(big.NewInt(int64(c.txs))), nil
}

func (c *FakeChain) log(format string, args ...interface{}) {
	c.Calls = append(c.Calls, fmt.Sprintf(format, args...))
}

// ============================================================================
// End
// ============================================================================

type FakeEnd struct{ c *FakeChain }

func (e FakeEnd) Live(context.Context) (bool, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	if err := e.c.read("End.live"); err != nil {
		return false, err
	}
	return e.c.Live, nil
}

func (e FakeEnd) When(context.Context) (time.Time, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.c.When, e.c.read("End.when")
}

func (e FakeEnd) Wait(context.Context) (time.Duration, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.c.Wait, e.c.read("End.wait")
}

func (e FakeEnd) Debt(context.Context) (fpmath.Rad, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.c.Debt, e.c.read("End.debt")
}

func (e FakeEnd) Tag(_ context.Context, ilk string) (fpmath.Ray, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.c.Tags[ilk], e.c.read("End.tag")
}

func (e FakeEnd) Fix(_ context.Context, ilk string) (fpmath.Ray, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.c.Fixes[ilk], e.c.read("End.fix")
}

func (e FakeEnd) Art(_ context.Context, ilk string) (fpmath.Wad, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.c.CagedArt[ilk], e.c.read("End.Art")
}

func (e FakeEnd) Cage(_ context.Context, ilk string) (common.Hash, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.c.tx("End.cage", func() error {
		if e.c.Live {
			return fmt.Errorf("End/still-live")
		}
		if !e.c.Tags[ilk].IsZero() {
			return fmt.Errorf("End/tag-ilk-already-defined")
		}
		e.c.cage(ilk)
		e.c.log("End.cage(%s)", ilk)
		return nil
	})
}

func (e FakeEnd) Skim(_ context.Context, ilk string, owner common.Address) (common.Hash, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.c.tx("End.skim", func() error {
		if e.c.Tags[ilk].IsZero() {
			return fmt.Errorf("End/tag-ilk-not-defined")
		}
		urn := e.c.urns[ilk][owner]
		if urn == nil {
			return fmt.Errorf("no position")
		}
		i := e.c.Ilks[ilk]
		owed := fpmath.DebtValue(urn.Art, i.Rate)
		e.c.Sin[e.c.VowAddress] = e.c.Sin[e.c.VowAddress].Add(owed)
		i.Art = i.Art.Sub(urn.Art)
		urn.Art = fpmath.Wad{}
		e.c.log("End.skim(%s,%s)", ilk, owner.Hex())
		return nil
	})
}

func (e FakeEnd) Skip(_ context.Context, ilk string, id uint64) (common.Hash, error) {
	return e.close("End.skip", state.VariantFlip, ilk, id)
}

func (e FakeEnd) Snip(_ context.Context, ilk string, id uint64) (common.Hash, error) {
	return e.close("End.snip", state.VariantClip, ilk, id)
}

func (e FakeEnd) close(label string, variant state.AuctionVariant, ilk string, id uint64) (common.Hash, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.c.tx(label, func() error {
		if e.c.Tags[ilk].IsZero() {
			return fmt.Errorf("End/tag-ilk-not-defined")
		}
		for _, h := range e.c.Houses {
			if h.Ilk == ilk && h.variant == variant {
				a := h.auction(id)
				if a == nil || a.Guy == state.Nobody {
					return fmt.Errorf("auction %d not running", id)
				}
				a.Guy = state.Nobody
				a.Bid, a.Tab = new(big.Int), new(big.Int)
				e.c.log("%s(%s,%d)", label, ilk, id)
				return nil
			}
		}
		return fmt.Errorf("no %s house for %s", variant, ilk)
	})
}

func (e FakeEnd) Thaw(context.Context) (common.Hash, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.c.tx("End.thaw", func() error {
		switch {
		case e.c.Live:
			return fmt.Errorf("End/still-live")
		case !e.c.Debt.IsZero():
			return fmt.Errorf("End/debt-not-zero")
		case !e.c.Dai[e.c.VowAddress].IsZero():
			return fmt.Errorf("End/surplus-not-zero")
		case e.c.Now.Before(e.c.When.Add(e.c.Wait)):
			return fmt.Errorf("End/wait-not-finished")
		}
		e.c.Debt = fpmath.RadFromInt(1_000_000)
		e.c.log("End.thaw()")
		return nil
	})
}

func (e FakeEnd) Flow(_ context.Context, ilk string) (common.Hash, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.c.tx("End.flow", func() error {
		if e.c.Debt.IsZero() {
			return fmt.Errorf("End/debt-zero")
		}
		if !e.c.Fixes[ilk].IsZero() {
			return fmt.Errorf("End/fix-ilk-already-defined")
		}
		e.c.Fixes[ilk] = fpmath.RayFromInt(1)
		e.c.log("End.flow(%s)", ilk)
		return nil
	})
}

// ============================================================================
// Vat
// ============================================================================

type FakeVat struct{ c *FakeChain }

func (v FakeVat) Ilk(_ context.Context, name string) (state.Ilk, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	if err := v.c.read("Vat.ilks"); err != nil {
		return state.Ilk{}, err
	}
	i, ok := v.c.Ilks[name]
	if !ok {
		return state.Ilk{Name: name}, nil
	}
	return *i, nil
}

func (v FakeVat) Urn(_ context.Context, ilk string, owner common.Address) (state.Urn, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	if err := v.c.read("Vat.urns"); err != nil {
		return state.Urn{}, err
	}
	if u := v.c.urns[ilk][owner]; u != nil {
		return *u, nil
	}
	return state.Urn{Ilk: ilk, Address: owner}, nil
}

func (v FakeVat) Dai(_ context.Context, addr common.Address) (fpmath.Rad, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	return v.c.Dai[addr], v.c.read("Vat.dai")
}

func (v FakeVat) Sin(_ context.Context, addr common.Address) (fpmath.Rad, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	return v.c.Sin[addr], v.c.read("Vat.sin")
}

// ============================================================================
// Vow
// ============================================================================

type FakeVow struct{ c *FakeChain }

func (v FakeVow) Address() common.Address { return v.c.VowAddress }

func (v FakeVow) Sin(context.Context) (fpmath.Rad, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	return v.c.VowSin, v.c.read("Vow.Sin")
}

func (v FakeVow) Ash(context.Context) (fpmath.Rad, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	return v.c.VowAsh, v.c.read("Vow.Ash")
}

func (v FakeVow) Kiss(_ context.Context, rad fpmath.Rad) (common.Hash, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	return v.c.tx("Vow.kiss", func() error {
		if rad.Cmp(v.c.VowAsh) > 0 {
			return fmt.Errorf("Vow/not-enough-ash")
		}
		if rad.Cmp(v.c.Dai[v.c.VowAddress]) > 0 {
			return fmt.Errorf("Vow/insufficient-surplus")
		}
		v.c.VowAsh = v.c.VowAsh.Sub(rad)
		v.c.settle(rad)
		v.c.log("Vow.kiss(%s)", rad)
		return nil
	})
}

func (v FakeVow) Heal(_ context.Context, rad fpmath.Rad) (common.Hash, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	return v.c.tx("Vow.heal", func() error {
		if rad.Cmp(v.c.Dai[v.c.VowAddress]) > 0 {
			return fmt.Errorf("Vow/insufficient-surplus")
		}
		if rad.Cmp(v.c.woe()) > 0 {
			return fmt.Errorf("Vow/insufficient-debt")
		}
		v.c.settle(rad)
		v.c.log("Vow.heal(%s)", rad)
		return nil
	})
}

// settle burns rad of surplus against rad of debt.
func (c *FakeChain) settle(rad fpmath.Rad) {
	c.Dai[c.VowAddress] = c.Dai[c.VowAddress].Sub(rad)
	c.Sin[c.VowAddress] = c.Sin[c.VowAddress].Sub(rad)
}

// ============================================================================
// Auction houses
// ============================================================================

// FakeHouse is any auction house. Surplus and debt houses can be yanked.
type FakeHouse struct {
	c        *FakeChain
	Ilk      string
	variant  state.AuctionVariant
	address  common.Address
	auctions []*state.Auction
	wards    map[common.Address]bool
}

// AddHouse registers an auction house. ilk is empty for surplus and debt houses.
func (c *FakeChain) AddHouse(variant state.AuctionVariant, ilk string, address common.Address) *FakeHouse {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := &FakeHouse{
		c:       c,
		Ilk:     ilk,
		variant: variant,
		address: address,
		wards:   map[common.Address]bool{c.Proxy: true},
	}
	c.Houses[address] = h
	return h
}

// Kick appends an auction and returns its id.
func (h *FakeHouse) Kick(guy common.Address, bid, tab int64) uint64 {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	id := uint64(len(h.auctions) + 1)
	h.auctions = append(h.auctions, &state.Auction{
		Variant: h.variant,
		ID:      id,
		Ilk:     h.Ilk,
		Guy:     guy,
		Bid:     big.NewInt(bid),
		Lot:     big.NewInt(1),
		Tab:     big.NewInt(tab),
	})
	return id
}

// IsWard reports whether who is still authorized.
func (h *FakeHouse) IsWard(who common.Address) bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.wards[who]
}

func (h *FakeHouse) auction(id uint64) *state.Auction {
	if id == 0 || id > uint64(len(h.auctions)) {
		return nil
	}
	return h.auctions[id-1]
}

func (h *FakeHouse) Address() common.Address       { return h.address }
func (h *FakeHouse) Variant() state.AuctionVariant { return h.variant }

func (h *FakeHouse) Kicks(context.Context) (uint64, error) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return uint64(len(h.auctions)), h.c.read("kicks")
}

func (h *FakeHouse) Auction(_ context.Context, id uint64) (state.Auction, error) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if err := h.c.read("auction"); err != nil {
		return state.Auction{}, err
	}
	a := h.auction(id)
	if a == nil {
		return state.Auction{Variant: h.variant, ID: id}, nil
	}
	cp := *a
	cp.Bid, cp.Tab = new(big.Int).Set(a.Bid), new(big.Int).Set(a.Tab)
	return cp, nil
}

func (h *FakeHouse) Ward(_ context.Context, who common.Address) (bool, error) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.wards[who], h.c.read("wards")
}

func (h *FakeHouse) Yank(_ context.Context, id uint64) (common.Hash, error) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	label := fmt.Sprintf("%s.yank", h.variant)
	return h.c.tx(label, func() error {
		a := h.auction(id)
		if a == nil || a.Guy == state.Nobody {
			return fmt.Errorf("auction %d not running", id)
		}
		a.Guy = state.Nobody
		h.c.log("%s(%d)", label, id)
		return nil
	})
}

// ============================================================================
// ESM
// ============================================================================

type FakeESM struct{ c *FakeChain }

func (e FakeESM) Address() common.Address {
	return common.HexToAddress("0x000000000000000000000000000000000000e5e5")
}

func (e FakeESM) Proxy(context.Context) (common.Address, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.c.Proxy, e.c.read("ESM.proxy")
}

func (e FakeESM) GemBalance(context.Context) (fpmath.Wad, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.c.GemHeld, e.c.read("ESM.gem")
}

func (e FakeESM) Deny(_ context.Context, target common.Address) (common.Hash, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.c.tx("ESM.deny", func() error {
		h, ok := e.c.Houses[target]
		if !ok {
			return fmt.Errorf("unknown target")
		}
		delete(h.wards, e.c.Proxy)
		e.c.log("ESM.deny(%s)", target.Hex())
		return nil
	})
}

func (e FakeESM) Burn(context.Context) (common.Hash, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.c.tx("ESM.burn", func() error {
		e.c.GemHeld = fpmath.Wad{}
		e.c.log("ESM.burn()")
		return nil
	})
}

// ============================================================================
// Positions
// ============================================================================

type FakePositions struct{ c *FakeChain }

func (p FakePositions) PositionsFor(_ context.Context, ilk string) ([]state.Urn, error) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	if err := p.c.read("positions"); err != nil {
		return nil, err
	}
	var out []state.Urn
	for _, owner := range p.c.urnOrder[ilk] {
		if u := p.c.urns[ilk][owner]; u.HasDebt() {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (p FakePositions) DiscoverIlks(context.Context) ([]string, error) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	if p.c.Discovered != nil {
		return append([]string(nil), p.c.Discovered...), nil
	}
	return append([]string(nil), p.c.IlkOrder...), nil
}

// Protocol wires the fake contracts into a core.Protocol. Surplus and debt
// houses are created when missing; collateral houses are picked up by ilk.
func (c *FakeChain) Protocol() core.Protocol {
	flap := c.houseOf(state.VariantFlap, "")
	if flap == nil {
		flap = c.AddHouse(state.VariantFlap, "", common.HexToAddress("0x000000000000000000000000000000000000fa01"))
	}
	flop := c.houseOf(state.VariantFlop, "")
	if flop == nil {
		flop = c.AddHouse(state.VariantFlop, "", common.HexToAddress("0x000000000000000000000000000000000000f001"))
	}

	p := core.Protocol{
		End:        FakeEnd{c},
		Vat:        FakeVat{c},
		Vow:        FakeVow{c},
		Flapper:    flap,
		Flopper:    flop,
		ESM:        FakeESM{c},
		Positions:  FakePositions{c},
		Discoverer: FakePositions{c},
	}
	c.mu.Lock()
	order := append([]string(nil), c.IlkOrder...)
	c.mu.Unlock()
	for _, ilk := range order {
		h := c.houseOf(state.VariantClip, ilk)
		if h == nil {
			h = c.houseOf(state.VariantFlip, ilk)
		}
		if h == nil {
			p.Collaterals = append(p.Collaterals, core.Collateral{Ilk: ilk})
			continue
		}
		p.Collaterals = append(p.Collaterals, core.Collateral{Ilk: ilk, House: h})
	}
	return p
}

func (c *FakeChain) houseOf(variant state.AuctionVariant, ilk string) *FakeHouse {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.Houses {
		if h.variant == variant && h.Ilk == ilk {
			return h
		}
	}
	return nil
}
