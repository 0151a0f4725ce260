// Package domain provides core domain models and types.
package domain

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for computed quantities
// and bridge values
const Scale int32 = 8

// InstrumentKind classifies what an asset is (cryptocurrency, equity, ...)
type InstrumentKind string

const (
	KindCrypto InstrumentKind = "cryptocurrency"
	KindEquity InstrumentKind = "equity"
	KindETF    InstrumentKind = "etf"
)

// IsCrypto reports whether quantities of this kind are fractional.
// Anything that is not a cryptocurrency trades in whole units.
func (k InstrumentKind) IsCrypto() bool {
	return k == KindCrypto
}

// Asset identifies a tradable instrument. Two assets are the same asset
// iff ticker and kind both match.
type Asset struct {
	Ticker string         `json:"ticker" yaml:"ticker"`
	Kind   InstrumentKind `json:"kind" yaml:"kind"`
}

// NewAsset builds an asset, normalising the ticker to upper case
func NewAsset(ticker string, kind InstrumentKind) Asset {
	return Asset{Ticker: strings.ToUpper(strings.TrimSpace(ticker)), Kind: kind}
}

// Crypto is shorthand for NewAsset(ticker, KindCrypto)
func Crypto(ticker string) Asset {
	return NewAsset(ticker, KindCrypto)
}

// Less orders assets lexicographically on (ticker, kind).
// Only used to make iteration deterministic.
func (a Asset) Less(b Asset) bool {
	if a.Ticker != b.Ticker {
		return a.Ticker < b.Ticker
	}
	return a.Kind < b.Kind
}

func (a Asset) String() string {
	return a.Ticker + ":" + string(a.Kind)
}

// SortAssets sorts assets in place
func SortAssets(assets []Asset) {
	sort.Slice(assets, func(i, j int) bool { return assets[i].Less(assets[j]) })
}

// Allocation is a signed, valued position in one asset belonging to one strategy.
//
// Quantity > 0 means long (or buy when used as an order), Quantity < 0 means
// an exposure to close (sell). BridgeValue is the same position priced in the
// bridge currency. Allocation is a value type: every operation returns a new
// Allocation.
type Allocation struct {
	Asset       Asset           `json:"asset"`
	Quantity    decimal.Decimal `json:"quantity"`
	BridgeValue decimal.Decimal `json:"bridge_value"`
	Strategy    string          `json:"strategy"`
}

// NewAllocation creates an allocation
func NewAllocation(asset Asset, quantity, bridgeValue decimal.Decimal, strategy string) Allocation {
	return Allocation{
		Asset:       asset,
		Quantity:    quantity,
		BridgeValue: bridgeValue,
		Strategy:    strategy,
	}
}

// Add returns a + o elementwise. Asset and strategy are taken from a.
func (a Allocation) Add(o Allocation) Allocation {
	return NewAllocation(a.Asset, a.Quantity.Add(o.Quantity), a.BridgeValue.Add(o.BridgeValue), a.Strategy)
}

// Sub returns a - o elementwise. Asset and strategy are taken from a.
func (a Allocation) Sub(o Allocation) Allocation {
	return NewAllocation(a.Asset, a.Quantity.Sub(o.Quantity), a.BridgeValue.Sub(o.BridgeValue), a.Strategy)
}

// Neg flips the sign of quantity and value
func (a Allocation) Neg() Allocation {
	return NewAllocation(a.Asset, a.Quantity.Neg(), a.BridgeValue.Neg(), a.Strategy)
}

// Abs returns the allocation with non-negative quantity and value
func (a Allocation) Abs() Allocation {
	return NewAllocation(a.Asset, a.Quantity.Abs(), a.BridgeValue.Abs(), a.Strategy)
}

// WithBridgeValue returns a copy carrying a new bridge value
func (a Allocation) WithBridgeValue(v decimal.Decimal) Allocation {
	return NewAllocation(a.Asset, a.Quantity, v, a.Strategy)
}

// WithStrategy returns a copy owned by another strategy
func (a Allocation) WithStrategy(strategy string) Allocation {
	return NewAllocation(a.Asset, a.Quantity, a.BridgeValue, strategy)
}

// IsZero reports whether both quantity and value are exactly zero
func (a Allocation) IsZero() bool {
	return a.Quantity.IsZero() && a.BridgeValue.IsZero()
}

// Side is the direction an allocation takes when used as an order
func (a Allocation) Side() Side {
	if a.Quantity.IsNegative() {
		return SideSell
	}
	return SideBuy
}

// Equal compares allocations numerically (1.0 equals 1.00)
func (a Allocation) Equal(o Allocation) bool {
	return a.Asset == o.Asset &&
		a.Strategy == o.Strategy &&
		a.Quantity.Equal(o.Quantity) &&
		a.BridgeValue.Equal(o.BridgeValue)
}

// SortAllocations sorts allocations in place by asset
func SortAllocations(allocs []Allocation) {
	sort.Slice(allocs, func(i, j int) bool { return allocs[i].Asset.Less(allocs[j].Asset) })
}

// Portfolio maps assets to allocations for a single strategy.
//
// The zero value is an empty portfolio. Portfolio never shares its backing
// map: With and Without copy, so a Portfolio handed to another component
// cannot change underneath the caller.
type Portfolio struct {
	Strategy string
	// Version is the store's optimistic concurrency token. Zero means the
	// strategy has never been persisted.
	Version  int64
	holdings map[Asset]Allocation
}

// NewPortfolio builds a portfolio from allocations. Every allocation is
// stamped with the portfolio's strategy; a repeated asset replaces the
// earlier entry.
func NewPortfolio(strategy string, allocs ...Allocation) Portfolio {
	holdings := make(map[Asset]Allocation, len(allocs))
	for _, a := range allocs {
		holdings[a.Asset] = a.WithStrategy(strategy)
	}
	return Portfolio{Strategy: strategy, holdings: holdings}
}

// WithVersion returns the same holdings tagged with a store version
func (p Portfolio) WithVersion(v int64) Portfolio {
	p.Version = v
	return p
}

// Get returns the allocation for an asset
func (p Portfolio) Get(asset Asset) (Allocation, bool) {
	a, ok := p.holdings[asset]
	return a, ok
}

// Has reports whether the asset is held
func (p Portfolio) Has(asset Asset) bool {
	_, ok := p.holdings[asset]
	return ok
}

// With returns a new portfolio in which asset alloc.Asset maps to alloc
func (p Portfolio) With(alloc Allocation) Portfolio {
	next := p.clone()
	next.holdings[alloc.Asset] = alloc.WithStrategy(p.Strategy)
	return next
}

// Without returns a new portfolio with asset removed
func (p Portfolio) Without(asset Asset) Portfolio {
	next := p.clone()
	delete(next.holdings, asset)
	return next
}

// Len returns the number of held assets
func (p Portfolio) Len() int {
	return len(p.holdings)
}

// IsEmpty reports whether nothing is held
func (p Portfolio) IsEmpty() bool {
	return len(p.holdings) == 0
}

// Assets returns the held assets in sorted order
func (p Portfolio) Assets() []Asset {
	assets := make([]Asset, 0, len(p.holdings))
	for a := range p.holdings {
		assets = append(assets, a)
	}
	SortAssets(assets)
	return assets
}

// Allocations returns the holdings sorted by asset
func (p Portfolio) Allocations() []Allocation {
	allocs := make([]Allocation, 0, len(p.holdings))
	for _, a := range p.holdings {
		allocs = append(allocs, a)
	}
	SortAllocations(allocs)
	return allocs
}

// TotalBridgeValue sums the bridge value of every holding
func (p Portfolio) TotalBridgeValue() decimal.Decimal {
	total := decimal.Zero
	for _, a := range p.holdings {
		total = total.Add(a.BridgeValue)
	}
	return total
}

// Equal compares holdings. Version is ignored.
func (p Portfolio) Equal(o Portfolio) bool {
	if p.Strategy != o.Strategy || len(p.holdings) != len(o.holdings) {
		return false
	}
	for asset, a := range p.holdings {
		b, ok := o.holdings[asset]
		if !ok || !a.Equal(b) {
			return false
		}
	}
	return true
}

func (p Portfolio) clone() Portfolio {
	holdings := make(map[Asset]Allocation, len(p.holdings)+1)
	for k, v := range p.holdings {
		holdings[k] = v
	}
	return Portfolio{Strategy: p.Strategy, Version: p.Version, holdings: holdings}
}
