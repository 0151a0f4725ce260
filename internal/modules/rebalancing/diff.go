// Package rebalancing computes the orders that move a portfolio to its target.
package rebalancing

import (
	"github.com/aristath/bridgebot/internal/domain"
)

// Diff returns the delta orders that turn current into target.
//
//   - asset in both: target - current, omitted when both quantity and value
//     deltas are exactly zero
//   - asset only in target: the target allocation (buy)
//   - asset only in current: -current (full exit)
//
// Orders are returned sorted by asset. Diff is pure; it makes no sequencing
// promise beyond that, the execution engine decides the order of placement.
func Diff(current, target domain.Portfolio) []domain.Allocation {
	orders := make([]domain.Allocation, 0, target.Len()+current.Len())
	strategy := target.Strategy
	if strategy == "" {
		strategy = current.Strategy
	}

	for _, want := range target.Allocations() {
		have, held := current.Get(want.Asset)
		if !held {
			orders = append(orders, want.WithStrategy(strategy))
			continue
		}
		delta := want.Sub(have)
		if delta.IsZero() {
			continue
		}
		orders = append(orders, delta.WithStrategy(strategy))
	}

	for _, have := range current.Allocations() {
		if target.Has(have.Asset) {
			continue
		}
		if have.IsZero() {
			continue
		}
		orders = append(orders, have.Neg().WithStrategy(strategy))
	}

	domain.SortAllocations(orders)
	return orders
}

// Summary counts the buy and sell orders in a diff
type Summary struct {
	Buys      int `json:"buys"`
	Sells     int `json:"sells"`
	ValueOnly int `json:"value_only"`
}

// Summarize classifies orders by side. Orders with zero quantity but a
// non-zero value delta (revaluation only) are counted separately; the
// engine never places them.
func Summarize(orders []domain.Allocation) Summary {
	var s Summary
	for _, o := range orders {
		switch {
		case o.Quantity.IsZero():
			s.ValueOnly++
		case o.Quantity.IsNegative():
			s.Sells++
		default:
			s.Buys++
		}
	}
	return s
}
