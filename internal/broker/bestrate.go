// Package broker holds exchange-independent broker building blocks: the order
// book walk used when an exchange has no market orders, a paper broker and a
// guard that adds timeouts, pacing and a circuit breaker to any broker.
package broker

import (
	"github.com/shopspring/decimal"

	"github.com/aristath/bridgebot/internal/domain"
)

// BookDepth is how many levels adapters request when walking a book
const BookDepth = 20

// BestRate walks levels (best first) accumulating quantity and returns the
// price of the first level at which the cumulative quantity exceeds |amount|.
// A book too thin to cover the amount yields decimal.Zero.
func BestRate(levels []domain.OrderBookLevel, amount decimal.Decimal) decimal.Decimal {
	amount = amount.Abs()
	sum := decimal.Zero
	for _, level := range levels {
		sum = sum.Add(level.Quantity)
		if sum.GreaterThan(amount) {
			return level.Price
		}
	}
	return decimal.Zero
}

// BookSide returns which side of the book fills an order: asks for buys,
// bids for sells.
func BookSide(side domain.Side, bids, asks []domain.OrderBookLevel) []domain.OrderBookLevel {
	if side == domain.SideBuy {
		return asks
	}
	return bids
}
