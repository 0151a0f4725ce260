package rebalancing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/bridgebot/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func alloc(ticker, qty, value string) domain.Allocation {
	return domain.NewAllocation(domain.Crypto(ticker), d(qty), d(value), "")
}

func TestDiff_SamePortfolioYieldsNothing(t *testing.T) {
	p := domain.NewPortfolio("s",
		alloc("ETH", "10", "0.5"),
		alloc("LTC", "40", "0.3"),
		alloc("BTC", "0.2", "0.2"),
	)

	assert.Empty(t, Diff(p, p))
}

func TestDiff_EmptyCurrentBuysEverything(t *testing.T) {
	target := domain.NewPortfolio("s",
		alloc("ETH", "10", "0.5"),
		alloc("LTC", "40", "0.5"),
	)

	orders := Diff(domain.NewPortfolio("s"), target)

	require.Len(t, orders, 2)
	for i, want := range target.Allocations() {
		assert.True(t, orders[i].Equal(want), "order %d", i)
		assert.Equal(t, domain.SideBuy, orders[i].Side())
	}
}

func TestDiff_EmptyTargetExitsEverything(t *testing.T) {
	current := domain.NewPortfolio("s", alloc("ETH", "1", "1.0"))

	orders := Diff(current, domain.NewPortfolio("s"))

	require.Len(t, orders, 1)
	assert.Equal(t, domain.Crypto("ETH"), orders[0].Asset)
	assert.True(t, orders[0].Quantity.Equal(d("-1")))
	assert.True(t, orders[0].BridgeValue.Equal(d("-1.0")))
}

func TestDiff_PartialRebalance(t *testing.T) {
	current := domain.NewPortfolio("s",
		alloc("ETH", "4", "0.4"),
		alloc("LTC", "6", "0.6"),
	)
	target := domain.NewPortfolio("s",
		alloc("ETH", "6", "0.6"),
		alloc("LTC", "4", "0.4"),
	)

	orders := Diff(current, target)

	require.Len(t, orders, 2)
	eth, ltc := orders[0], orders[1]
	assert.Equal(t, domain.Crypto("ETH"), eth.Asset)
	assert.True(t, eth.Quantity.Equal(d("2")))
	assert.True(t, eth.BridgeValue.Equal(d("0.2")))
	assert.Equal(t, domain.Crypto("LTC"), ltc.Asset)
	assert.True(t, ltc.Quantity.Equal(d("-2")))
	assert.True(t, ltc.BridgeValue.Equal(d("-0.2")))
	assert.Equal(t, Summary{Buys: 1, Sells: 1}, Summarize(orders))
}

func TestDiff_MatchesOnTickerAndKind(t *testing.T) {
	coin := domain.NewAllocation(domain.NewAsset("ABC", domain.KindCrypto), d("1"), d("0.1"), "")
	share := domain.NewAllocation(domain.NewAsset("ABC", domain.KindEquity), d("1"), d("0.1"), "")

	orders := Diff(domain.NewPortfolio("s", coin), domain.NewPortfolio("s", share))

	require.Len(t, orders, 2)
	assert.Equal(t, Summary{Buys: 1, Sells: 1}, Summarize(orders))
}

func TestDiff_ValueOnlyDelta(t *testing.T) {
	current := domain.NewPortfolio("s", alloc("ETH", "1", "0.05"))
	target := domain.NewPortfolio("s", alloc("ETH", "1", "0.06"))

	orders := Diff(current, target)

	require.Len(t, orders, 1)
	assert.True(t, orders[0].Quantity.IsZero())
	assert.Equal(t, Summary{ValueOnly: 1}, Summarize(orders))
}

func TestDiff_StampsStrategy(t *testing.T) {
	orders := Diff(domain.NewPortfolio("alpha"), domain.NewPortfolio("alpha", alloc("ETH", "1", "0.1")))
	require.Len(t, orders, 1)
	assert.Equal(t, "alpha", orders[0].Strategy)
}

func TestDiff_DoesNotMutateInputs(t *testing.T) {
	current := domain.NewPortfolio("s", alloc("ETH", "4", "0.4"))
	target := domain.NewPortfolio("s", alloc("LTC", "4", "0.4"))
	before := current

	_ = Diff(current, target)

	assert.True(t, current.Equal(before))
	assert.Equal(t, 1, target.Len())
}
