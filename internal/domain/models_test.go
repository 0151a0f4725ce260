package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAssetLess(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Asset
		expected bool
	}{
		{"ticker decides", Crypto("ETH"), Crypto("LTC"), true},
		{"ticker decides reversed", Crypto("LTC"), Crypto("ETH"), false},
		{"kind breaks ties", NewAsset("ABC", KindCrypto), NewAsset("ABC", KindEquity), true},
		{"equal is not less", Crypto("ETH"), Crypto("ETH"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.a.Less(tt.b))
		})
	}
}

func TestNewAsset_NormalisesTicker(t *testing.T) {
	assert.Equal(t, Asset{Ticker: "ETH", Kind: KindCrypto}, NewAsset(" eth ", KindCrypto))
	assert.NotEqual(t, NewAsset("ABC", KindCrypto), NewAsset("ABC", KindEquity))
}

func TestAllocationArithmetic(t *testing.T) {
	a := NewAllocation(Crypto("ETH"), d("2.5"), d("0.1"), "s1")
	b := NewAllocation(Crypto("ETH"), d("1.25"), d("0.04"), "other")

	sum := a.Add(b)
	assert.True(t, sum.Quantity.Equal(d("3.75")))
	assert.True(t, sum.BridgeValue.Equal(d("0.14")))
	assert.Equal(t, "s1", sum.Strategy)

	diff := b.Sub(a)
	assert.True(t, diff.Quantity.Equal(d("-1.25")))
	assert.Equal(t, SideSell, diff.Side())
	assert.True(t, diff.Abs().Quantity.Equal(d("1.25")))
	assert.Equal(t, SideBuy, diff.Neg().Side())

	// operands untouched
	assert.True(t, a.Quantity.Equal(d("2.5")))
	assert.True(t, b.Quantity.Equal(d("1.25")))
}

func TestAllocationEqual_IgnoresScale(t *testing.T) {
	a := NewAllocation(Crypto("ETH"), d("1.0"), d("0.50"), "s")
	b := NewAllocation(Crypto("ETH"), d("1"), d("0.5"), "s")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(b.WithStrategy("t")))
}

func TestDecimalHasNoDrift(t *testing.T) {
	a := NewAllocation(Crypto("ETH"), decimal.Zero, decimal.Zero, "s")
	step := NewAllocation(Crypto("ETH"), d("0.1"), d("0.00000001"), "s")
	for i := 0; i < 10; i++ {
		a = a.Add(step)
	}
	assert.True(t, a.Quantity.Equal(d("1")))
	assert.True(t, a.BridgeValue.Equal(d("0.0000001")))
}

func TestPortfolioCopyOnWrite(t *testing.T) {
	eth := NewAllocation(Crypto("ETH"), d("1"), d("0.05"), "")
	p := NewPortfolio("s1", eth)

	ltc := NewAllocation(Crypto("LTC"), d("3"), d("0.01"), "")
	q := p.With(ltc)

	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 2, q.Len())
	assert.False(t, p.Has(Crypto("LTC")))

	got, ok := q.Get(Crypto("LTC"))
	require.True(t, ok)
	assert.Equal(t, "s1", got.Strategy)

	r := q.Without(Crypto("ETH"))
	assert.True(t, q.Has(Crypto("ETH")))
	assert.False(t, r.Has(Crypto("ETH")))
}

func TestPortfolioSortedViews(t *testing.T) {
	p := NewPortfolio("s",
		NewAllocation(Crypto("LTC"), d("1"), d("0.2"), ""),
		NewAllocation(Crypto("BTC"), d("0.3"), d("0.3"), ""),
		NewAllocation(Crypto("ETH"), d("1"), d("0.5"), ""),
	)

	assert.Equal(t, []Asset{Crypto("BTC"), Crypto("ETH"), Crypto("LTC")}, p.Assets())
	allocs := p.Allocations()
	require.Len(t, allocs, 3)
	assert.Equal(t, Crypto("BTC"), allocs[0].Asset)
	assert.True(t, p.TotalBridgeValue().Equal(d("1.0")))
}

func TestPortfolioEqual(t *testing.T) {
	a := NewPortfolio("s", NewAllocation(Crypto("ETH"), d("1"), d("0.5"), ""))
	b := NewPortfolio("s", NewAllocation(Crypto("ETH"), d("1.00"), d("0.50"), "")).WithVersion(7)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(NewPortfolio("s")))
	assert.True(t, Portfolio{}.IsEmpty())
}

func TestOrderKindValidate(t *testing.T) {
	assert.NoError(t, OrderKindMarket.Validate())
	err := OrderKind("LIMIT").Validate()
	assert.ErrorIs(t, err, ErrUnsupportedOrderKind)
}

func TestSideOf(t *testing.T) {
	assert.Equal(t, SideSell, SideOf(d("-0.1")))
	assert.Equal(t, SideBuy, SideOf(d("0.1")))
}

func TestRejectWrapping(t *testing.T) {
	assert.Nil(t, Reject(nil))

	err := Reject(errors.New("connection reset"))
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.Contains(t, err.Error(), "connection reset")

	assert.Equal(t, ErrInsufficientLiquidity, Reject(ErrInsufficientLiquidity))
	assert.ErrorIs(t, ErrInsufficientLiquidity, ErrOrderRejected)
	assert.ErrorIs(t, ErrBelowMinOrderSize, ErrOrderRejected)

	unsupported := OrderKind("STOP").Validate()
	assert.Equal(t, unsupported, Reject(unsupported))
	assert.NotErrorIs(t, unsupported, ErrOrderRejected)
}

func TestOrderStateTerminal(t *testing.T) {
	assert.False(t, OrderStatePending.IsTerminal())
	assert.False(t, OrderStateSubmitted.IsTerminal())
	assert.True(t, OrderStateFilled.IsTerminal())
	assert.True(t, OrderStateRejected.IsTerminal())
}

func TestOrderStateTransitions(t *testing.T) {
	assert.True(t, OrderStatePending.CanTransition(OrderStateSubmitted))
	assert.True(t, OrderStatePending.CanTransition(OrderStateRejected))
	assert.False(t, OrderStatePending.CanTransition(OrderStateFilled))
	assert.True(t, OrderStateSubmitted.CanTransition(OrderStateFilled))
	assert.True(t, OrderStateSubmitted.CanTransition(OrderStateRejected))
	assert.False(t, OrderStateRejected.CanTransition(OrderStateSubmitted))
	assert.False(t, OrderStateFilled.CanTransition(OrderStateRejected))
}
