package portfolio

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/aristath/bridgebot/internal/domain"
)

// Revalue prices every holding at the feed's last price. The bridge asset is
// worth its own quantity. A missing price values the holding at zero.
func Revalue(ctx context.Context, p domain.Portfolio, feed domain.DataFeed, bridge domain.Asset) domain.Portfolio {
	if p.IsEmpty() {
		return p
	}

	assets := make([]domain.Asset, 0, p.Len())
	for _, a := range p.Assets() {
		if a != bridge {
			assets = append(assets, a)
		}
	}
	var prices map[domain.Asset]decimal.Decimal
	if len(assets) > 0 {
		prices = feed.LastPrices(ctx, assets)
	}

	out := p
	for _, a := range p.Allocations() {
		var value decimal.Decimal
		if a.Asset == bridge {
			value = a.Quantity
		} else {
			value = a.Quantity.Mul(prices[a.Asset]).Truncate(domain.Scale)
		}
		out = out.With(a.WithBridgeValue(value))
	}
	return out
}

// AUM is the bridge holding plus the absolute bridge value of every other
// holding.
func AUM(p domain.Portfolio, bridge domain.Asset) decimal.Decimal {
	total := decimal.Zero
	for _, a := range p.Allocations() {
		if a.Asset == bridge {
			total = total.Add(a.Quantity)
			continue
		}
		total = total.Add(a.BridgeValue.Abs())
	}
	return total
}
