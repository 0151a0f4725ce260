package allocation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/bridgebot/internal/domain"
)

// Builder builds longs-only target portfolios
type Builder struct {
	feed   domain.DataFeed
	meta   domain.ExchangeMetadata // optional
	bridge domain.Asset
	log    zerolog.Logger
}

// NewBuilder creates a target builder. meta may be nil, in which case no
// tradable filter is applied.
func NewBuilder(feed domain.DataFeed, meta domain.ExchangeMetadata, bridge domain.Asset, log zerolog.Logger) *Builder {
	return &Builder{
		feed:   feed,
		meta:   meta,
		bridge: bridge,
		log:    log.With().Str("service", "allocation").Logger(),
	}
}

// Target assigns weight × capital of bridge value to every asset and
// converts it to a quantity at the last price. Non-crypto quantities are
// floored to whole units and valued at what the whole units cost. Assets without a positive price, or that the
// exchange does not list, are left out.
func (b *Builder) Target(ctx context.Context, strategy string, weights []Weight, capital decimal.Decimal) (domain.Portfolio, error) {
	if err := ValidateWeights(weights); err != nil {
		return domain.Portfolio{}, err
	}
	if !capital.IsPositive() {
		return domain.Portfolio{}, fmt.Errorf("capital must be positive, got %s", capital)
	}

	assets := make([]domain.Asset, 0, len(weights))
	for _, w := range weights {
		if w.Asset != b.bridge {
			assets = append(assets, w.Asset)
		}
	}

	if b.meta != nil && len(assets) > 0 {
		tradable, err := b.meta.Tradable(ctx, assets)
		if err != nil {
			return domain.Portfolio{}, fmt.Errorf("failed to check tradable assets: %w", err)
		}
		listed := make(map[domain.Asset]bool, len(tradable))
		for _, a := range tradable {
			listed[a] = true
		}
		kept := assets[:0]
		for _, a := range assets {
			if listed[a] {
				kept = append(kept, a)
				continue
			}
			b.log.Warn().Str("strategy", strategy).Str("asset", a.String()).Msg("Asset not tradable, left out of target")
		}
		assets = kept
	}

	var prices map[domain.Asset]decimal.Decimal
	if len(assets) > 0 {
		prices = b.feed.LastPrices(ctx, assets)
	}
	include := make(map[domain.Asset]bool, len(assets)+1)
	for _, a := range assets {
		include[a] = true
	}
	include[b.bridge] = true

	allocs := make([]domain.Allocation, 0, len(weights))
	for _, w := range weights {
		if !include[w.Asset] || w.Weight.IsZero() {
			continue
		}
		value := capital.Mul(w.Weight).Truncate(domain.Scale)

		if w.Asset == b.bridge {
			allocs = append(allocs, domain.NewAllocation(w.Asset, value, value, strategy))
			continue
		}

		price := prices[w.Asset]
		if !price.IsPositive() {
			b.log.Warn().Str("strategy", strategy).Str("asset", w.Asset.String()).Msg("No price, left out of target")
			continue
		}

		qty := value.DivRound(price, domain.Scale+4).Truncate(domain.Scale)
		if !w.Asset.Kind.IsCrypto() {
			qty = qty.Floor()
			value = qty.Mul(price).Truncate(domain.Scale)
		}
		if qty.IsZero() {
			continue
		}
		allocs = append(allocs, domain.NewAllocation(w.Asset, qty, value, strategy))
	}

	return domain.NewPortfolio(strategy, allocs...), nil
}
