package broker

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/bridgebot/internal/domain"
)

// PaperBroker fills every market order without talking to an exchange.
// Strategies flagged paper run against it.
type PaperBroker struct {
	feed domain.DataFeed
	log  zerolog.Logger
}

// NewPaperBroker creates a paper broker. feed may be nil, in which case
// BestRate always reports an unfillable book.
func NewPaperBroker(feed domain.DataFeed, log zerolog.Logger) *PaperBroker {
	return &PaperBroker{
		feed: feed,
		log:  log.With().Str("broker", "paper").Logger(),
	}
}

// Name implements domain.Broker
func (p *PaperBroker) Name() string { return "paper" }

// PlaceOrder implements domain.Broker
func (p *PaperBroker) PlaceOrder(ctx context.Context, asset domain.Asset, quantity decimal.Decimal, kind domain.OrderKind) (domain.OrderID, error) {
	if err := kind.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", domain.Reject(err)
	}
	id := domain.OrderID(uuid.NewString())
	p.log.Debug().
		Str("asset", asset.String()).
		Str("side", string(domain.SideOf(quantity))).
		Str("quantity", quantity.Abs().String()).
		Str("order_id", string(id)).
		Msg("Paper order filled")
	return id, nil
}

// BestRate implements domain.Broker using the last price as an infinitely deep book
func (p *PaperBroker) BestRate(ctx context.Context, asset domain.Asset, _ decimal.Decimal, _ domain.Side) (decimal.Decimal, error) {
	if p.feed == nil {
		return decimal.Zero, nil
	}
	return p.feed.LastPrices(ctx, []domain.Asset{asset})[asset], nil
}
