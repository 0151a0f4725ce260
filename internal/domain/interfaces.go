package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Broker places orders on one exchange.
// Implementations report every failure as an error wrapping ErrOrderRejected,
// except ErrUnsupportedOrderKind which is a configuration error.
type Broker interface {
	// Name identifies the broker in logs and the order ledger
	Name() string

	// PlaceOrder submits one order for a signed quantity (negative sells)
	PlaceOrder(ctx context.Context, asset Asset, quantity decimal.Decimal, kind OrderKind) (OrderID, error)

	// BestRate walks the book side for side and returns the price at which
	// quantity is fully covered, or decimal.Zero when depth is insufficient.
	BestRate(ctx context.Context, asset Asset, quantity decimal.Decimal, side Side) (decimal.Decimal, error)
}

// DataFeed supplies last prices in the bridge currency.
// Assets without a price map to zero; LastPrices never fails.
type DataFeed interface {
	LastPrices(ctx context.Context, assets []Asset) map[Asset]decimal.Decimal
}

// ExchangeMetadata exposes per-exchange trading rules
type ExchangeMetadata interface {
	// Tradable filters assets down to those with an active market against the bridge
	Tradable(ctx context.Context, assets []Asset) ([]Asset, error)

	// MinOrderSize returns the smallest quantity the exchange accepts, zero if unknown
	MinOrderSize(ctx context.Context, asset Asset) (decimal.Decimal, error)
}

// PortfolioStore loads and atomically replaces a strategy's portfolio
type PortfolioStore interface {
	// Load returns the stored portfolio; an unknown strategy yields an empty one
	Load(ctx context.Context, strategy string) (Portfolio, error)

	// Replace swaps the whole stored portfolio in one transaction. p.Version
	// must match the stored version or ErrPersistenceConflict is returned.
	Replace(ctx context.Context, strategy string, p Portfolio) error
}
