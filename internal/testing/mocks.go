package testing

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/aristath/bridgebot/internal/domain"
)

// Dec parses a decimal literal and panics on malformed input
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Alloc builds a cryptocurrency allocation from literals
func Alloc(ticker, quantity, bridgeValue string) domain.Allocation {
	return domain.NewAllocation(domain.Crypto(ticker), Dec(quantity), Dec(bridgeValue), "")
}

// MockBroker fills every order unless a failure is scripted for the asset
type MockBroker struct {
	mu    sync.Mutex
	fail  map[domain.Asset]error
	rates map[domain.Asset]decimal.Decimal
	calls []domain.Allocation
}

// NewMockBroker creates a broker that fills everything
func NewMockBroker() *MockBroker {
	return &MockBroker{
		fail:  make(map[domain.Asset]error),
		rates: make(map[domain.Asset]decimal.Decimal),
	}
}

// FailOn scripts an error for every order on asset
func (m *MockBroker) FailOn(asset domain.Asset, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[asset] = err
}

// SetRate sets the BestRate answer for asset
func (m *MockBroker) SetRate(asset domain.Asset, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[asset] = price
}

// Calls returns every order placed so far, in order
func (m *MockBroker) Calls() []domain.Allocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Allocation, len(m.calls))
	copy(out, m.calls)
	return out
}

// Name implements domain.Broker
func (m *MockBroker) Name() string { return "mock" }

// PlaceOrder implements domain.Broker
func (m *MockBroker) PlaceOrder(ctx context.Context, asset domain.Asset, quantity decimal.Decimal, kind domain.OrderKind) (domain.OrderID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, domain.NewAllocation(asset, quantity, decimal.Zero, ""))
	if err := kind.Validate(); err != nil {
		return "", err
	}
	if err, ok := m.fail[asset]; ok {
		return "", err
	}
	return domain.OrderID("mock-" + asset.Ticker), nil
}

// BestRate implements domain.Broker
func (m *MockBroker) BestRate(ctx context.Context, asset domain.Asset, quantity decimal.Decimal, side domain.Side) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rates[asset], nil
}

// StaticFeed serves fixed prices. Unknown assets price at zero.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[domain.Asset]decimal.Decimal
}

// NewStaticFeed creates a feed from ticker -> price literals (crypto assets)
func NewStaticFeed(prices map[string]string) *StaticFeed {
	f := &StaticFeed{prices: make(map[domain.Asset]decimal.Decimal, len(prices))}
	for ticker, p := range prices {
		f.prices[domain.Crypto(ticker)] = Dec(p)
	}
	return f
}

// Set updates one price
func (f *StaticFeed) Set(asset domain.Asset, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asset] = price
}

// LastPrices implements domain.DataFeed
func (f *StaticFeed) LastPrices(ctx context.Context, assets []domain.Asset) map[domain.Asset]decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[domain.Asset]decimal.Decimal, len(assets))
	for _, a := range assets {
		if p, ok := f.prices[a]; ok {
			out[a] = p
		} else {
			out[a] = decimal.Zero
		}
	}
	return out
}

// StaticMetadata treats every asset as tradable, with optional minimums
type StaticMetadata struct {
	Untradable map[domain.Asset]bool
	Minimums   map[domain.Asset]decimal.Decimal
}

// Tradable implements domain.ExchangeMetadata
func (m *StaticMetadata) Tradable(ctx context.Context, assets []domain.Asset) ([]domain.Asset, error) {
	out := make([]domain.Asset, 0, len(assets))
	for _, a := range assets {
		if !m.Untradable[a] {
			out = append(out, a)
		}
	}
	return out, nil
}

// MinOrderSize implements domain.ExchangeMetadata
func (m *StaticMetadata) MinOrderSize(ctx context.Context, asset domain.Asset) (decimal.Decimal, error) {
	return m.Minimums[asset], nil
}
