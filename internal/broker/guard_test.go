package broker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aristath/bridgebot/internal/domain"
)

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) Name() string { return "mock" }

func (m *mockBroker) PlaceOrder(ctx context.Context, asset domain.Asset, quantity decimal.Decimal, kind domain.OrderKind) (domain.OrderID, error) {
	args := m.Called(ctx, asset, quantity, kind)
	return args.Get(0).(domain.OrderID), args.Error(1)
}

func (m *mockBroker) BestRate(ctx context.Context, asset domain.Asset, quantity decimal.Decimal, side domain.Side) (decimal.Decimal, error) {
	args := m.Called(ctx, asset, quantity, side)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type mockMetadata struct {
	mock.Mock
}

func (m *mockMetadata) Tradable(ctx context.Context, assets []domain.Asset) ([]domain.Asset, error) {
	args := m.Called(ctx, assets)
	return args.Get(0).([]domain.Asset), args.Error(1)
}

func (m *mockMetadata) MinOrderSize(ctx context.Context, asset domain.Asset) (decimal.Decimal, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// blockingBroker never answers until its context is done
type blockingBroker struct{}

func (blockingBroker) Name() string { return "blocking" }

func (blockingBroker) PlaceOrder(ctx context.Context, _ domain.Asset, _ decimal.Decimal, _ domain.OrderKind) (domain.OrderID, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (blockingBroker) BestRate(ctx context.Context, _ domain.Asset, _ decimal.Decimal, _ domain.Side) (decimal.Decimal, error) {
	<-ctx.Done()
	return decimal.Zero, ctx.Err()
}

// sleepyBroker ignores its context and answers after delay
type sleepyBroker struct {
	delay time.Duration
}

func (sleepyBroker) Name() string { return "sleepy" }

func (b sleepyBroker) PlaceOrder(_ context.Context, _ domain.Asset, _ decimal.Decimal, _ domain.OrderKind) (domain.OrderID, error) {
	time.Sleep(b.delay)
	return "late", nil
}

func (b sleepyBroker) BestRate(_ context.Context, _ domain.Asset, _ decimal.Decimal, _ domain.Side) (decimal.Decimal, error) {
	time.Sleep(b.delay)
	return decimal.NewFromInt(1), nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testGuardConfig() GuardConfig {
	return GuardConfig{
		CallTimeout:      200 * time.Millisecond,
		FailureThreshold: 3,
		BreakerDelay:     time.Minute,
	}
}

func TestGuarded_PassesThroughSuccess(t *testing.T) {
	inner := new(mockBroker)
	eth := domain.Crypto("ETH")
	inner.On("PlaceOrder", mock.Anything, eth, d("1.5"), domain.OrderKindMarket).Return(domain.OrderID("42"), nil)

	g := NewGuarded(inner, nil, testGuardConfig(), zerolog.Nop())
	id, err := g.PlaceOrder(context.Background(), eth, d("1.5"), domain.OrderKindMarket)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderID("42"), id)
	assert.Equal(t, "mock", g.Name())
	inner.AssertExpectations(t)
}

func TestGuarded_WrapsAdapterErrors(t *testing.T) {
	inner := new(mockBroker)
	inner.On("PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(domain.OrderID(""), errors.New("exchange said no"))

	g := NewGuarded(inner, nil, testGuardConfig(), zerolog.Nop())
	_, err := g.PlaceOrder(context.Background(), domain.Crypto("ETH"), d("1"), domain.OrderKindMarket)

	assert.ErrorIs(t, err, domain.ErrOrderRejected)
}

func TestGuarded_TimeoutIsRejection(t *testing.T) {
	g := NewGuarded(blockingBroker{}, nil, testGuardConfig(), zerolog.Nop())

	start := time.Now()
	_, err := g.PlaceOrder(context.Background(), domain.Crypto("ETH"), d("1"), domain.OrderKindMarket)

	assert.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGuarded_TimeoutWhenAdapterIgnoresContext(t *testing.T) {
	var logs syncBuffer
	cfg := testGuardConfig()
	cfg.CallTimeout = 100 * time.Millisecond
	g := NewGuarded(sleepyBroker{delay: 600 * time.Millisecond}, nil, cfg, zerolog.New(&logs))

	start := time.Now()
	id, err := g.PlaceOrder(context.Background(), domain.Crypto("ETH"), d("1"), domain.OrderKindMarket)

	assert.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.Empty(t, id)
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	assert.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "succeeded after it was reported rejected")
	}, 2*time.Second, 20*time.Millisecond, "late fill is surfaced")
}

func TestGuarded_SlowMetadataDoesNotStall(t *testing.T) {
	eth := domain.Crypto("ETH")
	meta := new(mockMetadata)
	meta.On("MinOrderSize", mock.Anything, eth).
		Run(func(mock.Arguments) { time.Sleep(600 * time.Millisecond) }).
		Return(d("0.01"), nil)

	inner := new(mockBroker)
	inner.On("PlaceOrder", mock.Anything, eth, d("1"), domain.OrderKindMarket).Return(domain.OrderID("3"), nil)

	cfg := testGuardConfig()
	cfg.CallTimeout = 100 * time.Millisecond
	g := NewGuarded(inner, meta, cfg, zerolog.Nop())

	start := time.Now()
	id, err := g.PlaceOrder(context.Background(), eth, d("1"), domain.OrderKindMarket)

	require.NoError(t, err, "unknown minimum defers to the exchange")
	assert.Equal(t, domain.OrderID("3"), id)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestGuarded_BestRateTimeout(t *testing.T) {
	g := NewGuarded(blockingBroker{}, nil, testGuardConfig(), zerolog.Nop())

	price, err := g.BestRate(context.Background(), domain.Crypto("ETH"), d("1"), domain.SideBuy)

	assert.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.True(t, price.IsZero())
}

func TestGuarded_UnsupportedKindNeverReachesExchange(t *testing.T) {
	inner := new(mockBroker)
	g := NewGuarded(inner, nil, testGuardConfig(), zerolog.Nop())

	_, err := g.PlaceOrder(context.Background(), domain.Crypto("ETH"), d("1"), domain.OrderKind("STOP"))

	assert.ErrorIs(t, err, domain.ErrUnsupportedOrderKind)
	inner.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGuarded_MinimumOrderSize(t *testing.T) {
	eth := domain.Crypto("ETH")
	meta := new(mockMetadata)
	meta.On("MinOrderSize", mock.Anything, eth).Return(d("0.01"), nil)

	inner := new(mockBroker)
	inner.On("PlaceOrder", mock.Anything, eth, d("-0.02"), domain.OrderKindMarket).Return(domain.OrderID("7"), nil)

	g := NewGuarded(inner, meta, testGuardConfig(), zerolog.Nop())

	_, err := g.PlaceOrder(context.Background(), eth, d("0.01"), domain.OrderKindMarket)
	assert.ErrorIs(t, err, domain.ErrBelowMinOrderSize)
	assert.ErrorIs(t, err, domain.ErrOrderRejected)

	id, err := g.PlaceOrder(context.Background(), eth, d("-0.02"), domain.OrderKindMarket)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderID("7"), id)
	inner.AssertNumberOfCalls(t, "PlaceOrder", 1)
}

func TestGuarded_MinimumUnknownDefersToExchange(t *testing.T) {
	eth := domain.Crypto("ETH")
	meta := new(mockMetadata)
	meta.On("MinOrderSize", mock.Anything, eth).Return(decimal.Zero, errors.New("no metadata"))

	inner := new(mockBroker)
	inner.On("PlaceOrder", mock.Anything, eth, d("0.0001"), domain.OrderKindMarket).Return(domain.OrderID("1"), nil)

	g := NewGuarded(inner, meta, testGuardConfig(), zerolog.Nop())
	_, err := g.PlaceOrder(context.Background(), eth, d("0.0001"), domain.OrderKindMarket)

	assert.NoError(t, err)
}

func TestGuarded_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	inner := new(mockBroker)
	inner.On("PlaceOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(domain.OrderID(""), errors.New("503"))

	g := NewGuarded(inner, nil, testGuardConfig(), zerolog.Nop())
	for i := 0; i < 3; i++ {
		_, err := g.PlaceOrder(context.Background(), domain.Crypto("ETH"), d("1"), domain.OrderKindMarket)
		require.Error(t, err)
	}
	require.True(t, g.BreakerOpen())

	_, err := g.PlaceOrder(context.Background(), domain.Crypto("ETH"), d("1"), domain.OrderKindMarket)
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
	inner.AssertNumberOfCalls(t, "PlaceOrder", 3)
}
