package trading

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/bridgebot/internal/database"
	"github.com/aristath/bridgebot/internal/domain"
	"github.com/aristath/bridgebot/internal/modules/execution"
	testingpkg "github.com/aristath/bridgebot/internal/testing"
)

func newLedger(t *testing.T) *OrderRepository {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	schema, err := database.Schema(database.NameLedger)
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)

	return NewOrderRepository(db, zerolog.New(nil).Level(zerolog.Disabled))
}

func order(cycle, ticker string, state domain.OrderState, at time.Time) domain.ExecutedOrder {
	return domain.ExecutedOrder{
		ExecutedAt:  at,
		OrderID:     domain.OrderID("id-" + ticker),
		CycleID:     cycle,
		Strategy:    "alpha",
		Asset:       domain.Crypto(ticker),
		Side:        domain.SideBuy,
		Kind:        domain.OrderKindMarket,
		State:       state,
		Broker:      "paper",
		Quantity:    testingpkg.Dec("0.5"),
		BridgeValue: testingpkg.Dec("123.45678901"),
	}
}

func TestOrderRepository_RecordAndList(t *testing.T) {
	repo := newLedger(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.RecordAll(ctx, []domain.ExecutedOrder{
		order("c1", "ETH", domain.OrderStateFilled, base),
		order("c1", "BTC", domain.OrderStateFilled, base),
	}))
	rejected := order("c2", "SOL", domain.OrderStateRejected, base.Add(time.Hour))
	rejected.OrderID = ""
	rejected.Reason = "order rejected: insufficient liquidity"
	require.NoError(t, repo.Record(ctx, rejected))

	byCycle, err := repo.ListByCycle(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, byCycle, 2)
	assert.Equal(t, "ETH", byCycle[0].Asset.Ticker, "placement order is kept")
	assert.Equal(t, domain.OrderID("id-ETH"), byCycle[0].OrderID)
	assert.True(t, byCycle[0].BridgeValue.Equal(testingpkg.Dec("123.45678901")))
	assert.Equal(t, base, byCycle[0].ExecutedAt)

	latest, err := repo.ListByStrategy(ctx, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.Equal(t, "SOL", latest[0].Asset.Ticker)
	assert.Equal(t, domain.OrderStateRejected, latest[0].State)
	assert.Empty(t, latest[0].OrderID)
	assert.Equal(t, rejected.Reason, latest[0].Reason)

	n, err := repo.CountSince(ctx, "alpha", domain.OrderStateFilled, base)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOrderRepository_RecordAllIsAtomic(t *testing.T) {
	repo := newLedger(t)
	ctx := context.Background()

	bad := order("", "BTC", domain.OrderStateFilled, time.Now())
	err := repo.RecordAll(ctx, []domain.ExecutedOrder{
		order("c1", "ETH", domain.OrderStateFilled, time.Now()),
		bad,
	})
	require.Error(t, err)

	got, err := repo.ListByCycle(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOrderRepository_RecordNothing(t *testing.T) {
	repo := newLedger(t)
	assert.NoError(t, repo.RecordAll(context.Background(), nil))
}

func TestFromResult(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	filledAt := now.Add(-time.Second)
	res := execution.Result{
		Reports: []execution.OrderReport{
			{
				Order:   testingpkg.Alloc("BTC", "-0.1", "-3000"),
				Side:    domain.SideSell,
				State:   domain.OrderStateFilled,
				OrderID: "x1",
				At:      filledAt,
			},
			{
				Order:  testingpkg.Alloc("ETH", "1", "2000"),
				Side:   domain.SideBuy,
				State:  domain.OrderStateRejected,
				Reason: "no",
				Err:    errors.New("no"),
			},
			{
				Order: testingpkg.Alloc("SOL", "1", "100"),
				Side:  domain.SideBuy,
				State: domain.OrderStatePending,
			},
		},
	}

	rows := FromResult("cyc", "alpha", "paper", domain.OrderKindMarket, res, now)
	require.Len(t, rows, 2)

	assert.Equal(t, filledAt, rows[0].ExecutedAt)
	assert.Equal(t, domain.SideSell, rows[0].Side)
	assert.True(t, rows[0].Quantity.Equal(testingpkg.Dec("0.1")), "ledger stores magnitudes")
	assert.True(t, rows[0].BridgeValue.Equal(testingpkg.Dec("3000")))
	assert.Equal(t, "cyc", rows[0].CycleID)

	assert.Equal(t, now, rows[1].ExecutedAt)
	assert.Equal(t, domain.OrderStateRejected, rows[1].State)
	assert.Equal(t, "no", rows[1].Reason)
}
