// Package trading records every order a rebalance cycle attempts.
package trading

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/bridgebot/internal/database"
	"github.com/aristath/bridgebot/internal/domain"
	"github.com/aristath/bridgebot/internal/modules/execution"
)

// OrderRepository is the append-only executed_orders ledger
type OrderRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// Column order must match scanOrder
const ordersColumns = `order_id, cycle_id, strategy, ticker, kind, side, order_kind, state, reason, broker, quantity, bridge_value, executed_at`

// NewOrderRepository creates a ledger repository on ledger.db
func NewOrderRepository(ledgerDB *sql.DB, log zerolog.Logger) *OrderRepository {
	return &OrderRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "orders").Logger(),
	}
}

// Record appends one order
func (r *OrderRepository) Record(ctx context.Context, o domain.ExecutedOrder) error {
	return r.RecordAll(ctx, []domain.ExecutedOrder{o})
}

// RecordAll appends orders in a single transaction
func (r *OrderRepository) RecordAll(ctx context.Context, orders []domain.ExecutedOrder) error {
	if len(orders) == 0 {
		return nil
	}

	err := database.WithTransactionContext(ctx, r.ledgerDB, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO executed_orders (`+ordersColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, o := range orders {
			if o.CycleID == "" || o.Strategy == "" {
				return fmt.Errorf("order for %s is missing cycle or strategy", o.Asset)
			}
			_, err := stmt.ExecContext(ctx,
				nullString(string(o.OrderID)),
				o.CycleID,
				o.Strategy,
				o.Asset.Ticker,
				string(o.Asset.Kind),
				string(o.Side),
				string(o.Kind),
				string(o.State),
				nullString(o.Reason),
				o.Broker,
				o.Quantity.String(),
				o.BridgeValue.String(),
				o.ExecutedAt.Unix(),
			)
			if err != nil {
				return fmt.Errorf("failed to insert order for %s: %w", o.Asset, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record orders: %w", err)
	}

	r.log.Debug().Int("count", len(orders)).Msg("Orders recorded")
	return nil
}

// ListByStrategy returns the latest orders of a strategy, most recent first
func (r *OrderRepository) ListByStrategy(ctx context.Context, strategy string, limit int) ([]domain.ExecutedOrder, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.query(ctx, `
		SELECT `+ordersColumns+` FROM executed_orders
		WHERE strategy = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?`, strategy, limit)
}

// ListByCycle returns the orders of one cycle in placement order
func (r *OrderRepository) ListByCycle(ctx context.Context, cycleID string) ([]domain.ExecutedOrder, error) {
	return r.query(ctx, `
		SELECT `+ordersColumns+` FROM executed_orders
		WHERE cycle_id = ?
		ORDER BY id ASC`, cycleID)
}

// CountSince counts orders of a strategy in a state since t
func (r *OrderRepository) CountSince(ctx context.Context, strategy string, state domain.OrderState, t time.Time) (int, error) {
	var n int
	err := r.ledgerDB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM executed_orders
		WHERE strategy = ? AND state = ? AND executed_at >= ?`,
		strategy, string(state), t.Unix()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return n, nil
}

func (r *OrderRepository) query(ctx context.Context, query string, args ...interface{}) ([]domain.ExecutedOrder, error) {
	rows, err := r.ledgerDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutedOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return out, nil
}

func scanOrder(rows *sql.Rows) (domain.ExecutedOrder, error) {
	var (
		o                  domain.ExecutedOrder
		orderID, reason    sql.NullString
		ticker, kind, side string
		orderKind, state   string
		quantity, value    string
		executedAt         int64
	)
	if err := rows.Scan(&orderID, &o.CycleID, &o.Strategy, &ticker, &kind, &side, &orderKind,
		&state, &reason, &o.Broker, &quantity, &value, &executedAt); err != nil {
		return o, err
	}

	q, err := decimal.NewFromString(quantity)
	if err != nil {
		return o, fmt.Errorf("invalid quantity %q: %w", quantity, err)
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		return o, fmt.Errorf("invalid bridge value %q: %w", value, err)
	}

	o.OrderID = domain.OrderID(orderID.String)
	o.Reason = reason.String
	o.Asset = domain.Asset{Ticker: ticker, Kind: domain.InstrumentKind(kind)}
	o.Side = domain.Side(side)
	o.Kind = domain.OrderKind(orderKind)
	o.State = domain.OrderState(state)
	o.Quantity = q
	o.BridgeValue = v
	o.ExecutedAt = time.Unix(executedAt, 0).UTC()
	return o, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// FromResult turns the reports of one execution pass into ledger rows.
// Orders that never got past PENDING are left out.
func FromResult(cycleID, strategy, broker string, kind domain.OrderKind, res execution.Result, now time.Time) []domain.ExecutedOrder {
	out := make([]domain.ExecutedOrder, 0, len(res.Reports))
	for _, rep := range res.Reports {
		if rep.State == domain.OrderStatePending {
			continue
		}
		at := rep.At
		if at.IsZero() {
			at = now
		}
		out = append(out, domain.ExecutedOrder{
			ExecutedAt:  at,
			OrderID:     rep.OrderID,
			CycleID:     cycleID,
			Strategy:    strategy,
			Asset:       rep.Order.Asset,
			Side:        rep.Side,
			Kind:        kind,
			State:       rep.State,
			Reason:      rep.Reason,
			Broker:      broker,
			Quantity:    rep.Order.Quantity.Abs(),
			BridgeValue: rep.Order.BridgeValue.Abs(),
		})
	}
	return out
}
