package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Broker-agnostic order types shared by the execution engine, the exchange
// clients and the order ledger.

// Side is the direction of an order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SideOf returns the side implied by a signed quantity
func SideOf(quantity decimal.Decimal) Side {
	if quantity.IsNegative() {
		return SideSell
	}
	return SideBuy
}

// OrderKind is the execution style requested from the broker
type OrderKind string

// OrderKindMarket is the only supported order kind
const OrderKindMarket OrderKind = "MARKET"

// Validate returns ErrUnsupportedOrderKind for anything but MARKET
func (k OrderKind) Validate() error {
	if k != OrderKindMarket {
		return fmt.Errorf("%w: %q", ErrUnsupportedOrderKind, string(k))
	}
	return nil
}

// OrderState tracks an order through a cycle: PENDING -> SUBMITTED -> FILLED | REJECTED
type OrderState string

const (
	OrderStatePending   OrderState = "PENDING"
	OrderStateSubmitted OrderState = "SUBMITTED"
	OrderStateFilled    OrderState = "FILLED"
	OrderStateRejected  OrderState = "REJECTED"
)

// IsTerminal reports whether no further transition is possible this cycle
func (s OrderState) IsTerminal() bool {
	return s == OrderStateFilled || s == OrderStateRejected
}

// CanTransition reports whether an order may move from s to next.
// A pending order may be rejected locally without ever being submitted.
func (s OrderState) CanTransition(next OrderState) bool {
	switch s {
	case OrderStatePending:
		return next == OrderStateSubmitted || next == OrderStateRejected
	case OrderStateSubmitted:
		return next == OrderStateFilled || next == OrderStateRejected
	default:
		return false
	}
}

// OrderID is the broker confirmation identifier
type OrderID string

// OrderBookLevel is one price level of one side of an order book
type OrderBookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// ExecutedOrder is a ledger row describing one order attempt
type ExecutedOrder struct {
	ExecutedAt  time.Time       `json:"executed_at"`
	OrderID     OrderID         `json:"order_id"`
	CycleID     string          `json:"cycle_id"`
	Strategy    string          `json:"strategy"`
	Asset       Asset           `json:"asset"`
	Side        Side            `json:"side"`
	Kind        OrderKind       `json:"kind"`
	State       OrderState      `json:"state"`
	Reason      string          `json:"reason,omitempty"`
	Broker      string          `json:"broker"`
	Quantity    decimal.Decimal `json:"quantity"`
	BridgeValue decimal.Decimal `json:"bridge_value"`
}
