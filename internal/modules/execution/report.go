package execution

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/bridgebot/internal/domain"
)

// OrderReport is the outcome of one delta order
type OrderReport struct {
	Order   domain.Allocation `json:"order"`
	Side    domain.Side       `json:"side"`
	State   domain.OrderState `json:"state"`
	OrderID domain.OrderID    `json:"order_id,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	At      time.Time         `json:"at"`
	Err     error             `json:"-"`
}

func newReport(order domain.Allocation) *OrderReport {
	return &OrderReport{
		Order: order,
		Side:  order.Side(),
		State: domain.OrderStatePending,
	}
}

// advance moves the report to next, ignoring illegal transitions
func (r *OrderReport) advance(next domain.OrderState, at time.Time) bool {
	if !r.State.CanTransition(next) {
		return false
	}
	r.State = next
	r.At = at
	return true
}

func (r *OrderReport) fill(id domain.OrderID, at time.Time) {
	if r.advance(domain.OrderStateFilled, at) {
		r.OrderID = id
	}
}

func (r *OrderReport) reject(err error, at time.Time) {
	if r.advance(domain.OrderStateRejected, at) {
		r.Err = err
		if err != nil {
			r.Reason = err.Error()
		}
	}
}

// Filled reports whether the order executed
func (r OrderReport) Filled() bool {
	return r.State == domain.OrderStateFilled
}

// Result is the realized outcome of one execution pass.
//
// BridgeBalance always equals PriorBridge + Proceeds - Cost.
type Result struct {
	Portfolio     domain.Portfolio `json:"-"`
	Reports       []OrderReport    `json:"reports"`
	PriorBridge   decimal.Decimal  `json:"prior_bridge"`
	Proceeds      decimal.Decimal  `json:"proceeds"`
	Cost          decimal.Decimal  `json:"cost"`
	BridgeBalance decimal.Decimal  `json:"bridge_balance"`
	Filled        int              `json:"filled"`
	Rejected      int              `json:"rejected"`
}

// Fills returns only the filled orders
func (r Result) Fills() []OrderReport {
	out := make([]OrderReport, 0, r.Filled)
	for _, rep := range r.Reports {
		if rep.Filled() {
			out = append(out, rep)
		}
	}
	return out
}

// Rejections returns only the rejected orders
func (r Result) Rejections() []OrderReport {
	out := make([]OrderReport, 0, r.Rejected)
	for _, rep := range r.Reports {
		if rep.State == domain.OrderStateRejected {
			out = append(out, rep)
		}
	}
	return out
}
