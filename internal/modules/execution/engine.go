// Package execution turns delta orders into a realized portfolio.
//
// Every non-bridge trade settles against a single bridge currency, so sells
// are placed before buys and a running bridge balance funds the buy phase.
// Orders are placed one at a time; a failed order leaves the prior holding in
// place and the cycle continues.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/bridgebot/internal/domain"
)

// FundingPolicy decides who rejects a buy the bridge balance cannot cover
type FundingPolicy string

const (
	// FundingPrecheck rejects an underfunded buy locally without calling the broker
	FundingPrecheck FundingPolicy = "precheck"
	// FundingDelegate always submits and lets the exchange reject
	FundingDelegate FundingPolicy = "delegate"
)

// Validate checks the policy name
func (p FundingPolicy) Validate() error {
	switch p {
	case FundingPrecheck, FundingDelegate:
		return nil
	default:
		return fmt.Errorf("unknown funding policy %q", string(p))
	}
}

// Config configures an Engine
type Config struct {
	Bridge  domain.Asset
	Kind    domain.OrderKind
	Funding FundingPolicy
}

// Engine executes delta orders through a broker
type Engine struct {
	broker domain.Broker
	cfg    Config
	now    func() time.Time
	log    zerolog.Logger
}

// NewEngine creates an engine. Empty Kind and Funding default to MARKET and
// FundingPrecheck.
func NewEngine(broker domain.Broker, cfg Config, log zerolog.Logger) *Engine {
	if cfg.Kind == "" {
		cfg.Kind = domain.OrderKindMarket
	}
	if cfg.Funding == "" {
		cfg.Funding = FundingPrecheck
	}
	return &Engine{
		broker: broker,
		cfg:    cfg,
		now:    time.Now,
		log:    log.With().Str("service", "execution").Str("broker", broker.Name()).Logger(),
	}
}

// Bridge returns the settlement asset
func (e *Engine) Bridge() domain.Asset {
	return e.cfg.Bridge
}

// Execute places orders against current and returns the realized portfolio
// for strategy.
//
// The returned error is non-nil in three cases:
//   - the configured order kind is unsupported: nothing is placed
//   - the broker reports an unsupported order kind mid-cycle: placement stops
//     and Result holds what was realized up to that point
//   - the final bridge balance is negative: Result holds the non-bridge
//     holdings and no bridge allocation
func (e *Engine) Execute(ctx context.Context, orders []domain.Allocation, current domain.Portfolio, strategy string) (Result, error) {
	if err := e.cfg.Kind.Validate(); err != nil {
		return Result{Portfolio: current}, err
	}
	if err := e.cfg.Funding.Validate(); err != nil {
		return Result{Portfolio: current}, err
	}

	log := e.log.With().Str("strategy", strategy).Logger()

	holdings := make(map[domain.Asset]domain.Allocation, current.Len())
	for _, a := range current.Allocations() {
		if a.Asset != e.cfg.Bridge && a.Quantity.IsZero() {
			continue
		}
		holdings[a.Asset] = a
	}

	res := Result{
		PriorBridge: decimal.Zero,
		Proceeds:    decimal.Zero,
		Cost:        decimal.Zero,
	}
	if b, ok := holdings[e.cfg.Bridge]; ok {
		res.PriorBridge = b.BridgeValue
		delete(holdings, e.cfg.Bridge)
	}
	balance := res.PriorBridge

	sells, buys := e.partition(orders, log)

	var abort error
	for _, order := range sells {
		rep := e.place(ctx, order, log)
		res.Reports = append(res.Reports, *rep)
		if rep.Filled() {
			holdings = apply(holdings, order)
			proceeds := order.BridgeValue.Abs()
			res.Proceeds = res.Proceeds.Add(proceeds)
			balance = balance.Add(proceeds)
		}
		if errors.Is(rep.Err, domain.ErrUnsupportedOrderKind) {
			abort = rep.Err
			break
		}
	}

	if abort == nil {
		for _, order := range buys {
			var rep *OrderReport
			if e.cfg.Funding == FundingPrecheck && order.BridgeValue.GreaterThan(balance) {
				rep = newReport(order)
				rep.reject(fmt.Errorf("%w: need %s, have %s", domain.ErrInsufficientBridgeBalance, order.BridgeValue, balance), e.now())
				e.logReport(log, rep)
			} else {
				rep = e.place(ctx, order, log)
			}
			res.Reports = append(res.Reports, *rep)
			if rep.Filled() {
				holdings = apply(holdings, order)
				res.Cost = res.Cost.Add(order.BridgeValue)
				balance = balance.Sub(order.BridgeValue)
			}
			if errors.Is(rep.Err, domain.ErrUnsupportedOrderKind) {
				abort = rep.Err
				break
			}
		}
	}

	for _, rep := range res.Reports {
		switch rep.State {
		case domain.OrderStateFilled:
			res.Filled++
		case domain.OrderStateRejected:
			res.Rejected++
		}
	}
	res.BridgeBalance = balance

	var err error
	switch {
	case balance.IsPositive():
		holdings[e.cfg.Bridge] = domain.NewAllocation(e.cfg.Bridge, balance, balance, strategy)
	case balance.IsNegative():
		err = fmt.Errorf("%w: %s %s after execution", domain.ErrNegativeBridgeBalance, balance, e.cfg.Bridge.Ticker)
	}

	allocs := make([]domain.Allocation, 0, len(holdings))
	for _, a := range holdings {
		allocs = append(allocs, a)
	}
	res.Portfolio = domain.NewPortfolio(strategy, allocs...).WithVersion(current.Version)

	level := zerolog.InfoLevel
	if err != nil || abort != nil {
		level = zerolog.ErrorLevel
	}
	log.WithLevel(level).
		Int("filled", res.Filled).
		Int("rejected", res.Rejected).
		Str("prior_bridge", res.PriorBridge.String()).
		Str("proceeds", res.Proceeds.String()).
		Str("cost", res.Cost.String()).
		Str("bridge_balance", res.BridgeBalance.String()).
		Msg("Execution finished")

	if abort != nil {
		return res, abort
	}
	return res, err
}

// partition splits orders into sells and buys, each sorted by asset.
// Bridge orders and zero-quantity orders are dropped.
func (e *Engine) partition(orders []domain.Allocation, log zerolog.Logger) (sells, buys []domain.Allocation) {
	for _, o := range orders {
		switch {
		case o.Asset == e.cfg.Bridge:
			continue
		case o.Quantity.IsZero():
			log.Debug().Str("asset", o.Asset.String()).Msg("Skipping zero quantity order")
		case o.Quantity.IsNegative():
			sells = append(sells, o)
		default:
			buys = append(buys, o)
		}
	}
	domain.SortAllocations(sells)
	domain.SortAllocations(buys)
	return sells, buys
}

// place submits one order and returns its terminal report
func (e *Engine) place(ctx context.Context, order domain.Allocation, log zerolog.Logger) *OrderReport {
	rep := newReport(order)

	if err := ctx.Err(); err != nil {
		rep.reject(domain.Reject(err), e.now())
		e.logReport(log, rep)
		return rep
	}

	rep.advance(domain.OrderStateSubmitted, e.now())
	id, err := e.broker.PlaceOrder(ctx, order.Asset, order.Quantity, e.cfg.Kind)
	if err != nil {
		rep.reject(domain.Reject(err), e.now())
	} else {
		rep.fill(id, e.now())
	}
	e.logReport(log, rep)
	return rep
}

func (e *Engine) logReport(log zerolog.Logger, rep *OrderReport) {
	level := zerolog.InfoLevel
	if rep.State == domain.OrderStateRejected {
		level = zerolog.WarnLevel
	}
	log.WithLevel(level).
		Str("reason", rep.Reason).
		Str("asset", rep.Order.Asset.String()).
		Str("side", string(rep.Side)).
		Str("quantity", rep.Order.Quantity.Abs().String()).
		Str("bridge_value", rep.Order.BridgeValue.Abs().String()).
		Str("state", string(rep.State)).
		Str("order_id", string(rep.OrderID)).
		Msg("Order processed")
}

// apply adds a filled order to the holdings. A holding whose quantity
// reaches zero is closed and removed.
func apply(holdings map[domain.Asset]domain.Allocation, order domain.Allocation) map[domain.Asset]domain.Allocation {
	next := order
	if prior, ok := holdings[order.Asset]; ok {
		next = prior.Add(order)
	}
	if next.Quantity.IsZero() {
		delete(holdings, order.Asset)
		return holdings
	}
	holdings[order.Asset] = next
	return holdings
}
