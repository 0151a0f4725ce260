// Package cycle runs rebalance cycles: load the stored portfolio, value it,
// build the target, diff, execute, persist the realized portfolio and record
// AUM. At most one cycle per strategy is in flight at any time.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/bridgebot/internal/config"
	"github.com/aristath/bridgebot/internal/domain"
	"github.com/aristath/bridgebot/internal/modules/allocation"
	"github.com/aristath/bridgebot/internal/modules/execution"
	"github.com/aristath/bridgebot/internal/modules/portfolio"
	"github.com/aristath/bridgebot/internal/modules/rebalancing"
	"github.com/aristath/bridgebot/internal/modules/trading"
)

// Store is the persistence a cycle needs
type Store interface {
	domain.PortfolioStore
	portfolio.StateStore
}

// Ledger records executed orders
type Ledger interface {
	RecordAll(ctx context.Context, orders []domain.ExecutedOrder) error
}

// Observer is notified of cycle outcomes
type Observer interface {
	CycleFinished(strategy, outcome string, took time.Duration)
	OrdersExecuted(strategy string, res execution.Result)
	PortfolioValued(strategy string, aum, bridgeBalance decimal.Decimal)
}

// Cycle outcomes reported to the Observer
const (
	OutcomeRebalanced = "rebalanced"
	OutcomeRevalued   = "revalued"
	OutcomeFailed     = "failed"
	OutcomeConflict   = "conflict"
	OutcomeSkipped    = "skipped"
)

// DefaultLeaseTTL bounds how long a crashed process can keep a strategy
// locked when the cycle context carries no deadline
const DefaultLeaseTTL = 10 * time.Minute

// Deps are the collaborators of a Runner. Live may be nil when only paper
// strategies are configured; Meta, Ledger and Observer are optional.
type Deps struct {
	Store    Store
	Feed     domain.DataFeed
	Meta     domain.ExchangeMetadata
	Live     domain.Broker
	Paper    domain.Broker
	Ledger   Ledger
	Observer Observer
}

// Report summarizes one cycle
type Report struct {
	CycleID    string            `json:"cycle_id"`
	Strategy   string            `json:"strategy"`
	Trigger    int64             `json:"trigger"`
	Seeded     bool              `json:"seeded"`
	Rebalanced bool              `json:"rebalanced"`
	Broker     string            `json:"broker,omitempty"`
	Orders     int               `json:"orders"`
	Execution  *execution.Result `json:"execution,omitempty"`
	AUM        decimal.Decimal   `json:"aum"`
	StartedAt  time.Time         `json:"started_at"`
	Took       time.Duration     `json:"took"`
}

// Runner executes rebalance cycles for configured strategies
type Runner struct {
	strategies *config.Strategies
	deps       Deps
	now        func() time.Time
	log        zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]*sync.Mutex
}

// NewRunner creates a runner
func NewRunner(strategies *config.Strategies, deps Deps, log zerolog.Logger) *Runner {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	return &Runner{
		strategies: strategies,
		deps:       deps,
		now:        time.Now,
		log:        log.With().Str("component", "cycle").Logger(),
		inFlight:   make(map[string]*sync.Mutex),
	}
}

// Strategies returns the configured strategies
func (r *Runner) Strategies() *config.Strategies {
	return r.strategies
}

func (r *Runner) lockFor(strategy string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.inFlight[strategy]
	if !ok {
		l = &sync.Mutex{}
		r.inFlight[strategy] = l
	}
	return l
}

// Run executes one cycle for strategy. It returns domain.ErrCycleInFlight
// without doing anything when a cycle for the same strategy is running.
func (r *Runner) Run(ctx context.Context, strategy string) (Report, error) {
	st, ok := r.strategies.Get(strategy)
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", domain.ErrStrategyNotFound, strategy)
	}

	lock := r.lockFor(strategy)
	if !lock.TryLock() {
		r.deps.Observer.CycleFinished(strategy, OutcomeSkipped, 0)
		return Report{}, fmt.Errorf("%w: %s", domain.ErrCycleInFlight, strategy)
	}
	defer lock.Unlock()

	rep := Report{
		CycleID:   uuid.NewString(),
		Strategy:  strategy,
		StartedAt: r.now(),
	}
	log := r.log.With().Str("strategy", strategy).Str("cycle_id", rep.CycleID).Logger()

	err := r.run(ctx, st, &rep, log)
	rep.Took = r.now().Sub(rep.StartedAt)

	outcome := OutcomeRevalued
	switch {
	case errors.Is(err, domain.ErrCycleInFlight):
		outcome = OutcomeSkipped
	case errors.Is(err, domain.ErrPersistenceConflict):
		outcome = OutcomeConflict
	case err != nil:
		outcome = OutcomeFailed
	case rep.Rebalanced:
		outcome = OutcomeRebalanced
	}
	r.deps.Observer.CycleFinished(strategy, outcome, rep.Took)

	if errors.Is(err, domain.ErrCycleInFlight) {
		log.Info().Err(err).Msg("Cycle skipped")
		return rep, err
	}
	if err != nil {
		log.Error().Err(err).Dur("took", rep.Took).Msg("Cycle failed")
		return rep, err
	}
	log.Info().
		Bool("rebalanced", rep.Rebalanced).
		Int("orders", rep.Orders).
		Str("aum", rep.AUM.String()).
		Dur("took", rep.Took).
		Msg("Cycle finished")
	return rep, nil
}

func (r *Runner) run(ctx context.Context, st config.Strategy, rep *Report, log zerolog.Logger) error {
	store := r.deps.Store

	if _, err := store.EnsureStrategy(ctx, st.Name, st.Capital); err != nil {
		return err
	}

	// The in-process lock does not cover a second process on the same database
	now := r.now()
	until := now.Add(DefaultLeaseTTL)
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(until) {
		until = deadline.Add(time.Minute)
	}
	if err := store.AcquireLease(ctx, st.Name, rep.CycleID, now, until); err != nil {
		return err
	}
	defer func() {
		if err := store.ReleaseLease(context.WithoutCancel(ctx), st.Name, rep.CycleID); err != nil {
			log.Warn().Err(err).Msg("Failed to release cycle lease")
		}
	}()

	current, err := store.Load(ctx, st.Name)
	if err != nil {
		return fmt.Errorf("failed to load portfolio: %w", err)
	}
	if current.IsEmpty() && current.Version == 0 {
		current = current.With(domain.NewAllocation(st.Bridge, st.Capital, st.Capital, st.Name))
		rep.Seeded = true
		log.Info().Str("capital", st.Capital.String()).Msg("Seeded empty portfolio with capital")
	}
	current = portfolio.Revalue(ctx, current, r.deps.Feed, st.Bridge)

	trigger, err := store.NextTrigger(ctx, st.Name)
	if err != nil {
		return err
	}
	rep.Trigger = trigger

	frequency := int64(st.Frequency)
	if frequency < 1 {
		frequency = 1
	}
	if (trigger-1)%frequency != 0 {
		return r.recordAUM(ctx, st, current, rep)
	}

	brk, err := r.brokerFor(st)
	if err != nil {
		return err
	}
	rep.Broker = brk.Name()

	capital, orders, err := r.plan(ctx, st, current, log)
	if err != nil {
		return err
	}
	rep.Orders = len(orders)
	summary := rebalancing.Summarize(orders)
	log.Info().
		Str("capital", capital.String()).
		Int("buys", summary.Buys).
		Int("sells", summary.Sells).
		Msg("Rebalance orders computed")

	engine := execution.NewEngine(brk, execution.Config{
		Bridge:  st.Bridge,
		Kind:    domain.OrderKindMarket,
		Funding: st.Funding,
	}, log)
	res, execErr := engine.Execute(ctx, orders, current, st.Name)
	rep.Execution = &res
	if execErr != nil && len(res.Reports) == 0 {
		return execErr
	}
	r.deps.Observer.OrdersExecuted(st.Name, res)

	if r.deps.Ledger != nil {
		rows := trading.FromResult(rep.CycleID, st.Name, brk.Name(), domain.OrderKindMarket, res, r.now())
		if err := r.deps.Ledger.RecordAll(ctx, rows); err != nil {
			log.Error().Err(err).Msg("Failed to record executed orders")
		}
	}

	if err := store.Replace(ctx, st.Name, res.Portfolio); err != nil {
		if errors.Is(err, domain.ErrPersistenceConflict) {
			log.Error().
				Err(err).
				Bool("alert", true).
				Int("filled", res.Filled).
				Msg("Realized portfolio not persisted; stored portfolio no longer matches the exchange")
		}
		return errors.Join(err, execErr)
	}
	rep.Rebalanced = true

	if err := r.recordAUM(ctx, st, res.Portfolio, rep); err != nil {
		return errors.Join(err, execErr)
	}
	return execErr
}

// plan sizes the target on the current AUM, falling back to the configured
// capital, and diffs it against current
func (r *Runner) plan(ctx context.Context, st config.Strategy, current domain.Portfolio, log zerolog.Logger) (decimal.Decimal, []domain.Allocation, error) {
	capital := portfolio.AUM(current, st.Bridge)
	if !capital.IsPositive() {
		capital = st.Capital
	}

	builder := allocation.NewBuilder(r.deps.Feed, r.deps.Meta, st.Bridge, log)
	target, err := builder.Target(ctx, st.Name, st.Weights, capital)
	if err != nil {
		return capital, nil, fmt.Errorf("failed to build target: %w", err)
	}
	return capital, rebalancing.Diff(current, target), nil
}

// Preview is a dry run of the next rebalance
type Preview struct {
	Strategy string              `json:"strategy"`
	Capital  decimal.Decimal     `json:"capital"`
	Current  []domain.Allocation `json:"current"`
	Orders   []domain.Allocation `json:"orders"`
	Summary  rebalancing.Summary `json:"summary"`
}

// Preview computes the orders the next rebalance would place without
// touching the broker or the store
func (r *Runner) Preview(ctx context.Context, strategy string) (Preview, error) {
	st, ok := r.strategies.Get(strategy)
	if !ok {
		return Preview{}, fmt.Errorf("%w: %s", domain.ErrStrategyNotFound, strategy)
	}

	current, err := r.deps.Store.Load(ctx, st.Name)
	if err != nil {
		return Preview{}, fmt.Errorf("failed to load portfolio: %w", err)
	}
	if current.IsEmpty() && current.Version == 0 {
		current = current.With(domain.NewAllocation(st.Bridge, st.Capital, st.Capital, st.Name))
	}
	current = portfolio.Revalue(ctx, current, r.deps.Feed, st.Bridge)

	capital, orders, err := r.plan(ctx, st, current, r.log.With().Str("strategy", st.Name).Logger())
	if err != nil {
		return Preview{}, err
	}
	return Preview{
		Strategy: st.Name,
		Capital:  capital,
		Current:  current.Allocations(),
		Orders:   orders,
		Summary:  rebalancing.Summarize(orders),
	}, nil
}

func (r *Runner) recordAUM(ctx context.Context, st config.Strategy, p domain.Portfolio, rep *Report) error {
	valued := portfolio.Revalue(ctx, p, r.deps.Feed, st.Bridge)
	rep.AUM = portfolio.AUM(valued, st.Bridge)

	bridge := decimal.Zero
	if b, ok := valued.Get(st.Bridge); ok {
		bridge = b.Quantity
	}
	r.deps.Observer.PortfolioValued(st.Name, rep.AUM, bridge)

	if err := r.deps.Store.RecordAUM(ctx, st.Name, rep.AUM, r.now()); err != nil {
		return fmt.Errorf("failed to record AUM: %w", err)
	}
	return nil
}

func (r *Runner) brokerFor(st config.Strategy) (domain.Broker, error) {
	if st.Paper {
		if r.deps.Paper == nil {
			return nil, fmt.Errorf("strategy %s is paper but no paper broker is configured", st.Name)
		}
		return r.deps.Paper, nil
	}
	if r.deps.Live == nil {
		return nil, fmt.Errorf("strategy %s needs a live broker; exchange credentials are missing", st.Name)
	}
	return r.deps.Live, nil
}

type nopObserver struct{}

func (nopObserver) CycleFinished(string, string, time.Duration) {}

func (nopObserver) OrdersExecuted(string, execution.Result) {}

func (nopObserver) PortfolioValued(string, decimal.Decimal, decimal.Decimal) {}
