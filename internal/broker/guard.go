package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/timeout"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/aristath/bridgebot/internal/domain"
)

// GuardConfig configures Guarded
type GuardConfig struct {
	// CallTimeout bounds every broker call. A call that exceeds it is a rejection.
	CallTimeout time.Duration
	// RatePerSecond paces calls to the exchange; zero disables pacing
	RatePerSecond float64
	Burst         int
	// FailureThreshold consecutive failures open the breaker for BreakerDelay
	FailureThreshold uint
	BreakerDelay     time.Duration
}

// DefaultGuardConfig returns the production defaults
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		CallTimeout:      15 * time.Second,
		RatePerSecond:    5,
		Burst:            1,
		FailureThreshold: 5,
		BreakerDelay:     30 * time.Second,
	}
}

// Guarded decorates a broker so that no call can hang a cycle:
//   - kind is validated before anything reaches the exchange
//   - orders at or below the exchange minimum are rejected locally
//   - every call is paced, bounded by a timeout and passed through a
//     circuit breaker
//
// All failures come back wrapped in domain.ErrOrderRejected.
type Guarded struct {
	inner   domain.Broker
	meta    domain.ExchangeMetadata
	cfg     GuardConfig
	limiter *rate.Limiter
	breaker circuitbreaker.CircuitBreaker[any]
	policy  failsafe.Executor[any]
	log     zerolog.Logger
}

var _ domain.Broker = (*Guarded)(nil)

// NewGuarded wraps inner. meta may be nil to skip the minimum size check.
func NewGuarded(inner domain.Broker, meta domain.ExchangeMetadata, cfg GuardConfig, log zerolog.Logger) *Guarded {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultGuardConfig().CallTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultGuardConfig().FailureThreshold
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = DefaultGuardConfig().BreakerDelay
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	breaker := circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return err != nil
		}).
		WithFailureThreshold(cfg.FailureThreshold).
		WithDelay(cfg.BreakerDelay).
		Build()

	return &Guarded{
		inner:   inner,
		meta:    meta,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
		policy:  failsafe.With[any](breaker, timeout.New[any](cfg.CallTimeout)),
		log:     log.With().Str("component", "guarded_broker").Str("broker", inner.Name()).Logger(),
	}
}

// Name implements domain.Broker
func (g *Guarded) Name() string { return g.inner.Name() }

// BreakerOpen reports whether calls are currently short-circuited
func (g *Guarded) BreakerOpen() bool {
	return g.breaker.IsOpen()
}

// PlaceOrder implements domain.Broker
func (g *Guarded) PlaceOrder(ctx context.Context, asset domain.Asset, quantity decimal.Decimal, kind domain.OrderKind) (domain.OrderID, error) {
	if err := kind.Validate(); err != nil {
		return "", err
	}
	if err := g.checkMinimum(ctx, asset, quantity); err != nil {
		return "", err
	}

	res, err := g.call(ctx, opPlaceOrder, func(callCtx context.Context) (any, error) {
		return g.inner.PlaceOrder(callCtx, asset, quantity, kind)
	})
	if err != nil {
		return "", domain.Reject(err)
	}
	id, _ := res.(domain.OrderID)
	return id, nil
}

// BestRate implements domain.Broker. A failed lookup is reported as an
// unfillable book.
func (g *Guarded) BestRate(ctx context.Context, asset domain.Asset, quantity decimal.Decimal, side domain.Side) (decimal.Decimal, error) {
	res, err := g.call(ctx, "best rate", func(callCtx context.Context) (any, error) {
		return g.inner.BestRate(callCtx, asset, quantity, side)
	})
	if err != nil {
		return decimal.Zero, domain.Reject(err)
	}
	price, _ := res.(decimal.Decimal)
	return price, nil
}

const opPlaceOrder = "place order"

type outcome struct {
	value any
	err   error
}

func (g *Guarded) call(ctx context.Context, op string, fn func(context.Context) (any, error)) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	return g.policy.WithContext(callCtx).GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
		if err := g.limiter.Wait(exec.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		return g.detach(exec.Context(), op, fn)
	})
}

// detach runs fn on its own goroutine so an adapter that ignores ctx cannot
// hold the caller past its deadline. The abandoned call keeps running; its
// result is only logged.
func (g *Guarded) detach(ctx context.Context, op string, fn func(context.Context) (any, error)) (any, error) {
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		go g.reportLate(op, done)
		return nil, fmt.Errorf("%s abandoned: %w", op, ctx.Err())
	}
}

func (g *Guarded) reportLate(op string, done <-chan outcome) {
	o := <-done
	if o.err != nil || op != opPlaceOrder {
		g.log.Debug().Err(o.err).Str("op", op).Msg("Abandoned broker call finished")
		return
	}
	// A late order may have executed after the cycle recorded it as rejected
	g.log.Error().
		Bool("alert", true).
		Str("op", op).
		Interface("result", o.value).
		Msg("Abandoned broker call succeeded after it was reported rejected")
}

func (g *Guarded) checkMinimum(ctx context.Context, asset domain.Asset, quantity decimal.Decimal) error {
	if g.meta == nil {
		return nil
	}
	metaCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()
	res, err := g.detach(metaCtx, "min order size", func(c context.Context) (any, error) {
		return g.meta.MinOrderSize(c, asset)
	})
	minSize, _ := res.(decimal.Decimal)
	if err != nil {
		// Unknown minimum: let the exchange decide
		g.log.Debug().Err(err).Str("asset", asset.String()).Msg("Minimum order size unavailable")
		return nil
	}
	if minSize.IsPositive() && quantity.Abs().LessThanOrEqual(minSize) {
		return fmt.Errorf("%w: %s %s <= %s", domain.ErrBelowMinOrderSize, asset, quantity.Abs(), minSize)
	}
	return nil
}
