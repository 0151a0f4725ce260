package domain

import (
	"errors"
	"fmt"
)

// ErrOrderRejected covers every recoverable order failure: exchange refusal,
// network or API error, timeout, open circuit. The cycle keeps going.
var ErrOrderRejected = errors.New("order rejected")

// Rejection kinds. Each one also matches ErrOrderRejected with errors.Is.
var (
	ErrInsufficientLiquidity     = fmt.Errorf("%w: insufficient order book depth", ErrOrderRejected)
	ErrInsufficientBridgeBalance = fmt.Errorf("%w: insufficient bridge balance", ErrOrderRejected)
	ErrBelowMinOrderSize         = fmt.Errorf("%w: below minimum order size", ErrOrderRejected)
)

var (
	// ErrUnsupportedOrderKind aborts the cycle
	ErrUnsupportedOrderKind = errors.New("unsupported order kind")

	// ErrPersistenceConflict means the store refused the atomic replace.
	// Orders have already executed, so broker and store may now diverge.
	ErrPersistenceConflict = errors.New("portfolio persistence conflict")

	// ErrNegativeBridgeBalance is an accounting invariant violation
	ErrNegativeBridgeBalance = errors.New("negative bridge balance")

	// ErrCycleInFlight is returned when a strategy already has a running cycle
	ErrCycleInFlight = errors.New("rebalance cycle already in flight")

	// ErrStrategyNotFound is returned for unknown strategy names
	ErrStrategyNotFound = errors.New("strategy not found")
)

// Reject wraps a broker error as an order rejection unless it already is
// one or is a configuration error.
func Reject(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderRejected) || errors.Is(err, ErrUnsupportedOrderKind) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrOrderRejected, err)
}
