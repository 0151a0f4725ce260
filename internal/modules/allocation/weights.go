// Package allocation turns strategy weights into target portfolios.
package allocation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aristath/bridgebot/internal/domain"
)

// Weight sums outside [MinWeightSum, MaxWeightSum] are rejected
var (
	MinWeightSum = decimal.RequireFromString("0.9")
	MaxWeightSum = decimal.RequireFromString("1.1")
)

// ErrInvalidWeights is returned for a weight set that cannot build a target
var ErrInvalidWeights = errors.New("invalid weights")

// Weight is the share of capital assigned to one asset. Weight decodes from
// the YAML scalar text, so 0.1 stays exactly 0.1.
type Weight struct {
	Asset  domain.Asset    `json:"asset" yaml:",inline"`
	Weight decimal.Decimal `json:"weight" yaml:"weight"`
}

// ValidateWeights checks that weights are non-negative, unique per asset and
// sum to roughly one.
func ValidateWeights(weights []Weight) error {
	if len(weights) == 0 {
		return fmt.Errorf("%w: no weights", ErrInvalidWeights)
	}

	seen := make(map[domain.Asset]bool, len(weights))
	sum := decimal.Zero
	for i, w := range weights {
		if w.Asset.Ticker == "" {
			return fmt.Errorf("%w: weight %d has no ticker", ErrInvalidWeights, i)
		}
		if seen[w.Asset] {
			return fmt.Errorf("%w: %s listed twice", ErrInvalidWeights, w.Asset)
		}
		seen[w.Asset] = true
		if w.Weight.IsNegative() {
			return fmt.Errorf("%w: negative weight for %s", ErrInvalidWeights, w.Asset)
		}
		sum = sum.Add(w.Weight)
	}

	if sum.LessThan(MinWeightSum) || sum.GreaterThan(MaxWeightSum) {
		return fmt.Errorf("%w: weights sum to %s", ErrInvalidWeights, sum)
	}
	return nil
}
