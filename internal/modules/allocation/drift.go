package allocation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/aristath/bridgebot/internal/domain"
)

// AssetDrift compares the current share of one asset with its target weight
type AssetDrift struct {
	Asset        domain.Asset `json:"asset"`
	TargetPct    float64      `json:"target_pct"`
	CurrentPct   float64      `json:"current_pct"`
	CurrentValue float64      `json:"current_value"`
	Deviation    float64      `json:"deviation"`
}

// Drift reports, for every asset either held or weighted, how far the
// portfolio's value share is from the target weight. Values should be
// revalued first. Held assets without a weight have a zero target.
func Drift(p domain.Portfolio, weights []Weight) []AssetDrift {
	values := make(map[domain.Asset]float64, p.Len())
	var total float64
	for _, a := range p.Allocations() {
		v := math.Abs(a.BridgeValue.InexactFloat64())
		values[a.Asset] += v
		total += v
	}

	targets := make(map[domain.Asset]float64, len(weights))
	for _, w := range weights {
		targets[w.Asset] = w.Weight.InexactFloat64()
	}

	assets := make(map[domain.Asset]bool, len(values)+len(targets))
	for a := range values {
		assets[a] = true
	}
	for a := range targets {
		assets[a] = true
	}

	out := make([]AssetDrift, 0, len(assets))
	for asset := range assets {
		currentValue := values[asset]
		targetPct := targets[asset]

		var currentPct float64
		if total > 0 {
			currentPct = currentValue / total
		}

		out = append(out, AssetDrift{
			Asset:        asset,
			TargetPct:    targetPct,
			CurrentPct:   round(currentPct, 4),
			CurrentValue: round(currentValue, 2),
			Deviation:    round(currentPct-targetPct, 4),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Asset.Less(out[j].Asset) })
	return out
}

// MaxDeviation returns the largest absolute deviation in a drift report
func MaxDeviation(drift []AssetDrift) float64 {
	if len(drift) == 0 {
		return 0
	}
	devs := make([]float64, len(drift))
	for i, d := range drift {
		devs[i] = math.Abs(d.Deviation)
	}
	return floats.Max(devs)
}

func round(val float64, decimals int) float64 {
	multiplier := math.Pow(10, float64(decimals))
	return math.Round(val*multiplier) / multiplier
}
