// Package metrics exposes rebalance cycle metrics to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/aristath/bridgebot/internal/cycle"
	"github.com/aristath/bridgebot/internal/modules/execution"
)

const namespace = "bridgebot"

// Registry holds the bot's collectors on a private prometheus registry
type Registry struct {
	registry *prometheus.Registry

	Cycles        *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	Orders        *prometheus.CounterVec
	AUM           *prometheus.GaugeVec
	BridgeBalance *prometheus.GaugeVec
}

var _ cycle.Observer = (*Registry)(nil)

// NewRegistry creates and registers every collector, plus the Go runtime
// and process collectors
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Rebalance cycles by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),

		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Wall time of a rebalance cycle",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"strategy"},
		),

		Orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_total",
				Help:      "Orders by strategy, side and terminal state",
			},
			[]string{"strategy", "side", "state"},
		),

		AUM: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "aum",
				Help:      "Assets under management in the bridge currency",
			},
			[]string{"strategy"},
		),

		BridgeBalance: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bridge_balance",
				Help:      "Bridge currency held after the last cycle",
			},
			[]string{"strategy"},
		),
	}

	r.registry.MustRegister(
		r.Cycles,
		r.CycleDuration,
		r.Orders,
		r.AUM,
		r.BridgeBalance,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// CycleFinished implements cycle.Observer. Skipped cycles have no duration.
func (r *Registry) CycleFinished(strategy, outcome string, took time.Duration) {
	r.Cycles.WithLabelValues(strategy, outcome).Inc()
	if outcome != cycle.OutcomeSkipped {
		r.CycleDuration.WithLabelValues(strategy).Observe(took.Seconds())
	}
}

// OrdersExecuted implements cycle.Observer
func (r *Registry) OrdersExecuted(strategy string, res execution.Result) {
	for _, rep := range res.Reports {
		r.Orders.WithLabelValues(strategy, string(rep.Side), string(rep.State)).Inc()
	}
}

// PortfolioValued implements cycle.Observer
func (r *Registry) PortfolioValued(strategy string, aum, bridgeBalance decimal.Decimal) {
	r.AUM.WithLabelValues(strategy).Set(aum.InexactFloat64())
	r.BridgeBalance.WithLabelValues(strategy).Set(bridgeBalance.InexactFloat64())
}
