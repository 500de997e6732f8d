// Package metrics exposes the engine's Prometheus metrics: throughput,
// evaluation work, memory trimming, broker activity and run latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the replay engine.
type Metrics struct {
	BarsTotal     *prometheus.CounterVec // labels: feed
	UpdatesTotal  *prometheus.CounterVec // in-place replay rewrites, labels: feed
	NodeEvals     prometheus.Counter
	TrimsTotal    prometheus.Counter
	TrimmedValues prometheus.Counter

	OrdersTotal *prometheus.CounterVec // labels: status
	FillsTotal  prometheus.Counter
	TradesTotal prometheus.Counter

	RunDur      prometheus.Histogram
	BarDur      prometheus.Histogram
	EventsLost  prometheus.Counter
	ActiveFeeds prometheus.Gauge
}

// New registers and returns all engine metrics on the given registerer.
// Pass nil to use the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "btengine_bars_total",
			Help: "Bars ingested per feed",
		}, []string{"feed"}),
		UpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "btengine_bar_updates_total",
			Help: "In-place bar rewrites from replaying feeds",
		}, []string{"feed"}),
		NodeEvals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btengine_node_evals_total",
			Help: "Node step evaluations",
		}),
		TrimsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btengine_trims_total",
			Help: "Buffer trim passes",
		}),
		TrimmedValues: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btengine_trimmed_values_total",
			Help: "Values released by trimming",
		}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "btengine_orders_total",
			Help: "Order status transitions",
		}, []string{"status"}),
		FillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btengine_fills_total",
			Help: "Order fills",
		}),
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btengine_trades_total",
			Help: "Closed round-trip trades",
		}),
		RunDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "btengine_run_duration_seconds",
			Help:    "Wall-clock duration of a full run",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		BarDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "btengine_bar_duration_seconds",
			Help:    "Per-bar processing latency",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		EventsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btengine_events_lost_total",
			Help: "Run events dropped on a full observer ring",
		}),
		ActiveFeeds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "btengine_active_feeds",
			Help: "Feeds still producing bars",
		}),
	}

	reg.MustRegister(
		m.BarsTotal,
		m.UpdatesTotal,
		m.NodeEvals,
		m.TrimsTotal,
		m.TrimmedValues,
		m.OrdersTotal,
		m.FillsTotal,
		m.TradesTotal,
		m.RunDur,
		m.BarDur,
		m.EventsLost,
		m.ActiveFeeds,
	)

	return m
}

// Handler returns the /metrics HTTP handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
