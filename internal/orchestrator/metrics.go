package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the arena-level Prometheus instruments
type Metrics struct {
	TicksTotal     prometheus.Counter
	TickDuration   prometheus.Histogram
	DecisionsTotal *prometheus.CounterVec
	EventsTotal    *prometheus.CounterVec
	AliveAgents    prometheus.Gauge
	Subscribers    prometheus.Gauge
	ModelCostUSD   prometheus.Counter
	FlushFailures  prometheus.Counter
}

// Global metrics instance (singleton pattern to avoid Prometheus registration conflicts)
var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// getOrCreateMetrics returns the singleton metrics instance.
// Uses sync.Once to ensure metrics are registered only once globally.
func getOrCreateMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			TicksTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "arena_ticks_total",
				Help: "Total number of arena ticks executed",
			}),
			TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "arena_tick_duration_seconds",
				Help:    "Duration of one full arena tick",
				Buckets: prometheus.DefBuckets,
			}),
			DecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "arena_decisions_total",
				Help: "Total agent decisions by action",
			}, []string{"action"}),
			EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "arena_events_total",
				Help: "Total emitted arena events by type",
			}, []string{"type"}),
			AliveAgents: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "arena_alive_agents",
				Help: "Number of agents still alive in the current session",
			}),
			Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "arena_subscribers",
				Help: "Number of attached event subscribers",
			}),
			ModelCostUSD: promauto.NewCounter(prometheus.CounterOpts{
				Name: "arena_model_cost_usd_total",
				Help: "Cumulative estimated model spend in USD",
			}),
			FlushFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "arena_decision_flush_failures_total",
				Help: "Failed decision buffer flushes (retried on the next cadence)",
			}),
		}
	})
	return metricsInstance
}
