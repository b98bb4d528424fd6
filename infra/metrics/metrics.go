// Package metrics holds the Prometheus collectors of the engine, the
// settlement orchestrator and the broadcaster.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ixtrade"

type Metrics struct {
	OrdersTotal    *prometheus.CounterVec
	RejectsTotal   *prometheus.CounterVec
	TradesTotal    *prometheus.CounterVec
	HaltsTotal     *prometheus.CounterVec
	SubmitDuration *prometheus.HistogramVec

	SettlementJobs     *prometheus.CounterVec
	SettlementInFlight prometheus.Gauge
	SettlementDuration prometheus.Histogram

	EventsPublished *prometheus.CounterVec
	EventsDropped   prometheus.Counter
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in
// tests so instances do not collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OrdersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "orders_total",
			Help:      "Accepted orders by pair, type and ingestion path",
		}, []string{"pair", "type", "path"}),
		RejectsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rejects_total",
			Help:      "Rejected calls by error class",
		}, []string{"class"}),
		TradesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "trades_total",
			Help:      "Executed trades by pair",
		}, []string{"pair"}),
		HaltsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "book_halts_total",
			Help:      "Books halted after an integrity fault",
		}, []string{"pair"}),
		SubmitDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "submit_duration_seconds",
			Help:      "Time spent matching one order",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"path"}),

		SettlementJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "jobs_total",
			Help:      "Settlement job lifecycle events",
		}, []string{"event"}),
		SettlementInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "in_flight",
			Help:      "Attempts currently running",
		}),
		SettlementDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of settlement attempts",
			Buckets:   prometheus.DefBuckets,
		}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcaster",
			Name:      "events_published_total",
			Help:      "Events handed to publishers, by publisher and outcome",
		}, []string{"publisher", "outcome"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcaster",
			Name:      "events_dropped_total",
			Help:      "Events dropped because the queue was full",
		}),
	}
}
