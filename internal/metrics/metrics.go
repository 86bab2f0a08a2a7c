// Package metrics exposes Prometheus metrics for the chain engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors the chain engine and HTTP layer report into.
type Metrics struct {
	SavesTotal           *prometheus.CounterVec
	RepairWritesTotal    *prometheus.CounterVec
	RepairAbortsTotal    *prometheus.CounterVec
	RepairHops           prometheus.Histogram
	ActiveQueriesTotal   prometheus.Counter
	ActiveQueryAnomalies prometheus.Counter
}

// New creates the collectors and registers them with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SavesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carechain_saves_total",
				Help: "Total primary save operations",
			},
			[]string{"entity_type", "status"},
		),
		RepairWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carechain_repair_writes_total",
				Help: "Total reciprocal link writes performed by the repair engine",
			},
			[]string{"direction"},
		),
		RepairAbortsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carechain_repair_aborts_total",
				Help: "Repair walks stopped before reaching a settled seam",
			},
			[]string{"reason"},
		),
		RepairHops: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "carechain_repair_hops",
				Help:    "Seams visited per repair walk",
				Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
			},
		),
		ActiveQueriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "carechain_active_queries_total",
				Help: "Total active-at queries executed",
			},
		),
		ActiveQueryAnomalies: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "carechain_active_query_anomalies_total",
				Help: "Active-at queries that matched more than one version",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.SavesTotal,
			m.RepairWritesTotal,
			m.RepairAbortsTotal,
			m.RepairHops,
			m.ActiveQueriesTotal,
			m.ActiveQueryAnomalies,
		)
	}
	return m
}
