package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess        = "success"
	statusFailure        = "failure"
	statusNotImplemented = "notimplemented"
)

type metrics struct {
	queries *prometheus.CounterVec

	physicalPlanning prometheus.Observer
	execution        prometheus.Observer
	querySeconds     prometheus.Observer
}

func newMetrics(r prometheus.Registerer) *metrics {
	histogram := func(name, help string) prometheus.Histogram {
		return promauto.With(r).NewHistogram(prometheus.HistogramOpts{
			Name: name,
			Help: help,

			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: time.Hour,
		})
	}

	return &metrics{
		queries: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "morsel_engine_queries_total",
			Help: "Total number of queries by status",
		}, []string{"status"}),

		physicalPlanning: histogram("morsel_engine_physical_planning_seconds", "Time spent lowering logical plans"),
		execution:        histogram("morsel_engine_execution_seconds", "Time spent executing graphs"),
		querySeconds:     histogram("morsel_engine_query_seconds", "Total time of successful queries"),
	}
}
