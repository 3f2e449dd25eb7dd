// Package metrics defines the Prometheus metrics of loggertodb.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of extraction and upload.
type Metrics struct {
	PointsTotal   *prometheus.CounterVec
	ErrorsTotal   *prometheus.CounterVec
	CyclesTotal   *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	Latest        *prometheus.GaugeVec
}

// New creates the metrics and registers them with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PointsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loggertodb",
			Subsystem: "upload",
			Name:      "points_total",
			Help:      "Total number of points extracted from logger storages and posted.",
		}, []string{"station"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loggertodb",
			Subsystem: "upload",
			Name:      "errors_total",
			Help:      "Total number of failed storages by stage.",
		}, []string{"stage"}), // stage: storage, store, breaker
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loggertodb",
			Subsystem: "upload",
			Name:      "cycles_total",
			Help:      "Total number of upload cycles by trigger.",
		}, []string{"trigger"}), // trigger: startup, schedule, watch
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loggertodb",
			Subsystem: "upload",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of upload cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		Latest: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loggertodb",
			Subsystem: "upload",
			Name:      "latest_timestamp_seconds",
			Help:      "Naive timestamp of the latest point posted per time series group.",
		}, []string{"station", "group"}),
	}
}
