package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// FixesProcessedTotal counts processed location fixes by outcome.
	FixesProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safety",
		Subsystem: "pipeline",
		Name:      "fixes_processed_total",
		Help:      "Total number of location fixes processed by the pipeline, labeled by result.",
	}, []string{"result"})

	// TransitionsTotal counts zone boundary crossings by direction.
	TransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safety",
		Subsystem: "pipeline",
		Name:      "zone_transitions_total",
		Help:      "Total number of zone entry/exit transitions detected.",
	}, []string{"direction"})

	// AlertsEmittedTotal counts dispatched alerts by severity.
	AlertsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safety",
		Subsystem: "pipeline",
		Name:      "alerts_emitted_total",
		Help:      "Total number of alerts dispatched to the notification collaborator.",
	}, []string{"severity"})

	// LaneDepth is the current number of fixes queued per worker lane.
	LaneDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "safety",
		Subsystem: "pipeline",
		Name:      "lane_depth",
		Help:      "Current number of location fixes queued in each worker lane.",
	}, []string{"lane"})

	// ProcessingDurationSeconds is end-to-end time per fix, measured inside the lane.
	ProcessingDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "safety",
		Subsystem: "pipeline",
		Name:      "processing_duration_seconds",
		Help:      "End-to-end time to process one location fix through the pipeline.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"result"})

	// IndexZones is the number of zones in the current index snapshot.
	IndexZones = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "safety",
		Subsystem: "pipeline",
		Name:      "index_zones",
		Help:      "Number of zones in the currently published index snapshot.",
	})
)

// Register registers pipeline metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			FixesProcessedTotal,
			TransitionsTotal,
			AlertsEmittedTotal,
			LaneDepth,
			ProcessingDurationSeconds,
			IndexZones,
		)
	})
}
