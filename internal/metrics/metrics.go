// Package metrics provides Prometheus metrics for the news panel.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure kinds recorded by the ingestion pipeline.
const (
	KindFetch      = "fetch"
	KindParse      = "parse"
	KindResolution = "resolution"
	KindArtifact   = "artifact"
)

var (
	// RefreshTotal counts refresh cycles by outcome.
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newspanel",
			Name:      "refresh_total",
			Help:      "Total number of feed refresh cycles",
		},
		[]string{"status"},
	)

	// RefreshDuration measures how long a refresh cycle takes.
	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "newspanel",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of feed refresh cycles in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// PipelineFailuresTotal counts recovered failures by kind.
	PipelineFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newspanel",
			Name:      "pipeline_failures_total",
			Help:      "Failures recovered by the ingestion pipeline",
		},
		[]string{"kind"},
	)

	DisplayItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "newspanel",
			Name:      "display_items",
			Help:      "Number of items in the current display set",
		},
	)

	SlideIndex = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "newspanel",
			Name:      "slide_index",
			Help:      "Index of the active slide",
		},
	)

	SlideAdvancesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "newspanel",
			Name:      "slide_advances_total",
			Help:      "Automatic slide advances",
		},
	)

	InterruptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newspanel",
			Name:      "interruptions_total",
			Help:      "Display interruptions that realigned the rotation timer",
		},
		[]string{"reason"},
	)
)

// RecordRefresh records a finished refresh cycle.
func RecordRefresh(status string, duration float64) {
	RefreshTotal.WithLabelValues(status).Inc()
	RefreshDuration.Observe(duration)
}

// RecordFailure records a recovered pipeline failure.
func RecordFailure(kind string) {
	PipelineFailuresTotal.WithLabelValues(kind).Inc()
}

func SetDisplayItems(n int) {
	DisplayItems.Set(float64(n))
}

// RecordAdvance records an automatic advance to index.
func RecordAdvance(index int) {
	SlideAdvancesTotal.Inc()
	SlideIndex.Set(float64(index))
}

func SetSlideIndex(index int) {
	SlideIndex.Set(float64(index))
}

func RecordInterruption(reason string) {
	InterruptionsTotal.WithLabelValues(reason).Inc()
}
