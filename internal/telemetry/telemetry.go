// Package telemetry wires prometheus instrumentation and the shared logger
// conventions for the planning core.
package telemetry

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the instruments exported on /metrics.
type Metrics struct {
	TrainingsTotal    *prometheus.CounterVec
	ModelR2           *prometheus.GaugeVec
	DriftAlarmsTotal  *prometheus.CounterVec
	PredictionsTotal  *prometheus.CounterVec
	PlanDuration      prometheus.Histogram
	PlanSitesSelected prometheus.Gauge
}

// NewMetrics registers the planning-core instruments on reg (pass
// prometheus.DefaultRegisterer in production).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TrainingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wflow_trainings_total",
			Help: "Model training attempts by parameter and outcome.",
		}, []string{"parameter", "outcome"}),
		ModelR2: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wflow_model_r2",
			Help: "Cross-validated R² of the current model per parameter.",
		}, []string{"parameter"}),
		DriftAlarmsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wflow_drift_alarms_total",
			Help: "CUSUM drift alarms by parameter.",
		}, []string{"parameter"}),
		PredictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wflow_predictions_total",
			Help: "Predictions served by parameter and kind (model or fallback).",
		}, []string{"parameter", "kind"}),
		PlanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wflow_plan_generation_seconds",
			Help:    "Wall-clock duration of testing-plan generation.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		PlanSitesSelected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wflow_plan_sites_selected",
			Help: "Sites selected by the most recent testing plan.",
		}),
	}
}

// NewLogger builds a logger with the shared bracketed-prefix convention,
// e.g. NewLogger("TRAINER") -> "[TRAINER] ".
func NewLogger(component string) *log.Logger {
	return log.New(log.Writer(), "["+component+"] ", log.LstdFlags)
}
