package forecasting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the forecasting counters exported on /metrics.
type Metrics struct {
	TrainingRuns    *prometheus.CounterVec
	FittedModels    *prometheus.CounterVec
	Forecasts       *prometheus.CounterVec
	TrainingSeconds prometheus.Histogram
}

// NewMetrics registers the collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TrainingRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmacore_forecast_training_runs_total",
			Help: "Training pipeline runs by outcome (trained, insufficient_data, failed).",
		}, []string{"outcome"}),
		FittedModels: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmacore_forecast_fitted_models_total",
			Help: "Successful model fits by family and whether the fallback was used.",
		}, []string{"family", "fallback"}),
		Forecasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmacore_forecasts_served_total",
			Help: "Forecasts served by source (stored, trained, baseline).",
		}, []string{"source"}),
		TrainingSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pharmacore_forecast_training_seconds",
			Help:    "Wall time of successful training runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

func (m *Metrics) observeFit(model Model) {
	meta := model.Meta()
	fallback := "false"
	if meta.FallbackReason != "" {
		fallback = "true"
	}
	m.FittedModels.WithLabelValues(string(meta.Family), fallback).Inc()
}
