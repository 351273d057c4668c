package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Predictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canecast_predictions_total",
			Help: "Total prediction requests by outcome kind",
		},
		[]string{"outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canecast_stage_duration_seconds",
			Help:    "Prediction stage latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 2},
		},
		[]string{"stage"},
	)

	EstimatorCalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canecast_estimator_calls_total",
			Help: "Total yield estimator evaluations dispatched by grid search and sensitivity analysis",
		},
	)

	GridPointsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canecast_grid_points_failed_total",
			Help: "Total NPK grid points excluded because the estimator failed",
		},
	)

	HistoryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canecast_history_writes_total",
			Help: "Total prediction history writes",
		},
		[]string{"status"},
	)

	AdvisorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canecast_advisor_calls_total",
			Help: "Total action guide narrative requests to the language model",
		},
		[]string{"status"},
	)

	AdvisorLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "canecast_advisor_latency_seconds",
			Help:    "Language model narrative latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
