package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes of a RequestAnswer call.
const (
	OutcomeIssued   = "issued"
	OutcomeAttached = "attached"
	OutcomeCached   = "cached"
)

var (
	GenerationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_evaluator_generation_requests_total",
			Help: "RequestAnswer calls by outcome (issued a call, attached to one in flight, served from cache).",
		},
		[]string{"outcome"},
	)
	GenerationResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_evaluator_generation_results_total",
			Help: "Resolved generate-answer calls by status.",
		},
		[]string{"status"},
	)
	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "answer_evaluator_generation_duration_seconds",
			Help:    "Histogram of generate-answer call durations.",
			Buckets: prometheus.DefBuckets,
		},
	)
	GenerationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "answer_evaluator_generations_in_flight",
			Help: "Number of generate-answer calls currently in flight.",
		},
	)
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_evaluator_pipeline_runs_total",
			Help: "Document pipeline runs by status.",
		},
		[]string{"status"},
	)
)
