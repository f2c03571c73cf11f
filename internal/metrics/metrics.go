// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CompletionRequests counts completion calls by role and outcome
	// (success, fallback, error).
	CompletionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devorchestra",
		Name:      "completion_requests_total",
		Help:      "Completion client calls by role and outcome",
	}, []string{"role", "outcome"})

	// CompletionRetries counts quota-triggered retries.
	CompletionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "devorchestra",
		Name:      "completion_retries_total",
		Help:      "Retries performed after quota or rate-limit errors",
	})

	// FallbackResponses counts deterministic fallback payloads served.
	FallbackResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devorchestra",
		Name:      "fallback_responses_total",
		Help:      "Deterministic fallback payloads served by role",
	}, []string{"role"})

	// PipelineRuns counts orchestration runs by mode and terminal status.
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devorchestra",
		Name:      "pipeline_runs_total",
		Help:      "Pipeline runs by mode and terminal status",
	}, []string{"mode", "status"})

	// PipelineDuration observes end-to-end run time per mode.
	PipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "devorchestra",
		Name:      "pipeline_duration_seconds",
		Help:      "End-to-end pipeline duration by mode",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"mode"})
)

// Handler returns a gin handler serving the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
