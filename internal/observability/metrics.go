package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	submissionsCreated    *prometheus.CounterVec
	essayScoresMerged     *prometheus.CounterVec
	essayMergeRowFailures *prometheus.CounterVec
	scoreOverridesTotal   *prometheus.CounterVec
	uploadRejectedTotal   *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the submission API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "task_submission_requests_total",
			Help: "Total number of task submission API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "task_submission_latency_seconds",
			Help:    "Latency distribution for task submission API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "task_submission_errors_total",
			Help: "Total number of error responses returned by task submission endpoints.",
		}, []string{"method", "route", "status"})

		submissionsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "task_submissions_created_total",
			Help: "Submissions recorded, by task type.",
		}, []string{"type"})

		essayScoresMerged = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "task_submission_essay_scores_merged_total",
			Help: "Individual essay answer scores written by the essay merge, by task type.",
		}, []string{"type"})

		essayMergeRowFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "task_submission_essay_merge_failures_total",
			Help: "Submissions that could not be saved during an essay merge, by task type.",
		}, []string{"type"})

		scoreOverridesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "task_submission_score_overrides_total",
			Help: "Direct total score overrides, by task type.",
		}, []string{"type"})

		uploadRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "task_submission_uploads_rejected_total",
			Help: "Uploaded answer files rejected before storage, by reason.",
		}, []string{"reason"})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			submissionsCreated,
			essayScoresMerged,
			essayMergeRowFailures,
			scoreOverridesTotal,
			uploadRejectedTotal,
		)
	})
}

// APIRequests exposes the request counter.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the error response counter.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// SubmissionsCreated exposes the created submissions counter.
func SubmissionsCreated() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsCreated
}

// EssayScoresMerged exposes the merged essay score counter.
func EssayScoresMerged() *prometheus.CounterVec {
	RegisterMetrics()
	return essayScoresMerged
}

// EssayMergeFailures exposes the per-row essay merge failure counter.
func EssayMergeFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return essayMergeRowFailures
}

// ScoreOverrides exposes the direct override counter.
func ScoreOverrides() *prometheus.CounterVec {
	RegisterMetrics()
	return scoreOverridesTotal
}

// UploadRejected exposes the rejected upload counter.
func UploadRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRejectedTotal
}
