package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meeting_application"

var (
	generationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generation_runs_total",
		Help:      "Generation runs by outcome (generated, partially_generated, error, suspended).",
	}, []string{"outcome"})

	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "generation_duration_seconds",
		Help:      "Wall time of a single generation pass.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"outcome"})

	mergeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "merge_runs_total",
		Help:      "PDF merge attempts by engine and result.",
	}, []string{"engine", "result"})

	mergeFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "merge_fallbacks_total",
		Help:      "Merges retried on the fallback engine after a compression failure.",
	})

	pageCountTier = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "page_count_total",
		Help:      "Page count resolutions by tier (structural, toolchain, pattern, failed).",
	}, []string{"tier"})

	ledgerTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_timeouts_total",
		Help:      "Registry body requests marked as timed out.",
	})

	callbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registry_callbacks_total",
		Help:      "Registry callbacks received by reported status.",
	}, []string{"status"})

	workerJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_jobs_total",
		Help:      "Queue jobs by kind and result (received, completed, failed, deleted_unrecoverable).",
	}, []string{"kind", "result"})
)

// IncGenerationRun records a finished or suspended generation pass.
func IncGenerationRun(outcome string, seconds float64) {
	generationRuns.WithLabelValues(outcome).Inc()
	if seconds < 0 {
		seconds = 0
	}
	generationDuration.WithLabelValues(outcome).Observe(seconds)
}

// IncMerge records a merge attempt on an engine.
func IncMerge(engine string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	mergeRuns.WithLabelValues(engine, result).Inc()
}

// IncMergeFallback records a reactive switch to the fallback engine.
func IncMergeFallback() {
	mergeFallbacks.Inc()
}

// IncPageCount records which tier produced a page count.
func IncPageCount(tier string) {
	pageCountTier.WithLabelValues(tier).Inc()
}

// AddLedgerTimeouts records entries expired by the timeout check.
func AddLedgerTimeouts(n int) {
	if n > 0 {
		ledgerTimeouts.Add(float64(n))
	}
}

// IncCallback records an inbound registry callback.
func IncCallback(status string) {
	callbacks.WithLabelValues(status).Inc()
}

// IncWorkerJob records a queue job lifecycle event.
func IncWorkerJob(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	workerJobs.WithLabelValues(kind, result).Inc()
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
