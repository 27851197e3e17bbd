package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsCreated   = prometheus.NewCounter(prometheus.CounterOpts{Name: "bulkops_jobs_created_total", Help: "Jobs created"})
	JobsQueued    = prometheus.NewCounter(prometheus.CounterOpts{Name: "bulkops_jobs_queued_total", Help: "Job executions handed to the task queue"})
	DryRunsBuilt  = prometheus.NewCounter(prometheus.CounterOpts{Name: "bulkops_dry_runs_total", Help: "Dry-run previews built"})
	ItemsExecuted = prometheus.NewCounter(prometheus.CounterOpts{Name: "bulkops_items_executed_total", Help: "Job items executed successfully"})
	ItemsFailed   = prometheus.NewCounter(prometheus.CounterOpts{Name: "bulkops_items_failed_total", Help: "Job items that failed execution"})

	JobsFinalized = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bulkops_jobs_finalized_total", Help: "Jobs reaching a terminal status"}, []string{"status"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsCreated,
			JobsQueued,
			DryRunsBuilt,
			ItemsExecuted,
			ItemsFailed,
			JobsFinalized,
		)
	})
	return promhttp.Handler()
}
