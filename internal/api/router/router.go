package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/proptech-labs/bulkops-be/internal/api/handler"
	"github.com/proptech-labs/bulkops-be/internal/telemetry"
)

// Options carries router-level settings.
type Options struct {
	BulkJobsEnabled bool
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "bulkops-api-service",
		})
	})

	// Prometheus metrics endpoint
	r.GET("/metrics", gin.WrapH(telemetry.Handler()))

	// Initialize job handler
	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		jobs.Use(FeatureGateMiddleware(opts.BulkJobsEnabled))
		{
			// POST /api/v1/jobs - Create a new bulk job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details with items and errors
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/dry-run - Rebuild the item preview
			jobs.POST("/:job_id/dry-run", jobHandler.DryRun)

			// POST /api/v1/jobs/:job_id/execute - Queue validated items
			jobs.POST("/:job_id/execute", jobHandler.Execute)

			// POST /api/v1/jobs/:job_id/retry - Re-queue failed items
			jobs.POST("/:job_id/retry", jobHandler.Retry)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}
	}

	return r
}
