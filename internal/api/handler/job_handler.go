package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/proptech-labs/bulkops-be/internal/api/dto"
	"github.com/proptech-labs/bulkops-be/internal/engine"
	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
)

// respondError translates engine errors into HTTP responses. Validation
// failures are the caller's fault; everything else is ours.
func (h *JobHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case domain.IsValidation(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *JobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

// CreateJob handles POST /api/v1/jobs
// Creates a bulk job, or returns the existing one when the idempotency key
// has been seen before.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	params := engine.CreateParams{
		OperationType:  req.OperationType,
		Period:         req.Period,
		IdempotencyKey: req.IdempotencyKey,
		Options:        req.Options,
		AutoDryRun:     req.AutoDryRun,
	}
	if req.Scope != nil {
		params.Scope = &domain.EntityRef{Kind: req.Scope.Kind, ID: req.Scope.ID}
	}

	job, created, err := h.engine.CreateJob(c.Request.Context(), params)
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, dto.CreateJobResponse{
		JobDTO:  dto.FromJob(job),
		Created: created,
	})
}

// DryRun handles POST /api/v1/jobs/:job_id/dry-run
// Rebuilds the job's item set and moves it to PREVIEWED.
func (h *JobHandler) DryRun(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.engine.BuildDryRun(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	items, err := h.store.ListItems(c.Request.Context(), jobID, domain.ItemFilter{})
	if err != nil {
		h.respondError(c, err)
		return
	}

	itemDTOs := make([]dto.JobItemDTO, len(items))
	for i := range items {
		itemDTOs[i] = dto.FromItem(&items[i])
	}

	c.JSON(http.StatusOK, gin.H{
		"job":   dto.FromJob(job),
		"items": itemDTOs,
	})
}

// Execute handles POST /api/v1/jobs/:job_id/execute
// Hands the job's validated items to the task queue. Returns 202 when a task
// was queued and 200 when the request was a no-op (already in flight, or
// nothing to execute).
func (h *JobHandler) Execute(c *gin.Context) {
	h.dispatch(c, domain.ModeExecute)
}

// Retry handles POST /api/v1/jobs/:job_id/retry
// Resets failed items back to VALIDATED and queues them for re-execution.
func (h *JobHandler) Retry(c *gin.Context) {
	h.dispatch(c, domain.ModeRetry)
}

func (h *JobHandler) dispatch(c *gin.Context, mode string) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	var req dto.ExecuteJobRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.logger.Error("Invalid request body", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}
	}

	ctx := c.Request.Context()

	var (
		taskID string
		queued bool
		err    error
	)
	if mode == domain.ModeRetry {
		taskID, queued, err = h.engine.Retry(ctx, jobID, req.ItemIDs)
	} else {
		taskID, queued, err = h.engine.QueueExecution(ctx, jobID, mode, req.ItemIDs)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusOK
	if queued {
		status = http.StatusAccepted
	}
	c.JSON(status, dto.ExecuteResponse{
		JobID:  jobID,
		TaskID: taskID,
		Queued: queued,
		Status: job.Status,
	})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a job that has not started executing yet.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.engine.Cancel(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves the job with its items, error records and per-status counts.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	items, err := h.store.ListItems(ctx, jobID, domain.ItemFilter{})
	if err != nil {
		h.respondError(c, err)
		return
	}

	jobErrors, err := h.store.ListErrors(ctx, jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	counts, err := h.store.CountItemsByStatus(ctx, jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := dto.JobDetailResponse{
		JobDTO:     dto.FromJob(job),
		ItemCounts: counts,
		Items:      make([]dto.JobItemDTO, len(items)),
		Errors:     make([]dto.JobErrorDTO, len(jobErrors)),
	}
	for i := range items {
		resp.Items[i] = dto.FromItem(&items[i])
	}
	for i := range jobErrors {
		resp.Errors[i] = dto.FromError(&jobErrors[i])
	}

	c.JSON(http.StatusOK, resp)
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and keyset pagination.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := domain.JobFilter{
		OperationType: req.OperationType,
		Status:        req.Status,
		ScopeID:       req.ScopeID,
		PageSize:      req.PageSize,
		Cursor:        cursor,
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.FromJob(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		cursorObj := domain.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.JobID,
		}
		nextCursor, err = EncodeJobCursor(&cursorObj)
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}
