package domain

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTransitions(t *testing.T) {
	t.Run("terminal statuses", func(t *testing.T) {
		for _, status := range []string{JobStatusCompleted, JobStatusPartial, JobStatusFailed, JobStatusCanceled} {
			assert.True(t, JobTerminal(status), status)
		}
		for _, status := range []string{JobStatusPending, JobStatusPreviewed, JobStatusRunning} {
			assert.False(t, JobTerminal(status), status)
		}
	})

	t.Run("cancel window closes at RUNNING", func(t *testing.T) {
		assert.True(t, CanCancel(JobStatusPending))
		assert.True(t, CanCancel(JobStatusPreviewed))
		assert.False(t, CanCancel(JobStatusRunning))
		assert.False(t, CanCancel(JobStatusCompleted))
		assert.False(t, CanCancel(JobStatusCanceled))
	})

	t.Run("retry may re-enter RUNNING from any terminal state but CANCELED", func(t *testing.T) {
		assert.True(t, CanEnterRunning(JobStatusPreviewed))
		assert.True(t, CanEnterRunning(JobStatusCompleted))
		assert.True(t, CanEnterRunning(JobStatusPartial))
		assert.True(t, CanEnterRunning(JobStatusFailed))
		assert.False(t, CanEnterRunning(JobStatusCanceled))
		assert.False(t, CanEnterRunning(JobStatusPending))
		assert.False(t, CanEnterRunning(JobStatusRunning))
	})
}

func TestJob_InFlight(t *testing.T) {
	job := &Job{Status: JobStatusRunning}
	assert.False(t, job.InFlight(), "RUNNING without a task is not in flight")

	job.CurrentTaskID = sql.NullString{String: "task-1", Valid: true}
	assert.True(t, job.InFlight())

	job.Status = JobStatusPartial
	assert.False(t, job.InFlight())
}

func TestJob_Scope(t *testing.T) {
	job := &Job{}
	assert.Nil(t, job.Scope())

	job.ScopeKind = sql.NullString{String: "building", Valid: true}
	job.ScopeID = sql.NullString{String: "b-1", Valid: true}
	scope := job.Scope()
	assert.Equal(t, &EntityRef{Kind: "building", ID: "b-1"}, scope)
	assert.Equal(t, "building:b-1", scope.String())
}
