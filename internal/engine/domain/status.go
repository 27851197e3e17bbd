package domain

// Job status constants
const (
	JobStatusPending   = "PENDING"
	JobStatusPreviewed = "PREVIEWED"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusPartial   = "PARTIAL"
	JobStatusFailed    = "FAILED"
	JobStatusCanceled  = "CANCELED"
)

// JobItem status constants
const (
	ItemStatusPending   = "PENDING"
	ItemStatusValidated = "VALIDATED"
	ItemStatusSkipped   = "SKIPPED"
	ItemStatusExecuted  = "EXECUTED"
	ItemStatusFailed    = "FAILED"
)

// jobTerminal holds the statuses a job cannot move forward from, except for
// a retry pass re-entering RUNNING under the row lock.
var jobTerminal = map[string]bool{
	JobStatusCompleted: true,
	JobStatusPartial:   true,
	JobStatusFailed:    true,
	JobStatusCanceled:  true,
}

// JobTerminal reports whether status is a terminal job status.
func JobTerminal(status string) bool {
	return jobTerminal[status]
}

// CanCancel reports whether a job in the given status may still be canceled.
// Cancellation is only reachable before the first RUNNING transition; there
// is no preemption of in-flight execution.
func CanCancel(status string) bool {
	return status == JobStatusPending || status == JobStatusPreviewed
}

// CanEnterRunning reports whether a job may (re-)enter RUNNING. First
// dispatch happens from PREVIEWED; retry passes re-enter from a terminal
// state other than CANCELED.
func CanEnterRunning(status string) bool {
	switch status {
	case JobStatusPreviewed, JobStatusCompleted, JobStatusPartial, JobStatusFailed:
		return true
	}
	return false
}
