package domain

import "time"

// ItemFilter restricts item selection. Empty fields match everything.
type ItemFilter struct {
	Statuses []string
	ItemIDs  []string
}

// JobFilter restricts and paginates job listing.
type JobFilter struct {
	OperationType string
	Status        string
	ScopeID       string
	PageSize      int
	Cursor        *JobCursor
}

// JobCursor is a keyset-pagination cursor over (created_at, job_id).
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}
