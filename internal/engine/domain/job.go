package domain

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Operation types supported by the engine. The engine itself never branches
// on these; they are keys into the resolver/strategy registries.
const (
	OpIssueMonthlyCharges        = "issue_monthly_charges"
	OpCreateManagementFeeIncomes = "create_management_fee_incomes"
	OpSendPaymentReminders       = "send_payment_reminders"
	OpExportDebtReport           = "export_debt_report"
)

// Execution modes carried on a queued task.
const (
	ModeExecute = "execute"
	ModeRetry   = "retry"
)

// EntityRef is a model-agnostic reference to a domain entity. The engine
// services buildings, apartments and whatever else an operation targets, so
// items carry a (kind, id) pair instead of a typed foreign key.
type EntityRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (r EntityRef) String() string {
	return r.Kind + ":" + r.ID
}

// JSONMap maps a jsonb column to a Go map for sqlx scanning.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	if len(data) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// StringList maps a jsonb array column to a string slice.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, l)
}

// Job is one instance of a bulk operation (one dunning run, one bulk-charge
// batch). Jobs are never deleted; superseding work gets a new job with a new
// idempotency key.
type Job struct {
	JobID           string         `db:"job_id"`
	IdempotencyKey  string         `db:"idempotency_key"`
	OperationType   string         `db:"operation_type"`
	Status          string         `db:"status"`
	ScopeKind       sql.NullString `db:"scope_kind"`
	ScopeID         sql.NullString `db:"scope_id"`
	Period          string         `db:"period"`
	Options         JSONMap        `db:"options"`
	Summary         JSONMap        `db:"summary"`
	DryRunCompleted bool           `db:"dry_run_completed"`
	CurrentTaskID   sql.NullString `db:"current_task_id"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	StartedAt       sql.NullTime   `db:"started_at"`
	FinishedAt      sql.NullTime   `db:"finished_at"`
}

// Scope returns the job's scope entity, or nil when the job targets the full
// tenant-wide set.
func (j *Job) Scope() *EntityRef {
	if !j.ScopeKind.Valid || !j.ScopeID.Valid {
		return nil
	}
	return &EntityRef{Kind: j.ScopeKind.String, ID: j.ScopeID.String}
}

// MergeSummary merges kv pairs into the summary without dropping prior keys.
// The summary is additive; callers never delete what earlier phases wrote.
func (j *Job) MergeSummary(key string, value any) {
	if j.Summary == nil {
		j.Summary = JSONMap{}
	}
	j.Summary[key] = value
}

// InFlight reports whether the job has been handed to the task queue and has
// not reached a terminal state yet.
func (j *Job) InFlight() bool {
	return j.Status == JobStatusRunning && j.CurrentTaskID.Valid && !j.FinishedAt.Valid
}

// JobItem is one entity-scoped unit of work inside a job. Unique per
// (job_id, entity_kind, entity_id); a dry-run rebuild replaces all items of
// the job wholesale.
type JobItem struct {
	ItemID           string       `db:"item_id"`
	JobID            string       `db:"job_id"`
	EntityKind       string       `db:"entity_kind"`
	EntityID         string       `db:"entity_id"`
	Status           string       `db:"status"`
	AmountCents      int64        `db:"amount_cents"`
	Payload          JSONMap      `db:"payload"`
	ValidationErrors StringList   `db:"validation_errors"`
	Result           JSONMap      `db:"result"`
	RetryCount       int          `db:"retry_count"`
	ExecutedAt       sql.NullTime `db:"executed_at"`
	CreatedAt        time.Time    `db:"created_at"`
}

// Entity returns the item's target as an EntityRef.
func (i *JobItem) Entity() EntityRef {
	return EntityRef{Kind: i.EntityKind, ID: i.EntityID}
}

// JobError is an append-only failure record. Never mutated or deleted; this
// is the audit and debug trail for the retry coordinator and for operators.
type JobError struct {
	ErrorID   string         `db:"error_id"`
	JobID     string         `db:"job_id"`
	ItemID    sql.NullString `db:"item_id"`
	Code      string         `db:"code"`
	Message   string         `db:"message"`
	Details   JSONMap        `db:"details"`
	CreatedAt time.Time      `db:"created_at"`
}
