package models

import (
	"encoding/json"
	"time"
)

type ExecutionStatus string

const (
	PendingExecutionStatus   ExecutionStatus = "pending"
	RunningExecutionStatus   ExecutionStatus = "running"
	CompletedExecutionStatus ExecutionStatus = "completed"
	FailedExecutionStatus    ExecutionStatus = "failed"
	TimeoutExecutionStatus   ExecutionStatus = "timeout"
)

// Terminal reports whether no further status transitions may occur.
func (s ExecutionStatus) Terminal() bool {
	return s == CompletedExecutionStatus || s == FailedExecutionStatus || s == TimeoutExecutionStatus
}

type TriggerSource string

const (
	ManualSource   TriggerSource = "manual"
	ScheduleSource TriggerSource = "schedule"
	EventSource    TriggerSource = "event"
)

// ExecutionRecord tracks one dispatched run of a mirrored workflow. The
// dispatcher creates it in a running state; exactly one writer (the
// reconciler, or the dispatcher itself on an invoke failure) transitions it to
// a terminal state, after which it is immutable.
type ExecutionRecord struct {
	ID                int64           `json:"id" db:"id"`                             // Auto-incremented local ID
	WorkflowID        int64           `json:"workflow_id" db:"workflow_id"`           // Owning WorkflowDefinition
	OrganizationID    string          `json:"organization_id" db:"organization_id"`   // Tenant
	TriggeredBy       string          `json:"triggered_by" db:"triggered_by"`         // User identifier
	TriggerSource     TriggerSource   `json:"trigger_source" db:"trigger_source"`     // "manual", "schedule" or "event"
	Status            ExecutionStatus `json:"status" db:"status"`
	RemoteExecutionID string          `json:"remote_execution_id,omitempty" db:"remote_execution_id"` // Assigned after dispatch
	InputData         json.RawMessage `json:"input_data,omitempty" db:"input_data"`
	OutputData        json.RawMessage `json:"output_data,omitempty" db:"output_data"`
	ErrorMessage      string          `json:"error_message,omitempty" db:"error_message"`
	StartedAt         time.Time       `json:"started_at" db:"started_at"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty" db:"finished_at"`       // Set iff status is terminal
	ExecutionTimeMs   *int64          `json:"execution_time_ms,omitempty" db:"execution_time_ms"` // Set only on completed
}

// DispatchResult is returned by the dispatcher once the local record exists.
type DispatchResult struct {
	ExecutionID       int64  `json:"execution_id"`
	RemoteExecutionID string `json:"remote_execution_id,omitempty"`
	Error             string `json:"error,omitempty"`
}

// ReconcileResult reports the outcome of polling one execution to a terminal
// state.
type ReconcileResult struct {
	Status     ExecutionStatus `json:"status"`
	OutputData json.RawMessage `json:"output_data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// StatsDelta is one terminal execution's contribution to the owning
// workflow's aggregate counters.
type StatsDelta struct {
	Status          ExecutionStatus
	ExecutionTimeMs *int64    // Only meaningful when Status is completed
	ObservedAt      time.Time // Becomes last_execution_at
}
