package models

import (
	"time"

	"github.com/lib/pq"
)

type TriggerType string

const (
	WebhookTrigger  TriggerType = "webhook"
	ScheduleTrigger TriggerType = "schedule"
	EmailTrigger    TriggerType = "email"
	FormTrigger     TriggerType = "form"
	ChatTrigger     TriggerType = "chat"
	ManualTrigger   TriggerType = "manual"
)

// WorkflowDefinition is the local mirror of a workflow defined in the remote
// automation engine. Rows are created and updated only by the catalog sync;
// the aggregate counters are mutated only after a terminal execution. Rows are
// never deleted -- a workflow that disappears remotely is marked unsynced so
// its execution history and statistics survive.
type WorkflowDefinition struct {
	ID             int64          `json:"id" db:"id"`                             // Local primary key (PostgreSQL auto-increment)
	RemoteID       string         `json:"remote_id" db:"remote_id"`               // Identifier in the remote engine, unique locally
	OrganizationID string         `json:"organization_id" db:"organization_id"`  // Tenant owning the integration
	Name           string         `json:"name" db:"name"`                         // Display name mirrored from remote
	Active         bool           `json:"active" db:"active"`                     // Mirrored activation flag
	TriggerType    TriggerType    `json:"trigger_type" db:"trigger_type"`         // Inferred from the remote node graph
	Tags           pq.StringArray `json:"tags" db:"tags"`                         // Remote tags
	WebhookURL     string         `json:"webhook_url,omitempty" db:"webhook_url"` // Per-workflow webhook, if any
	Synced         bool           `json:"synced" db:"synced"`                     // False once the remote copy disappears
	LastSyncedAt   *time.Time     `json:"last_synced_at,omitempty" db:"last_synced_at"`

	// Aggregate counters maintained incrementally; executions still running
	// account for the gap between total and successful+failed.
	TotalExecutions      int64      `json:"total_executions" db:"total_executions"`
	SuccessfulExecutions int64      `json:"successful_executions" db:"successful_executions"`
	FailedExecutions     int64      `json:"failed_executions" db:"failed_executions"`
	AvgExecutionTimeMs   float64    `json:"avg_execution_time_ms" db:"avg_execution_time_ms"`
	LastExecutionAt      *time.Time `json:"last_execution_at,omitempty" db:"last_execution_at"`
	LastExecutionStatus  string     `json:"last_execution_status,omitempty" db:"last_execution_status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SyncResult summarizes one catalog sync pass.
type SyncResult struct {
	Synced  bool     `json:"synced"`  // False when the remote list could not be fetched at all
	Added   int      `json:"added"`   // Workflows inserted locally
	Updated int      `json:"updated"` // Workflows refreshed locally
	Removed int      `json:"removed"` // Workflows marked unsynced
	Errors  []string `json:"errors,omitempty"`
}
