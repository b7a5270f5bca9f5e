package storage

import (
	"github.com/ignatij/flowmirror/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a workflow or execution does not exist locally.
var ErrNotFound = errors.New("not found")

// ErrTerminal is returned when a write targets an execution that already
// reached a terminal status. Terminal records are immutable, with one
// exception: a timeout row may be upgraded to completed or failed by a
// re-poll, since timeout is a local give-up rather than a remote outcome.
var ErrTerminal = errors.New("execution already terminal")

// Store defines the persistence operations for FlowMirror.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Workflow mirror operations
	UpsertWorkflow(wf models.WorkflowDefinition) (int64, error)
	GetWorkflow(id int64) (models.WorkflowDefinition, error)
	GetWorkflowByRemoteID(remoteID string) (models.WorkflowDefinition, error)
	ListWorkflows() ([]models.WorkflowDefinition, error)
	ListRemoteIDs() ([]string, error)
	MarkUnsynced(remoteIDs []string) error

	// Execution operations
	SaveExecution(e models.ExecutionRecord) (int64, error)
	GetExecution(id int64) (models.ExecutionRecord, error)
	ListExecutions(workflowID int64) ([]models.ExecutionRecord, error)
	ListRunningExecutions() ([]models.ExecutionRecord, error)
	SetExecutionRemoteID(id int64, remoteExecutionID string) error
	UpdateExecutionTerminal(e models.ExecutionRecord) error

	// Statistics operations
	IncrementStats(workflowID int64, d models.StatsDelta) error
	RevertTimeoutStat(workflowID int64) error
}
