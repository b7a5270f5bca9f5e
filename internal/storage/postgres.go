package storage

import (
	"database/sql"
	"fmt"

	"github.com/ignatij/flowmirror/pkg/models"
	"github.com/ignatij/flowmirror/pkg/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// UpsertWorkflow inserts a mirrored workflow or refreshes its remote-owned
// fields, keyed by remote_id. Counters are never touched here.
func (s *PostgresStore) UpsertWorkflow(wf models.WorkflowDefinition) (int64, error) {
	if wf.Tags == nil {
		wf.Tags = pq.StringArray{}
	}
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO workflow_definitions
			(remote_id, organization_id, name, active, trigger_type, tags, webhook_url, synced, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (remote_id) DO UPDATE SET
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			trigger_type = EXCLUDED.trigger_type,
			tags = EXCLUDED.tags,
			webhook_url = EXCLUDED.webhook_url,
			synced = EXCLUDED.synced,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id`,
		wf.RemoteID, wf.OrganizationID, wf.Name, wf.Active, wf.TriggerType, wf.Tags, wf.WebhookURL, wf.Synced, wf.LastSyncedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert workflow %s: %w", wf.RemoteID, err)
	}
	return id, nil
}

func (s *PostgresStore) GetWorkflow(id int64) (models.WorkflowDefinition, error) {
	var wf models.WorkflowDefinition
	err := s.db.Get(&wf, "SELECT * FROM workflow_definitions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowDefinition{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowDefinition{}, err
	}
	return wf, nil
}

func (s *PostgresStore) GetWorkflowByRemoteID(remoteID string) (models.WorkflowDefinition, error) {
	var wf models.WorkflowDefinition
	err := s.db.Get(&wf, "SELECT * FROM workflow_definitions WHERE remote_id = $1", remoteID)
	if err == sql.ErrNoRows {
		return models.WorkflowDefinition{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowDefinition{}, err
	}
	return wf, nil
}

func (s *PostgresStore) ListWorkflows() ([]models.WorkflowDefinition, error) {
	workflows := []models.WorkflowDefinition{}
	err := s.db.Select(&workflows, "SELECT * FROM workflow_definitions ORDER BY name")
	if err != nil {
		return nil, err
	}
	return workflows, nil
}

func (s *PostgresStore) ListRemoteIDs() ([]string, error) {
	ids := []string{}
	err := s.db.Select(&ids, "SELECT remote_id FROM workflow_definitions ORDER BY remote_id")
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *PostgresStore) MarkUnsynced(remoteIDs []string) error {
	if len(remoteIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		"UPDATE workflow_definitions SET synced = false, updated_at = CURRENT_TIMESTAMP WHERE remote_id IN (?)", remoteIDs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(sqlx.Rebind(sqlx.DOLLAR, query), args...)
	return err
}

func (s *PostgresStore) SaveExecution(e models.ExecutionRecord) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO execution_records
			(workflow_id, organization_id, triggered_by, trigger_source, status, remote_execution_id, input_data, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		e.WorkflowID, e.OrganizationID, e.TriggeredBy, e.TriggerSource, e.Status, e.RemoteExecutionID, []byte(e.InputData), e.StartedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save execution: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetExecution(id int64) (models.ExecutionRecord, error) {
	var e models.ExecutionRecord
	err := s.db.Get(&e, "SELECT * FROM execution_records WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.ExecutionRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return models.ExecutionRecord{}, err
	}
	return e, nil
}

func (s *PostgresStore) ListExecutions(workflowID int64) ([]models.ExecutionRecord, error) {
	executions := []models.ExecutionRecord{}
	err := s.db.Select(&executions,
		"SELECT * FROM execution_records WHERE workflow_id = $1 ORDER BY started_at DESC", workflowID)
	if err != nil {
		return nil, err
	}
	return executions, nil
}

func (s *PostgresStore) ListRunningExecutions() ([]models.ExecutionRecord, error) {
	executions := []models.ExecutionRecord{}
	err := s.db.Select(&executions,
		"SELECT * FROM execution_records WHERE status = $1 ORDER BY started_at", models.RunningExecutionStatus)
	if err != nil {
		return nil, err
	}
	return executions, nil
}

func (s *PostgresStore) SetExecutionRemoteID(id int64, remoteExecutionID string) error {
	res, err := s.db.Exec(
		"UPDATE execution_records SET remote_execution_id = $1 WHERE id = $2", remoteExecutionID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateExecutionTerminal transitions a non-terminal execution to its terminal
// state. The WHERE clause enforces the single-writer rule at the storage
// layer: terminal rows do not match, except a timeout row being upgraded to
// the real outcome by a re-poll.
func (s *PostgresStore) UpdateExecutionTerminal(e models.ExecutionRecord) error {
	res, err := s.db.Exec(`
		UPDATE execution_records
		SET status = $1,
		    output_data = $2,
		    error_message = $3,
		    finished_at = $4,
		    execution_time_ms = $5
		WHERE id = $6
		  AND (status NOT IN ('completed', 'failed', 'timeout')
		       OR (status = 'timeout' AND $1 <> 'timeout'))`,
		e.Status, []byte(e.OutputData), e.ErrorMessage, e.FinishedAt, e.ExecutionTimeMs, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := s.GetExecution(e.ID); getErr != nil {
			return getErr
		}
		return storage.ErrTerminal
	}
	return nil
}

// IncrementStats folds one terminal execution into the workflow counters in a
// single UPDATE. Column references on the right-hand side are pre-update
// values, so the incremental mean sees the success count before increment and
// concurrent updates cannot lose each other.
func (s *PostgresStore) IncrementStats(workflowID int64, d models.StatsDelta) error {
	completed := d.Status == models.CompletedExecutionStatus
	res, err := s.db.Exec(`
		UPDATE workflow_definitions
		SET total_executions = total_executions + 1,
		    successful_executions = successful_executions + CASE WHEN $1 THEN 1 ELSE 0 END,
		    failed_executions = failed_executions + CASE WHEN $1 THEN 0 ELSE 1 END,
		    avg_execution_time_ms = CASE
		        WHEN $1 AND $2::bigint IS NOT NULL
		        THEN (avg_execution_time_ms * successful_executions + $2) / (successful_executions + 1)
		        ELSE avg_execution_time_ms
		    END,
		    last_execution_at = $3,
		    last_execution_status = $4,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $5`,
		completed, d.ExecutionTimeMs, d.ObservedAt, d.Status, workflowID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RevertTimeoutStat undoes the bump a timeout contributed, ahead of a re-poll
// applying the real outcome.
func (s *PostgresStore) RevertTimeoutStat(workflowID int64) error {
	res, err := s.db.Exec(`
		UPDATE workflow_definitions
		SET total_executions = GREATEST(total_executions - 1, 0),
		    failed_executions = GREATEST(failed_executions - 1, 0),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`, workflowID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
