package storage

import (
	"sync"
	"time"

	"github.com/ignatij/flowmirror/pkg/models"
)

// mockStore implements Store with in-memory storage
type mockStore struct {
	mu         sync.Mutex
	workflows  []models.WorkflowDefinition
	executions []models.ExecutionRecord
	nextWfID   int64
	nextExecID int64
}

// NewMockStore returns an in-memory Store for tests and examples.
func NewMockStore() Store {
	return &mockStore{}
}

// Begin returns the same instance: the mock applies writes immediately and
// relies on the per-operation mutex for atomicity.
func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error         { return nil }
func (m *mockStore) Rollback() error       { return nil }
func (m *mockStore) Close() error          { return nil }

func (m *mockStore) UpsertWorkflow(wf models.WorkflowDefinition) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.workflows {
		if existing.RemoteID == wf.RemoteID {
			// Refresh the mirrored fields; counters and identity stay as they are.
			m.workflows[i].Name = wf.Name
			m.workflows[i].Active = wf.Active
			m.workflows[i].TriggerType = wf.TriggerType
			m.workflows[i].Tags = wf.Tags
			m.workflows[i].WebhookURL = wf.WebhookURL
			m.workflows[i].Synced = wf.Synced
			m.workflows[i].LastSyncedAt = wf.LastSyncedAt
			m.workflows[i].UpdatedAt = time.Now()
			return existing.ID, nil
		}
	}
	m.nextWfID++
	wf.ID = m.nextWfID
	wf.CreatedAt = time.Now()
	wf.UpdatedAt = wf.CreatedAt
	m.workflows = append(m.workflows, wf)
	return wf.ID, nil
}

func (m *mockStore) GetWorkflow(id int64) (models.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, wf := range m.workflows {
		if wf.ID == id {
			return wf, nil
		}
	}
	return models.WorkflowDefinition{}, ErrNotFound
}

func (m *mockStore) GetWorkflowByRemoteID(remoteID string) (models.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, wf := range m.workflows {
		if wf.RemoteID == remoteID {
			return wf, nil
		}
	}
	return models.WorkflowDefinition{}, ErrNotFound
}

func (m *mockStore) ListWorkflows() ([]models.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.WorkflowDefinition, len(m.workflows))
	copy(out, m.workflows)
	return out, nil
}

func (m *mockStore) ListRemoteIDs() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.workflows))
	for _, wf := range m.workflows {
		ids = append(ids, wf.RemoteID)
	}
	return ids, nil
}

func (m *mockStore) MarkUnsynced(remoteIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range remoteIDs {
		for i, wf := range m.workflows {
			if wf.RemoteID == id {
				m.workflows[i].Synced = false
				m.workflows[i].UpdatedAt = time.Now()
			}
		}
	}
	return nil
}

func (m *mockStore) SaveExecution(e models.ExecutionRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextExecID++
	e.ID = m.nextExecID
	m.executions = append(m.executions, e)
	return e.ID, nil
}

func (m *mockStore) GetExecution(id int64) (models.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.executions {
		if e.ID == id {
			return e, nil
		}
	}
	return models.ExecutionRecord{}, ErrNotFound
}

func (m *mockStore) ListExecutions(workflowID int64) ([]models.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ExecutionRecord
	for _, e := range m.executions {
		if e.WorkflowID == workflowID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) ListRunningExecutions() ([]models.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ExecutionRecord
	for _, e := range m.executions {
		if e.Status == models.RunningExecutionStatus {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) SetExecutionRemoteID(id int64, remoteExecutionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.executions {
		if e.ID == id {
			m.executions[i].RemoteExecutionID = remoteExecutionID
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) UpdateExecutionTerminal(e models.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.executions {
		if existing.ID == e.ID {
			// Terminal rows are immutable, except that a local timeout may be
			// upgraded to the real outcome on a later re-poll.
			upgrade := existing.Status == models.TimeoutExecutionStatus && e.Status != models.TimeoutExecutionStatus
			if existing.Status.Terminal() && !upgrade {
				return ErrTerminal
			}
			m.executions[i].Status = e.Status
			m.executions[i].OutputData = e.OutputData
			m.executions[i].ErrorMessage = e.ErrorMessage
			m.executions[i].FinishedAt = e.FinishedAt
			m.executions[i].ExecutionTimeMs = e.ExecutionTimeMs
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) IncrementStats(workflowID int64, d models.StatsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, wf := range m.workflows {
		if wf.ID != workflowID {
			continue
		}
		m.workflows[i].TotalExecutions++
		if d.Status == models.CompletedExecutionStatus {
			prev := float64(m.workflows[i].SuccessfulExecutions)
			if d.ExecutionTimeMs != nil {
				m.workflows[i].AvgExecutionTimeMs = (m.workflows[i].AvgExecutionTimeMs*prev + float64(*d.ExecutionTimeMs)) / (prev + 1)
			}
			m.workflows[i].SuccessfulExecutions++
		} else {
			m.workflows[i].FailedExecutions++
		}
		observed := d.ObservedAt
		m.workflows[i].LastExecutionAt = &observed
		m.workflows[i].LastExecutionStatus = string(d.Status)
		m.workflows[i].UpdatedAt = time.Now()
		return nil
	}
	return ErrNotFound
}

func (m *mockStore) RevertTimeoutStat(workflowID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, wf := range m.workflows {
		if wf.ID == workflowID {
			if wf.TotalExecutions > 0 {
				m.workflows[i].TotalExecutions--
			}
			if wf.FailedExecutions > 0 {
				m.workflows[i].FailedExecutions--
			}
			m.workflows[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}
