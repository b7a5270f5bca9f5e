package storage_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	internal_storage "github.com/ignatij/flowmirror/internal/storage"
	"github.com/ignatij/flowmirror/internal/testutil"
	"github.com/ignatij/flowmirror/pkg/models"
	"github.com/ignatij/flowmirror/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)

	newStore := func(t *testing.T) *internal_storage.PostgresStore {
		store, err := internal_storage.InitStore(testDB.ConnStr)
		require.NoError(t, err)
		t.Cleanup(func() {
			_, err := testDB.DB.Exec("TRUNCATE TABLE workflow_definitions RESTART IDENTITY CASCADE")
			assert.NoError(t, err)
			store.Close()
		})
		return store
	}

	now := time.Now()
	baseWorkflow := func() models.WorkflowDefinition {
		return models.WorkflowDefinition{
			RemoteID:       "w1",
			OrganizationID: "org-1",
			Name:           "Daily Report",
			Active:         true,
			TriggerType:    models.ScheduleTrigger,
			Tags:           []string{"reports", "daily"},
			Synced:         true,
			LastSyncedAt:   &now,
		}
	}

	t.Run("UpsertInsertsAndUpdates", func(t *testing.T) {
		store := newStore(t)

		id, err := store.UpsertWorkflow(baseWorkflow())
		require.NoError(t, err)

		wf, err := store.GetWorkflow(id)
		require.NoError(t, err)
		assert.Equal(t, "Daily Report", wf.Name)
		assert.Equal(t, models.ScheduleTrigger, wf.TriggerType)
		assert.Equal(t, []string{"reports", "daily"}, []string(wf.Tags))
		assert.True(t, wf.Synced)

		changed := baseWorkflow()
		changed.Name = "Weekly Report"
		changed.Active = false
		id2, err := store.UpsertWorkflow(changed)
		require.NoError(t, err)
		assert.Equal(t, id, id2) // same row, keyed by remote_id

		wf, err = store.GetWorkflowByRemoteID("w1")
		require.NoError(t, err)
		assert.Equal(t, "Weekly Report", wf.Name)
		assert.False(t, wf.Active)
		// Counters are untouched by upserts.
		assert.Equal(t, int64(0), wf.TotalExecutions)
	})

	t.Run("GetWorkflowNotFound", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetWorkflow(9999)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("MarkUnsynced", func(t *testing.T) {
		store := newStore(t)
		_, err := store.UpsertWorkflow(baseWorkflow())
		require.NoError(t, err)
		other := baseWorkflow()
		other.RemoteID = "w2"
		_, err = store.UpsertWorkflow(other)
		require.NoError(t, err)

		require.NoError(t, store.MarkUnsynced([]string{"w2"}))

		ids, err := store.ListRemoteIDs()
		require.NoError(t, err)
		assert.Equal(t, []string{"w1", "w2"}, ids)

		wf, _ := store.GetWorkflowByRemoteID("w2")
		assert.False(t, wf.Synced)
		wf, _ = store.GetWorkflowByRemoteID("w1")
		assert.True(t, wf.Synced)
	})

	t.Run("ExecutionLifecycle", func(t *testing.T) {
		store := newStore(t)
		wfID, err := store.UpsertWorkflow(baseWorkflow())
		require.NoError(t, err)

		execID, err := store.SaveExecution(models.ExecutionRecord{
			WorkflowID:     wfID,
			OrganizationID: "org-1",
			TriggeredBy:    "user-1",
			TriggerSource:  models.ManualSource,
			Status:         models.RunningExecutionStatus,
			InputData:      []byte(`{"k":"v"}`),
			StartedAt:      time.Now(),
		})
		require.NoError(t, err)

		require.NoError(t, store.SetExecutionRemoteID(execID, "e1"))

		running, err := store.ListRunningExecutions()
		require.NoError(t, err)
		require.Len(t, running, 1)
		assert.Equal(t, "e1", running[0].RemoteExecutionID)

		finished := time.Now()
		ms := int64(1234)
		require.NoError(t, store.UpdateExecutionTerminal(models.ExecutionRecord{
			ID:              execID,
			Status:          models.CompletedExecutionStatus,
			OutputData:      []byte(`{"out":1}`),
			FinishedAt:      &finished,
			ExecutionTimeMs: &ms,
		}))

		rec, err := store.GetExecution(execID)
		require.NoError(t, err)
		assert.Equal(t, models.CompletedExecutionStatus, rec.Status)
		assert.NotNil(t, rec.FinishedAt)
		require.NotNil(t, rec.ExecutionTimeMs)
		assert.Equal(t, int64(1234), *rec.ExecutionTimeMs)
		assert.JSONEq(t, `{"out":1}`, string(rec.OutputData))

		running, err = store.ListRunningExecutions()
		require.NoError(t, err)
		assert.Empty(t, running)
	})

	t.Run("TerminalRecordsAreImmutable", func(t *testing.T) {
		store := newStore(t)
		wfID, err := store.UpsertWorkflow(baseWorkflow())
		require.NoError(t, err)
		execID, err := store.SaveExecution(models.ExecutionRecord{
			WorkflowID: wfID,
			Status:     models.RunningExecutionStatus,
			StartedAt:  time.Now(),
		})
		require.NoError(t, err)

		finished := time.Now()
		require.NoError(t, store.UpdateExecutionTerminal(models.ExecutionRecord{
			ID: execID, Status: models.FailedExecutionStatus, FinishedAt: &finished,
		}))

		err = store.UpdateExecutionTerminal(models.ExecutionRecord{
			ID: execID, Status: models.CompletedExecutionStatus, FinishedAt: &finished,
		})
		assert.ErrorIs(t, err, storage.ErrTerminal)
	})

	t.Run("TimeoutRecordsCanBeUpgraded", func(t *testing.T) {
		store := newStore(t)
		wfID, err := store.UpsertWorkflow(baseWorkflow())
		require.NoError(t, err)
		execID, err := store.SaveExecution(models.ExecutionRecord{
			WorkflowID: wfID,
			Status:     models.RunningExecutionStatus,
			StartedAt:  time.Now(),
		})
		require.NoError(t, err)

		finished := time.Now()
		require.NoError(t, store.UpdateExecutionTerminal(models.ExecutionRecord{
			ID: execID, Status: models.TimeoutExecutionStatus, FinishedAt: &finished,
		}))
		ms := int64(10)
		require.NoError(t, store.UpdateExecutionTerminal(models.ExecutionRecord{
			ID: execID, Status: models.CompletedExecutionStatus, FinishedAt: &finished, ExecutionTimeMs: &ms,
		}))

		rec, _ := store.GetExecution(execID)
		assert.Equal(t, models.CompletedExecutionStatus, rec.Status)
	})

	t.Run("IncrementStatsComputesIncrementalMean", func(t *testing.T) {
		store := newStore(t)
		wfID, err := store.UpsertWorkflow(baseWorkflow())
		require.NoError(t, err)

		latencies := []int64{100, 200, 600}
		for _, ms := range latencies {
			ms := ms
			require.NoError(t, store.IncrementStats(wfID, models.StatsDelta{
				Status:          models.CompletedExecutionStatus,
				ExecutionTimeMs: &ms,
				ObservedAt:      time.Now(),
			}))
		}
		require.NoError(t, store.IncrementStats(wfID, models.StatsDelta{
			Status:     models.FailedExecutionStatus,
			ObservedAt: time.Now(),
		}))

		wf, err := store.GetWorkflow(wfID)
		require.NoError(t, err)
		assert.Equal(t, int64(4), wf.TotalExecutions)
		assert.Equal(t, int64(3), wf.SuccessfulExecutions)
		assert.Equal(t, int64(1), wf.FailedExecutions)
		assert.InDelta(t, 300.0, wf.AvgExecutionTimeMs, 1e-6)
		assert.Equal(t, string(models.FailedExecutionStatus), wf.LastExecutionStatus)
	})

	t.Run("IncrementStatsIsAtomicUnderConcurrency", func(t *testing.T) {
		store := newStore(t)
		wfID, err := store.UpsertWorkflow(baseWorkflow())
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%2 == 0 {
					ms := int64(100)
					_ = store.IncrementStats(wfID, models.StatsDelta{
						Status: models.CompletedExecutionStatus, ExecutionTimeMs: &ms, ObservedAt: time.Now(),
					})
				} else {
					_ = store.IncrementStats(wfID, models.StatsDelta{
						Status: models.FailedExecutionStatus, ObservedAt: time.Now(),
					})
				}
			}(i)
		}
		wg.Wait()

		wf, err := store.GetWorkflow(wfID)
		require.NoError(t, err)
		assert.Equal(t, int64(20), wf.TotalExecutions)
		assert.Equal(t, int64(10), wf.SuccessfulExecutions)
		assert.Equal(t, int64(10), wf.FailedExecutions)
		assert.InDelta(t, 100.0, wf.AvgExecutionTimeMs, 1e-6)
	})

	t.Run("RevertTimeoutStat", func(t *testing.T) {
		store := newStore(t)
		wfID, err := store.UpsertWorkflow(baseWorkflow())
		require.NoError(t, err)

		require.NoError(t, store.IncrementStats(wfID, models.StatsDelta{
			Status: models.TimeoutExecutionStatus, ObservedAt: time.Now(),
		}))
		require.NoError(t, store.RevertTimeoutStat(wfID))

		wf, _ := store.GetWorkflow(wfID)
		assert.Equal(t, int64(0), wf.TotalExecutions)
		assert.Equal(t, int64(0), wf.FailedExecutions)
	})

	t.Run("InitStoreRejectsUnmigratedDatabase", func(t *testing.T) {
		_, err := testDB.DB.Exec("CREATE DATABASE flowmirror_bare")
		require.NoError(t, err)
		bareConn := strings.Replace(testDB.ConnStr, "/flowmirror_test?", "/flowmirror_bare?", 1)

		_, err = internal_storage.InitStore(bareConn)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "flowmirror-migrate")
	})
}
