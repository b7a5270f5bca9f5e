package service_test

import (
	"testing"
	"time"

	"github.com/ignatij/flowmirror/pkg/models"
	"github.com/ignatij/flowmirror/pkg/remote"
	"github.com/ignatij/flowmirror/pkg/service"
	"github.com/stretchr/testify/assert"
)

func waitForStatus(t *testing.T, get func() models.ExecutionStatus, want models.ExecutionStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if get() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("execution never reached status %s (last: %s)", want, get())
}

func TestReconcileWorker(t *testing.T) {
	t.Run("SubmittedExecutionIsReconciled", func(t *testing.T) {
		catalog := &stubCatalog{
			executions: map[string]remote.RemoteExecution{
				"e1": {ID: "e1", Finished: true, Status: "success"},
			},
		}
		reconciler, _, store := newReconcile(catalog)
		wfID := seedWorkflow(t, store, "org-1")
		execID := seedRunningExecution(t, store, wfID, "e1")

		worker := service.NewReconcileWorker(reconciler, 5, time.Millisecond, 0, 0, logger{})
		worker.Start(2)
		defer worker.Stop()

		assert.True(t, worker.Submit(execID))
		waitForStatus(t, func() models.ExecutionStatus {
			rec, _ := store.GetExecution(execID)
			return rec.Status
		}, models.CompletedExecutionStatus)
	})

	t.Run("SubmitBeforeStartIsQueued", func(t *testing.T) {
		catalog := &stubCatalog{
			executions: map[string]remote.RemoteExecution{
				"e1": {ID: "e1", Finished: true, Status: "success"},
			},
		}
		reconciler, _, store := newReconcile(catalog)
		wfID := seedWorkflow(t, store, "org-1")
		execID := seedRunningExecution(t, store, wfID, "e1")

		worker := service.NewReconcileWorker(reconciler, 5, time.Millisecond, 0, 0, logger{})
		assert.True(t, worker.Submit(execID))

		worker.Start(1)
		defer worker.Stop()
		waitForStatus(t, func() models.ExecutionStatus {
			rec, _ := store.GetExecution(execID)
			return rec.Status
		}, models.CompletedExecutionStatus)
	})

	t.Run("SweepExpiresExecutionsWithoutRemoteID", func(t *testing.T) {
		catalog := &stubCatalog{}
		reconciler, _, store := newReconcile(catalog)
		wfID := seedWorkflow(t, store, "org-1")
		// Dispatched over a webhook that never returned an execution id.
		execID := seedRunningExecution(t, store, wfID, "")

		worker := service.NewReconcileWorker(reconciler, 5, time.Millisecond, 10*time.Millisecond, 100*time.Millisecond, logger{})
		worker.Start(1)
		defer worker.Stop()

		waitForStatus(t, func() models.ExecutionStatus {
			rec, _ := store.GetExecution(execID)
			return rec.Status
		}, models.TimeoutExecutionStatus)
		wf, err := store.GetWorkflow(wfID)
		assert.NoError(t, err)
		assert.Equal(t, int64(1), wf.TotalExecutions)
		assert.Equal(t, int64(1), wf.FailedExecutions)
	})

	t.Run("DuplicateSubmitIsDropped", func(t *testing.T) {
		catalog := &stubCatalog{finishAfter: 1 << 30}
		reconciler, _, store := newReconcile(catalog)
		wfID := seedWorkflow(t, store, "org-1")
		execID := seedRunningExecution(t, store, wfID, "e1")

		worker := service.NewReconcileWorker(reconciler, 1000, 50*time.Millisecond, 0, 0, logger{})
		worker.Start(1)
		defer worker.Stop()

		assert.True(t, worker.Submit(execID))
		assert.False(t, worker.Submit(execID))
	})

	t.Run("SweepPicksUpRunningExecutions", func(t *testing.T) {
		catalog := &stubCatalog{
			executions: map[string]remote.RemoteExecution{
				"e1": {ID: "e1", Finished: true, Status: "success"},
			},
		}
		reconciler, _, store := newReconcile(catalog)
		wfID := seedWorkflow(t, store, "org-1")
		// Never submitted, as if the process crashed after dispatch.
		execID := seedRunningExecution(t, store, wfID, "e1")

		worker := service.NewReconcileWorker(reconciler, 5, time.Millisecond, 10*time.Millisecond, 0, logger{})
		worker.Start(1)
		defer worker.Stop()

		waitForStatus(t, func() models.ExecutionStatus {
			rec, _ := store.GetExecution(execID)
			return rec.Status
		}, models.CompletedExecutionStatus)
	})

	t.Run("StopCancelsInFlightPolls", func(t *testing.T) {
		catalog := &stubCatalog{finishAfter: 1 << 30}
		reconciler, _, store := newReconcile(catalog)
		wfID := seedWorkflow(t, store, "org-1")
		execID := seedRunningExecution(t, store, wfID, "e1")

		worker := service.NewReconcileWorker(reconciler, 1000, 50*time.Millisecond, 0, 0, logger{})
		worker.Start(1)
		worker.Submit(execID)

		done := make(chan struct{})
		go func() {
			worker.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not stop in time")
		}
	})
}
