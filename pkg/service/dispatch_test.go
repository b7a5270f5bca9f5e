package service_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ignatij/flowmirror/pkg/models"
	"github.com/ignatij/flowmirror/pkg/remote"
	"github.com/ignatij/flowmirror/pkg/service"
	"github.com/ignatij/flowmirror/pkg/storage"
	"github.com/stretchr/testify/assert"
)

func seedWorkflow(t *testing.T, store storage.Store, orgID string) int64 {
	t.Helper()
	id, err := store.UpsertWorkflow(models.WorkflowDefinition{
		RemoteID:       "w1",
		OrganizationID: orgID,
		Name:           "Daily Report",
		Active:         true,
		Synced:         true,
	})
	assert.NoError(t, err)
	return id
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	newDispatch := func(catalog *stubCatalog) (*service.DispatchService, storage.Store) {
		store := storage.NewMockStore()
		stats := service.NewStatisticsAggregator(store, logger{})
		return service.NewDispatchService(store, catalog, stats, logger{}), store
	}

	t.Run("RecordsRemoteExecutionID", func(t *testing.T) {
		catalog := &stubCatalog{invokeResult: remote.InvocationResult{RemoteExecutionID: "e1", Strategy: "direct-run"}}
		dispatch, store := newDispatch(catalog)
		wfID := seedWorkflow(t, store, "org-1")

		result, err := dispatch.Dispatch(ctx, wfID, "org-1", "user-1", json.RawMessage(`{"k":"v"}`), models.ManualSource)
		assert.NoError(t, err)
		assert.Equal(t, "e1", result.RemoteExecutionID)

		rec, err := store.GetExecution(result.ExecutionID)
		assert.NoError(t, err)
		assert.Equal(t, models.RunningExecutionStatus, rec.Status)
		assert.Equal(t, "e1", rec.RemoteExecutionID)
		assert.Equal(t, "user-1", rec.TriggeredBy)
		assert.Equal(t, models.ManualSource, rec.TriggerSource)
		assert.Nil(t, rec.FinishedAt)
		assert.JSONEq(t, `{"k":"v"}`, string(rec.InputData))
	})

	t.Run("UnknownWorkflow", func(t *testing.T) {
		catalog := &stubCatalog{}
		dispatch, _ := newDispatch(catalog)

		_, err := dispatch.Dispatch(ctx, 12345, "org-1", "user-1", nil, models.ManualSource)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.Equal(t, 0, catalog.invokeCalls)
	})

	t.Run("TenantMismatchLooksLikeNotFound", func(t *testing.T) {
		catalog := &stubCatalog{}
		dispatch, store := newDispatch(catalog)
		wfID := seedWorkflow(t, store, "org-1")

		_, err := dispatch.Dispatch(ctx, wfID, "org-2", "user-1", nil, models.ManualSource)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.Equal(t, 0, catalog.invokeCalls)
	})

	t.Run("InvokeFailureLeavesInspectableRecord", func(t *testing.T) {
		catalog := &stubCatalog{invokeErr: remote.ErrRemoteUnavailable}
		dispatch, store := newDispatch(catalog)
		wfID := seedWorkflow(t, store, "org-1")

		result, err := dispatch.Dispatch(ctx, wfID, "org-1", "user-1", nil, models.ManualSource)
		assert.Error(t, err)
		assert.NotZero(t, result.ExecutionID)
		assert.NotEmpty(t, result.Error)

		rec, getErr := store.GetExecution(result.ExecutionID)
		assert.NoError(t, getErr)
		assert.Equal(t, models.FailedExecutionStatus, rec.Status)
		assert.NotEmpty(t, rec.ErrorMessage)
		assert.NotNil(t, rec.FinishedAt)

		// The failure is accounted directly, without a reconcile pass.
		wf, _ := store.GetWorkflow(wfID)
		assert.Equal(t, int64(1), wf.TotalExecutions)
		assert.Equal(t, int64(1), wf.FailedExecutions)
		assert.Equal(t, int64(0), wf.SuccessfulExecutions)
		assert.Equal(t, string(models.FailedExecutionStatus), wf.LastExecutionStatus)
	})

	t.Run("EachDispatchCreatesANewExecution", func(t *testing.T) {
		catalog := &stubCatalog{invokeResult: remote.InvocationResult{RemoteExecutionID: "e1"}}
		dispatch, store := newDispatch(catalog)
		wfID := seedWorkflow(t, store, "org-1")

		first, err := dispatch.Dispatch(ctx, wfID, "org-1", "user-1", nil, models.ManualSource)
		assert.NoError(t, err)
		second, err := dispatch.Dispatch(ctx, wfID, "org-1", "user-1", nil, models.ScheduleSource)
		assert.NoError(t, err)
		assert.NotEqual(t, first.ExecutionID, second.ExecutionID)

		executions, _ := store.ListExecutions(wfID)
		assert.Len(t, executions, 2)
	})
}
