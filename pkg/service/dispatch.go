package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ignatij/flowmirror/pkg/models"
	"github.com/ignatij/flowmirror/pkg/storage"
	"github.com/pkg/errors"
)

// DispatchService triggers remote runs of mirrored workflows. Dispatch is not
// idempotent by design: each call creates a new execution, and callers are
// responsible for not double-submitting.
type DispatchService struct {
	store   storage.Store
	catalog Catalog
	stats   *StatisticsAggregator
	logger  Logger
}

func NewDispatchService(store storage.Store, catalog Catalog, stats *StatisticsAggregator, logger Logger) *DispatchService {
	return &DispatchService{
		store:   store,
		catalog: catalog,
		stats:   stats,
		logger:  logger,
	}
}

// Dispatch creates a local execution record and invokes the workflow
// remotely. The record is inserted before any remote call so a remote failure
// is still observable and retriable from the UI. Completion is observed later
// by the reconciler; a successful invoke leaves the record running.
func (d *DispatchService) Dispatch(
	ctx context.Context,
	workflowID int64,
	organizationID, userID string,
	input json.RawMessage,
	source models.TriggerSource,
) (models.DispatchResult, error) {
	wf, err := d.store.GetWorkflow(workflowID)
	if err != nil {
		return models.DispatchResult{}, err
	}
	if wf.OrganizationID != "" && wf.OrganizationID != organizationID {
		// Tenant mismatch is indistinguishable from absence to the caller.
		return models.DispatchResult{}, storage.ErrNotFound
	}

	execID, err := d.store.SaveExecution(models.ExecutionRecord{
		WorkflowID:     workflowID,
		OrganizationID: organizationID,
		TriggeredBy:    userID,
		TriggerSource:  source,
		Status:         models.RunningExecutionStatus,
		InputData:      input,
		StartedAt:      time.Now(),
	})
	if err != nil {
		return models.DispatchResult{}, errors.Wrap(err, "save execution record")
	}

	res, err := d.catalog.Invoke(ctx, wf, input)
	if err != nil {
		d.failDispatch(execID, workflowID, err)
		return models.DispatchResult{ExecutionID: execID, Error: err.Error()}, err
	}

	if res.RemoteExecutionID != "" {
		if err := d.store.SetExecutionRemoteID(execID, res.RemoteExecutionID); err != nil {
			d.logger.Errorf("Failed to record remote execution id %s on execution %d: %v", res.RemoteExecutionID, execID, err)
		}
	}
	d.logger.Infof("Dispatched workflow %d via %s strategy, execution %d, remote id %q",
		workflowID, res.Strategy, execID, res.RemoteExecutionID)
	return models.DispatchResult{ExecutionID: execID, RemoteExecutionID: res.RemoteExecutionID}, nil
}

// failDispatch marks the record failed and accounts it directly: there is no
// terminal-status transition for the reconciler to observe on this path.
func (d *DispatchService) failDispatch(execID, workflowID int64, cause error) {
	now := time.Now()
	rec := models.ExecutionRecord{
		ID:           execID,
		Status:       models.FailedExecutionStatus,
		ErrorMessage: cause.Error(),
		FinishedAt:   &now,
	}
	if err := d.store.UpdateExecutionTerminal(rec); err != nil {
		d.logger.Errorf("Failed to mark execution %d failed: %v", execID, err)
		return
	}
	if err := d.stats.RecordTerminal(workflowID, models.FailedExecutionStatus, nil, now); err != nil {
		d.logger.Errorf("Failed to record dispatch failure in stats for workflow %d: %v", workflowID, err)
	}
}
