package service

import (
	"context"
	"time"

	"github.com/ignatij/flowmirror/pkg/models"
	"github.com/ignatij/flowmirror/pkg/remote"
	"github.com/ignatij/flowmirror/pkg/storage"
	"github.com/pkg/errors"
)

const (
	// default reconcile policy: 10 polls, 2s apart
	DefaultMaxAttempts  = 10
	DefaultPollInterval = 2 * time.Second
)

// StatisticsAggregator maintains the per-workflow aggregate counters. The
// read-modify-write happens inside the store in a single atomic update, so two
// terminal executions resolving concurrently cannot lose each other's bump.
type StatisticsAggregator struct {
	store  storage.Store
	logger Logger
}

func NewStatisticsAggregator(store storage.Store, logger Logger) *StatisticsAggregator {
	return &StatisticsAggregator{store: store, logger: logger}
}

// RecordTerminal folds one terminal execution into the owning workflow's
// counters. The moving average uses the incremental-mean formula over the
// success count before increment, which stays exact for an arithmetic mean
// without retaining the latency history.
func (a *StatisticsAggregator) RecordTerminal(workflowID int64, status models.ExecutionStatus, executionTimeMs *int64, observedAt time.Time) error {
	if !status.Terminal() {
		return errors.Errorf("status %s is not terminal", status)
	}
	return a.store.IncrementStats(workflowID, models.StatsDelta{
		Status:          status,
		ExecutionTimeMs: executionTimeMs,
		ObservedAt:      observedAt,
	})
}

// ReconcileService polls the remote engine until a dispatched execution
// reaches a terminal state, then persists the outcome and updates statistics.
type ReconcileService struct {
	store   storage.Store
	catalog Catalog
	stats   *StatisticsAggregator
	logger  Logger
}

func NewReconcileService(store storage.Store, catalog Catalog, stats *StatisticsAggregator, logger Logger) *ReconcileService {
	return &ReconcileService{
		store:   store,
		catalog: catalog,
		stats:   stats,
		logger:  logger,
	}
}

// Reconcile polls the remote execution up to maxAttempts times, sleeping
// interval between polls. An already-terminal record returns immediately
// without touching statistics, so concurrent callers are safe. Exhausting the
// attempts resolves the record to timeout locally; the remote run may still be
// going and is not cancelled.
func (r *ReconcileService) Reconcile(ctx context.Context, executionID int64, maxAttempts int, interval time.Duration) (models.ReconcileResult, error) {
	rec, err := r.store.GetExecution(executionID)
	if err != nil {
		return models.ReconcileResult{}, err
	}
	if rec.Status.Terminal() {
		return models.ReconcileResult{
			Status:     rec.Status,
			OutputData: rec.OutputData,
			Error:      rec.ErrorMessage,
		}, nil
	}
	if rec.RemoteExecutionID == "" {
		return models.ReconcileResult{}, errors.Errorf("execution %d has no remote execution id", executionID)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return models.ReconcileResult{}, ctx.Err()
			case <-time.After(interval):
			}
		}
		remoteExec, err := r.catalog.GetExecution(ctx, rec.RemoteExecutionID)
		if err != nil {
			r.logger.Errorf("Poll %d/%d for execution %d failed: %v", attempt+1, maxAttempts, executionID, err)
			continue
		}
		if !remoteExec.Finished {
			continue
		}
		return r.finish(rec, remoteExec, false)
	}

	return r.timeout(rec, "gave up polling remote execution")
}

// Repoll revisits a locally timed-out execution. If the remote engine
// eventually finished, the stale local status is upgraded to the real outcome
// and the earlier timeout bump reverted. The upgrade must win before any
// counter is touched: a transient store failure or a racing Repoll then
// leaves the counters exactly as they were.
func (r *ReconcileService) Repoll(ctx context.Context, executionID int64) (models.ReconcileResult, error) {
	rec, err := r.store.GetExecution(executionID)
	if err != nil {
		return models.ReconcileResult{}, err
	}
	if rec.Status != models.TimeoutExecutionStatus {
		return models.ReconcileResult{
			Status:     rec.Status,
			OutputData: rec.OutputData,
			Error:      rec.ErrorMessage,
		}, nil
	}
	remoteExec, err := r.catalog.GetExecution(ctx, rec.RemoteExecutionID)
	if err != nil {
		return models.ReconcileResult{}, err
	}
	if !remoteExec.Finished {
		return models.ReconcileResult{Status: models.TimeoutExecutionStatus}, nil
	}
	return r.finish(rec, remoteExec, true)
}

// finish persists the terminal outcome and folds it into the workflow
// counters. revertTimeout undoes a prior timeout bump, and only after the
// terminal transition was won, so losing the race or failing the update
// cannot decrement counters that were never going to be re-applied.
func (r *ReconcileService) finish(rec models.ExecutionRecord, remoteExec remote.RemoteExecution, revertTimeout bool) (models.ReconcileResult, error) {
	now := time.Now()
	finishedAt := now
	if remoteExec.StoppedAt != nil {
		finishedAt = *remoteExec.StoppedAt
	}

	status := models.FailedExecutionStatus
	var execMs *int64
	if remoteExec.Status == "success" {
		status = models.CompletedExecutionStatus
		ms := finishedAt.Sub(rec.StartedAt).Milliseconds()
		if ms < 0 {
			ms = 0
		}
		execMs = &ms
	}

	update := models.ExecutionRecord{
		ID:         rec.ID,
		Status:     status,
		OutputData: remoteExec.Data,
		FinishedAt: &finishedAt,
	}
	if status == models.FailedExecutionStatus {
		update.ErrorMessage = "remote execution reported status " + remoteExec.Status
	} else {
		update.ExecutionTimeMs = execMs
	}
	if err := r.store.UpdateExecutionTerminal(update); err != nil {
		if errors.Is(err, storage.ErrTerminal) {
			// Another reconciler won the transition; nothing left to do.
			return models.ReconcileResult{Status: status}, nil
		}
		return models.ReconcileResult{}, errors.Wrapf(err, "persist terminal state for execution %d", rec.ID)
	}
	if revertTimeout {
		if err := r.store.RevertTimeoutStat(rec.WorkflowID); err != nil {
			r.logger.Errorf("Failed to revert timeout stat for workflow %d: %v", rec.WorkflowID, err)
		}
	}
	if err := r.stats.RecordTerminal(rec.WorkflowID, status, execMs, now); err != nil {
		r.logger.Errorf("Failed to update stats for workflow %d: %v", rec.WorkflowID, err)
	}
	r.logger.Infof("Execution %d resolved to %s", rec.ID, status)
	return models.ReconcileResult{
		Status:     status,
		OutputData: remoteExec.Data,
		Error:      update.ErrorMessage,
	}, nil
}

// timeout is a local give-up, not a remote cancellation: the remote run may
// still finish later, and Repoll can pick that up on demand.
func (r *ReconcileService) timeout(rec models.ExecutionRecord, reason string) (models.ReconcileResult, error) {
	now := time.Now()
	update := models.ExecutionRecord{
		ID:           rec.ID,
		Status:       models.TimeoutExecutionStatus,
		ErrorMessage: reason,
		FinishedAt:   &now,
	}
	if err := r.store.UpdateExecutionTerminal(update); err != nil {
		if errors.Is(err, storage.ErrTerminal) {
			return models.ReconcileResult{Status: models.TimeoutExecutionStatus}, nil
		}
		return models.ReconcileResult{}, errors.Wrapf(err, "persist timeout for execution %d", rec.ID)
	}
	if err := r.stats.RecordTerminal(rec.WorkflowID, models.TimeoutExecutionStatus, nil, now); err != nil {
		r.logger.Errorf("Failed to update stats for workflow %d: %v", rec.WorkflowID, err)
	}
	r.logger.Infof("Execution %d timed out after polling", rec.ID)
	return models.ReconcileResult{Status: models.TimeoutExecutionStatus, Error: update.ErrorMessage}, nil
}
