package service

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// ReconcileWorker runs reconciliation in the background, decoupled from the
// request that triggered dispatch: freshly-dispatched executions are submitted
// to a channel consumed by a fixed set of workers, and a periodic sweep
// re-enqueues any execution still running (e.g. after a process restart).
type ReconcileWorker struct {
	reconciler  *ReconcileService
	logger      Logger
	maxAttempts int
	interval    time.Duration
	sweepEvery  time.Duration
	orphanAfter time.Duration

	execChan chan int64
	inFlight map[int64]bool // Executions queued or being polled
	mu       sync.Mutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// DefaultOrphanAfter bounds how long a running execution without a remote
// execution id may linger before the sweep resolves it to timeout.
const DefaultOrphanAfter = 10 * time.Minute

const submitBuffer = 64

func NewReconcileWorker(reconciler *ReconcileService, maxAttempts int, interval, sweepEvery, orphanAfter time.Duration, logger Logger) *ReconcileWorker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if orphanAfter <= 0 {
		orphanAfter = DefaultOrphanAfter
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ReconcileWorker{
		reconciler:  reconciler,
		logger:      logger,
		maxAttempts: maxAttempts,
		interval:    interval,
		sweepEvery:  sweepEvery,
		orphanAfter: orphanAfter,
		execChan:    make(chan int64, submitBuffer),
		inFlight:    make(map[int64]bool),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins the worker pool with the specified number of workers
func (w *ReconcileWorker) Start(workers int) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	if w.sweepEvery > 0 {
		w.wg.Add(1)
		go w.sweeper()
	}
}

// Stop cancels in-flight polls and waits for the workers to exit.
func (w *ReconcileWorker) Stop() {
	w.cancel()
	w.wg.Wait()
}

// Submit queues an execution for background reconciliation. Duplicate submits
// of an execution already queued or in flight are dropped.
func (w *ReconcileWorker) Submit(executionID int64) bool {
	w.mu.Lock()
	if w.inFlight[executionID] {
		w.mu.Unlock()
		return false
	}
	w.inFlight[executionID] = true
	w.mu.Unlock()

	select {
	case w.execChan <- executionID:
		return true
	case <-w.ctx.Done():
		w.release(executionID)
		return false
	}
}

func (w *ReconcileWorker) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case execID := <-w.execChan:
			if _, err := w.reconciler.Reconcile(w.ctx, execID, w.maxAttempts, w.interval); err != nil {
				w.logger.Errorf("Background reconcile of execution %d failed: %v", execID, err)
			}
			w.release(execID)
		}
	}
}

// sweeper periodically enqueues every execution still in the running state,
// catching records whose original submit was lost (crash, restart).
func (w *ReconcileWorker) sweeper() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *ReconcileWorker) sweep() {
	running, err := w.reconciler.store.ListRunningExecutions()
	if err != nil {
		w.logger.Errorf("Sweep failed to list running executions: %v", err)
		return
	}
	for _, rec := range running {
		if rec.RemoteExecutionID == "" {
			// Nothing to poll. A dispatch that never obtained a remote id
			// would otherwise stay running forever, so resolve it once it
			// has lingered past the orphan deadline.
			if time.Since(rec.StartedAt) >= w.orphanAfter {
				if _, err := w.reconciler.timeout(rec, "no remote execution id after dispatch"); err != nil {
					w.logger.Errorf("Failed to expire orphaned execution %d: %v", rec.ID, err)
				}
			}
			continue
		}
		w.Submit(rec.ID)
	}
	if len(running) > 0 {
		w.logger.Infof("Sweep enqueued up to %d running executions", len(running))
	}
}

func (w *ReconcileWorker) release(executionID int64) {
	w.mu.Lock()
	delete(w.inFlight, executionID)
	w.mu.Unlock()
}
