package service_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ignatij/flowmirror/pkg/models"
	"github.com/ignatij/flowmirror/pkg/remote"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

// stubCatalog implements service.Catalog for unit tests.
type stubCatalog struct {
	mu sync.Mutex

	workflows []remote.RemoteWorkflow
	listErr   error

	executions  map[string]remote.RemoteExecution
	getErr      error
	finishAfter int // polls to report unfinished before executions become visible
	getCalls    int

	invokeResult remote.InvocationResult
	invokeErr    error
	invokeCalls  int
}

func (s *stubCatalog) ListWorkflows(ctx context.Context) ([]remote.RemoteWorkflow, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.workflows, nil
}

func (s *stubCatalog) GetExecution(ctx context.Context, remoteExecutionID string) (remote.RemoteExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return remote.RemoteExecution{}, s.getErr
	}
	if s.getCalls <= s.finishAfter {
		return remote.RemoteExecution{ID: remoteExecutionID, Finished: false, Status: "running"}, nil
	}
	exec, ok := s.executions[remoteExecutionID]
	if !ok {
		return remote.RemoteExecution{}, remote.ErrNotFound
	}
	return exec, nil
}

func (s *stubCatalog) Invoke(ctx context.Context, wf models.WorkflowDefinition, input json.RawMessage) (remote.InvocationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invokeCalls++
	if s.invokeErr != nil {
		return remote.InvocationResult{}, s.invokeErr
	}
	return s.invokeResult, nil
}

func (s *stubCatalog) polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}
