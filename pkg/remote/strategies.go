package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ignatij/flowmirror/pkg/models"
	"github.com/pkg/errors"
)

// invocationStrategy is one way of triggering a workflow remotely. Strategies
// are attempted in the client's configured order; a failing strategy falls
// through to the next one. New transports slot in without touching dispatch
// logic.
type invocationStrategy interface {
	name() string
	applicable(wf models.WorkflowDefinition) bool
	invoke(ctx context.Context, wf models.WorkflowDefinition, input json.RawMessage) (InvocationResult, error)
}

// webhookStrategy posts the input to the workflow's own webhook URL. Any 2xx
// response is a success; the response body may optionally carry a remote
// execution identifier.
type webhookStrategy struct {
	client *CatalogClient
}

func (s webhookStrategy) name() string { return "webhook" }

func (s webhookStrategy) applicable(wf models.WorkflowDefinition) bool {
	return wf.WebhookURL != ""
}

func (s webhookStrategy) invoke(ctx context.Context, wf models.WorkflowDefinition, input json.RawMessage) (InvocationResult, error) {
	status, body, err := s.client.postJSON(ctx, wf.WebhookURL, input, false)
	if err != nil {
		return InvocationResult{}, err
	}
	if status < 200 || status > 299 {
		return InvocationResult{}, errors.Wrapf(ErrRemoteUnavailable, "webhook returned status %d", status)
	}
	return InvocationResult{
		RemoteExecutionID: parseExecutionID(body),
		Strategy:          s.name(),
	}, nil
}

// directRunStrategy posts to the generic run endpoint for the workflow's
// remote ID. Success requires a 2xx status and a parsed execution identifier.
type directRunStrategy struct {
	client *CatalogClient
}

func (s directRunStrategy) name() string { return "direct-run" }

func (s directRunStrategy) applicable(wf models.WorkflowDefinition) bool {
	return wf.RemoteID != ""
}

func (s directRunStrategy) invoke(ctx context.Context, wf models.WorkflowDefinition, input json.RawMessage) (InvocationResult, error) {
	url := fmt.Sprintf("%s/api/v1/workflows/%s/run", s.client.cfg.BaseURL, wf.RemoteID)
	status, body, err := s.client.postJSON(ctx, url, input, true)
	if err != nil {
		return InvocationResult{}, err
	}
	if status < 200 || status > 299 {
		return InvocationResult{}, errors.Wrapf(ErrRemoteUnavailable, "run endpoint returned status %d", status)
	}
	id := parseExecutionID(body)
	if id == "" {
		return InvocationResult{}, errors.Wrap(ErrRemoteUnavailable, "run endpoint returned no execution id")
	}
	return InvocationResult{RemoteExecutionID: id, Strategy: s.name()}, nil
}

// parseExecutionID pulls an execution identifier out of an invocation
// response. The remote engine answers either {"executionId": "..."} or
// {"id": "..."} depending on the endpoint; anything unparseable yields "".
func parseExecutionID(body []byte) string {
	var payload struct {
		ExecutionID string `json:"executionId"`
		ID          string `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.ExecutionID != "" {
		return payload.ExecutionID
	}
	return payload.ID
}
